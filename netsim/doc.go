// Package netsim provides an in-memory network substrate for running many
// peer-to-peer nodes inside one process.
//
// # Overview
//
// A Fabric owns a subnet and routes stream connections between the hosts
// attached to it. Each Host is an isolated execution context with its own
// address; code running on a host can only listen on that address and dial
// other addresses through the fabric. Connections are full-duplex in-memory
// streams that implement net.Conn, including half-close and deadlines.
//
// Spawn composes a set of machines under one fabric: every machine gets its
// own host (and therefore its own address) and runs on its own goroutine.
// Run.Wait drives the set to completion and collects what each machine
// returned.
//
//	fabric, err := netsim.NewFabric(netsim.DefaultFabricConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer fabric.Close()
//
//	run := netsim.Spawn(ctx, fabric,
//	    netsim.Launcher[string]{Name: "a", Run: func(ctx context.Context, h *netsim.Host) (string, error) {
//	        return h.Addr().String(), nil
//	    }},
//	)
//	addrs, err := run.Wait()
//
// # Addressing
//
// Addresses come from a Pool. The network and broadcast addresses and the
// gateway are reserved; hosts are leased the remaining addresses in order.
//
// # Delivery Logs
//
// The fabric records every dial attempt. Use DialLog in tests to verify
// which hosts tried to reach which addresses.
//
// # Limitations
//
// The fabric does not model loss, latency, reordering or partitions.
package netsim
