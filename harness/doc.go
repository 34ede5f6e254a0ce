// Package harness builds and runs multi-node peer-to-peer test networks.
//
// # Overview
//
// A test declares its nodes and the connections between them on a Network,
// then hands the network and a Factory to Start. Start places every node on
// its own simulated host, lets each one start listening, and only then
// tells the dialers which addresses to connect to. When every node's Wait
// has returned, Start hands back one result per node.
//
//	network := harness.NewNetwork[peer.Kind]()
//	recv := network.Node("recv1", peer.Receiver)
//	send1 := network.Node("send1", peer.Sender)
//	send2 := network.Node("send2", peer.Sender)
//	network.ConnectAll(recv, send1, send2)
//
//	results, err := harness.Start(ctx, network, peer.Factory(network, peer.DefaultConfig()), nil)
//	if err != nil {
//	    t.Fatal(err)
//	}
//	got, _ := results.Get("recv1")
//
// # Lifecycle
//
// Each node moves through CREATED, ADDRESS_ASSIGNED, READY, CONNECTING and
// COMPLETED, or ends in FAILED. Observers registered in Config receive every
// transition plus dispatch, skip, barrier and completion events.
//
// # Ordering
//
// With the default ReadinessBarrier no node is asked to dial before every
// node has returned from the factory. Each dialer receives its targets in
// the order the edges were declared, and dispatch across dialers follows
// the same order.
//
// # Failure
//
// A run is all or nothing: a factory error, a Wait error, a panic or a
// substrate failure fails the run and no results are returned.
// Configuration mistakes in the Network (duplicate ids, self edges, unknown
// nodes, changes after Start) panic immediately.
package harness
