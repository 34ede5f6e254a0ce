package harness

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/p2pharness/netsim"
	"github.com/sirupsen/logrus"
)

// Start runs every node of network concurrently, each on its own host, and
// returns one result per node that ran.
//
// Each node's goroutine publishes its address, builds its RunningNode with
// factory, signals readiness, dials every address it is sent until its
// connect queue is closed, and finally calls Wait. A separate control
// goroutine collects the addresses, holds the readiness barrier (unless
// config.Barrier is NoBarrier) and replays the network's edges, in
// declaration order, as connect commands to the dialers.
//
// Start consumes network: it panics if the network was already started,
// and the network rejects changes afterwards. A nil config uses
// DefaultConfig. The run either returns results or an error and no
// results. Results hold one entry per node that got an address; under
// SkipMissing a node that cannot get one is reported failed, left out of
// the results, and every edge touching it is skipped.
func Start[K, R any](ctx context.Context, network *Network[K], factory Factory[K, R], config *Config) (Results[R], error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: factory is nil", ErrInvalidConfig)
	}

	p := network.take()

	fabric := config.Fabric
	if fabric == nil {
		subnet := config.Subnet
		if subnet == "" {
			subnet = netsim.DefaultSubnet
		}
		f, err := netsim.NewFabric(netsim.FabricConfig{Subnet: subnet})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		defer f.Close()
		fabric = f
	}

	r := &run[K, R]{
		id:       uuid.NewString(),
		plan:     p,
		factory:  factory,
		config:   config,
		observer: observers(config.Observers),
		slots:    make(map[NodeID]*nodeSlot, len(p.nodes)),
		joined:   make(chan struct{}),
	}
	r.log = config.logger().WithFields(logrus.Fields{
		"run_id": r.id,
	})

	return r.execute(ctx, fabric)
}

// run is the state of one Start call. The address map and the edge list
// belong to the control goroutine; node goroutines only see their own slot.
type run[K, R any] struct {
	id       string
	plan     *plan[K]
	factory  Factory[K, R]
	config   *Config
	observer Observer
	log      *logrus.Entry
	slots    map[NodeID]*nodeSlot
	joined   chan struct{}
}

func (r *run[K, R]) execute(ctx context.Context, fabric *netsim.Fabric) (Results[R], error) {
	started := time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.log.WithFields(logrus.Fields{
		"function": "Start",
		"nodes":    len(r.plan.nodes),
		"edges":    len(r.plan.edges),
		"barrier":  r.config.Barrier.String(),
		"missing":  r.config.MissingAddress.String(),
	}).Info("Starting network")

	outDegree := r.plan.outDegrees()
	launchers := make([]netsim.Launcher[outcome[R]], 0, len(r.plan.nodes))
	for _, spec := range r.plan.nodes {
		slot := newNodeSlot(spec.ID, outDegree[spec.ID])
		r.slots[spec.ID] = slot
		r.transition(spec.ID, StateCreated)

		launcher := netsim.Launcher[outcome[R]]{
			Name: spec.ID.String(),
			Run:  r.machine(spec, slot),
		}
		if r.config.MissingAddress == SkipMissing {
			launcher.AttachFailed = r.dropNode(spec.ID, slot)
		}
		launchers = append(launchers, launcher)
	}

	spawned := netsim.Spawn(runCtx, fabric, launchers...)

	controlDone := make(chan error, 1)
	go func() {
		err := r.control(runCtx)
		if err != nil {
			cancel()
		}
		controlDone <- err
	}()

	outcomes, joinErr := spawned.Wait()
	close(r.joined)
	controlErr := <-controlDone

	// A node failure cancels the control goroutine too; report the node's
	// error unless the control goroutine aborted the run itself.
	err := joinErr
	if controlErr != nil && (err == nil || errors.Is(controlErr, ErrAddressUnavailable)) {
		err = controlErr
	}

	elapsed := time.Since(started)
	r.observer.RunCompleted(len(r.plan.nodes), elapsed, err)

	if err != nil {
		r.log.WithFields(logrus.Fields{
			"function": "Start",
			"elapsed":  elapsed,
			"error":    err.Error(),
		}).Error("Network run failed")
		return nil, err
	}

	results := collect(outcomes)
	r.log.WithFields(logrus.Fields{
		"function": "Start",
		"elapsed":  elapsed,
		"results":  results.Len(),
	}).Info("Network run completed")
	return results, nil
}

// dropNode is the AttachFailed hook used under SkipMissing. The node is
// reported failed and marked exited so the control goroutine stops waiting
// for it; every edge it takes part in is skipped and it has no result.
func (r *run[K, R]) dropNode(id NodeID, slot *nodeSlot) func(error) error {
	return func(err error) error {
		r.log.WithFields(logrus.Fields{
			"node":  id.String(),
			"error": err.Error(),
		}).Warn("Unable to get address")
		r.transition(id, StateFailed)
		close(slot.exited)
		return nil
	}
}

// machine returns the function that runs one node inside its host.
func (r *run[K, R]) machine(spec NodeSpec[K], slot *nodeSlot) netsim.Machine[outcome[R]] {
	return func(ctx context.Context, host *netsim.Host) (out outcome[R], err error) {
		defer close(slot.exited)
		defer func() {
			if p := recover(); p != nil {
				out, err = r.fail(spec.ID, "panic", fmt.Errorf("%w: %v", netsim.ErrMachinePanic, p))
			}
		}()
		log := r.log.WithField("node", spec.ID.String())

		slot.address.resolve(host.Addr())
		r.transition(spec.ID, StateAddressAssigned)
		log.WithField("addr", host.Addr().String()).Debug("Starting")

		node, err := r.factory(spec.ID, spec.Kind, host)
		if err == nil && node == nil {
			err = errors.New("factory returned no node")
		}
		if err != nil {
			return r.fail(spec.ID, "spawn", err)
		}

		log.Debug("Sending start signal")
		r.transition(spec.ID, StateReady)
		slot.ready.resolve(struct{}{})

		log.Debug("Waiting for connections")
		r.transition(spec.ID, StateConnecting)
		for {
			addr, ok, err := slot.connects.next(ctx)
			if err != nil {
				return r.fail(spec.ID, "connect", err)
			}
			if !ok {
				break
			}
			node.ConnectTo(ctx, addr)
		}

		result, err := r.wait(ctx, node)
		if err != nil {
			return r.fail(spec.ID, "wait", err)
		}

		r.transition(spec.ID, StateCompleted)
		log.Debug("Done")
		return outcome[R]{id: spec.ID, result: result}, nil
	}
}

// wait calls node.Wait, bounded by the configured timeout. The call runs on
// its own goroutine so a node that ignores its context cannot hold up the
// run past the deadline.
func (r *run[K, R]) wait(ctx context.Context, node RunningNode[R]) (R, error) {
	waitCtx := ctx
	if r.config.WaitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, r.config.WaitTimeout)
		defer cancel()
	}

	type waited struct {
		result R
		err    error
	}
	done := make(chan waited, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- waited{err: fmt.Errorf("%w: %v", netsim.ErrMachinePanic, p)}
			}
		}()
		result, err := node.Wait(waitCtx)
		done <- waited{result: result, err: err}
	}()

	var zero R
	select {
	case w := <-done:
		if w.err != nil && ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w (%v): %v", ErrWaitTimeout, r.config.WaitTimeout, w.err)
		}
		return w.result, w.err
	case <-waitCtx.Done():
		if ctx.Err() == nil {
			return zero, fmt.Errorf("%w (%v)", ErrWaitTimeout, r.config.WaitTimeout)
		}
		return zero, ctx.Err()
	}
}

func (r *run[K, R]) fail(id NodeID, op string, err error) (outcome[R], error) {
	r.transition(id, StateFailed)
	r.log.WithFields(logrus.Fields{
		"node":  id.String(),
		"op":    op,
		"error": err.Error(),
	}).Warn("Node failed")
	return outcome[R]{}, &NodeError{Node: id, Op: op, Err: err}
}

func (r *run[K, R]) transition(id NodeID, state NodeState) {
	r.observer.NodeStateChanged(id, state)
}

// control is the orchestrating goroutine: it owns the address map and
// replays the edge list once the startup ordering allows it.
func (r *run[K, R]) control(ctx context.Context) error {
	if r.config.Barrier == NoBarrier {
		cache := make(map[NodeID]netip.Addr, len(r.slots))
		missing := make(map[NodeID]bool)
		return r.replay(ctx, func(target NodeID) (netip.Addr, bool, error) {
			if addr, ok := cache[target]; ok {
				return addr, true, nil
			}
			if missing[target] {
				return netip.Addr{}, false, nil
			}
			addr, ok, err := r.awaitAddress(ctx, r.slots[target])
			if err != nil {
				return netip.Addr{}, false, err
			}
			if ok {
				cache[target] = addr
			} else {
				missing[target] = true
			}
			return addr, ok, nil
		})
	}

	addrs := make(map[NodeID]netip.Addr, len(r.slots))
	for _, spec := range r.plan.nodes {
		addr, ok, err := r.awaitAddress(ctx, r.slots[spec.ID])
		if err != nil {
			return err
		}
		if ok {
			addrs[spec.ID] = addr
		}
	}

	if err := r.barrier(ctx); err != nil {
		return err
	}

	return r.replay(ctx, func(target NodeID) (netip.Addr, bool, error) {
		addr, ok := addrs[target]
		return addr, ok, nil
	})
}

// awaitAddress waits for a node's published address. ok is false when the
// node exited, or the run joined, without publishing one.
func (r *run[K, R]) awaitAddress(ctx context.Context, slot *nodeSlot) (netip.Addr, bool, error) {
	addr, err := slot.address.await(ctx, slot.exited, r.joined)
	if errors.Is(err, errAbandoned) {
		r.log.WithField("node", slot.id.String()).Warn("Unable to get address")
		return netip.Addr{}, false, nil
	}
	if err != nil {
		return netip.Addr{}, false, err
	}
	return addr, true, nil
}

// barrier blocks until every node has signalled readiness or is gone.
func (r *run[K, R]) barrier(ctx context.Context) error {
	start := time.Now()
	ready := 0
	for _, spec := range r.plan.nodes {
		slot := r.slots[spec.ID]
		_, err := slot.ready.await(ctx, slot.exited, r.joined)
		if errors.Is(err, errAbandoned) {
			r.log.WithField("node", spec.ID.String()).Warn("Node exited before signalling readiness")
			continue
		}
		if err != nil {
			return err
		}
		ready++
	}

	waited := time.Since(start)
	r.observer.BarrierReleased(ready, waited)
	r.log.WithFields(logrus.Fields{
		"ready":  ready,
		"waited": waited,
	}).Debug("Readiness barrier released")
	return nil
}

// replay turns every edge into a connect command for its dialer, in
// declaration order, and closes each dialer's queue after its last edge.
func (r *run[K, R]) replay(ctx context.Context, resolve func(NodeID) (netip.Addr, bool, error)) error {
	pending := r.plan.outDegrees()
	for id, slot := range r.slots {
		if pending[id] == 0 {
			slot.connects.close()
		}
	}

	for _, edge := range r.plan.edges {
		// a dialer without an address never runs, so its edges go nowhere
		_, dialerOK, err := resolve(edge.Dialer)
		if err != nil {
			return err
		}
		addr, targetOK, err := resolve(edge.Target)
		if err != nil {
			return err
		}

		fields := logrus.Fields{
			"dialer": edge.Dialer.String(),
			"target": edge.Target.String(),
		}
		if dialerOK && targetOK {
			r.slots[edge.Dialer].connects.push(addr)
			r.observer.ConnectDispatched(edge, addr)
			r.log.WithFields(fields).WithField("addr", addr.String()).Debug("Connecting")
		} else {
			absent := edge.Target
			if !dialerOK {
				absent = edge.Dialer
			}
			skipErr := &NodeError{Node: absent, Op: "resolve", Err: ErrAddressUnavailable}
			if r.config.MissingAddress == FailOnMissing {
				r.log.WithFields(fields).WithField("node", absent.String()).Error("Address unavailable")
				return fmt.Errorf("edge %s: %w", edge, skipErr)
			}
			r.observer.EdgeSkipped(edge, skipErr)
			r.log.WithFields(fields).WithField("node", absent.String()).Warn("Address unavailable, skipping edge")
		}

		pending[edge.Dialer]--
		if pending[edge.Dialer] == 0 {
			r.slots[edge.Dialer].connects.close()
		}
	}

	return nil
}
