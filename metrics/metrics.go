// Package metrics exports harness run events as Prometheus metrics.
package metrics

import (
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/opd-ai/p2pharness/harness"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "p2pharness"

// Collector holds Prometheus metrics for harness runs. It implements
// harness.Observer; pass it in harness.Config.Observers.
type Collector struct {
	// NodeTransitions counts lifecycle transitions by target state.
	NodeTransitions *prometheus.CounterVec

	// ConnectsDispatched counts connect commands handed to dialers.
	ConnectsDispatched prometheus.Counter

	// EdgesSkipped counts edges dropped because the target had no address.
	EdgesSkipped prometheus.Counter

	// BarrierWait tracks how long the readiness barrier held replay back.
	BarrierWait prometheus.Histogram

	// Runs counts finished runs by status ("success" or "failure").
	Runs *prometheus.CounterVec

	// RunDuration tracks wall time of whole runs.
	RunDuration prometheus.Histogram

	// NodesActive tracks nodes that have an address and have not finished.
	NodesActive prometheus.Gauge

	mu     sync.Mutex
	active map[harness.NodeID]bool
}

// NewCollector creates a Collector and registers it with registry. A nil
// registry leaves the metrics unregistered.
func NewCollector(registry prometheus.Registerer) *Collector {
	c := &Collector{
		active: make(map[harness.NodeID]bool),
		NodeTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_transitions_total",
				Help:      "Total number of node lifecycle transitions",
			},
			[]string{"state"},
		),

		ConnectsDispatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connects_dispatched_total",
				Help:      "Total number of connect commands dispatched to dialers",
			},
		),

		EdgesSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "edges_skipped_total",
				Help:      "Total number of edges skipped for lack of a target address",
			},
		),

		BarrierWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "barrier_wait_seconds",
				Help:      "Time spent waiting for every node to become ready",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10), // 100us to ~26s
			},
		),

		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of network runs",
			},
			[]string{"status"},
		),

		RunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of network runs",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
			},
		),

		NodesActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "nodes_active",
				Help:      "Number of nodes currently running",
			},
		),
	}

	if registry != nil {
		registry.MustRegister(
			c.NodeTransitions,
			c.ConnectsDispatched,
			c.EdgesSkipped,
			c.BarrierWait,
			c.Runs,
			c.RunDuration,
			c.NodesActive,
		)
	}

	return c
}

// NodeStateChanged implements harness.Observer.
func (c *Collector) NodeStateChanged(id harness.NodeID, state harness.NodeState) {
	if c == nil {
		return
	}
	c.NodeTransitions.WithLabelValues(state.String()).Inc()

	// a node dropped before it got an address fails without ever being active
	c.mu.Lock()
	defer c.mu.Unlock()
	switch state {
	case harness.StateAddressAssigned:
		if !c.active[id] {
			c.active[id] = true
			c.NodesActive.Inc()
		}
	case harness.StateCompleted, harness.StateFailed:
		if c.active[id] {
			delete(c.active, id)
			c.NodesActive.Dec()
		}
	}
}

// ConnectDispatched implements harness.Observer.
func (c *Collector) ConnectDispatched(edge harness.Edge, addr netip.Addr) {
	if c == nil {
		return
	}
	c.ConnectsDispatched.Inc()
}

// EdgeSkipped implements harness.Observer.
func (c *Collector) EdgeSkipped(edge harness.Edge, err error) {
	if c == nil {
		return
	}
	c.EdgesSkipped.Inc()
}

// BarrierReleased implements harness.Observer.
func (c *Collector) BarrierReleased(ready int, waited time.Duration) {
	if c == nil {
		return
	}
	c.BarrierWait.Observe(waited.Seconds())
}

// RunCompleted implements harness.Observer.
func (c *Collector) RunCompleted(nodes int, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusFailure
	}
	c.Runs.WithLabelValues(status).Inc()
	c.RunDuration.Observe(elapsed.Seconds())
}

// StatusSuccess labels runs that returned results.
const StatusSuccess = "success"

// StatusFailure labels runs that returned an error.
const StatusFailure = "failure"

// WriteTextfile writes everything gatherer collects to path in the text
// exposition format, for node_exporter's textfile collector or CI
// artifacts.
func WriteTextfile(path string, gatherer prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, gatherer); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}

var _ harness.Observer = (*Collector)(nil)
