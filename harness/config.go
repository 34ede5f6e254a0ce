package harness

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/opd-ai/p2pharness/netsim"
	"github.com/sirupsen/logrus"
)

// BarrierMode selects how connect replay is synchronised with node startup.
type BarrierMode int

const (
	// ReadinessBarrier defers every connect command until every node has
	// signalled it accepts connections.
	ReadinessBarrier BarrierMode = iota

	// NoBarrier replays edges as soon as each target's address is known.
	// A dial can reach a node whose listener is not bound yet, so use it
	// only with protocols that retry early dials.
	NoBarrier
)

// String returns a string representation of the barrier mode.
func (m BarrierMode) String() string {
	switch m {
	case ReadinessBarrier:
		return "barrier"
	case NoBarrier:
		return "none"
	default:
		return "unknown"
	}
}

// MissingAddressPolicy decides what happens to an edge whose target never
// published an address.
type MissingAddressPolicy int

const (
	// SkipMissing drops the edge with a warning and keeps the run going.
	SkipMissing MissingAddressPolicy = iota

	// FailOnMissing aborts the run with ErrAddressUnavailable.
	FailOnMissing
)

// String returns a string representation of the policy.
func (p MissingAddressPolicy) String() string {
	switch p {
	case SkipMissing:
		return "skip"
	case FailOnMissing:
		return "fail"
	default:
		return "unknown"
	}
}

// ParseMissingAddressPolicy parses "skip" or "fail".
func ParseMissingAddressPolicy(s string) (MissingAddressPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "skip", "":
		return SkipMissing, nil
	case "fail":
		return FailOnMissing, nil
	default:
		return 0, fmt.Errorf("%w: unknown missing-address policy %q", ErrInvalidConfig, s)
	}
}

// Config holds orchestrator settings for one Start call.
type Config struct {
	// Barrier selects readiness-barrier or barrier-free replay
	Barrier BarrierMode

	// MissingAddress decides whether unresolvable edges are skipped or fatal
	MissingAddress MissingAddressPolicy

	// WaitTimeout bounds each node's Wait. Zero waits as long as the
	// run context allows.
	WaitTimeout time.Duration

	// Subnet addresses the fabric created for the run when Fabric is nil
	Subnet string

	// Fabric is an existing fabric to run on. The caller keeps ownership.
	Fabric *netsim.Fabric

	// Observers receive lifecycle events
	Observers []Observer

	// Logger is the base entry for run logs
	Logger *logrus.Entry
}

// DefaultConfig returns the default orchestrator configuration: readiness
// barrier on, missing addresses skipped, no wait timeout.
func DefaultConfig() *Config {
	return &Config{
		Barrier:        ReadinessBarrier,
		MissingAddress: SkipMissing,
		Subnet:         netsim.DefaultSubnet,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Barrier != ReadinessBarrier && c.Barrier != NoBarrier {
		return fmt.Errorf("%w: unknown barrier mode %d", ErrInvalidConfig, c.Barrier)
	}

	if c.MissingAddress != SkipMissing && c.MissingAddress != FailOnMissing {
		return fmt.Errorf("%w: unknown missing-address policy %d", ErrInvalidConfig, c.MissingAddress)
	}

	if c.WaitTimeout < 0 {
		return fmt.Errorf("%w: wait timeout cannot be negative", ErrInvalidConfig)
	}

	if c.Fabric == nil && c.Subnet != "" {
		if _, err := netip.ParsePrefix(c.Subnet); err != nil {
			return fmt.Errorf("%w: subnet: %v", ErrInvalidConfig, err)
		}
	}

	for i, obs := range c.Observers {
		if obs == nil {
			return fmt.Errorf("%w: observer %d is nil", ErrInvalidConfig, i)
		}
	}

	return nil
}

func (c *Config) logger() *logrus.Entry {
	if c.Logger != nil {
		return c.Logger
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
