package harness

import (
	"errors"
	"fmt"
)

var (
	// ErrAddressUnavailable indicates a node never published its address
	ErrAddressUnavailable = errors.New("node address unavailable")

	// ErrWaitTimeout indicates a node did not finish within the configured wait timeout
	ErrWaitTimeout = errors.New("node did not finish before wait timeout")

	// ErrInvalidConfig indicates the orchestrator configuration is unusable
	ErrInvalidConfig = errors.New("invalid harness configuration")
)

// NodeError reports a failure attributed to one node.
type NodeError struct {
	Node NodeID // node the failure belongs to
	Op   string // lifecycle step that failed
	Err  error  // underlying error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.Node, e.Op, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}
