package harness

import "fmt"

// Edge is a directed instruction: once both nodes are running, Dialer
// connects to Target's address.
type Edge struct {
	Dialer NodeID
	Target NodeID
}

// String renders the edge as "dialer -> target".
func (e Edge) String() string {
	return fmt.Sprintf("%s -> %s", e.Dialer, e.Target)
}
