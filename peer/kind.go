package peer

import (
	"fmt"
	"strings"
)

// Kind is the role a node plays in the exchange.
type Kind int

const (
	// Sender writes its payload on every stream it takes part in
	Sender Kind = iota
	// Receiver writes nothing and keeps everything it reads
	Receiver
)

// String returns a string representation of the kind.
func (k Kind) String() string {
	switch k {
	case Sender:
		return "sender"
	case Receiver:
		return "receiver"
	default:
		return "unknown"
	}
}

// ParseKind parses "sender" or "receiver", ignoring case.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sender":
		return Sender, nil
	case "receiver":
		return Receiver, nil
	default:
		return 0, fmt.Errorf("unknown node kind %q", s)
	}
}
