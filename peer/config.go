package peer

import (
	"errors"
	"time"
)

// DefaultPort is the port every node listens on.
const DefaultPort uint16 = 1025

// Config holds the settings shared by every node of a run.
type Config struct {
	// Port every node listens on and dials
	Port uint16

	// Payload senders write on each stream. Empty means
	// "Hello World from: <node id>".
	Payload string

	// Expected is the number of streams after which Wait returns. Factory
	// sets it per node from the network's degree.
	Expected int

	// HandshakeTimeout bounds each Noise handshake
	HandshakeTimeout time.Duration
}

// DefaultConfig returns the default node configuration.
func DefaultConfig() Config {
	return Config{
		Port:             DefaultPort,
		HandshakeTimeout: 5 * time.Second,
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Port == 0 {
		return errors.New("port must be set")
	}
	if c.Expected < 0 {
		return errors.New("expected stream count cannot be negative")
	}
	if c.HandshakeTimeout < 0 {
		return errors.New("handshake timeout cannot be negative")
	}
	return nil
}

// payloadFor returns what the node called id sends.
func (c Config) payloadFor(id string) []byte {
	if c.Payload == "" {
		return []byte("Hello World from: " + id)
	}
	return []byte(c.Payload)
}
