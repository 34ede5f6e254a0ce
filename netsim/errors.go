package netsim

import (
	"errors"
	"fmt"
)

// Common errors for the simulated network
var (
	// ErrNoAvailableAddress indicates the address pool is exhausted
	ErrNoAvailableAddress = errors.New("no available address in pool")

	// ErrAddressInUse indicates a listener is already bound to the address
	ErrAddressInUse = errors.New("address already in use")

	// ErrAddressOutOfRange indicates an address outside the fabric subnet
	ErrAddressOutOfRange = errors.New("address out of subnet range")

	// ErrConnectionRefused indicates nothing is listening at the dialed address
	ErrConnectionRefused = errors.New("connection refused")

	// ErrListenerClosed indicates the listener has been closed
	ErrListenerClosed = errors.New("listener closed")

	// ErrConnectionClosed indicates the connection has been closed
	ErrConnectionClosed = errors.New("connection closed")

	// ErrFabricClosed indicates the fabric has been shut down
	ErrFabricClosed = errors.New("fabric closed")

	// ErrHostClosed indicates the host has been detached from the fabric
	ErrHostClosed = errors.New("host closed")

	// ErrDeadlineExceeded indicates a read or write deadline passed
	ErrDeadlineExceeded = &timeoutError{}

	// ErrMachinePanic indicates a machine panicked while running
	ErrMachinePanic = errors.New("machine panicked")
)

// NetError represents a simulated network error with additional context
type NetError struct {
	Op   string // operation that caused the error
	Addr string // address if relevant
	Err  error  // underlying error
}

func (e *NetError) Error() string {
	if e.Addr != "" {
		return fmt.Sprintf("netsim %s %s: %v", e.Op, e.Addr, e.Err)
	}
	return fmt.Sprintf("netsim %s: %v", e.Op, e.Err)
}

func (e *NetError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the error is a deadline error, so callers using
// net.Error see simulated timeouts the same way as real ones.
func (e *NetError) Timeout() bool {
	return errors.Is(e.Err, ErrDeadlineExceeded)
}

// Temporary implements net.Error.
func (e *NetError) Temporary() bool {
	return e.Timeout()
}

func newNetError(op, addr string, err error) *NetError {
	return &NetError{
		Op:   op,
		Addr: addr,
		Err:  err,
	}
}

type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }
