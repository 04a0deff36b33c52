package transport

import (
	"errors"
	"fmt"
)

var (
	ErrClosed        = errors.New("transport: connection closed")
	ErrNotSendable   = errors.New("transport: connection is receive-only")
	ErrNotReceivable = errors.New("transport: connection is send-only")
	ErrTimedOut      = errors.New("transport: peer went silent")
)

// FaultError is an I/O failure on one connection operation.
type FaultError struct {
	Op   string // "send", "heartbeat" or "read"
	Addr string
	Err  error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the operation can succeed. A failed send
// is retryable; a failed read loop has already torn the connection down.
func (e *FaultError) Temporary() bool { return e.Op != "read" }
