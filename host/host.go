// Package host declares the boundary with the host kernel: a bare
// asynchronous message-passing primitive. The kernel delivers one inbound
// frame at a time to the process's main loop; outbound frames are one-shot
// sends with no delivery confirmation beyond the send result.
package host

import (
	"errors"
	"fmt"
)

// Host is the raw calling convention this library is built on. Everything
// above it (correlation, RPC, timers) exists to turn this unreliable one-shot
// channel into awaitable calls.
type Host interface {
	// Send hands one framed envelope to the kernel.
	Send(frame []byte) error
	// Receive blocks until the kernel delivers the next inbound frame.
	Receive() ([]byte, error)
}

// ErrClosed is reported once the host channel is gone.
var ErrClosed = errors.New("host: channel closed")

// TransportError wraps a failure of the raw send/receive primitive. A
// transport failure says nothing about whether the remote process acted on
// the message.
type TransportError struct {
	Op  string // "send" or "receive"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("host transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
