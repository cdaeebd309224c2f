package host

import "sync"

// Pipe is an in-memory kernel channel: two connected ends, each implementing
// Host. Frames sent on one end are received on the other. Tests and local
// simulations stand in a pipe where the real kernel would be.
type Pipe struct {
	in     chan []byte
	out    chan []byte
	closed chan struct{}
	once   *sync.Once
}

// NewPipe returns the two ends of a connected channel pair. Closing either
// end unblocks both.
func NewPipe() (*Pipe, *Pipe) {
	ab := make(chan []byte, 64)
	ba := make(chan []byte, 64)
	closed := make(chan struct{})
	once := &sync.Once{}
	a := &Pipe{in: ba, out: ab, closed: closed, once: once}
	b := &Pipe{in: ab, out: ba, closed: closed, once: once}
	return a, b
}

// Send queues a frame for the peer end.
func (p *Pipe) Send(frame []byte) error {
	// Copy: the caller may reuse its buffer after Send returns.
	dup := append([]byte(nil), frame...)
	select {
	case <-p.closed:
		return &TransportError{Op: "send", Err: ErrClosed}
	case p.out <- dup:
		return nil
	}
}

// Receive blocks until the peer sends a frame or the pipe closes.
func (p *Pipe) Receive() ([]byte, error) {
	select {
	case <-p.closed:
		return nil, &TransportError{Op: "receive", Err: ErrClosed}
	case frame, ok := <-p.in:
		if !ok {
			return nil, &TransportError{Op: "receive", Err: ErrClosed}
		}
		return frame, nil
	}
}

// Close tears down both ends. Safe to call from either side, more than once.
func (p *Pipe) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
