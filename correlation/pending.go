package correlation

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"proclink/message"
)

// Result is the single resolution of a pending call: either a response
// envelope or an error (timeout, cancellation, shutdown, transport).
type Result struct {
	Response *message.Envelope
	Err      error
}

// PendingCall tracks one in-flight correlated request from send until its
// terminal state. Exactly one resolution is permitted; a resolved call is
// removed from the engine's table.
//
// Consume a call through exactly one of Wait (blocking) or OnResolve
// (callback); mixing the two on the same call leaves the other mode starved.
type PendingCall struct {
	id       message.ID
	deadline time.Time
	engine   *Engine
	timer    *clock.Timer

	mu       sync.Mutex
	resolved bool
	result   Result
	cb       func(Result)
	done     chan Result
}

// ID returns the call's correlation identity.
func (p *PendingCall) ID() message.ID { return p.id }

// Deadline returns the wall-clock instant after which the call times out.
func (p *PendingCall) Deadline() time.Time { return p.deadline }

// Wait suspends the caller until the call resolves or ctx is done. Other
// in-flight calls are unaffected: this parks only the calling goroutine.
// Expiry of the call's own deadline unblocks Wait with a TimeoutError.
func (p *PendingCall) Wait(ctx context.Context) (*message.Envelope, error) {
	select {
	case res := <-p.done:
		return res.Response, res.Err
	case <-ctx.Done():
		p.Cancel()
		return nil, ctx.Err()
	}
}

// OnResolve registers a handler invoked once when the call resolves. If the
// call already resolved, the handler runs immediately on the calling
// goroutine.
func (p *PendingCall) OnResolve(fn func(Result)) {
	p.mu.Lock()
	if p.resolved {
		res := p.result
		p.mu.Unlock()
		fn(res)
		return
	}
	p.cb = fn
	p.mu.Unlock()
}

// Cancel removes the call from the pending table. Idempotent: cancelling
// twice, or cancelling after resolution, is a no-op. A concurrent Wait
// unblocks with ErrCancelled.
func (p *PendingCall) Cancel() {
	p.resolve(Result{Err: ErrCancelled})
}

// resolve performs the single permitted state transition. Returns false if
// the call was already resolved.
func (p *PendingCall) resolve(res Result) bool {
	p.mu.Lock()
	if p.resolved {
		p.mu.Unlock()
		return false
	}
	p.resolved = true
	p.result = res
	cb := p.cb
	p.mu.Unlock()

	if p.timer != nil {
		p.timer.Stop()
	}
	p.engine.remove(p.id)

	if cb != nil {
		cb(res)
	} else {
		p.done <- res
	}
	return true
}
