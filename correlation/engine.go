// Package correlation turns the host's one-shot asynchronous message channel
// into correlated, awaitable calls.
//
// The engine assigns every outgoing request a correlation identity, registers
// a pending call BEFORE the envelope leaves the library (so a fast reply can
// never arrive before its waiter exists), and routes inbound responses to the
// right caller regardless of arrival order:
//
//	goroutine-1 ──Send(seq=1)──┐
//	goroutine-2 ──Send(seq=2)──┼──→ host kernel ──→ remote processes
//	goroutine-3 ──Send(seq=3)──┘
//
//	dispatch:  ←── response(seq=2) → pending[2] → goroutine-2 wakes up
//
// Correlation identity is a monotonic counter combined with a per-instance
// epoch, so a restarted process that reuses the counter space never matches
// a stale pre-restart reply.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"proclink/address"
	"proclink/host"
	"proclink/message"
	"proclink/middleware"
	"proclink/protocol"
)

// DefaultTimeout applies to requests that don't set their own. Conservative
// on purpose: a host-level failure must surface as a timeout, never a hang.
const DefaultTimeout = 5 * time.Second

var (
	// ErrTimeout is wrapped by every TimeoutError; check with errors.Is.
	ErrTimeout = errors.New("correlation: response deadline elapsed")
	// ErrCancelled resolves a call that was cancelled before any response.
	ErrCancelled = errors.New("correlation: call cancelled")
	// ErrShutdown resolves every call still pending when the engine stops.
	ErrShutdown = errors.New("correlation: engine shut down")
)

// TimeoutError reports which call timed out and when its deadline was.
type TimeoutError struct {
	ID       message.ID
	Deadline time.Time
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("correlation: request %d/%d timed out (deadline %s)", e.ID.Epoch, e.ID.Seq, e.Deadline.Format(time.RFC3339))
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// Engine owns the pending-call table. It is the only component that mutates
// it; everything else goes through Send, Deliver, and PendingCall.
type Engine struct {
	host           host.Host
	self           address.Address
	clk            clock.Clock
	epoch          uint32
	seq            atomic.Uint64
	defaultTimeout time.Duration
	send           middleware.SendFunc
	unsolicited    func(*message.Envelope)

	mu       sync.Mutex
	pending  map[message.ID]*PendingCall
	shutdown bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects the time source; tests use a mock clock to drive
// deadlines deterministically.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clk = c }
}

// WithDefaultTimeout overrides DefaultTimeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *Engine) { e.defaultTimeout = d }
}

// WithMiddleware installs the outbound send chain, applied in order.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Engine) {
		e.send = middleware.Chain(mws...)(e.rawSend)
	}
}

// WithUnsolicitedHandler surfaces responses whose correlation identity has no
// pending call. They are recoverable noise: surfaced once, then discarded.
func WithUnsolicitedHandler(fn func(*message.Envelope)) Option {
	return func(e *Engine) { e.unsolicited = fn }
}

// New creates an engine bound to host h, sending as self. The epoch is drawn
// fresh per instance, which is what makes correlation identities
// restart-safe.
func New(h host.Host, self address.Address, opts ...Option) *Engine {
	e := &Engine{
		host:           h,
		self:           self,
		clk:            clock.New(),
		epoch:          uuid.New().ID(),
		defaultTimeout: DefaultTimeout,
		pending:        make(map[message.ID]*PendingCall),
	}
	e.send = e.rawSend
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Epoch returns the per-instance correlation epoch.
func (e *Engine) Epoch() uint32 { return e.epoch }

// PendingCount reports how many calls are currently outstanding.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Send finalizes the builder into an immutable envelope, stamps it with
// source and correlation identity, and hands it to the host.
//
// If the request expects a response, the returned PendingCall was registered
// before the envelope left this method. For fire-and-forget requests the
// returned call is nil.
func (e *Engine) Send(ctx context.Context, b *message.Builder) (*PendingCall, error) {
	env, err := b.Envelope()
	if err != nil {
		return nil, err
	}
	return e.SendEnvelope(ctx, env)
}

// SendEnvelope sends an already-built envelope. Responses built with
// ResponseBuilder and internal resends take this path.
func (e *Engine) SendEnvelope(ctx context.Context, env *message.Envelope) (*PendingCall, error) {
	env.Source = e.self
	if env.Timeout == 0 {
		env.Timeout = e.defaultTimeout
	}
	if env.Kind == message.KindRequest {
		env.Correlation = message.ID{Epoch: e.epoch, Seq: e.seq.Add(1)}
	}

	if env.Kind == message.KindRequest && env.ExpectsResponse {
		// Registered before the send: a reply racing the return of
		// host.Send still finds its waiter.
		call, err := e.register(env.Correlation, env.Timeout)
		if err != nil {
			return nil, err
		}
		if err := e.send(ctx, env); err != nil {
			call.resolve(Result{Err: err})
			return nil, err
		}
		return call, nil
	}

	if err := e.send(ctx, env); err != nil {
		return nil, err
	}
	return nil, nil
}

// Request is Send followed by a blocking Wait — the common case for app code.
func (e *Engine) Request(ctx context.Context, b *message.Builder) (*message.Envelope, error) {
	call, err := e.Send(ctx, b)
	if err != nil {
		return nil, err
	}
	if call == nil {
		return nil, nil
	}
	return call.Wait(ctx)
}

// Deliver routes an inbound response to its pending call. Returns false for
// stale or unsolicited responses, which are surfaced through the configured
// handler (or logged), never silently dropped and never fatal.
func (e *Engine) Deliver(env *message.Envelope) bool {
	if env.Kind != message.KindResponse {
		return false
	}
	e.mu.Lock()
	call, ok := e.pending[env.Correlation]
	e.mu.Unlock()

	if ok && call.resolve(Result{Response: env}) {
		return true
	}

	if e.unsolicited != nil {
		e.unsolicited(env)
	} else {
		log.Printf("correlation: stale or unsolicited response %d/%d from %s", env.Correlation.Epoch, env.Correlation.Seq, env.Source)
	}
	return false
}

// Shutdown resolves every outstanding call with ErrShutdown and refuses new
// registrations. The host channel itself is closed by the owner.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.shutdown = true
	pending := e.pending
	e.pending = make(map[message.ID]*PendingCall)
	e.mu.Unlock()

	for _, call := range pending {
		call.resolve(Result{Err: ErrShutdown})
	}
}

func (e *Engine) register(id message.ID, timeout time.Duration) (*PendingCall, error) {
	call := &PendingCall{
		id:       id,
		engine:   e,
		deadline: e.clk.Now().Add(timeout),
		done:     make(chan Result, 1),
	}

	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		return nil, ErrShutdown
	}
	e.pending[id] = call
	e.mu.Unlock()

	call.timer = e.clk.AfterFunc(timeout, func() {
		call.resolve(Result{Err: &TimeoutError{ID: id, Deadline: call.deadline}})
	})
	return call, nil
}

func (e *Engine) remove(id message.ID) {
	e.mu.Lock()
	delete(e.pending, id)
	e.mu.Unlock()
}

func (e *Engine) rawSend(ctx context.Context, env *message.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame, err := protocol.Marshal(env)
	if err != nil {
		return err
	}
	if err := e.host.Send(frame); err != nil {
		var transportErr *host.TransportError
		if errors.As(err, &transportErr) {
			return err
		}
		return &host.TransportError{Op: "send", Err: err}
	}
	return nil
}
