// Package process runs the process's main loop against the host kernel:
// receive one inbound envelope at a time, dispatch it, repeat.
//
// Dispatch order is fixed by the entry contract: responses go to the
// correlation engine first; capability grants feed the guard; everything else
// is an application request handed to the registered handler. An unmatched
// response is surfaced as unsolicited by the engine, never dropped.
//
// Inbound handling is deliberately sequential — the host delivers one
// envelope at a time, and running handlers inline preserves that
// serialization, which is what lets the pending-call and capability tables
// get by without external locking. Fan-out happens on the outbound side:
// any number of correlated calls may be in flight while the loop runs.
package process

import (
	"context"
	"io"
	"log"
	"sync/atomic"

	"proclink/address"
	"proclink/capability"
	"proclink/correlation"
	"proclink/host"
	"proclink/message"
	"proclink/protocol"
)

// Handler consumes an inbound application request. Returning a non-nil
// response builder answers the request (when it expects a response); the
// process binds the response to the request's correlation identity.
type Handler func(ctx context.Context, env *message.Envelope) (*message.ResponseBuilder, error)

// Process wires a host channel, a correlation engine, and a capability guard
// into one running process instance.
type Process struct {
	host     host.Host
	self     address.Address
	engine   *correlation.Engine
	guard    *capability.Guard
	handler  Handler
	shutdown atomic.Bool
}

// Option configures a Process.
type Option func(*settings)

type settings struct {
	handler    Handler
	guard      *capability.Guard
	engineOpts []correlation.Option
}

// WithHandler sets the application handler for inbound requests.
func WithHandler(h Handler) Option {
	return func(s *settings) { s.handler = h }
}

// WithGuard injects a capability guard; by default a fresh empty one is used.
func WithGuard(g *capability.Guard) Option {
	return func(s *settings) { s.guard = g }
}

// WithEngineOptions passes options through to the correlation engine.
func WithEngineOptions(opts ...correlation.Option) Option {
	return func(s *settings) { s.engineOpts = append(s.engineOpts, opts...) }
}

// New creates a process identified by self on the given host channel.
func New(h host.Host, self address.Address, opts ...Option) *Process {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	if s.guard == nil {
		s.guard = capability.NewGuard()
	}
	return &Process{
		host:    h,
		self:    self,
		engine:  correlation.New(h, self, s.engineOpts...),
		guard:   s.guard,
		handler: s.handler,
	}
}

// Engine returns the process's correlation engine, the send side of the API.
func (p *Process) Engine() *correlation.Engine { return p.engine }

// Guard returns the process's capability guard.
func (p *Process) Guard() *capability.Guard { return p.guard }

// Self returns the process's own address.
func (p *Process) Self() address.Address { return p.self }

// Run is the main loop: it blocks, receiving and dispatching one inbound
// envelope at a time, until the host channel fails or Shutdown is called.
func (p *Process) Run(ctx context.Context) error {
	for {
		frame, err := p.host.Receive()
		if err != nil {
			// Shutdown closes the host channel; recognize the
			// intentional close and report it as a clean exit.
			if p.shutdown.Load() {
				return nil
			}
			return err
		}
		env, err := protocol.Unmarshal(frame)
		if err != nil {
			log.Printf("process %s: dropping malformed frame: %v", p.self, err)
			continue
		}
		p.dispatch(ctx, env)
	}
}

// Shutdown stops the loop: resolves all pending calls, then closes the host
// channel so Run returns.
func (p *Process) Shutdown() {
	p.shutdown.Store(true)
	p.engine.Shutdown()
	if closer, ok := p.host.(io.Closer); ok {
		closer.Close()
	}
}

func (p *Process) dispatch(ctx context.Context, env *message.Envelope) {
	switch env.Kind {
	case message.KindResponse:
		p.engine.Deliver(env)

	case message.KindGrant:
		p.guard.Grant(env.Capabilities...)

	case message.KindRequest:
		if p.handler == nil {
			log.Printf("process %s: no handler, dropping request from %s", p.self, env.Source)
			return
		}
		resp, err := p.handler(ctx, env)
		if err != nil {
			log.Printf("process %s: handler error for request from %s: %v", p.self, env.Source, err)
		}
		if resp != nil && env.ExpectsResponse {
			respEnv, err := resp.Envelope(env)
			if err != nil {
				log.Printf("process %s: invalid response: %v", p.self, err)
				return
			}
			if _, err := p.engine.SendEnvelope(ctx, respEnv); err != nil {
				log.Printf("process %s: failed to send response: %v", p.self, err)
			}
		}
	}
}
