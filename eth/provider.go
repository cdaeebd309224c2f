// Package eth multiplexes Ethereum JSON-RPC calls and subscriptions over the
// networking process that owns the actual sockets.
//
// The provider never opens a connection itself. Each logical call is wrapped
// in a gateway request naming the chosen endpoint and sent through the
// correlation engine; the gateway's reply body is the upstream JSON-RPC
// response verbatim. Failover lives entirely here: the gateway is dumb
// plumbing, the Pool holds the health state, and the retry loop below is the
// only place that consults it.
package eth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/rpc/v2/json2"

	"proclink/address"
	"proclink/correlation"
	"proclink/message"
)

// gatewayRequest is the body sent to the networking process: which endpoint
// to use, which chain it serves, and the JSON-RPC payload to forward.
type gatewayRequest struct {
	Endpoint string          `json:"endpoint"`
	ChainID  uint64          `json:"chain_id"`
	Payload  json.RawMessage `json:"payload"`
}

// Provider is the call/subscribe surface for one chain.
type Provider struct {
	engine      *correlation.Engine
	pool        *Pool
	gateway     address.Address
	chainID     uint64
	maxAttempts int
	callTimeout time.Duration
	metrics     *Metrics

	subs *subscriptionTable
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithMaxAttempts bounds the failover loop. Each attempt targets a different
// pick from the pool.
func WithMaxAttempts(n int) ProviderOption {
	return func(p *Provider) { p.maxAttempts = n }
}

// WithCallTimeout sets the per-attempt deadline.
func WithCallTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) { p.callTimeout = d }
}

// WithMetrics attaches collectors; the zero value disables them.
func WithMetrics(m *Metrics) ProviderOption {
	return func(p *Provider) { p.metrics = m }
}

func NewProvider(engine *correlation.Engine, pool *Pool, gateway address.Address, chainID uint64, opts ...ProviderOption) *Provider {
	p := &Provider{
		engine:      engine,
		pool:        pool,
		gateway:     gateway,
		chainID:     chainID,
		maxAttempts: 3,
		callTimeout: 10 * time.Second,
		subs:        newSubscriptionTable(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type callOpts struct {
	affinity string
	timeout  time.Duration
}

// CallOption adjusts a single call.
type CallOption func(*callOpts)

// WithAffinity prefers a specific endpoint while it stays healthy. Related
// calls (eth_unsubscribe after eth_subscribe) need to land on the same
// gateway connection.
func WithAffinity(endpoint string) CallOption {
	return func(o *callOpts) { o.affinity = endpoint }
}

// WithTimeout overrides the provider's per-attempt deadline for this call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOpts) { o.timeout = d }
}

// Call performs one JSON-RPC request with failover. result is decoded from
// the upstream response; pass a *json.RawMessage to keep it opaque.
//
// Timeouts and transport failures cool the endpoint down and move on to the
// next pick. An application-level error response comes back as *RpcError
// immediately: the endpoint did its job, retrying would not change the
// answer.
func (p *Provider) Call(ctx context.Context, method string, params, result interface{}, opts ...CallOption) error {
	_, err := p.call(ctx, method, params, result, opts...)
	return err
}

// call is Call plus the name of the endpoint that served the request, which
// Subscribe needs for its endpoint bookkeeping.
func (p *Provider) call(ctx context.Context, method string, params, result interface{}, opts ...CallOption) (string, error) {
	o := callOpts{timeout: p.callTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	payload, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return "", fmt.Errorf("eth: encode %s: %w", method, err)
	}

	var lastErr error
	affinity := o.affinity
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		ep, err := p.pool.Pick(affinity)
		if err != nil {
			p.metrics.call(method, "exhausted")
			if lastErr != nil {
				return "", fmt.Errorf("%w (last failure: %v)", ErrAllEndpointsExhausted, lastErr)
			}
			return "", err
		}
		// Affinity only steers the first attempt; a failed endpoint is
		// exactly what failover must route around.
		affinity = ""

		body, err := json.Marshal(gatewayRequest{Endpoint: ep.Name, ChainID: p.chainID, Payload: payload})
		if err != nil {
			return "", err
		}

		resp, err := p.engine.Request(ctx, message.NewRequest().
			Target(p.gateway).
			Body(body).
			ExpectsResponse(true).
			Timeout(o.timeout))
		if err != nil {
			if ctx.Err() != nil {
				p.metrics.call(method, "cancelled")
				return "", ctx.Err()
			}
			p.pool.MarkFailure(ep.Name)
			p.metrics.endpointFailure(ep.Name)
			lastErr = err
			continue
		}

		if err := json2.DecodeClientResponse(bytes.NewReader(resp.Body), result); err != nil {
			var jerr *json2.Error
			if errors.As(err, &jerr) {
				p.pool.MarkSuccess(ep.Name)
				p.metrics.call(method, "rpc_error")
				return ep.Name, &RpcError{Code: int(jerr.Code), Message: jerr.Message, Data: jerr.Data}
			}
			// Garbled body reads like a broken endpoint, not a broken call.
			p.pool.MarkFailure(ep.Name)
			p.metrics.endpointFailure(ep.Name)
			lastErr = fmt.Errorf("eth: decode %s response from %s: %w", method, ep.Name, err)
			continue
		}

		p.pool.MarkSuccess(ep.Name)
		p.metrics.call(method, "ok")
		return ep.Name, nil
	}

	p.metrics.call(method, "exhausted")
	return "", fmt.Errorf("%w after %d attempts (last failure: %v)", ErrAllEndpointsExhausted, p.maxAttempts, lastErr)
}
