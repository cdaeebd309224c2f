package eth

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"

	"proclink/loadbalance"
	"proclink/registry"
)

// State is an endpoint's position in the health state machine. Transitions
// are driven only by MarkSuccess and MarkFailure:
//
//	Healthy ──failure──→ Cooling ──N consecutive failures──→ Dead
//	   ↑                    │
//	   └──────success───────┘   (cooldown elapsing makes Cooling pickable again)
type State int

const (
	Healthy State = iota
	Cooling
	Dead
)

func (s State) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Cooling:
		return "cooling"
	case Dead:
		return "dead"
	}
	return "unknown"
}

// PoolConfig sets the failover policy. Retry bound and backoff growth are
// deliberately configuration, not constants.
type PoolConfig struct {
	InitialCooldown time.Duration
	CooldownGrowth  float64
	MaxCooldown     time.Duration
	DeadThreshold   int
}

// DefaultPoolConfig returns the policy used when the caller passes a zero
// PoolConfig.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		InitialCooldown: 500 * time.Millisecond,
		CooldownGrowth:  2.0,
		MaxCooldown:     30 * time.Second,
		DeadThreshold:   8,
	}
}

type endpointState struct {
	ep        registry.Endpoint
	state     State
	coolUntil time.Time
	failures  int
	backoff   *backoff.ExponentialBackOff
}

// Pool tracks per-endpoint health for one chain. It is the only component
// that mutates the health table; Provider feeds it success/failure and asks
// it to pick.
type Pool struct {
	mu       sync.Mutex
	clk      clock.Clock
	cfg      PoolConfig
	balancer loadbalance.Balancer
	order    []string
	byName   map[string]*endpointState
	rrNext   int
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolClock injects the time source used for cooldown deadlines.
func WithPoolClock(c clock.Clock) PoolOption {
	return func(p *Pool) { p.clk = c }
}

// WithBalancer chooses among the currently pickable endpoints with the given
// strategy instead of the default round-robin over pool order. Weighted
// pools want loadbalance.WeightedRandomBalancer here.
func WithBalancer(b loadbalance.Balancer) PoolOption {
	return func(p *Pool) { p.balancer = b }
}

func NewPool(endpoints []registry.Endpoint, cfg PoolConfig, opts ...PoolOption) *Pool {
	if cfg == (PoolConfig{}) {
		cfg = DefaultPoolConfig()
	}
	p := &Pool{
		clk:    clock.New(),
		cfg:    cfg,
		byName: make(map[string]*endpointState),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.Update(endpoints)
	return p
}

func (p *Pool) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.InitialCooldown
	b.Multiplier = p.cfg.CooldownGrowth
	b.MaxInterval = p.cfg.MaxCooldown
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Update replaces the endpoint list, keeping health state for endpoints that
// survive. Registry watches feed this.
func (p *Pool) Update(endpoints []registry.Endpoint) {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := make(map[string]*endpointState, len(endpoints))
	order := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		if existing, ok := p.byName[ep.Name]; ok {
			existing.ep = ep
			next[ep.Name] = existing
		} else {
			next[ep.Name] = &endpointState{ep: ep, backoff: p.newBackoff()}
		}
		order = append(order, ep.Name)
	}
	p.byName = next
	p.order = order
	if len(order) > 0 {
		p.rrNext %= len(order)
	}
}

// Pick selects an endpoint. A healthy affinity endpoint wins; otherwise the
// scan round-robins over pool order, skipping endpoints still cooling and
// endpoints marked dead. A cooling endpoint whose cooldown has elapsed is
// pickable again (a trial request, not a full reset — only success resets).
func (p *Pool) Pick(affinity string) (registry.Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.clk.Now()
	if affinity != "" {
		if es, ok := p.byName[affinity]; ok && p.pickableLocked(es, now) {
			return es.ep, nil
		}
	}

	if p.balancer != nil {
		var candidates []registry.Endpoint
		for _, name := range p.order {
			if es := p.byName[name]; p.pickableLocked(es, now) {
				candidates = append(candidates, es.ep)
			}
		}
		if len(candidates) == 0 {
			return registry.Endpoint{}, ErrAllEndpointsExhausted
		}
		ep, err := p.balancer.Pick(candidates)
		if err != nil {
			return registry.Endpoint{}, err
		}
		return *ep, nil
	}

	n := len(p.order)
	for i := 0; i < n; i++ {
		es := p.byName[p.order[(p.rrNext+i)%n]]
		if p.pickableLocked(es, now) {
			p.rrNext = (p.rrNext + i + 1) % n
			return es.ep, nil
		}
	}
	return registry.Endpoint{}, ErrAllEndpointsExhausted
}

func (p *Pool) pickableLocked(es *endpointState, now time.Time) bool {
	switch es.state {
	case Healthy:
		return true
	case Cooling:
		return !now.Before(es.coolUntil)
	default:
		return false
	}
}

// MarkSuccess resets the endpoint to healthy and restarts its backoff.
func (p *Pool) MarkSuccess(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	es, ok := p.byName[name]
	if !ok {
		return
	}
	es.state = Healthy
	es.failures = 0
	es.coolUntil = time.Time{}
	es.backoff.Reset()
}

// MarkFailure puts the endpoint into cooldown for an exponentially growing
// interval, and declares it dead after DeadThreshold consecutive failures.
func (p *Pool) MarkFailure(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	es, ok := p.byName[name]
	if !ok {
		return
	}
	es.failures++
	if es.failures >= p.cfg.DeadThreshold {
		es.state = Dead
		return
	}
	es.state = Cooling
	es.coolUntil = p.clk.Now().Add(es.backoff.NextBackOff())
}

// StateOf reports an endpoint's current state.
func (p *Pool) StateOf(name string) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if es, ok := p.byName[name]; ok {
		return es.state
	}
	return Dead
}

// WatchRegistry feeds endpoint updates for one chain from a registry watch
// into the pool until ctx is done. Run it as a goroutine next to the
// provider.
func WatchRegistry(ctx context.Context, reg registry.Registry, chain string, pool *Pool) {
	updates := reg.Watch(chain)
	for {
		select {
		case <-ctx.Done():
			return
		case eps, ok := <-updates:
			if !ok {
				return
			}
			pool.Update(eps)
		}
	}
}

// States snapshots the whole health table.
func (p *Pool) States() map[string]State {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]State, len(p.byName))
	for name, es := range p.byName {
		out[name] = es.state
	}
	return out
}
