package eth

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"proclink/message"
)

// Notification is one item in a subscription's stream. A PossibleGap marker
// means notifications may have been missed while the stream moved endpoints;
// it is surfaced explicitly, never hidden.
type Notification struct {
	Params      json.RawMessage
	PossibleGap bool
}

// Subscription is a logical handle over an upstream subscription id. The
// handle survives endpoint failover: the provider resubscribes elsewhere and
// remaps, and the channel keeps delivering under the same identity.
type Subscription struct {
	provider *Provider
	params   []interface{}

	mu       sync.Mutex
	upstream string
	endpoint string
	closed   bool
	gapOwed  bool
	ch       chan Notification
}

// Notifications returns the stream. The channel closes on Unsubscribe, and
// on a failed resubscribe after the owning endpoint dropped.
func (s *Subscription) Notifications() <-chan Notification { return s.ch }

// Endpoint reports which endpoint currently owns the upstream subscription.
func (s *Subscription) Endpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpoint
}

// UpstreamID reports the endpoint-assigned subscription id.
func (s *Subscription) UpstreamID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstream
}

func (s *Subscription) deliver(n Notification, m *Metrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.gapOwed {
		n.PossibleGap = true
		s.gapOwed = false
	}
	select {
	case s.ch <- n:
	default:
		// A lagging consumer loses this item, which is itself a gap;
		// owe the marker to the next item that does fit.
		m.droppedNotif()
		s.gapOwed = true
	}
}

func (s *Subscription) closeLocked() {
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

type subscriptionTable struct {
	mu         sync.Mutex
	byUpstream map[string]*Subscription
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{byUpstream: make(map[string]*Subscription)}
}

func (t *subscriptionTable) add(upstream string, s *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byUpstream[upstream] = s
}

func (t *subscriptionTable) remove(upstream string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byUpstream, upstream)
}

func (t *subscriptionTable) get(upstream string) *Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byUpstream[upstream]
}

func (t *subscriptionTable) rekey(old, upstream string, s *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byUpstream, old)
	t.byUpstream[upstream] = s
}

func (t *subscriptionTable) ownedBy(endpoint string) []*Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Subscription
	for _, s := range t.byUpstream {
		if s.Endpoint() == endpoint {
			out = append(out, s)
		}
	}
	return out
}

// Subscribe issues eth_subscribe with the given params and returns a handle
// mapped to the upstream subscription id the endpoint assigned.
func (p *Provider) Subscribe(ctx context.Context, params ...interface{}) (*Subscription, error) {
	var upstream string
	epName, err := p.call(ctx, "eth_subscribe", params, &upstream)
	if err != nil {
		return nil, err
	}
	sub := &Subscription{
		provider: p,
		params:   params,
		upstream: upstream,
		endpoint: epName,
		ch:       make(chan Notification, 64),
	}
	p.subs.add(upstream, sub)
	return sub, nil
}

// Unsubscribe tears the handle down and tells the owning endpoint. The
// handle is closed even when the upstream call fails; the error is
// informational.
func (p *Provider) Unsubscribe(ctx context.Context, s *Subscription) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSubscriptionClosed
	}
	upstream, endpoint := s.upstream, s.endpoint
	s.closeLocked()
	s.mu.Unlock()

	p.subs.remove(upstream)

	var ok bool
	return p.Call(ctx, "eth_unsubscribe", []interface{}{upstream}, &ok, WithAffinity(endpoint))
}

// HandleNotification consumes a push envelope from the gateway. Wire it into
// the process handler; it returns false for bodies that are not gateway
// pushes so the handler can fall through to application dispatch.
//
// Gateway pushes come in two shapes:
//
//	{"kind":"notification","endpoint":NAME,"payload":{...jsonrpc push...}}
//	{"kind":"disconnect","endpoint":NAME}
func (p *Provider) HandleNotification(env *message.Envelope) bool {
	switch gjson.GetBytes(env.Body, "kind").String() {
	case "notification":
		upstream := gjson.GetBytes(env.Body, "payload.params.subscription").String()
		sub := p.subs.get(upstream)
		if sub == nil {
			log.Printf("eth: notification for unknown subscription %s", upstream)
			return true
		}
		result := gjson.GetBytes(env.Body, "payload.params.result")
		sub.deliver(Notification{Params: json.RawMessage(result.Raw)}, p.metrics)
		return true

	case "disconnect":
		endpoint := gjson.GetBytes(env.Body, "endpoint").String()
		p.pool.MarkFailure(endpoint)
		// Resubscribing sends correlated requests; doing that on the
		// process dispatch goroutine would deadlock the loop that has
		// to deliver their responses.
		go p.remapEndpoint(endpoint)
		return true
	}
	return false
}

// remapEndpoint moves every subscription owned by the lost endpoint to a
// healthy one, preserving handle identity and emitting exactly one gap
// marker per moved stream.
func (p *Provider) remapEndpoint(lost string) {
	for _, sub := range p.subs.ownedBy(lost) {
		p.resubscribe(sub)
	}
}

func (p *Provider) resubscribe(s *Subscription) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	old, params := s.upstream, s.params
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.callTimeout*time.Duration(p.maxAttempts))
	defer cancel()

	var upstream string
	epName, err := p.call(ctx, "eth_subscribe", params, &upstream)
	if err != nil {
		// No endpoint could take the stream over; close the handle so
		// the consumer observes termination instead of silence.
		log.Printf("eth: resubscribe failed, closing handle (was %s): %v", old, err)
		p.subs.remove(old)
		s.mu.Lock()
		s.closeLocked()
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	s.upstream, s.endpoint = upstream, epName
	s.mu.Unlock()
	p.subs.rekey(old, upstream, s)
	p.metrics.resubscribe()

	s.deliver(Notification{PossibleGap: true}, p.metrics)
	p.metrics.possibleGap()
}
