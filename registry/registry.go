// Package registry tracks the upstream RPC endpoints available to the
// provider. Endpoints come either from static configuration or from etcd,
// where the networking layer registers them with TTL leases.
package registry

import "sync"

// Endpoint describes one upstream RPC endpoint.
type Endpoint struct {
	Name    string // stable identity within a chain, used for affinity
	URL     string // upstream transport location, opaque to this library
	Weight  int    // weight for load balancing
	ChainID uint64
}

// Registry is the discovery surface. Chains are keyed by their decimal
// chain-id string.
type Registry interface {
	Register(chain string, ep Endpoint, ttl int64) error
	Deregister(chain string, name string) error
	Discover(chain string) ([]Endpoint, error)
	Watch(chain string) <-chan []Endpoint
}

// StaticRegistry serves a fixed endpoint set from memory, for configurations
// that list their upstreams directly. Register/Deregister still work, so
// tests can mutate the set; watchers are notified on every change.
type StaticRegistry struct {
	mu       sync.Mutex
	chains   map[string][]Endpoint
	watchers map[string][]chan []Endpoint
}

// NewStaticRegistry creates a registry pre-loaded per chain.
func NewStaticRegistry(chains map[string][]Endpoint) *StaticRegistry {
	r := &StaticRegistry{
		chains:   make(map[string][]Endpoint),
		watchers: make(map[string][]chan []Endpoint),
	}
	for chain, eps := range chains {
		r.chains[chain] = append([]Endpoint(nil), eps...)
	}
	return r
}

func (r *StaticRegistry) Register(chain string, ep Endpoint, ttl int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.chains[chain] {
		if existing.Name == ep.Name {
			r.chains[chain][i] = ep
			r.notifyLocked(chain)
			return nil
		}
	}
	r.chains[chain] = append(r.chains[chain], ep)
	r.notifyLocked(chain)
	return nil
}

func (r *StaticRegistry) Deregister(chain string, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	eps := r.chains[chain]
	for i, ep := range eps {
		if ep.Name == name {
			r.chains[chain] = append(eps[:i:i], eps[i+1:]...)
			r.notifyLocked(chain)
			return nil
		}
	}
	return nil
}

func (r *StaticRegistry) Discover(chain string) ([]Endpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Endpoint(nil), r.chains[chain]...), nil
}

func (r *StaticRegistry) Watch(chain string) <-chan []Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan []Endpoint, 1)
	r.watchers[chain] = append(r.watchers[chain], ch)
	return ch
}

func (r *StaticRegistry) notifyLocked(chain string) {
	snapshot := append([]Endpoint(nil), r.chains[chain]...)
	for _, ch := range r.watchers[chain] {
		select {
		case ch <- snapshot:
		default: // watcher lagging, it will catch the next update
		}
	}
}
