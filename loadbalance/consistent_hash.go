package loadbalance

import (
	"fmt"
	"hash/crc32"
	"sort"
	"sync"

	"proclink/registry"
)

// ConsistentHashBalancer maps an affinity key (typically a subscription id)
// to a stable endpoint via a hash ring, so a long-lived subscription keeps
// hitting the gateway that holds its server-side state.
//
// Each endpoint is placed on the ring as 100 virtual nodes hashed from
// "{url}#{i}"; without replication a handful of endpoints cluster and the
// load skews badly.
type ConsistentHashBalancer struct {
	mu       sync.RWMutex
	replicas int
	ring     []uint32
	nodes    map[uint32]*registry.Endpoint
}

func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{
		replicas: 100,
		nodes:    make(map[uint32]*registry.Endpoint),
	}
}

// Add places an endpoint onto the ring. Adding an endpoint twice doubles
// its virtual nodes; callers should Rebuild instead of re-adding.
func (b *ConsistentHashBalancer) Add(ep *registry.Endpoint) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := 0; i < b.replicas; i++ {
		hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", ep.URL, i)))
		b.ring = append(b.ring, hash)
		b.nodes[hash] = ep
	}
	sort.Slice(b.ring, func(i, j int) bool { return b.ring[i] < b.ring[j] })
}

// Rebuild replaces the whole ring with a fresh endpoint set. Used when a
// registry watch delivers an updated list.
func (b *ConsistentHashBalancer) Rebuild(endpoints []registry.Endpoint) {
	b.mu.Lock()
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]*registry.Endpoint)
	b.mu.Unlock()
	for i := range endpoints {
		b.Add(&endpoints[i])
	}
}

// PickKey hashes the key and binary-searches for the first node at or past
// it on the ring, wrapping to the start when the key hashes beyond the last
// node. Keys are strings, not endpoint lists, so this sits beside the
// Balancer interface rather than implementing it.
func (b *ConsistentHashBalancer) PickKey(key string) (*registry.Endpoint, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.ring) == 0 {
		return nil, fmt.Errorf("no endpoints available")
	}

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
