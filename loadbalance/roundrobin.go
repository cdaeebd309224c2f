package loadbalance

import (
	"fmt"
	"sync/atomic"

	"proclink/registry"
)

// RoundRobinBalancer walks the endpoint list in order using an atomic
// counter, so concurrent callers spread evenly without a lock.
type RoundRobinBalancer struct {
	counter int64
}

func (b *RoundRobinBalancer) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints available")
	}
	index := atomic.AddInt64(&b.counter, 1) % int64(len(endpoints))
	return &endpoints[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
