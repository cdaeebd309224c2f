// Package loadbalance selects which RPC endpoint serves the next request
// when several gateways expose the same chain.
//
//   - RoundRobin:      equal-capacity endpoints
//   - WeightedRandom:  endpoints with different rate limits or tiers
//   - ConsistentHash:  subscription affinity (same sub stays on one endpoint)
package loadbalance

import "proclink/registry"

// Balancer picks one endpoint from the candidates for a chain.
// Pick is called on every request and must be goroutine-safe.
type Balancer interface {
	Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error)

	// Name returns the strategy name for logging.
	Name() string
}
