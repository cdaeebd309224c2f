package loadbalance

import (
	"fmt"
	"math/rand"

	"proclink/registry"
)

// WeightedRandomBalancer picks endpoints with probability proportional to
// their Weight. A paid gateway with a high rate limit gets a large weight,
// a free fallback a small one.
type WeightedRandomBalancer struct{}

func (b *WeightedRandomBalancer) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints available")
	}

	total := 0
	for _, ep := range endpoints {
		total += ep.Weight
	}
	if total <= 0 {
		// All weights zero: degrade to uniform.
		return &endpoints[rand.Intn(len(endpoints))], nil
	}

	r := rand.Intn(total)
	for i := range endpoints {
		r -= endpoints[i].Weight
		if r < 0 {
			return &endpoints[i], nil
		}
	}

	return nil, fmt.Errorf("unexpected fallthrough in weighted selection")
}

func (b *WeightedRandomBalancer) Name() string {
	return "WeightedRandom"
}
