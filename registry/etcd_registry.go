// etcd-backed implementation of the Registry interface.
//
// etcd acts as a "distributed phonebook" for upstream RPC endpoints:
//
//	Key:   /proclink/eth/{chain}/{name}
//	Value: JSON-encoded Endpoint
//
// Registration uses TTL-based leases: if the registering networking node
// crashes, the lease expires and the entry disappears on its own, preventing
// ghost endpoints from lingering in the pool.
package registry

import (
	"context"
	"encoding/json"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/proclink/eth/"

// EtcdRegistry implements Registry using etcd v3.
type EtcdRegistry struct {
	client *clientv3.Client // thread-safe, shared across goroutines
}

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdRegistry{client: c}, nil
}

// Close releases the etcd connection.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}

// Register adds an endpoint under a TTL lease and keeps the lease alive in
// the background. The leaseID stays a local variable so concurrent Register
// calls on a shared EtcdRegistry don't race.
func (r *EtcdRegistry) Register(chain string, ep Endpoint, ttl int64) error {
	ctx := context.TODO()

	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(ep)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, keyPrefix+chain+"/"+ep.Name, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return err
	}

	// Consume KeepAlive responses to prevent the channel from filling up
	go func() {
		for range ch {
		}
	}()
	return nil
}

// Deregister removes an endpoint, typically during graceful shutdown of the
// networking node that registered it.
func (r *EtcdRegistry) Deregister(chain string, name string) error {
	_, err := r.client.Delete(context.TODO(), keyPrefix+chain+"/"+name)
	return err
}

// Watch monitors a chain prefix and emits the updated endpoint list whenever
// anything changes. Uses etcd's server-push Watch API rather than polling.
func (r *EtcdRegistry) Watch(chain string) <-chan []Endpoint {
	ctx := context.TODO()
	ch := make(chan []Endpoint, 1)
	prefix := keyPrefix + chain + "/"

	go func() {
		watchChan := r.client.Watch(ctx, prefix, clientv3.WithPrefix())
		for range watchChan {
			// On any change, re-fetch the full list — simpler than
			// folding individual watch events into local state.
			eps, err := r.Discover(chain)
			if err != nil {
				continue
			}
			ch <- eps
		}
	}()

	return ch
}

// Discover returns all endpoints currently registered for a chain.
func (r *EtcdRegistry) Discover(chain string) ([]Endpoint, error) {
	resp, err := r.client.Get(context.TODO(), keyPrefix+chain+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	eps := make([]Endpoint, 0)
	for _, kv := range resp.Kvs {
		var ep Endpoint
		if err := json.Unmarshal(kv.Value, &ep); err != nil {
			continue // skip malformed entries
		}
		eps = append(eps, ep)
	}
	return eps, nil
}
