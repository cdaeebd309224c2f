package eth

import (
	"errors"
	"fmt"
)

var (
	// ErrAllEndpointsExhausted means every endpoint in the pool is cooling
	// down or dead, so there is nowhere left to route the call.
	ErrAllEndpointsExhausted = errors.New("eth: all endpoints exhausted")

	// ErrSubscriptionClosed is returned when operating on a handle after
	// Unsubscribe.
	ErrSubscriptionClosed = errors.New("eth: subscription closed")
)

// RpcError is a well-formed error response from an RPC endpoint: the method
// executed and the endpoint is healthy, so the call is never retried.
type RpcError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("eth: rpc error %d: %s", e.Code, e.Message)
}
