package eth

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"proclink/address"
	"proclink/correlation"
	"proclink/host"
	"proclink/message"
	"proclink/protocol"
)

var (
	testSelf    = address.MustParse("node-a@app:demo:dev.os")
	testGateway = address.MustParse("node-a@net:distro:sys.os")
)

// gatewayBehavior decides the raw JSON-RPC response for a forwarded request,
// or drops it entirely (drop=true) to simulate a hung endpoint.
type gatewayBehavior func(req gatewayRequest) (body []byte, drop bool)

type testRig struct {
	provider *Provider
	pool     *Pool
	far      *host.Pipe

	mu     sync.Mutex
	served []string
}

func (r *testRig) servedEndpoints() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.served...)
}

// newTestRig wires a provider to a fake gateway over an in-memory pipe and
// runs the dispatch loop a real process would run.
func newTestRig(t *testing.T, behave gatewayBehavior, cfg PoolConfig, opts ...ProviderOption) *testRig {
	t.Helper()
	near, far := host.NewPipe()
	engine := correlation.New(near, testSelf)
	pool := NewPool(twoEndpoints(), cfg)

	opts = append([]ProviderOption{WithCallTimeout(60 * time.Millisecond)}, opts...)
	provider := NewProvider(engine, pool, testGateway, 10, opts...)
	rig := &testRig{provider: provider, pool: pool, far: far}

	go func() {
		for {
			frame, err := near.Receive()
			if err != nil {
				return
			}
			env, err := protocol.Unmarshal(frame)
			if err != nil {
				continue
			}
			if env.Kind == message.KindResponse {
				engine.Deliver(env)
				continue
			}
			provider.HandleNotification(env)
		}
	}()

	go func() {
		for {
			frame, err := far.Receive()
			if err != nil {
				return
			}
			env, err := protocol.Unmarshal(frame)
			if err != nil {
				continue
			}
			var req gatewayRequest
			if err := json.Unmarshal(env.Body, &req); err != nil {
				continue
			}
			rig.mu.Lock()
			rig.served = append(rig.served, req.Endpoint)
			rig.mu.Unlock()

			body, drop := behave(req)
			if drop {
				continue
			}
			resp, err := message.NewResponse().Body(body).Envelope(env)
			if err != nil {
				continue
			}
			resp.Source = testGateway
			out, err := protocol.Marshal(resp)
			if err != nil {
				continue
			}
			far.Send(out)
		}
	}()

	t.Cleanup(func() {
		near.Close()
		engine.Shutdown()
	})
	return rig
}

func rpcResult(raw string) []byte {
	return []byte(`{"jsonrpc":"2.0","id":1,"result":` + raw + `}`)
}

func rpcErrorBody(code int, msg string) []byte {
	b, _ := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"error":   map[string]interface{}{"code": code, "message": msg},
	})
	return b
}

func TestCallFailoverToHealthyEndpoint(t *testing.T) {
	// alpha hangs, beta answers.
	rig := newTestRig(t, func(req gatewayRequest) ([]byte, bool) {
		if req.Endpoint == "alpha" {
			return nil, true
		}
		return rpcResult(`"0x10"`), false
	}, testPoolConfig())

	var result string
	err := rig.provider.Call(context.Background(), "eth_blockNumber", []interface{}{}, &result)
	require.NoError(t, err)
	require.Equal(t, "0x10", result)
	require.Equal(t, Cooling, rig.pool.StateOf("alpha"))
	require.Equal(t, Healthy, rig.pool.StateOf("beta"))

	// Within the cooldown window the next call never touches alpha.
	before := len(rig.servedEndpoints())
	err = rig.provider.Call(context.Background(), "eth_blockNumber", []interface{}{}, &result)
	require.NoError(t, err)
	for _, ep := range rig.servedEndpoints()[before:] {
		require.Equal(t, "beta", ep)
	}
}

func TestCallPayloadCarriesMethod(t *testing.T) {
	var gotMethod string
	var mu sync.Mutex
	rig := newTestRig(t, func(req gatewayRequest) ([]byte, bool) {
		mu.Lock()
		gotMethod = gjson.GetBytes(req.Payload, "method").String()
		mu.Unlock()
		return rpcResult(`"0x1"`), false
	}, testPoolConfig())

	var result string
	require.NoError(t, rig.provider.Call(context.Background(), "eth_chainId", []interface{}{}, &result))
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "eth_chainId", gotMethod)
}

func TestCallApplicationErrorNotRetried(t *testing.T) {
	rig := newTestRig(t, func(req gatewayRequest) ([]byte, bool) {
		return rpcErrorBody(-32000, "execution reverted"), false
	}, testPoolConfig())

	var result json.RawMessage
	err := rig.provider.Call(context.Background(), "eth_call", []interface{}{}, &result)

	var rpcErr *RpcError
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, -32000, rpcErr.Code)
	require.Equal(t, "execution reverted", rpcErr.Message)

	// One attempt, and the endpoint that answered stays healthy.
	require.Len(t, rig.servedEndpoints(), 1)
	require.Equal(t, Healthy, rig.pool.StateOf("alpha"))
}

func TestCallAllEndpointsExhausted(t *testing.T) {
	rig := newTestRig(t, func(req gatewayRequest) ([]byte, bool) {
		return nil, true
	}, testPoolConfig(), WithMaxAttempts(2))

	var result string
	err := rig.provider.Call(context.Background(), "eth_blockNumber", []interface{}{}, &result)
	require.True(t, errors.Is(err, ErrAllEndpointsExhausted))
}

func TestCallGarbledResponseCoolsEndpoint(t *testing.T) {
	rig := newTestRig(t, func(req gatewayRequest) ([]byte, bool) {
		if req.Endpoint == "alpha" {
			return []byte("not json at all"), false
		}
		return rpcResult(`"0x2"`), false
	}, testPoolConfig())

	var result string
	err := rig.provider.Call(context.Background(), "eth_blockNumber", []interface{}{}, &result)
	require.NoError(t, err)
	require.Equal(t, "0x2", result)
	require.Equal(t, Cooling, rig.pool.StateOf("alpha"))
}

func TestCallHonorsContextCancellation(t *testing.T) {
	rig := newTestRig(t, func(req gatewayRequest) ([]byte, bool) {
		return nil, true
	}, testPoolConfig(), WithCallTimeout(5*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		var result string
		done <- rig.provider.Call(ctx, "eth_blockNumber", []interface{}{}, &result)
	}()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled call did not return")
	}
}
