package test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"proclink/address"
	"proclink/codec"
	"proclink/correlation"
	"proclink/host"
	"proclink/message"
	"proclink/process"
	"proclink/protocol"
)

func setupBench(b *testing.B) (*process.Process, address.Address) {
	k := newKernel()
	clientAddr := address.MustParse("node-a@app:demo:dev.os")
	serviceAddr := address.MustParse("node-a@math:demo:dev.os")

	router := process.NewRouter(codec.CodecTypeJSON)
	if err := router.Register(&Arith{}); err != nil {
		b.Fatal(err)
	}
	svc := process.New(k.attach(serviceAddr), serviceAddr, process.WithHandler(router.Handle))
	go svc.Run(context.Background())
	client := process.New(k.attach(clientAddr), clientAddr)
	go client.Run(context.Background())

	b.Cleanup(func() {
		svc.Shutdown()
		client.Shutdown()
	})
	return client, serviceAddr
}

// BenchmarkRequestResponse measures one full correlated round trip through
// the kernel and the reflection router.
func BenchmarkRequestResponse(b *testing.B) {
	client, serviceAddr := setupBench(b)

	params, _ := json.Marshal(Args{A: 3, B: 5})
	body, _ := json.Marshal(map[string]interface{}{"method": "Arith.Add", "params": json.RawMessage(params)})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := client.Engine().Request(context.Background(), message.NewRequest().
			Target(serviceAddr).
			Body(body).
			ExpectsResponse(true).
			Timeout(5*time.Second))
		if err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkConcurrentRequests measures throughput with many calls in flight.
func BenchmarkConcurrentRequests(b *testing.B) {
	client, serviceAddr := setupBench(b)

	params, _ := json.Marshal(Args{A: 3, B: 5})
	body, _ := json.Marshal(map[string]interface{}{"method": "Arith.Add", "params": json.RawMessage(params)})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, err := client.Engine().Request(context.Background(), message.NewRequest().
				Target(serviceAddr).
				Body(body).
				ExpectsResponse(true).
				Timeout(5*time.Second))
			if err != nil {
				b.Fatal(err)
			}
		}
	})
}

// BenchmarkProtocolRoundTrip measures frame encode plus decode for a typical
// envelope.
func BenchmarkProtocolRoundTrip(b *testing.B) {
	env := &message.Envelope{
		Kind:            message.KindRequest,
		Source:          address.MustParse("node-a@app:demo:dev.os"),
		Target:          address.MustParse("node-a@math:demo:dev.os"),
		Body:            []byte(`{"method":"Arith.Add","params":{"A":3,"B":5}}`),
		ExpectsResponse: true,
		Timeout:         5 * time.Second,
		Correlation:     message.ID{Epoch: 7, Seq: 42},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		frame, err := protocol.Marshal(env)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := protocol.Unmarshal(frame); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkCorrelationResolve measures the pending-call table under a tight
// send/deliver loop, without the kernel in the way.
func BenchmarkCorrelationResolve(b *testing.B) {
	near, far := host.NewPipe()
	self := address.MustParse("node-a@app:demo:dev.os")
	target := address.MustParse("node-a@echo:demo:dev.os")
	engine := correlation.New(near, self)

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
			resp, err := message.NewResponse().Body(env.Body).Envelope(env)
			if err != nil {
				continue
			}
			resp.Source = target
			engine.Deliver(resp)
		}
	}()
	b.Cleanup(func() {
		near.Close()
		engine.Shutdown()
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		call, err := engine.Send(context.Background(), message.NewRequest().
			Target(target).
			Body([]byte("ping")).
			ExpectsResponse(true).
			Timeout(5*time.Second))
		if err != nil {
			b.Fatal(err)
		}
		if _, err := call.Wait(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}
