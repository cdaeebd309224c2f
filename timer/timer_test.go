package timer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"proclink/address"
	"proclink/correlation"
	"proclink/host"
	"proclink/message"
	"proclink/protocol"
)

var (
	timerSelf    = address.MustParse("node-a@app:demo:dev.os")
	timerService = address.MustParse("node-a@timer:distro:sys.os")
)

// fakeTimerService answers each timer request after the requested delay,
// scaled to zero when immediate is set.
func startTimerService(t *testing.T, immediate bool) *Facility {
	t.Helper()
	near, far := host.NewPipe()
	engine := correlation.New(near, timerSelf)

	go func() {
		for {
			frame, err := near.Receive()
			if err != nil {
				return
			}
			if env, err := protocol.Unmarshal(frame); err == nil {
				engine.Deliver(env)
			}
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
			go func(env *message.Envelope) {
				var req timerRequest
				if err := json.Unmarshal(env.Body, &req); err != nil {
					return
				}
				if !immediate {
					time.Sleep(time.Duration(req.DurationMs) * time.Millisecond)
				}
				body, _ := json.Marshal(timerResponse{Tag: req.Tag, FiredAtMs: time.Now().UnixMilli()})
				resp, err := message.NewResponse().Body(body).Envelope(env)
				if err != nil {
					return
				}
				resp.Source = timerService
				if frame, err := protocol.Marshal(resp); err == nil {
					far.Send(frame)
				}
			}(env)
		}
	}()

	t.Cleanup(func() {
		near.Close()
		engine.Shutdown()
	})
	return New(engine, timerService)
}

func TestSetTimerFires(t *testing.T) {
	f := startTimerService(t, false)

	fired := make(chan Fire, 1)
	_, err := f.SetTimer(context.Background(), 20*time.Millisecond, "heartbeat", func(fire Fire, err error) {
		require.NoError(t, err)
		fired <- fire
	})
	require.NoError(t, err)

	select {
	case fire := <-fired:
		require.Equal(t, "heartbeat", fire.Tag)
		require.WithinDuration(t, time.Now(), fire.At, time.Second)
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}
}

func TestCancelBeforeFire(t *testing.T) {
	f := startTimerService(t, false)

	resolved := make(chan error, 1)
	h, err := f.SetTimer(context.Background(), 10*time.Second, "never", func(fire Fire, err error) {
		resolved <- err
	})
	require.NoError(t, err)

	h.Cancel()
	h.Cancel() // idempotent

	select {
	case err := <-resolved:
		require.ErrorIs(t, err, correlation.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("cancel did not resolve the timer")
	}
}

func TestSleep(t *testing.T) {
	f := startTimerService(t, true)
	require.NoError(t, f.Sleep(context.Background(), 50*time.Millisecond))
}

func TestSleepUnblocksOnContextCancel(t *testing.T) {
	f := startTimerService(t, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Sleep(ctx, 10*time.Second) }()
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("sleep did not unblock on cancel")
	}
}
