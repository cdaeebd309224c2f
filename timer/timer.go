// Package timer schedules one-shot wake-ups by asking the timer-owning
// process to answer after a delay; the response is the fire event. Repeating
// timers are the caller re-arming on each fire, so the facility carries no
// state beyond the pending calls themselves.
package timer

import (
	"context"
	"encoding/json"
	"time"

	"proclink/address"
	"proclink/correlation"
	"proclink/message"
)

// fireGrace pads the correlation deadline past the requested delay, so a
// timer only times out when the timer service itself is unresponsive.
const fireGrace = time.Second

type timerRequest struct {
	DurationMs int64  `json:"duration_ms"`
	Tag        string `json:"tag"`
}

type timerResponse struct {
	Tag       string `json:"tag"`
	FiredAtMs int64  `json:"fired_at_ms"`
}

// Fire is a timer going off.
type Fire struct {
	Tag string
	At  time.Time
}

// Handle identifies one armed timer.
type Handle struct {
	call *correlation.PendingCall
	tag  string
}

// Tag returns the tag the timer was armed with.
func (h *Handle) Tag() string { return h.tag }

// Cancel disarms the timer. Idempotent: cancelling twice, or after the timer
// fired, is a no-op.
func (h *Handle) Cancel() { h.call.Cancel() }

// Facility arms timers against one timer service address.
type Facility struct {
	engine  *correlation.Engine
	service address.Address
}

func New(engine *correlation.Engine, service address.Address) *Facility {
	return &Facility{engine: engine, service: service}
}

// SetTimer arms a one-shot timer and invokes fn when it fires, is cancelled,
// or deadlines out. fn runs at most once.
func (f *Facility) SetTimer(ctx context.Context, d time.Duration, tag string, fn func(Fire, error)) (*Handle, error) {
	body, err := json.Marshal(timerRequest{DurationMs: d.Milliseconds(), Tag: tag})
	if err != nil {
		return nil, err
	}

	call, err := f.engine.Send(ctx, message.NewRequest().
		Target(f.service).
		Body(body).
		ExpectsResponse(true).
		Timeout(d+fireGrace))
	if err != nil {
		return nil, err
	}

	call.OnResolve(func(res correlation.Result) {
		if res.Err != nil {
			fn(Fire{}, res.Err)
			return
		}
		fn(decodeFire(res.Response, tag))
	})
	return &Handle{call: call, tag: tag}, nil
}

// Sleep blocks until the timer service says d has passed. The usual deadline
// rules apply: ctx cancellation or an unresponsive service unblocks with an
// error, never a hang.
func (f *Facility) Sleep(ctx context.Context, d time.Duration) error {
	body, err := json.Marshal(timerRequest{DurationMs: d.Milliseconds()})
	if err != nil {
		return err
	}
	call, err := f.engine.Send(ctx, message.NewRequest().
		Target(f.service).
		Body(body).
		ExpectsResponse(true).
		Timeout(d+fireGrace))
	if err != nil {
		return err
	}
	_, err = call.Wait(ctx)
	return err
}

func decodeFire(env *message.Envelope, tag string) (Fire, error) {
	var resp timerResponse
	if err := json.Unmarshal(env.Body, &resp); err != nil {
		return Fire{}, err
	}
	if resp.Tag == "" {
		resp.Tag = tag
	}
	return Fire{Tag: resp.Tag, At: time.UnixMilli(resp.FiredAtMs)}, nil
}
