// Package dispatch sends translated light commands to Home Assistant.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/lightslider/internal/eventbus"
	"github.com/dokzlo13/lightslider/internal/ledger"
	"github.com/dokzlo13/lightslider/internal/light"
)

// ErrClosed fails commands submitted after Close.
var ErrClosed = errors.New("dispatcher closed")

// ServiceCaller invokes a Home Assistant service.
type ServiceCaller interface {
	CallService(ctx context.Context, domain, service string, data map[string]interface{}) error
}

// Recorder appends dispatch history. *ledger.Ledger satisfies it.
type Recorder interface {
	Append(eventType ledger.EventType, slider, batchID, entityID string, payload map[string]any) error
}

// Publisher receives per-command results. *eventbus.Bus satisfies it.
type Publisher interface {
	Publish(event eventbus.Event)
}

// Config controls call pacing.
type Config struct {
	RateLimitRPS float64       // service calls per second, 0 = unlimited
	CallTimeout  time.Duration // per call, 0 = 5s
}

// Result is the outcome of one light command.
type Result struct {
	BatchID    string `json:"batch_id"`
	Slider     string `json:"slider"`
	LightID    string `json:"light_id"`
	Action     string `json:"action"`
	Brightness int    `json:"brightness,omitempty"`
	Error      string `json:"error,omitempty"`
}

// OK reports whether the command was accepted.
func (r Result) OK() bool {
	return r.Error == ""
}

// Dispatcher fans a command batch out to Home Assistant, one call per light.
// Calls are independent: a failing light never blocks the others and is
// not retried.
type Dispatcher struct {
	caller      ServiceCaller
	recorder    Recorder
	publisher   Publisher
	limiter     *rate.Limiter
	callTimeout time.Duration

	// Commands run on base rather than the caller's context so a departing
	// caller never drops lights from a batch. Close cancels it.
	base   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// New creates a dispatcher. recorder and publisher may be nil.
func New(caller ServiceCaller, recorder Recorder, publisher Publisher, cfg Config) *Dispatcher {
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 5 * time.Second
	}

	limit := rate.Inf
	burst := 1
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
		burst = int(cfg.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
	}

	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		caller:      caller,
		recorder:    recorder,
		publisher:   publisher,
		limiter:     rate.NewLimiter(limit, burst),
		callTimeout: cfg.CallTimeout,
		base:        base,
		cancel:      cancel,
	}
}

// Dispatch sends every non-skip command and waits for all of them.
// Results follow command order; skipped commands produce no result.
// Cancelling ctx does not stop the batch: every light is still tried, each
// bounded only by the per-call timeout.
func (d *Dispatcher) Dispatch(ctx context.Context, slider string, input int, commands []light.Command) (string, []Result) {
	batchID := uuid.New().String()

	active := make([]light.Command, 0, len(commands))
	for _, cmd := range commands {
		if cmd.Action != light.ActionSkip {
			active = append(active, cmd)
		}
	}

	if !d.acquire() {
		results := make([]Result, len(active))
		for i, cmd := range active {
			results[i] = newResult(slider, batchID, cmd)
			results[i].Error = ErrClosed.Error()
		}
		return batchID, results
	}
	defer d.inflight.Done()

	// Keep request-scoped values, drop the caller's deadline, follow shutdown.
	ctx, stop := context.WithCancel(context.WithoutCancel(ctx))
	defer stop()
	unlink := context.AfterFunc(d.base, stop)
	defer unlink()

	d.record(ledger.EventSliderInput, slider, batchID, "", map[string]any{
		"input":    input,
		"commands": len(active),
		"skipped":  len(commands) - len(active),
	})

	log.Debug().
		Str("slider", slider).
		Str("batch_id", batchID).
		Int("input", input).
		Int("commands", len(active)).
		Msg("Dispatching command batch")

	results := make([]Result, len(active))
	var wg sync.WaitGroup
	for i, cmd := range active {
		wg.Add(1)
		go func(i int, cmd light.Command) {
			defer wg.Done()
			results[i] = d.send(ctx, slider, batchID, cmd)
		}(i, cmd)
	}
	wg.Wait()

	return batchID, results
}

// Close stops accepting batches and waits for running ones. When ctx ends
// first, pending calls are cancelled and recorded as failed before Close
// returns.
func (d *Dispatcher) Close(ctx context.Context) {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(drained)
	}()

	select {
	case <-drained:
	case <-ctx.Done():
		log.Warn().Msg("Dispatch drain timed out, cancelling pending light commands")
		d.cancel()
		<-drained
	}
	d.cancel()
}

func (d *Dispatcher) acquire() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return false
	}
	d.inflight.Add(1)
	return true
}

func newResult(slider, batchID string, cmd light.Command) Result {
	res := Result{
		BatchID: batchID,
		Slider:  slider,
		LightID: cmd.LightID,
		Action:  cmd.Action.String(),
	}
	if cmd.Action == light.ActionTurnOn {
		res.Brightness = cmd.Brightness
	}
	return res
}

func (d *Dispatcher) send(ctx context.Context, slider, batchID string, cmd light.Command) Result {
	res := newResult(slider, batchID, cmd)
	service, data := serviceCall(cmd)

	err := d.limiter.Wait(ctx)
	if err == nil {
		callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
		err = d.caller.CallService(callCtx, light.Domain, service, data)
		cancel()
	}

	payload := map[string]any{"action": res.Action}
	if cmd.Action == light.ActionTurnOn {
		payload["brightness"] = cmd.Brightness
	}

	if err != nil {
		res.Error = err.Error()
		payload["error"] = res.Error
		log.Error().
			Err(err).
			Str("slider", slider).
			Str("light", cmd.LightID).
			Str("action", res.Action).
			Msg("Light command failed")
		d.record(ledger.EventCommandFailed, slider, batchID, cmd.LightID, payload)
	} else {
		d.record(ledger.EventCommandDispatched, slider, batchID, cmd.LightID, payload)
	}

	if d.publisher != nil {
		d.publisher.Publish(eventbus.Event{Type: eventbus.EventTypeCommandResult, Payload: res})
	}
	return res
}

func (d *Dispatcher) record(eventType ledger.EventType, slider, batchID, entityID string, payload map[string]any) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.Append(eventType, slider, batchID, entityID, payload); err != nil {
		log.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to write ledger entry")
	}
}

// serviceCall maps a command to its light service and service data.
func serviceCall(cmd light.Command) (string, map[string]interface{}) {
	data := map[string]interface{}{"entity_id": cmd.LightID}
	if cmd.Action == light.ActionTurnOff {
		return "turn_off", data
	}
	data["brightness"] = cmd.Brightness
	return "turn_on", data
}
