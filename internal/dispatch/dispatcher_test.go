package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/lightslider/internal/eventbus"
	"github.com/dokzlo13/lightslider/internal/ledger"
	"github.com/dokzlo13/lightslider/internal/light"
)

type call struct {
	service string
	data    map[string]interface{}
}

type fakeCaller struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error
	block map[string]bool
}

func (f *fakeCaller) CallService(ctx context.Context, domain, service string, data map[string]interface{}) error {
	id, _ := data["entity_id"].(string)

	f.mu.Lock()
	f.calls = append(f.calls, call{service: service, data: data})
	err := f.fail[id]
	blocked := f.block[id]
	f.mu.Unlock()

	if blocked {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []ledger.EventType
	lights  []string
}

func (f *fakeRecorder) Append(eventType ledger.EventType, slider, batchID, entityID string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, eventType)
	if entityID != "" {
		f.lights = append(f.lights, string(eventType)+":"+entityID)
	}
	return nil
}

func (f *fakeRecorder) count(eventType ledger.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.entries {
		if e == eventType {
			n++
		}
	}
	return n
}

type fakePublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (f *fakePublisher) Publish(event eventbus.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func TestDispatch_ServiceCalls(t *testing.T) {
	caller := &fakeCaller{}
	d := New(caller, nil, nil, Config{})

	_, results := d.Dispatch(context.Background(), "kitchen", 40, []light.Command{
		{LightID: "light.a", Action: light.ActionTurnOn, Brightness: 102},
		{LightID: "light.b", Action: light.ActionSkip},
		{LightID: "light.c", Action: light.ActionTurnOff},
	})

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (skip produces none)", len(results))
	}
	if results[0].LightID != "light.a" || results[1].LightID != "light.c" {
		t.Errorf("results out of command order: %+v", results)
	}
	if results[0].Brightness != 102 || results[1].Brightness != 0 {
		t.Errorf("brightness = %d/%d, want 102/0", results[0].Brightness, results[1].Brightness)
	}

	byLight := make(map[string]call)
	for _, c := range caller.calls {
		byLight[c.data["entity_id"].(string)] = c
	}
	if len(byLight) != 2 {
		t.Fatalf("made %d calls, want 2", len(caller.calls))
	}

	on := byLight["light.a"]
	if on.service != "turn_on" || on.data["brightness"] != 102 {
		t.Errorf("light.a call = %+v", on)
	}
	off := byLight["light.c"]
	if off.service != "turn_off" {
		t.Errorf("light.c service = %s, want turn_off", off.service)
	}
	if _, ok := off.data["brightness"]; ok {
		t.Error("turn_off must not carry brightness")
	}
}

func TestDispatch_FailureDoesNotBlockOthers(t *testing.T) {
	caller := &fakeCaller{
		fail:  map[string]error{"light.a": errors.New("unavailable")},
		block: map[string]bool{"light.slow": true},
	}
	rec := &fakeRecorder{}
	pub := &fakePublisher{}
	d := New(caller, rec, pub, Config{CallTimeout: 50 * time.Millisecond})

	batchID, results := d.Dispatch(context.Background(), "kitchen", 60, []light.Command{
		{LightID: "light.a", Action: light.ActionTurnOn, Brightness: 153},
		{LightID: "light.slow", Action: light.ActionTurnOn, Brightness: 153},
		{LightID: "light.b", Action: light.ActionTurnOn, Brightness: 153},
	})

	if batchID == "" {
		t.Error("batch id should be set")
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].OK() || results[1].OK() {
		t.Errorf("light.a and light.slow should fail: %+v", results)
	}
	if !results[2].OK() {
		t.Errorf("light.b should succeed: %+v", results[2])
	}
	for _, r := range results {
		if r.BatchID != batchID {
			t.Errorf("result batch id = %s, want %s", r.BatchID, batchID)
		}
	}

	if got := rec.count(ledger.EventSliderInput); got != 1 {
		t.Errorf("slider_input entries = %d, want 1", got)
	}
	if got := rec.count(ledger.EventCommandFailed); got != 2 {
		t.Errorf("command_failed entries = %d, want 2", got)
	}
	if got := rec.count(ledger.EventCommandDispatched); got != 1 {
		t.Errorf("command_dispatched entries = %d, want 1", got)
	}

	if len(pub.events) != 3 {
		t.Errorf("published %d results, want 3", len(pub.events))
	}
	for _, ev := range pub.events {
		if ev.Type != eventbus.EventTypeCommandResult {
			t.Errorf("event type = %s, want %s", ev.Type, eventbus.EventTypeCommandResult)
		}
	}
}

func TestDispatch_AllSkipped(t *testing.T) {
	caller := &fakeCaller{}
	rec := &fakeRecorder{}
	d := New(caller, rec, nil, Config{RateLimitRPS: 5})

	_, results := d.Dispatch(context.Background(), "kitchen", 0, []light.Command{
		{LightID: "light.a", Action: light.ActionSkip},
	})
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
	if len(caller.calls) != 0 {
		t.Errorf("made %d calls, want 0", len(caller.calls))
	}
	if got := rec.count(ledger.EventSliderInput); got != 1 {
		t.Errorf("slider_input entries = %d, want 1", got)
	}
}

func TestDispatch_OutlivesCallerDeadline(t *testing.T) {
	tests := []struct {
		name string
		ctx  func() (context.Context, context.CancelFunc)
	}{
		{
			name: "deadline shorter than the paced batch",
			ctx: func() (context.Context, context.CancelFunc) {
				return context.WithTimeout(context.Background(), 50*time.Millisecond)
			},
		},
		{
			name: "caller already gone",
			ctx: func() (context.Context, context.CancelFunc) {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx, cancel
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := &fakeCaller{}
			// burst 5, then one call every 50ms: the last light goes out ~250ms in
			d := New(caller, nil, nil, Config{RateLimitRPS: 20})
			d.limiter.SetBurst(5)

			commands := make([]light.Command, 10)
			for i := range commands {
				commands[i] = light.Command{
					LightID:    fmt.Sprintf("light.l%d", i),
					Action:     light.ActionTurnOn,
					Brightness: 128,
				}
			}

			ctx, cancel := tt.ctx()
			defer cancel()

			_, results := d.Dispatch(ctx, "kitchen", 50, commands)
			if len(results) != len(commands) {
				t.Fatalf("got %d results, want %d", len(results), len(commands))
			}
			for _, r := range results {
				if !r.OK() {
					t.Errorf("%s failed: %s", r.LightID, r.Error)
				}
			}
			if len(caller.calls) != len(commands) {
				t.Errorf("made %d calls, want %d", len(caller.calls), len(commands))
			}
		})
	}
}

func TestDispatcher_CloseDrainsRunningBatch(t *testing.T) {
	caller := &fakeCaller{block: map[string]bool{"light.slow": true}}
	rec := &fakeRecorder{}
	d := New(caller, rec, nil, Config{CallTimeout: time.Minute})

	done := make(chan []Result, 1)
	go func() {
		_, results := d.Dispatch(context.Background(), "kitchen", 50, []light.Command{
			{LightID: "light.slow", Action: light.ActionTurnOn, Brightness: 128},
		})
		done <- results
	}()

	// wait until the call is in flight
	deadline := time.Now().Add(time.Second)
	for {
		caller.mu.Lock()
		n := len(caller.calls)
		caller.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("call never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	d.Close(ctx)

	// Close returns only after the batch was recorded
	if got := rec.count(ledger.EventCommandFailed); got != 1 {
		t.Errorf("command_failed entries = %d, want 1", got)
	}
	select {
	case results := <-done:
		if len(results) != 1 || results[0].OK() {
			t.Errorf("cancelled call should fail: %+v", results)
		}
	case <-time.After(time.Second):
		t.Fatal("batch never returned")
	}

	_, results := d.Dispatch(context.Background(), "kitchen", 50, []light.Command{
		{LightID: "light.a", Action: light.ActionTurnOn, Brightness: 128},
	})
	if len(results) != 1 || results[0].Error != ErrClosed.Error() {
		t.Errorf("dispatch after Close = %+v, want %v", results, ErrClosed)
	}
	if got := rec.count(ledger.EventSliderInput); got != 1 {
		t.Errorf("slider_input entries = %d, want 1 (closed dispatcher records nothing)", got)
	}
}
