package homeassistant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dokzlo13/lightslider/internal/light"
)

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
		wantErr  bool
	}{
		{name: "http", in: "http://ha.local:8123", expected: "ws://ha.local:8123/api/websocket"},
		{name: "https", in: "https://ha.example.com", expected: "wss://ha.example.com/api/websocket"},
		{name: "trailing_slash", in: "http://ha.local:8123/", expected: "ws://ha.local:8123/api/websocket"},
		{name: "path_prefix", in: "https://example.com/ha", expected: "wss://example.com/ha/api/websocket"},
		{name: "already_websocket", in: "ws://ha.local/api/websocket", expected: "ws://ha.local/api/websocket"},
		{name: "bad_scheme", in: "ftp://ha.local", wantErr: true},
		{name: "missing_host", in: "http://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := websocketURL(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("websocketURL(%q) expected error, got %q", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("websocketURL(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.expected {
				t.Errorf("websocketURL(%q) = %q, want %q", tt.in, got, tt.expected)
			}
		})
	}
}

// fakeHA speaks enough of the Home Assistant websocket protocol for the client.
type fakeHA struct {
	token  string
	states []State

	mu    sync.Mutex
	calls []map[string]interface{}
}

func (f *fakeHA) recorded() []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]map[string]interface{}(nil), f.calls...)
}

func (f *fakeHA) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.WriteJSON(map[string]interface{}{"type": "auth_required", "ha_version": "2024.6.0"})

	var auth map[string]interface{}
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if auth["access_token"] != f.token {
		conn.WriteJSON(map[string]interface{}{"type": "auth_invalid", "message": "Invalid access token"})
		return
	}
	conn.WriteJSON(map[string]interface{}{"type": "auth_ok", "ha_version": "2024.6.0"})

	reply := func(id interface{}, payload interface{}) {
		conn.WriteJSON(map[string]interface{}{"id": id, "type": "result", "success": true, "result": payload})
	}

	var stateSub interface{}
	for {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		id := msg["id"]

		switch msg["type"] {
		case "ping":
			conn.WriteJSON(map[string]interface{}{"id": id, "type": "pong"})
		case "get_states":
			reply(id, f.states)
		case "config/area_registry/list":
			reply(id, []Area{{AreaID: "kitchen", Name: "Kitchen"}})
		case "config/entity_registry/list":
			reply(id, []EntityEntry{{EntityID: "light.a", AreaID: "kitchen"}})
		case "config/device_registry/list":
			reply(id, []DeviceEntry{})
		case "subscribe_events":
			if msg["event_type"] == "state_changed" {
				stateSub = id
			}
			reply(id, nil)
		case "call_service":
			f.mu.Lock()
			f.calls = append(f.calls, msg)
			f.mu.Unlock()

			if msg["domain"] == "broken" {
				conn.WriteJSON(map[string]interface{}{
					"id": id, "type": "result", "success": false,
					"error": map[string]interface{}{"code": "not_found", "message": "Service not found."},
				})
				continue
			}
			reply(id, map[string]interface{}{"context": map[string]interface{}{}})

			data, _ := msg["service_data"].(map[string]interface{})
			if stateSub != nil && data != nil {
				conn.WriteJSON(map[string]interface{}{
					"id":   stateSub,
					"type": "event",
					"event": map[string]interface{}{
						"event_type": "state_changed",
						"data": map[string]interface{}{
							"entity_id": data["entity_id"],
							"new_state": map[string]interface{}{
								"entity_id":  data["entity_id"],
								"state":      "on",
								"attributes": map[string]interface{}{"brightness": data["brightness"]},
							},
						},
					},
				})
			}
		}
	}
}

func waitSnapshot(t *testing.T, ch <-chan light.Snapshot, cond func(light.Snapshot) bool) light.Snapshot {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-ch:
			if cond(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("timed out waiting for snapshot")
			return light.Snapshot{}
		}
	}
}

func TestEventStream_SyncAndCallService(t *testing.T) {
	ha := &fakeHA{
		token: "secret",
		states: []State{
			{EntityID: "light.a", State: "off", Attributes: map[string]interface{}{}},
			{EntityID: "sensor.temp", State: "21"},
		},
	}
	srv := httptest.NewServer(ha)
	defer srv.Close()

	client, err := NewClient(srv.URL, "secret", time.Second)
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	if err := client.CallService(context.Background(), "light", "turn_on", nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("CallService() before connect = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshots := make(chan light.Snapshot, 16)
	stream := NewEventStream(client, NewRegistry(), EventStreamConfig{MinBackoff: 10 * time.Millisecond})
	done := make(chan error, 1)
	go func() {
		done <- stream.Run(ctx, func(s light.Snapshot) {
			select {
			case snapshots <- s:
			default:
			}
		})
	}()

	snap := waitSnapshot(t, snapshots, func(s light.Snapshot) bool { return len(s.States) > 0 })
	if _, ok := snap.States["sensor.temp"]; ok {
		t.Error("sensor should be filtered out")
	}
	if got := snap.States["light.a"].AreaID; got != "kitchen" {
		t.Errorf("light.a area = %q, want kitchen", got)
	}
	if snap.Areas["kitchen"] != "Kitchen" {
		t.Errorf("Areas = %v", snap.Areas)
	}
	if !client.Connected() {
		t.Fatal("client should be connected after first snapshot")
	}

	err = client.CallService(ctx, "light", "turn_on", map[string]interface{}{
		"entity_id":  "light.a",
		"brightness": 77,
	})
	if err != nil {
		t.Fatalf("CallService() error: %v", err)
	}

	snap = waitSnapshot(t, snapshots, func(s light.Snapshot) bool { return s.States["light.a"].On })
	if got := snap.States["light.a"].Brightness; got != 77 {
		t.Errorf("light.a brightness = %d, want 77", got)
	}

	err = client.CallService(ctx, "broken", "nothing", map[string]interface{}{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("CallService() error = %v, want *APIError", err)
	}
	if apiErr.Code != "not_found" {
		t.Errorf("APIError.Code = %q, want not_found", apiErr.Code)
	}

	calls := ha.recorded()
	if len(calls) != 2 {
		t.Fatalf("recorded %d calls, want 2", len(calls))
	}
	if calls[0]["domain"] != "light" || calls[0]["service"] != "turn_on" {
		t.Errorf("first call = %v", calls[0])
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() after cancel = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestEventStream_AuthInvalid(t *testing.T) {
	srv := httptest.NewServer(&fakeHA{token: "secret"})
	defer srv.Close()

	client, err := NewClient(srv.URL, "wrong", time.Second)
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}

	stream := NewEventStream(client, NewRegistry(), EventStreamConfig{MinBackoff: time.Millisecond})
	err = stream.Run(context.Background(), func(light.Snapshot) {})
	if !errors.Is(err, ErrAuthInvalid) {
		t.Errorf("Run() = %v, want ErrAuthInvalid", err)
	}
}

func TestEventStream_MaxReconnects(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	client, err := NewClient(url, "secret", 100*time.Millisecond)
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}

	stream := NewEventStream(client, NewRegistry(), EventStreamConfig{
		MinBackoff:    time.Millisecond,
		MaxBackoff:    2 * time.Millisecond,
		MaxReconnects: 2,
	})
	err = stream.Run(context.Background(), func(light.Snapshot) {})
	if !errors.Is(err, ErrMaxReconnectsExceeded) {
		t.Errorf("Run() = %v, want ErrMaxReconnectsExceeded", err)
	}
}
