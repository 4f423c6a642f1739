package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightslider/internal/light"
)

// ErrMaxReconnectsExceeded is returned when the maximum number of reconnect attempts is exceeded.
var ErrMaxReconnectsExceeded = errors.New("max reconnects exceeded")

// Registry change events that require reloading area assignments.
var registryEvents = []string{
	"area_registry_updated",
	"entity_registry_updated",
	"device_registry_updated",
}

// EventStreamConfig contains configuration for event stream reconnection.
type EventStreamConfig struct {
	MinBackoff    time.Duration // Minimum backoff between reconnects
	MaxBackoff    time.Duration // Maximum backoff between reconnects
	Multiplier    float64       // Backoff multiplier
	MaxReconnects int           // Max reconnect attempts, 0 = infinite
	PingInterval  time.Duration // Keepalive interval, 0 = 30s
}

// SnapshotFunc receives every new snapshot. Called from the stream's goroutines;
// must not block.
type SnapshotFunc func(light.Snapshot)

// EventStream keeps the registry in sync with Home Assistant and reports a
// full snapshot after every relevant change.
type EventStream struct {
	client   *Client
	registry *Registry
	config   EventStreamConfig
}

// NewEventStream creates a new event stream listener
func NewEventStream(client *Client, registry *Registry, config EventStreamConfig) *EventStream {
	if config.MinBackoff == 0 {
		config.MinBackoff = time.Second
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = 2 * time.Minute
	}
	if config.Multiplier < 1 {
		config.Multiplier = 2.0
	}
	if config.PingInterval == 0 {
		config.PingInterval = 30 * time.Second
	}

	return &EventStream{
		client:   client,
		registry: registry,
		config:   config,
	}
}

// Run connects and stays connected with automatic reconnection.
// Returns ErrMaxReconnectsExceeded if max reconnects is exceeded, nil on
// context cancellation, and ErrAuthInvalid immediately on a rejected token.
func (e *EventStream) Run(ctx context.Context, onSnapshot SnapshotFunc) error {
	retryCount := 0
	currentBackoff := e.config.MinBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		established, err := e.runSession(ctx, onSnapshot)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrAuthInvalid) {
			return err
		}

		if established {
			// Reset retry count and backoff after a working session
			retryCount = 0
			currentBackoff = e.config.MinBackoff
		}

		retryCount++
		if e.config.MaxReconnects > 0 && retryCount > e.config.MaxReconnects {
			log.Error().
				Int("max_reconnects", e.config.MaxReconnects).
				Msg("Home Assistant: max reconnects exceeded, terminating")
			return ErrMaxReconnectsExceeded
		}

		log.Warn().
			Err(err).
			Dur("backoff", currentBackoff).
			Int("retry", retryCount).
			Int("max_reconnects", e.config.MaxReconnects).
			Msg("Home Assistant disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(currentBackoff):
		}

		// Calculate next backoff with multiplier, capped at max
		nextBackoff := time.Duration(float64(currentBackoff) * e.config.Multiplier)
		if nextBackoff > e.config.MaxBackoff {
			nextBackoff = e.config.MaxBackoff
		}
		currentBackoff = nextBackoff
	}
}

// runSession drives one connection until it fails. established reports
// whether the initial sync completed.
func (e *EventStream) runSession(ctx context.Context, onSnapshot SnapshotFunc) (established bool, err error) {
	sess, err := e.client.connect(ctx)
	if err != nil {
		return false, err
	}
	go sess.readLoop()
	defer func() {
		e.client.setSession(nil)
		sess.Close()
	}()

	callCtx := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(ctx, e.client.timeout)
	}

	// Subscribe before the initial load so no change falls between the two.
	// Changes seen during the load are buffered and replayed on top of it.
	gate := &changeGate{}
	reload := make(chan struct{}, 1)
	subCtx, cancel := callCtx()
	err = sess.Subscribe(subCtx, "state_changed", func(ev Event) {
		var data StateChangedData
		if err := json.Unmarshal(ev.Data, &data); err != nil {
			log.Warn().Err(err).Msg("Failed to decode state_changed event")
			return
		}
		if !gate.hold(data) && e.registry.SetState(data.EntityID, data.NewState) {
			onSnapshot(e.registry.Snapshot())
		}
	})
	for _, evType := range registryEvents {
		if err != nil {
			break
		}
		err = sess.Subscribe(subCtx, evType, func(Event) {
			select {
			case reload <- struct{}{}:
			default:
			}
		})
	}
	cancel()
	if err != nil {
		return false, err
	}

	if err := e.loadAll(ctx, sess); err != nil {
		return false, err
	}
	gate.open(func(data StateChangedData) {
		e.registry.SetState(data.EntityID, data.NewState)
	})
	e.client.setSession(sess)
	onSnapshot(e.registry.Snapshot())

	ticker := time.NewTicker(e.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, nil

		case <-sess.Done():
			return true, sess.Err()

		case <-reload:
			if err := e.loadRegistries(ctx, sess); err != nil {
				log.Warn().Err(err).Msg("Failed to reload registries")
				continue
			}
			log.Debug().Msg("Registries reloaded")
			onSnapshot(e.registry.Snapshot())

		case <-ticker.C:
			pingCtx, cancel := callCtx()
			err := sess.Ping(pingCtx)
			cancel()
			if err != nil {
				return true, err
			}
		}
	}
}

// loadAll fetches registries and states for a fresh session.
func (e *EventStream) loadAll(ctx context.Context, sess *session) error {
	if err := e.loadRegistries(ctx, sess); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.client.timeout)
	defer cancel()

	states, err := sess.GetStates(callCtx)
	if err != nil {
		return err
	}
	e.registry.ReplaceStates(states)

	log.Info().Int("states", len(states)).Msg("Loaded Home Assistant states")
	return nil
}

func (e *EventStream) loadRegistries(ctx context.Context, sess *session) error {
	callCtx, cancel := context.WithTimeout(ctx, e.client.timeout)
	defer cancel()

	areas, err := sess.ListAreas(callCtx)
	if err != nil {
		return err
	}
	entities, err := sess.ListEntities(callCtx)
	if err != nil {
		return err
	}
	devices, err := sess.ListDevices(callCtx)
	if err != nil {
		return err
	}

	e.registry.ReplaceAreas(areas, entities, devices)
	log.Debug().
		Int("areas", len(areas)).
		Int("entities", len(entities)).
		Int("devices", len(devices)).
		Msg("Loaded Home Assistant registries")
	return nil
}

// changeGate buffers state changes until the initial load is applied.
type changeGate struct {
	mu      sync.Mutex
	opened  bool
	pending []StateChangedData
}

// hold buffers data and returns true while the gate is closed.
func (g *changeGate) hold(data StateChangedData) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.opened {
		return false
	}
	g.pending = append(g.pending, data)
	return true
}

// open replays buffered changes in arrival order and lets later ones through.
func (g *changeGate) open(apply func(StateChangedData)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, data := range g.pending {
		apply(data)
	}
	g.pending = nil
	g.opened = true
}
