package slider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightslider/internal/config"
	"github.com/dokzlo13/lightslider/internal/eventbus"
	"github.com/dokzlo13/lightslider/internal/light"
)

// ErrUnknownSlider is returned for a slider name that is not configured.
var ErrUnknownSlider = errors.New("unknown slider")

// StoreKind is the saved_state kind holding last known aggregates.
const StoreKind = "slider"

// Store persists the last known aggregate per slider.
// *storage.TypedStore[light.AggregateResult] satisfies it.
type Store interface {
	GetAll() (map[string]light.AggregateResult, error)
	Set(id string, value light.AggregateResult) error
}

// Publisher receives slider view changes. *eventbus.Bus satisfies it.
type Publisher interface {
	Publish(event eventbus.Event)
}

// Manager owns every configured slider and feeds them snapshots in order.
type Manager struct {
	cards     map[string]*Card
	order     []string
	store     Store
	publisher Publisher

	mu      sync.Mutex
	latest  *light.Snapshot
	trigger chan struct{}
	ready   atomic.Bool
}

// NewManager creates a card per slider configuration. store and publisher
// may be nil.
func NewManager(sliders []config.SliderConfig, d Dispatcher, store Store, publisher Publisher) (*Manager, error) {
	m := &Manager{
		cards:     make(map[string]*Card, len(sliders)),
		store:     store,
		publisher: publisher,
		trigger:   make(chan struct{}, 1),
	}

	for _, cfg := range sliders {
		card := NewCard(d)
		if err := card.SetConfiguration(cfg); err != nil {
			return nil, err
		}
		if _, exists := m.cards[cfg.Name]; exists {
			return nil, &config.ValidationError{Field: "sliders[" + cfg.Name + "]", Err: config.ErrDuplicateSlider}
		}
		m.cards[cfg.Name] = card
		m.order = append(m.order, cfg.Name)
	}

	return m, nil
}

// Restore seeds cards with persisted aggregates so surfaces show the last
// known value until live state arrives.
func (m *Manager) Restore() error {
	if m.store == nil {
		return nil
	}

	saved, err := m.store.GetAll()
	if err != nil {
		return err
	}
	for name, result := range saved {
		if card, ok := m.cards[name]; ok {
			card.restore(result)
		}
	}

	log.Debug().Int("restored", len(saved)).Msg("Restored slider values")
	return nil
}

// Offer hands over a new snapshot. Never blocks: only the newest pending
// snapshot is kept.
func (m *Manager) Offer(snap light.Snapshot) {
	m.mu.Lock()
	m.latest = &snap
	m.mu.Unlock()

	select {
	case m.trigger <- struct{}{}:
	default:
		// Already triggered
	}
}

// Run applies offered snapshots until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	log.Info().Int("sliders", len(m.order)).Msg("Slider manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Slider manager stopping")
			return nil
		case <-m.trigger:
			m.mu.Lock()
			snap := m.latest
			m.latest = nil
			m.mu.Unlock()

			if snap != nil {
				m.HandleSnapshot(*snap)
			}
		}
	}
}

// HandleSnapshot updates every card, then persists and publishes the ones
// whose value changed.
func (m *Manager) HandleSnapshot(snap light.Snapshot) {
	for _, name := range m.order {
		card := m.cards[name]
		if !card.update(snap) {
			continue
		}

		view := card.Render()
		log.Debug().
			Str("slider", name).
			Int("brightness", view.Brightness).
			Str("color", view.Color).
			Int("targets", len(view.Targets)).
			Msg("Slider updated")

		if m.store != nil {
			result, _ := card.aggregate()
			if err := m.store.Set(name, result); err != nil {
				log.Warn().Err(err).Str("slider", name).Msg("Failed to persist slider value")
			}
		}
		if m.publisher != nil {
			m.publisher.Publish(eventbus.Event{Type: eventbus.EventTypeSliderUpdated, Payload: view})
		}
	}

	if !m.ready.Swap(true) {
		log.Info().Msg("First light snapshot applied, sliders ready")
	}
}

// Ready reports whether at least one snapshot has been applied.
func (m *Manager) Ready() bool {
	return m.ready.Load()
}

// Names returns slider names in configuration order.
func (m *Manager) Names() []string {
	return append([]string(nil), m.order...)
}

// Card returns the named slider.
func (m *Manager) Card(name string) (*Card, bool) {
	card, ok := m.cards[name]
	return card, ok
}

// Views renders every slider in configuration order.
func (m *Manager) Views() []View {
	views := make([]View, 0, len(m.order))
	for _, name := range m.order {
		views = append(views, m.cards[name].Render())
	}
	return views
}

// View renders the named slider.
func (m *Manager) View(name string) (View, error) {
	card, ok := m.cards[name]
	if !ok {
		return View{}, ErrUnknownSlider
	}
	return card.Render(), nil
}

// Apply sends input to the named slider.
func (m *Manager) Apply(ctx context.Context, name string, input int) (ApplyResult, error) {
	card, ok := m.cards[name]
	if !ok {
		return ApplyResult{}, ErrUnknownSlider
	}

	res, err := card.Apply(ctx, input)
	if err != nil {
		return res, err
	}

	log.Info().
		Str("slider", name).
		Int("input", res.Input).
		Int("commands", len(res.Commands)).
		Int("skipped", res.Skipped).
		Str("batch_id", res.BatchID).
		Msg("Slider input applied")

	// Relative sliders snap back to 0 after every gesture.
	if card.Config().Mode == light.ModeRelative && m.publisher != nil {
		m.publisher.Publish(eventbus.Event{Type: eventbus.EventTypeSliderUpdated, Payload: card.Render()})
	}
	return res, nil
}
