package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightslider/internal/config"
	"github.com/dokzlo13/lightslider/internal/db"
	"github.com/dokzlo13/lightslider/internal/dispatch"
	"github.com/dokzlo13/lightslider/internal/eventbus"
	"github.com/dokzlo13/lightslider/internal/ledger"
	"github.com/dokzlo13/lightslider/internal/light"
	"github.com/dokzlo13/lightslider/internal/slider"
	"github.com/dokzlo13/lightslider/internal/storage"
)

// Services holds every component of the daemon, built in dependency order.
type Services struct {
	cfg *config.Config

	DB          *db.DB
	Ledger      *ledger.Ledger
	Bus         *eventbus.Bus
	SliderStore *storage.TypedStore[light.AggregateResult]

	HomeAssistant *HomeAssistantService
	Dispatcher    *dispatch.Dispatcher
	Sliders       *slider.Manager

	Web  *WebService
	MQTT *MQTTService

	// background goroutines started by Start
	running sync.WaitGroup
}

// NewServices creates all services. Nothing connects or starts.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB)
	s.SliderStore = storage.NewTypedStore[light.AggregateResult](storage.NewStore(database.DB), slider.StoreKind)
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	s.HomeAssistant, err = NewHomeAssistantService(cfg)
	if err != nil {
		s.Shutdown(cfg.ShutdownTimeout.Duration())
		return nil, err
	}

	s.Dispatcher = dispatch.New(s.HomeAssistant.Client, s.Ledger, s.Bus, dispatch.Config{
		RateLimitRPS: cfg.Dispatch.RateLimitRPS,
		CallTimeout:  cfg.Dispatch.CallTimeout.Duration(),
	})

	s.Sliders, err = slider.NewManager(cfg.Sliders, s.Dispatcher, s.SliderStore, s.Bus)
	if err != nil {
		s.Shutdown(cfg.ShutdownTimeout.Duration())
		return nil, err
	}

	s.Web = NewWebService(cfg, s.Sliders, s.Ledger, s.HomeAssistant.Client)
	s.MQTT = NewMQTTService(cfg, s.Sliders)

	return s, nil
}

// Start launches every background service on ctx. onFatalError is called
// when Home Assistant cannot be reached anymore.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Show last known values until Home Assistant answers
	if err := s.Sliders.Restore(); err != nil {
		log.Warn().Err(err).Msg("Failed to restore slider values")
	}

	if err := s.MQTT.Start(s.Bus); err != nil {
		return err
	}

	s.spawn(func() {
		if err := s.Sliders.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Slider manager error")
		}
	})
	s.spawn(func() {
		s.Ledger.RunCleanup(ctx, s.cfg.Ledger.CleanupInterval.Duration(), s.cfg.Ledger.Retention())
	})
	if s.Web.Enabled() {
		s.Web.Subscribe(s.Bus)
		s.spawn(func() { s.Web.Run(ctx) })
	}
	s.spawn(func() {
		s.HomeAssistant.Run(ctx, s.Sliders.Offer, onFatalError)
	})

	return nil
}

func (s *Services) spawn(fn func()) {
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		fn()
	}()
}

// ClearState clears persisted slider values.
func (s *Services) ClearState() error {
	return s.SliderStore.Clear()
}

// Shutdown stops everything in order once the Start context is cancelled:
// input surfaces first, then background loops, then in-flight light commands,
// and only then the bus and the database they write to. timeout bounds the
// whole sequence.
func (s *Services) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.MQTT != nil {
		s.MQTT.Close()
	}

	stopped := make(chan struct{})
	go func() {
		s.running.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		log.Warn().Msg("Background services did not stop in time")
	}

	if s.Dispatcher != nil {
		s.Dispatcher.Close(ctx)
	}
	if s.Bus != nil {
		s.Bus.Close(ctx)
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
	}
}
