// Package app wires the slider daemon together and owns its shutdown order.
package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightslider/internal/config"
)

// App runs lightslider until its context ends or Home Assistant is lost for good.
type App struct {
	cfg      *config.Config
	services *Services

	mu    sync.Mutex
	fatal error
}

// New builds every service. Nothing connects until Run.
func New(cfg *config.Config) (*App, error) {
	services, err := NewServices(cfg)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, services: services}, nil
}

// ResetSliders forgets every persisted slider value (--reset-state).
func (a *App) ResetSliders() error {
	return a.services.ClearState()
}

// Run starts the daemon and blocks until ctx is cancelled or a fatal
// upstream error occurs, then shuts everything down in order. It returns the
// fatal error, or nil on a requested stop.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	onFatal := func(err error) {
		a.mu.Lock()
		if a.fatal == nil {
			a.fatal = err
		}
		a.mu.Unlock()
		cancel()
	}

	if err := a.services.Start(ctx, onFatal); err != nil {
		cancel()
		a.services.Shutdown(a.cfg.ShutdownTimeout.Duration())
		return err
	}
	log.Info().Int("sliders", len(a.cfg.Sliders)).Msg("lightslider started")

	<-ctx.Done()
	log.Info().Msg("Shutting down...")
	a.services.Shutdown(a.cfg.ShutdownTimeout.Duration())

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fatal
}

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
