package app

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightslider/internal/config"
	"github.com/dokzlo13/lightslider/internal/homeassistant"
)

// HomeAssistantService wraps the Home Assistant client, state registry and event stream.
type HomeAssistantService struct {
	Client      *homeassistant.Client
	Registry    *homeassistant.Registry
	EventStream *homeassistant.EventStream
}

// NewHomeAssistantService creates the components without connecting.
func NewHomeAssistantService(cfg *config.Config) (*HomeAssistantService, error) {
	haCfg := cfg.HomeAssistant

	client, err := homeassistant.NewClient(haCfg.URL, haCfg.Token, haCfg.Timeout.Duration())
	if err != nil {
		return nil, err
	}

	registry := homeassistant.NewRegistry()

	eventStreamConfig := homeassistant.EventStreamConfig{
		MinBackoff:    haCfg.MinRetryBackoff.Duration(),
		MaxBackoff:    haCfg.MaxRetryBackoff.Duration(),
		Multiplier:    haCfg.RetryMultiplier,
		MaxReconnects: haCfg.MaxReconnects,
	}

	return &HomeAssistantService{
		Client:      client,
		Registry:    registry,
		EventStream: homeassistant.NewEventStream(client, registry, eventStreamConfig),
	}, nil
}

// Run keeps the connection alive and reports snapshots until ctx ends.
// onFatalError is called when reconnecting is hopeless (rejected token or
// max reconnects exceeded).
func (s *HomeAssistantService) Run(ctx context.Context, onSnapshot homeassistant.SnapshotFunc, onFatalError func(error)) {
	log.Info().Str("endpoint", s.Client.Endpoint()).Msg("Connecting to Home Assistant")

	err := s.EventStream.Run(ctx, onSnapshot)
	switch {
	case err == nil:
	case errors.Is(err, homeassistant.ErrMaxReconnectsExceeded), errors.Is(err, homeassistant.ErrAuthInvalid):
		log.Error().Err(err).Msg("Home Assistant event stream stopped, triggering shutdown")
		if onFatalError != nil {
			onFatalError(err)
		}
	default:
		log.Error().Err(err).Msg("Home Assistant event stream error")
	}
}
