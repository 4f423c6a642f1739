package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightslider/internal/config"
	"github.com/dokzlo13/lightslider/internal/eventbus"
	"github.com/dokzlo13/lightslider/internal/web"
)

// WebService runs the HTTP API with health and websocket endpoints.
type WebService struct {
	cfg    *config.Config
	Server *web.Server
}

// NewWebService creates a new WebService.
func NewWebService(cfg *config.Config, sliders web.SliderService, history web.History, upstream web.Upstream) *WebService {
	return &WebService{
		cfg:    cfg,
		Server: web.NewServer(cfg.HTTP.Addr(), sliders, history, upstream),
	}
}

// Enabled reports whether the HTTP API is configured on.
func (s *WebService) Enabled() bool {
	return s.cfg.HTTP.Enabled
}

// Subscribe forwards bus events to websocket clients.
func (s *WebService) Subscribe(bus *eventbus.Bus) {
	s.Server.Subscribe(bus)
}

// Run serves until ctx ends and in-flight requests have drained.
func (s *WebService) Run(ctx context.Context) {
	if err := s.Server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
		log.Error().Err(err).Msg("HTTP server error")
	}
}
