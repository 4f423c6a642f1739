// Package web serves the slider HTTP API, health endpoints and the live
// websocket feed.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightslider/internal/eventbus"
	"github.com/dokzlo13/lightslider/internal/ledger"
	"github.com/dokzlo13/lightslider/internal/slider"
)

// SliderService is the slider surface the server exposes.
// *slider.Manager satisfies it.
type SliderService interface {
	Views() []slider.View
	View(name string) (slider.View, error)
	Apply(ctx context.Context, name string, input int) (slider.ApplyResult, error)
	Ready() bool
}

// History reads past slider activity. *ledger.Ledger satisfies it.
type History interface {
	GetBySlider(slider string, limit int) ([]*ledger.Entry, error)
	GetByBatch(batchID string) ([]*ledger.Entry, error)
}

// Upstream reports the Home Assistant connection state.
type Upstream interface {
	Connected() bool
}

// Server is the HTTP server
type Server struct {
	addr     string
	sliders  SliderService
	history  History
	upstream Upstream
	router   *mux.Router
	hub      *Hub

	applyTimeout time.Duration
}

// NewServer creates a new HTTP server. history may be nil.
func NewServer(addr string, sliders SliderService, history History, upstream Upstream) *Server {
	s := &Server{
		addr:         addr,
		sliders:      sliders,
		history:      history,
		upstream:     upstream,
		router:       mux.NewRouter(),
		hub:          NewHub(),
		applyTimeout: 10 * time.Second,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/ready", s.handleReady).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sliders", s.handleListSliders).Methods("GET")
	api.HandleFunc("/sliders/{name}", s.handleGetSlider).Methods("GET")
	api.HandleFunc("/sliders/{name}/value", s.handleSetValue).Methods("POST")
	api.HandleFunc("/sliders/{name}/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/batches/{id}", s.handleBatch).Methods("GET")
	api.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Subscribe forwards slider and command events from the bus to websocket clients.
func (s *Server) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventTypeSliderUpdated, func(e eventbus.Event) {
		s.hub.Broadcast(Message{Type: MessageSliderUpdated, Data: e.Payload})
	})
	bus.Subscribe(eventbus.EventTypeCommandResult, func(e eventbus.Event) {
		s.hub.Broadcast(Message{Type: MessageCommandResult, Data: e.Payload})
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully. It returns
// only after in-flight requests have finished or shutdownTimeout passed.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	go s.hub.Run(ctx)

	server := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("Starting HTTP server")
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
		return err
	}
	log.Info().Msg("HTTP server stopped")
	return nil
}
