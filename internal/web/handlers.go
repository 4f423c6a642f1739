package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lightslider/internal/slider"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// ValueRequest sets a slider position
type ValueRequest struct {
	Value *int `json:"value"`
}

// ValueResponse reports what an input did and the slider afterwards
type ValueResponse struct {
	Result slider.ApplyResult `json:"result"`
	Slider slider.View        `json:"slider"`
}

// HealthResponse reports liveness
type HealthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"websocket_clients"`
}

// ReadyResponse explains readiness
type ReadyResponse struct {
	Status    string `json:"status"`
	Connected bool   `json:"connected"`
	Synced    bool   `json:"synced"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Clients: s.hub.ClientCount()})
}

// handleReady succeeds once Home Assistant is connected and the sliders have
// seen their first snapshot.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := ReadyResponse{
		Connected: s.upstream == nil || s.upstream.Connected(),
		Synced:    s.sliders.Ready(),
	}
	if resp.Connected && resp.Synced {
		resp.Status = "ready"
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Status = "not_ready"
	writeJSON(w, http.StatusServiceUnavailable, resp)
}

func (s *Server) handleListSliders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sliders.Views())
}

func (s *Server) handleGetSlider(w http.ResponseWriter, r *http.Request) {
	view, err := s.sliders.View(mux.Vars(r)["name"])
	if err != nil {
		writeSliderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSetValue(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var req ValueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Value == nil {
		writeError(w, http.StatusBadRequest, "Missing value")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.applyTimeout)
	defer cancel()

	result, err := s.sliders.Apply(ctx, name, *req.Value)
	if err != nil {
		writeSliderError(w, err)
		return
	}

	view, _ := s.sliders.View(name)
	writeJSON(w, http.StatusOK, ValueResponse{Result: result, Slider: view})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if _, err := s.sliders.View(name); err != nil {
		writeSliderError(w, err)
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotFound, "History is disabled")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	entries, err := s.history.GetBySlider(name, limit)
	if err != nil {
		log.Error().Err(err).Str("slider", name).Msg("Failed to read slider history")
		writeError(w, http.StatusInternalServerError, "Failed to read history")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleBatch returns every ledger entry of one applied input, oldest first.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "History is disabled")
		return
	}

	id := mux.Vars(r)["id"]
	entries, err := s.history.GetByBatch(id)
	if err != nil {
		log.Error().Err(err).Str("batch_id", id).Msg("Failed to read batch")
		writeError(w, http.StatusInternalServerError, "Failed to read batch")
		return
	}
	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, "Unknown batch")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// writeSliderError maps slider errors to HTTP statuses
func writeSliderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, slider.ErrUnknownSlider):
		writeError(w, http.StatusNotFound, "Unknown slider")
	case errors.Is(err, slider.ErrNotReady):
		writeError(w, http.StatusServiceUnavailable, "Light state not loaded yet")
	default:
		log.Error().Err(err).Msg("Slider request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
