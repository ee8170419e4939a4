package main

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/connection"
	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/router"
	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/version"
)

type managerStatus interface {
	Stats() connection.ManagerStats
}

type routerStatus interface {
	Stats() router.RouterStats
}

type healthResponse struct {
	Status          string         `json:"status"`
	State           string         `json:"state"`
	Subscriptions   int            `json:"subscriptions"`
	Pending         int            `json:"pending_calls"`
	Reconnects      int            `json:"reconnects"`
	EventsDelivered int64          `json:"events_delivered"`
	EventsDropped   int64          `json:"events_dropped"`
	EventsQueued    int            `json:"events_queued"`
	Router          routerHealth   `json:"router"`
	Sinks           map[string]any `json:"sinks,omitempty"`
	Version         version.Info   `json:"version"`
}

type routerHealth struct {
	Received       int64 `json:"received"`
	Routed         int64 `json:"routed"`
	SkippedInitial int64 `json:"skipped_initial"`
	Queued         int   `json:"queued"`
}

// healthHandler serves /health. It answers 503 unless the controller
// session is open.
type healthHandler struct {
	manager managerStatus
	router  routerStatus
	mux     *http.ServeMux

	mu    sync.Mutex
	sinks map[string]func() any
}

func newHealthHandler(manager managerStatus, rt routerStatus) *healthHandler {
	h := &healthHandler{
		manager: manager,
		router:  rt,
		mux:     http.NewServeMux(),
		sinks:   make(map[string]func() any),
	}
	h.mux.HandleFunc("/health", h.serveHealth)
	return h
}

// addSink registers a stats source reported under sinks.<name>.
func (h *healthHandler) addSink(name string, stats func() any) {
	h.mu.Lock()
	h.sinks[name] = stats
	h.mu.Unlock()
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *healthHandler) serveHealth(w http.ResponseWriter, r *http.Request) {
	ms := h.manager.Stats()
	rs := h.router.Stats()

	resp := healthResponse{
		Status:          "healthy",
		State:           ms.State.String(),
		Subscriptions:   ms.Subscriptions,
		Pending:         ms.Pending,
		Reconnects:      ms.Reconnects,
		EventsDelivered: ms.EventsDelivered,
		EventsDropped:   ms.EventsDropped,
		EventsQueued:    ms.EventsQueued,
		Router: routerHealth{
			Received:       rs.ChangesReceived,
			Routed:         rs.ChangesRouted,
			SkippedInitial: rs.SkippedInitial,
			Queued:         rs.InputBuffer.Count,
		},
		Version: version.Get(),
	}

	h.mu.Lock()
	if len(h.sinks) > 0 {
		resp.Sinks = make(map[string]any, len(h.sinks))
		for name, stats := range h.sinks {
			resp.Sinks[name] = stats()
		}
	}
	h.mu.Unlock()

	status := http.StatusOK
	if ms.State != connection.StateOpen {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
