// Package server exposes the operational surface: health, readiness,
// pipeline status, and Prometheus metrics. There is no data-plane API; the
// pipeline has no synchronous callers.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/restream-labs/eventpipe/internal/pipeline"
	"github.com/restream-labs/eventpipe/internal/reconcile"
	"github.com/restream-labs/eventpipe/internal/sink"
)

// Handler serves the operational endpoints for one pipeline instance.
type Handler struct {
	controller *pipeline.Controller
	sinks      []sink.Sink
	tracker    *reconcile.Tracker
}

// NewHandler creates the ops handler. tracker may be nil.
func NewHandler(controller *pipeline.Controller, sinks []sink.Sink, tracker *reconcile.Tracker) *Handler {
	return &Handler{controller: controller, sinks: sinks, tracker: tracker}
}

// NewRouter constructs a ServeMux with the operational routes registered.
func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/readyz", h.Ready)
	mux.HandleFunc("/status", h.Status)
	mux.HandleFunc("/divergences", h.Divergences)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports whether both sinks are reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.sinks))
	ready := true
	for _, s := range h.sinks {
		if err := s.Ping(ctx); err != nil {
			checks[s.Name()] = err.Error()
			ready = false
		} else {
			checks[s.Name()] = "ok"
		}
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{"ready": ready, "sinks": checks})
}

// Status returns the controller snapshot: lifecycle state, backpressure,
// and per-destination write-failure counters.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.controller.Status())
}

// Divergences lists events past the reconciliation window with only one
// sink write recorded.
func (h *Handler) Divergences(w http.ResponseWriter, r *http.Request) {
	if h.tracker == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"enabled":     false,
			"divergences": []reconcile.Divergence{},
		})
		return
	}

	divs, err := h.tracker.Diverged(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if divs == nil {
		divs = []reconcile.Divergence{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled":     true,
		"divergences": divs,
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
