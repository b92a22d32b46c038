package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/features"
	"github.com/opensource-finance/heron/internal/graph"
	"github.com/opensource-finance/heron/internal/metrics"
	"github.com/opensource-finance/heron/internal/rules"
	"github.com/opensource-finance/heron/internal/scoring"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	scoring     *scoring.Service
	registry    *rules.Registry
	repo        domain.Repository
	graph       *graph.Service
	cache       domain.Cache
	bus         domain.EventBus
	profiles    *features.StoreProvider
	metrics     *metrics.Collector
	asyncIngest bool
	version     string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		scoring:     deps.Scoring,
		registry:    deps.Registry,
		repo:        deps.Repo,
		graph:       deps.Graph,
		cache:       deps.Cache,
		bus:         deps.Bus,
		profiles:    deps.Profiles,
		metrics:     deps.Metrics,
		asyncIngest: deps.AsyncIngest,
		version:     deps.Version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			slog.Warn("health check failed", "component", name, "error", err)
			checks[name] = "down"
			status = "degraded"
			return
		}
		checks[name] = "up"
	}

	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(ctx) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(ctx) })
	}
	if h.bus != nil {
		check("bus", func() error { return h.bus.Ping(ctx) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// Predict handles POST /predict. It scores without persisting.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	raw, ok := readBody(w, r)
	if !ok {
		return
	}

	req, err := features.ParseRequest(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	assessment, err := h.scoring.Predict(r.Context(), req)
	if err != nil {
		h.writeScoringError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, assessment)
}

// writeScoringError maps a scoring failure to a status code.
func (h *Handler) writeScoringError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		slog.Warn("feature provider unavailable", "error", err, "trace_id", GetTraceID(r.Context()))
		writeError(w, http.StatusBadGateway, "feature provider unavailable")
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("scoring failed", "error", err, "trace_id", GetTraceID(r.Context()))
		writeError(w, http.StatusInternalServerError, "scoring failed")
	}
}

// readBody reads a bounded request body, writing a 400 on failure.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return raw, true
}

// decodeJSON decodes a bounded JSON body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
