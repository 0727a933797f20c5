package handlers

import (
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/govscan/licitahub/backend/internal/application/services"
	"github.com/govscan/licitahub/backend/internal/domain/providers"
)

// SourceHandler exposes the source registry and per-source availability
type SourceHandler struct {
	consolidation *services.ConsolidationService
}

// NewSourceHandler creates a new source handler
func NewSourceHandler(consolidation *services.ConsolidationService) *SourceHandler {
	return &SourceHandler{consolidation: consolidation}
}

type sourceStatus struct {
	Code                string                 `json:"code"`
	Priority            int                    `json:"priority"`
	Health              providers.HealthStatus `json:"health"`
	Degraded            bool                   `json:"degraded"`
	ConsecutiveFailures int                    `json:"consecutive_failures"`
}

// ListSources handles GET /api/sources. Health probes run concurrently so
// one slow source does not delay the whole listing.
func (h *SourceHandler) ListSources(w http.ResponseWriter, r *http.Request) {
	adapters := h.consolidation.Adapters()
	statuses := make([]sourceStatus, len(adapters))

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(r.Context())

	for i, adapter := range adapters {
		i, adapter := i, adapter
		g.Go(func() error {
			health := adapter.HealthCheck(ctx)

			status := sourceStatus{
				Code:     adapter.Code(),
				Priority: adapter.Priority(),
				Health:   health,
			}
			if breaker := h.consolidation.Breaker(adapter.Code()); breaker != nil {
				state := breaker.State()
				status.Degraded = breaker.IsDegraded()
				status.ConsecutiveFailures = state.ConsecutiveFailures
			}

			mu.Lock()
			statuses[i] = status
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to probe sources")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"sources": statuses,
		"count":   len(statuses),
	})
}

// GetSourceHealth handles GET /api/sources/{code}/health
func (h *SourceHandler) GetSourceHealth(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	if code == "" {
		respondWithError(w, http.StatusBadRequest, "source code is required")
		return
	}

	for _, adapter := range h.consolidation.Adapters() {
		if adapter.Code() != code {
			continue
		}

		status := sourceStatus{
			Code:     adapter.Code(),
			Priority: adapter.Priority(),
			Health:   adapter.HealthCheck(r.Context()),
		}
		if breaker := h.consolidation.Breaker(code); breaker != nil {
			state := breaker.State()
			status.Degraded = breaker.IsDegraded()
			status.ConsecutiveFailures = state.ConsecutiveFailures
		}

		respondWithJSON(w, http.StatusOK, status)
		return
	}

	respondWithError(w, http.StatusNotFound, "unknown source: "+code)
}
