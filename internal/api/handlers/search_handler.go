package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/govscan/licitahub/backend/internal/application/services"
	"github.com/govscan/licitahub/backend/internal/domain/entities"
	apperrors "github.com/govscan/licitahub/backend/pkg/errors"
)

// SearchHandler handles search-related HTTP requests
type SearchHandler struct {
	pipeline *services.SearchPipelineService
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(pipeline *services.SearchPipelineService) *SearchHandler {
	return &SearchHandler{pipeline: pipeline}
}

type searchRequest struct {
	Sector     string   `json:"sector"`
	Regions    []string `json:"regions"`
	Statuses   []string `json:"statuses"`
	Modalities []string `json:"modalities"`
	SearchMode string   `json:"search_mode"`
	DateFrom   string   `json:"date_from"`
	DateTo     string   `json:"date_to"`
	ForceFresh bool     `json:"force_fresh"`
	CachedOnly bool     `json:"cached_only"`
}

// Search handles POST /api/search
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params, err := req.toParams()
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, session, err := h.pipeline.Search(r.Context(), params)
	if err != nil {
		searchID := ""
		if session != nil {
			searchID = session.SearchID
		}
		if appErr, ok := err.(*apperrors.AppError); ok {
			switch appErr.Type {
			case apperrors.ErrorTypeNotFound:
				respondWithJSON(w, http.StatusNotFound, map[string]string{
					"error":     appErr.Message,
					"search_id": searchID,
				})
			case apperrors.ErrorTypeUnavailable:
				respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
					"error":     appErr.Message,
					"search_id": searchID,
				})
			case apperrors.ErrorTypeValidation:
				respondWithError(w, http.StatusBadRequest, appErr.Message)
			default:
				respondWithError(w, http.StatusInternalServerError, "internal server error")
			}
			return
		}
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"search_id": session.SearchID,
		"result":    result,
	})
}

// GetSearch handles GET /api/search/{id}
func (h *SearchHandler) GetSearch(w http.ResponseWriter, r *http.Request) {
	searchID := r.PathValue("id")
	if searchID == "" {
		respondWithError(w, http.StatusBadRequest, "search ID is required")
		return
	}

	session, err := h.pipeline.States().Get(r.Context(), searchID)
	if err != nil {
		if appErr, ok := err.(*apperrors.AppError); ok && appErr.Type == apperrors.ErrorTypeNotFound {
			respondWithError(w, http.StatusNotFound, appErr.Message)
			return
		}
		respondWithError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	transitions, err := h.pipeline.States().Transitions(r.Context(), searchID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to load search history")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"session":     session,
		"transitions": transitions,
	})
}

func (req searchRequest) toParams() (entities.SearchParams, error) {
	params := entities.SearchParams{
		Sector:     req.Sector,
		Regions:    req.Regions,
		Statuses:   req.Statuses,
		Modalities: req.Modalities,
		SearchMode: req.SearchMode,
		ForceFresh: req.ForceFresh,
		CachedOnly: req.CachedOnly,
	}

	// Default window: the last 30 days
	now := time.Now().UTC().Truncate(24 * time.Hour)
	params.DateRange = entities.DateRange{From: now.AddDate(0, 0, -30), To: now}

	if req.DateFrom != "" {
		from, err := time.Parse("2006-01-02", req.DateFrom)
		if err != nil {
			return params, apperrors.NewValidationError("date_from must be YYYY-MM-DD")
		}
		params.DateRange.From = from
	}
	if req.DateTo != "" {
		to, err := time.Parse("2006-01-02", req.DateTo)
		if err != nil {
			return params, apperrors.NewValidationError("date_to must be YYYY-MM-DD")
		}
		params.DateRange.To = to
	}
	if params.DateRange.To.Before(params.DateRange.From) {
		return params, apperrors.NewValidationError("date_to must not precede date_from")
	}

	return params, nil
}

// Helper functions
func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
