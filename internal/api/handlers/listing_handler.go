package handlers

import (
	"net/http"
	"strconv"

	"github.com/govscan/licitahub/backend/internal/domain/repositories"
)

// ListingHandler serves full-text queries over the consolidated listing index
type ListingHandler struct {
	index repositories.ListingIndexRepository
}

// NewListingHandler creates a new listing handler
func NewListingHandler(index repositories.ListingIndexRepository) *ListingHandler {
	return &ListingHandler{index: index}
}

// SearchListings handles GET /api/listings/search
func (h *ListingHandler) SearchListings(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	params := repositories.ListingSearchParams{
		Query:      query.Get("q"),
		Regions:    query["region"],
		Modalities: query["modality"],
		Statuses:   query["status"],
		Page:       1,
		PerPage:    20,
	}
	if page, err := strconv.Atoi(query.Get("page")); err == nil && page > 0 {
		params.Page = page
	}
	if perPage, err := strconv.Atoi(query.Get("per_page")); err == nil && perPage > 0 && perPage <= 100 {
		params.PerPage = perPage
	}

	records, err := h.index.Search(r.Context(), params)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to search listings")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"listings": records,
		"count":    len(records),
	})
}
