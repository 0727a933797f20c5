package repositories

import (
	"context"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
)

// ListingSearchParams are full-text search parameters over indexed listings
type ListingSearchParams struct {
	Query      string
	Regions    []string
	Modalities []string
	Statuses   []string
	Page       int
	PerPage    int
}

// ListingIndexRepository indexes consolidated listings for full-text search
type ListingIndexRepository interface {
	// InitSchema ensures the search collection exists
	InitSchema(ctx context.Context) error

	// Index upserts a single listing, keyed by its dedup key
	Index(ctx context.Context, record *entities.UnifiedRecord) error

	// IndexBatch upserts a batch of listings
	IndexBatch(ctx context.Context, records []entities.UnifiedRecord) error

	// Delete removes a listing from the index
	Delete(ctx context.Context, dedupKey string) error

	// Search runs a full-text query over indexed listings
	Search(ctx context.Context, params ListingSearchParams) ([]*entities.UnifiedRecord, error)
}
