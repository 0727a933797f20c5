package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/typesense/typesense-go/v2/typesense/api"
	"github.com/typesense/typesense-go/v2/typesense/api/pointer"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
	"github.com/govscan/licitahub/backend/internal/domain/repositories"
	tsclient "github.com/govscan/licitahub/backend/internal/infrastructure/clients/typesense"
)

// TypesenseAdapter implements listing search indexing using Typesense.
// Documents are keyed by dedup key so re-indexing a consolidated run
// upserts rather than duplicates.
type TypesenseAdapter struct {
	client *tsclient.Client
}

// Ensure TypesenseAdapter implements ListingIndexRepository
var _ repositories.ListingIndexRepository = (*TypesenseAdapter)(nil)

// NewTypesenseAdapter creates a new Typesense adapter
func NewTypesenseAdapter(client *tsclient.Client) *TypesenseAdapter {
	return &TypesenseAdapter{client: client}
}

// InitSchema ensures the collection exists
func (a *TypesenseAdapter) InitSchema(ctx context.Context) error {
	return a.client.InitSchema(ctx)
}

// Index upserts a single listing
func (a *TypesenseAdapter) Index(ctx context.Context, record *entities.UnifiedRecord) error {
	if err := a.client.IndexListing(ctx, toDocument(record)); err != nil {
		return fmt.Errorf("failed to index listing %s: %w", record.DedupKey, err)
	}
	return nil
}

// IndexBatch upserts a batch of listings
func (a *TypesenseAdapter) IndexBatch(ctx context.Context, records []entities.UnifiedRecord) error {
	for i := range records {
		if err := a.Index(ctx, &records[i]); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a listing from the index
func (a *TypesenseAdapter) Delete(ctx context.Context, dedupKey string) error {
	_, err := a.client.Client().Collection(tsclient.ListingsCollection).Document(dedupKey).Delete(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete listing from index: %w", err)
	}
	return nil
}

// Search runs a full-text query over indexed listings
func (a *TypesenseAdapter) Search(ctx context.Context, params repositories.ListingSearchParams) ([]*entities.UnifiedRecord, error) {
	if params.PerPage <= 0 {
		params.PerPage = 20
	}
	if params.Page <= 0 {
		params.Page = 1
	}

	query := params.Query
	if query == "" {
		query = "*"
	}

	searchParams := &api.SearchCollectionParams{
		Q:       pointer.String(query),
		QueryBy: pointer.String("object,organization_name"),
		Page:    pointer.Int(params.Page),
		PerPage: pointer.Int(params.PerPage),
	}
	if filter := buildFilter(params); filter != "" {
		searchParams.FilterBy = pointer.String(filter)
	}

	result, err := a.client.Client().Collection(tsclient.ListingsCollection).Documents().Search(ctx, searchParams)
	if err != nil {
		return nil, fmt.Errorf("failed to search listings: %w", err)
	}

	records := []*entities.UnifiedRecord{}
	if result.Hits == nil {
		return records, nil
	}
	for _, hit := range *result.Hits {
		doc := *hit.Document
		records = append(records, fromDocument(doc))
	}

	return records, nil
}

func buildFilter(params repositories.ListingSearchParams) string {
	var clauses []string
	if len(params.Regions) > 0 {
		clauses = append(clauses, fmt.Sprintf("region:=[%s]", strings.Join(params.Regions, ",")))
	}
	if len(params.Modalities) > 0 {
		clauses = append(clauses, fmt.Sprintf("modality:=[%s]", strings.Join(params.Modalities, ",")))
	}
	if len(params.Statuses) > 0 {
		clauses = append(clauses, fmt.Sprintf("status:=[%s]", strings.Join(params.Statuses, ",")))
	}
	return strings.Join(clauses, " && ")
}

func toDocument(record *entities.UnifiedRecord) map[string]interface{} {
	document := map[string]interface{}{
		"id":                record.DedupKey,
		"object":            record.Object,
		"source_code":       record.SourceCode,
		"modality":          record.Modality,
		"status":            record.Status,
		"region":            record.Region,
		"organization_name": record.OrganizationName,
		"publication_date":  record.PublicationDate.Unix(),
		"source_url":        record.SourceURL,
	}
	if record.Municipality != "" {
		document["municipality"] = record.Municipality
	}
	if record.EstimatedValue > 0 {
		document["estimated_value"] = record.EstimatedValue
	}
	if record.OpeningDate != nil {
		document["opening_date"] = record.OpeningDate.Unix()
	}
	return document
}

func fromDocument(doc map[string]interface{}) *entities.UnifiedRecord {
	record := &entities.UnifiedRecord{}

	if val, ok := doc["id"].(string); ok {
		record.DedupKey = val
	}
	if val, ok := doc["object"].(string); ok {
		record.Object = val
	}
	if val, ok := doc["source_code"].(string); ok {
		record.SourceCode = val
	}
	if val, ok := doc["modality"].(string); ok {
		record.Modality = val
	}
	if val, ok := doc["status"].(string); ok {
		record.Status = val
	}
	if val, ok := doc["region"].(string); ok {
		record.Region = val
	}
	if val, ok := doc["municipality"].(string); ok {
		record.Municipality = val
	}
	if val, ok := doc["organization_name"].(string); ok {
		record.OrganizationName = val
	}
	if val, ok := doc["estimated_value"].(float64); ok {
		record.EstimatedValue = val
	}
	if val, ok := doc["publication_date"].(float64); ok {
		record.PublicationDate = time.Unix(int64(val), 0).UTC()
	}
	if val, ok := doc["opening_date"].(float64); ok {
		opening := time.Unix(int64(val), 0).UTC()
		record.OpeningDate = &opening
	}
	if val, ok := doc["source_url"].(string); ok {
		record.SourceURL = val
	}

	return record
}
