package typesense

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/govscan/licitahub/backend/pkg/config"
	"github.com/govscan/licitahub/backend/pkg/retry"
	"github.com/typesense/typesense-go/v2/typesense"
	"github.com/typesense/typesense-go/v2/typesense/api"
	"github.com/typesense/typesense-go/v2/typesense/api/pointer"
)

const (
	ListingsCollection = "licitacoes"
)

// Client represents a Typesense client
type Client struct {
	client *typesense.Client
}

// NewClient creates a new Typesense client with exponential backoff retry
func NewClient(cfg *config.TypesenseConfig) (*Client, error) {
	client := typesense.NewClient(
		typesense.WithServer(cfg.URL),
		typesense.WithAPIKey(cfg.APIKey),
		typesense.WithConnectionTimeout(5*time.Second),
	)

	// Test connection with retry
	retryConfig := retry.DefaultConfig()
	err := retry.DoWithLog(
		context.Background(),
		retryConfig,
		"Typesense",
		func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err := client.Health(ctx, 2*time.Second)
			return err
		},
		func(attempt int, err error, nextDelay time.Duration) {
			log.Printf("Typesense connection attempt %d failed: %v. Retrying in %v...", attempt, err, nextDelay)
		},
	)

	if err != nil {
		return nil, fmt.Errorf("failed to connect to Typesense after retries: %w", err)
	}

	log.Println("Successfully connected to Typesense")
	return &Client{client: client}, nil
}

// Client returns the underlying Typesense client
func (c *Client) Client() *typesense.Client {
	return c.client
}

// InitSchema ensures the licitacoes collection exists
func (c *Client) InitSchema(ctx context.Context) error {
	collections, err := c.client.Collections().Retrieve(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve collections: %w", err)
	}

	for _, col := range collections {
		if col.Name == ListingsCollection {
			log.Println("Typesense collection 'licitacoes' already exists")
			return nil
		}
	}

	schema := &api.CollectionSchema{
		Name: ListingsCollection,
		Fields: []api.Field{
			{
				Name: "id",
				Type: "string",
			},
			{
				Name: "object",
				Type: "string",
			},
			{
				Name:  "source_code",
				Type:  "string",
				Facet: pointer.True(),
			},
			{
				Name:  "modality",
				Type:  "string",
				Facet: pointer.True(),
			},
			{
				Name:  "status",
				Type:  "string",
				Facet: pointer.True(),
			},
			{
				Name:  "region",
				Type:  "string",
				Facet: pointer.True(),
			},
			{
				Name:     "municipality",
				Type:     "string",
				Facet:    pointer.True(),
				Optional: pointer.True(),
			},
			{
				Name: "organization_name",
				Type: "string",
			},
			{
				Name:     "estimated_value",
				Type:     "float",
				Facet:    pointer.True(),
				Optional: pointer.True(),
			},
			{
				Name: "publication_date",
				Type: "int64",
			},
			{
				Name:     "opening_date",
				Type:     "int64",
				Optional: pointer.True(),
			},
			{
				Name: "source_url",
				Type: "string",
			},
		},
		DefaultSortingField: pointer.String("publication_date"),
	}

	_, err = c.client.Collections().Create(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	log.Println("Created Typesense collection 'licitacoes'")
	return nil
}

// IndexListing upserts a listing document
func (c *Client) IndexListing(ctx context.Context, document map[string]interface{}) error {
	_, err := c.client.Collection(ListingsCollection).Documents().Upsert(ctx, document)
	return err
}
