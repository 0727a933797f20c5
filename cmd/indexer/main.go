package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/govscan/licitahub/backend/internal/adapters/search"
	"github.com/govscan/licitahub/backend/internal/adapters/sources"
	"github.com/govscan/licitahub/backend/internal/application/services"
	"github.com/govscan/licitahub/backend/internal/domain/entities"
	"github.com/govscan/licitahub/backend/internal/infrastructure/clients/typesense"
	"github.com/govscan/licitahub/backend/internal/infrastructure/observability"
	"github.com/govscan/licitahub/backend/pkg/config"
)

// Fetches a window of listings from every enabled source and indexes the
// consolidated set into Typesense. Intended to run on a schedule.
func main() {
	var from, to, regions string

	flag.StringVar(&from, "from", "", "Window start (YYYY-MM-DD, default 7 days ago)")
	flag.StringVar(&to, "to", "", "Window end (YYYY-MM-DD, default today)")
	flag.StringVar(&regions, "regions", "", "Comma-separated UF codes (e.g. SP,RJ)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	observability.InitLogger("licitahub-indexer", os.Getenv("ENV"))

	tsClient, err := typesense.NewClient(&cfg.Typesense)
	if err != nil {
		log.Fatalf("Failed to connect to Typesense: %v", err)
	}

	indexer := search.NewTypesenseAdapter(tsClient)
	if err := indexer.InitSchema(context.Background()); err != nil {
		log.Fatalf("Failed to init Typesense schema: %v", err)
	}

	dateRange, err := parseWindow(from, to)
	if err != nil {
		log.Fatalf("Invalid window: %v", err)
	}

	var regionList []string
	if regions != "" {
		regionList = strings.Split(regions, ",")
	}

	adapters := sources.Build(cfg, *observability.GetLogger())
	if len(adapters) == 0 {
		log.Fatal("No sources enabled")
	}

	service := services.NewConsolidationService(adapters, cfg.Consolidation, nil, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	result, err := service.Consolidate(ctx, dateRange, regionList, services.FetchOptions{})
	if err != nil {
		log.Fatalf("Consolidation failed: %v", err)
	}
	log.Printf("Consolidated %d records in %v", result.TotalAfterDedup, time.Since(start))

	if err := indexer.IndexBatch(ctx, result.Records); err != nil {
		log.Fatalf("Indexing failed: %v", err)
	}
	log.Printf("Indexed %d listings into Typesense", len(result.Records))
}

func parseWindow(from, to string) (entities.DateRange, error) {
	now := time.Now().UTC().Truncate(24 * time.Hour)
	window := entities.DateRange{From: now.AddDate(0, 0, -7), To: now}

	if from != "" {
		parsed, err := time.Parse("2006-01-02", from)
		if err != nil {
			return window, err
		}
		window.From = parsed
	}
	if to != "" {
		parsed, err := time.Parse("2006-01-02", to)
		if err != nil {
			return window, err
		}
		window.To = parsed
	}
	return window, nil
}
