package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/govscan/licitahub/backend/internal/adapters/sources"
	"github.com/govscan/licitahub/backend/internal/application/services"
	"github.com/govscan/licitahub/backend/internal/domain/entities"
	"github.com/govscan/licitahub/backend/internal/infrastructure/observability"
	"github.com/govscan/licitahub/backend/pkg/config"
)

// One-shot consolidation run from the command line, printing the merged
// result as JSON. Useful for smoke-testing sources without the API server.
func main() {
	var from, to, regions string
	var pretty bool

	flag.StringVar(&from, "from", "", "Window start (YYYY-MM-DD, default 7 days ago)")
	flag.StringVar(&to, "to", "", "Window end (YYYY-MM-DD, default today)")
	flag.StringVar(&regions, "regions", "", "Comma-separated UF codes (e.g. SP,RJ)")
	flag.BoolVar(&pretty, "pretty", false, "Indent the JSON output")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	observability.InitLogger("licitahub-fetch", os.Getenv("ENV"))

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
	result, err := service.Consolidate(ctx, dateRange, regionList, services.FetchOptions{
		Progress: func(source string, status entities.SourceProgressStatus, count, attempt *int) {
			log.Printf("[%s] %s", source, status)
		},
	})
	if err != nil {
		log.Fatalf("Consolidation failed: %v", err)
	}

	log.Printf("Fetched %d records (%d before dedup) from %d sources in %v",
		result.TotalAfterDedup, result.TotalBeforeDedup, len(result.SucceededSources), time.Since(start))

	encoder := json.NewEncoder(os.Stdout)
	if pretty {
		encoder.SetIndent("", "  ")
	}
	if err := encoder.Encode(result); err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}
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
