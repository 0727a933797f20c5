package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/govscan/licitahub/backend/internal/adapters/breaker"
	"github.com/govscan/licitahub/backend/internal/adapters/cache"
	"github.com/govscan/licitahub/backend/internal/adapters/database"
	"github.com/govscan/licitahub/backend/internal/adapters/events"
	"github.com/govscan/licitahub/backend/internal/adapters/search"
	"github.com/govscan/licitahub/backend/internal/adapters/sources"
	"github.com/govscan/licitahub/backend/internal/api/handlers"
	"github.com/govscan/licitahub/backend/internal/api/routes"
	"github.com/govscan/licitahub/backend/internal/application/services"
	"github.com/govscan/licitahub/backend/internal/domain/providers"
	"github.com/govscan/licitahub/backend/internal/domain/repositories"
	"github.com/govscan/licitahub/backend/internal/infrastructure/clients/postgres"
	"github.com/govscan/licitahub/backend/internal/infrastructure/clients/redis"
	"github.com/govscan/licitahub/backend/internal/infrastructure/clients/typesense"
	"github.com/govscan/licitahub/backend/internal/infrastructure/observability"
	"github.com/govscan/licitahub/backend/pkg/config"
	"github.com/govscan/licitahub/backend/pkg/secrets"
)

func main() {
	// Pull secrets (e.g. SOURCE_TRANSPARENCIA_API_KEY) into the environment
	// before configuration is read
	vaultCfg := secrets.LoadVaultConfigFromEnv("")
	if result, err := secrets.ApplyVaultSecrets(context.Background(), vaultCfg); err != nil {
		log.Printf("Warning: Failed to load Vault secrets: %v", err)
	} else if result.Enabled {
		log.Printf("Vault secrets loaded from %s (%d applied, %d skipped)", result.Path, result.Loaded, result.Skipped)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	observability.InitLogger(cfg.OTEL.ServiceName, os.Getenv("ENV"))

	// Set up context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry if enabled
	var shutdown func(context.Context) error
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err = observability.Setup(
			ctx,
			cfg.OTEL.ServiceName,
			cfg.OTEL.ServiceVersion,
			cfg.OTEL.Endpoint,
		)
		if err != nil {
			log.Printf("Warning: Failed to set up OpenTelemetry: %v", err)
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Printf("Error shutting down OpenTelemetry: %v", err)
				}
			}()
			log.Println("OpenTelemetry initialized successfully")
		}
	}

	// Initialize metrics
	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}

	// Initialize database client
	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize PostgreSQL client: %v", err)
	}
	defer pgClient.Close()
	log.Println("PostgreSQL client initialized successfully")

	// Initialize Redis client; the engine degrades gracefully without it
	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		log.Printf("Warning: Failed to initialize Redis client: %v", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		log.Println("Redis client initialized successfully")
	}

	// Initialize Typesense client
	typesenseClient, err := typesense.NewClient(&cfg.Typesense)
	if err != nil {
		log.Printf("Warning: Failed to initialize Typesense client: %v", err)
		typesenseClient = nil
	} else {
		log.Println("Typesense client initialized successfully")
	}

	// Redis-backed pieces: durable cache tier, breaker mirror, event bus
	var durableCache providers.CacheProvider
	var breakerStore providers.BreakerStateStore
	var eventBus providers.EventBus
	if redisClient != nil {
		durableCache = cache.NewRedisAdapter(redisClient)
		breakerStore = breaker.NewRedisStateStore(redisClient)
		eventBus = events.NewRedisEventBus(redisClient)
		log.Println("Event bus initialized successfully")
	} else {
		log.Println("Running without durable cache, breaker persistence and event bus (Redis not available)")
	}

	// Listing search index
	var listingIndex *search.TypesenseAdapter
	if typesenseClient != nil {
		listingIndex = search.NewTypesenseAdapter(typesenseClient)
		if err := listingIndex.InitSchema(context.Background()); err != nil {
			log.Printf("Warning: Failed to init Typesense schema: %v", err)
		}
	}

	// Source adapters
	logger := observability.GetLogger()
	sourceAdapters := sources.Build(cfg, *logger)
	if len(sourceAdapters) == 0 {
		log.Fatal("No sources enabled; nothing to consolidate")
	}
	log.Printf("Registered %d source adapters", len(sourceAdapters))

	// Initialize services
	consolidationService := services.NewConsolidationService(sourceAdapters, cfg.Consolidation, breakerStore, metrics)
	consolidationService.RestoreBreakers(ctx)

	memoryCache := cache.NewMemoryAdapter(256, cfg.Consolidation.MemoryCacheTTL)
	resultCache := services.NewResultCache(memoryCache, durableCache, cfg.Consolidation, metrics)
	defer resultCache.Close()

	sessionAdapter := database.NewSessionAdapter(pgClient)
	stateManager := services.NewSearchStateManager(sessionAdapter, cfg.Consolidation.SessionStaleAfter)

	// Close out sessions orphaned by the previous process
	if recovered, err := stateManager.RecoverStale(ctx); err != nil {
		log.Printf("Warning: Failed to recover stale sessions: %v", err)
	} else if recovered > 0 {
		log.Printf("Recovered %d stale sessions from previous run", recovered)
	}

	// A typed-nil adapter must not sneak into the interface field
	var indexRepo repositories.ListingIndexRepository
	if listingIndex != nil {
		indexRepo = listingIndex
	}
	pipeline := services.NewSearchPipelineService(
		consolidationService,
		resultCache,
		stateManager,
		eventBus,
		indexRepo,
	)

	// Initialize handlers
	searchHandler := handlers.NewSearchHandler(pipeline)
	sourceHandler := handlers.NewSourceHandler(consolidationService)

	var listingHandler *handlers.ListingHandler
	if listingIndex != nil {
		listingHandler = handlers.NewListingHandler(listingIndex)
	}

	var sseHandler *handlers.SSEHandler
	if eventBus != nil {
		sseHandler = handlers.NewSSEHandler(eventBus)
	}

	// Set up router
	router := routes.NewRouter(
		searchHandler,
		sourceHandler,
		listingHandler,
		sseHandler,
		metrics,
	)
	handler := router.SetupRoutes()

	// Create HTTP server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // must exceed the global consolidation timeout
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Server starting on %s", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error during server shutdown: %v", err)
	}

	if eventBus != nil {
		if err := eventBus.Close(); err != nil {
			log.Printf("Error closing event bus: %v", err)
		}
	}

	log.Println("Server stopped")
}
