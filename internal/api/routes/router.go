package routes

import (
	"net/http"

	"github.com/govscan/licitahub/backend/internal/api/handlers"
	"github.com/govscan/licitahub/backend/internal/api/middleware"
	"github.com/govscan/licitahub/backend/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	searchHandler  *handlers.SearchHandler
	sourceHandler  *handlers.SourceHandler
	listingHandler *handlers.ListingHandler
	sseHandler     *handlers.SSEHandler

	metrics *observability.Metrics
}

// NewRouter creates a new router. listingHandler and sseHandler may be nil
// when their backing services are not configured.
func NewRouter(
	searchHandler *handlers.SearchHandler,
	sourceHandler *handlers.SourceHandler,
	listingHandler *handlers.ListingHandler,
	sseHandler *handlers.SSEHandler,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:            http.NewServeMux(),
		searchHandler:  searchHandler,
		sourceHandler:  sourceHandler,
		listingHandler: listingHandler,
		sseHandler:     sseHandler,
		metrics:        metrics,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	// Health check endpoint
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})

	// Search endpoints
	r.mux.HandleFunc("POST /api/search", r.searchHandler.Search)
	r.mux.HandleFunc("GET /api/search/{id}", r.searchHandler.GetSearch)

	// Source registry endpoints
	r.mux.HandleFunc("GET /api/sources", r.sourceHandler.ListSources)
	r.mux.HandleFunc("GET /api/sources/{code}/health", r.sourceHandler.GetSourceHealth)

	// Listing index endpoints
	if r.listingHandler != nil {
		r.mux.HandleFunc("GET /api/listings/search", r.listingHandler.SearchListings)
	}

	// Live progress stream
	if r.sseHandler != nil {
		r.mux.HandleFunc("GET /api/stream/search/{id}", r.sseHandler.StreamSearchProgress)
	}

	// Apply middleware in reverse order (last middleware wraps first)
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.CORSMiddleware(handler)

	return handler
}
