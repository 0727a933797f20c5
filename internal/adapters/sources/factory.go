package sources

import (
	"log"

	"github.com/rs/zerolog"

	"github.com/govscan/licitahub/backend/internal/domain/providers"
	"github.com/govscan/licitahub/backend/pkg/config"
)

// Source registry codes
const (
	CodePNCP          = "pncp"
	CodeComprasGov    = "comprasgov"
	CodeTransparencia = "transparencia"
)

// Build constructs the adapter set from configuration. Disabled sources are
// skipped entirely; they appear in no result accounting. With mock sources
// enabled, one mock adapter is built per configured source so the pipeline
// and dedup behave as in production.
func Build(cfg *config.Config, logger zerolog.Logger) []providers.SourceAdapter {
	var adapters []providers.SourceAdapter

	for _, sourceCfg := range cfg.Sources {
		if !sourceCfg.Enabled {
			log.Printf("Source %s is disabled, skipping", sourceCfg.Code)
			continue
		}

		if cfg.Consolidation.UseMockSources {
			adapters = append(adapters, NewMockAdapter(sourceCfg.Code, sourceCfg.Priority, 25))
			continue
		}

		switch sourceCfg.Code {
		case CodePNCP:
			adapters = append(adapters, NewPNCPAdapter(sourceCfg, logger))
		case CodeComprasGov:
			adapters = append(adapters, NewComprasGovAdapter(sourceCfg, logger))
		case CodeTransparencia:
			adapters = append(adapters, NewTransparenciaAdapter(sourceCfg, logger))
		default:
			log.Printf("Unknown source code %s, skipping", sourceCfg.Code)
		}
	}

	return adapters
}
