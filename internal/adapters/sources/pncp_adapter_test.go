package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
	"github.com/govscan/licitahub/backend/internal/domain/providers"
	"github.com/govscan/licitahub/backend/pkg/config"
)

func pncpTestConfig(baseURL string) config.SourceConfig {
	return config.SourceConfig{
		Code:           "pncp",
		BaseURL:        baseURL,
		Enabled:        true,
		Priority:       1,
		TimeoutSeconds: 5,
	}
}

func TestPNCPAdapter_Normalize(t *testing.T) {
	adapter := NewPNCPAdapter(pncpTestConfig("http://localhost"), zerolog.Nop())

	t.Run("complete listing", func(t *testing.T) {
		raw := pncpListing{
			NumeroControlePNCP: "00394460000141-1-000123/2025",
			ObjetoCompra:       "Aquisição de insumos hospitalares",
			ValorTotalEstimado: 150000.50,
			ModalidadeNome:     "Pregão Eletrônico",
			SituacaoCompraNome: "Divulgada no PNCP",
			NumeroCompra:       "123/2025",
			AnoCompra:          2025,
			DataPublicacaoPNCP: "2025-08-01T10:30:00",
			LinkSistemaOrigem:  "https://pncp.gov.br/app/editais/123",
		}
		raw.OrgaoEntidade.CNPJ = "00.394.460/0001-41"
		raw.OrgaoEntidade.RazaoSocial = "Ministério da Saúde"
		raw.UnidadeOrgao.UFSigla = "DF"
		raw.UnidadeOrgao.MunicipioNome = "Brasília"

		record, ok := adapter.Normalize(raw)
		require.True(t, ok)

		assert.Equal(t, "pncp", record.SourceCode)
		assert.Equal(t, "00394460000141-1-000123/2025", record.SourceID)
		assert.Equal(t, "DF", record.Region)
		assert.Equal(t, 150000.50, record.EstimatedValue)
		assert.Equal(t, 2025, record.PublicationDate.Year())

		// Same listing seen through another source must collide
		assert.Equal(t, entities.BuildDedupKey("00394460000141", "123/2025", 2025), record.DedupKey)
	})

	t.Run("missing cnpj keeps a source-scoped record", func(t *testing.T) {
		raw := pncpListing{
			NumeroControlePNCP: "ctrl-777",
			NumeroCompra:       "123/2025",
			ObjetoCompra:       "Objeto sem CNPJ",
		}
		record, ok := adapter.Normalize(raw)
		require.True(t, ok)
		assert.Equal(t, "Objeto sem CNPJ", record.Object)
		assert.Equal(t, entities.BuildSourceScopedDedupKey("pncp", "ctrl-777"), record.DedupKey)
	})

	t.Run("missing listing number keeps a source-scoped record", func(t *testing.T) {
		raw := pncpListing{NumeroControlePNCP: "ctrl-778"}
		raw.OrgaoEntidade.CNPJ = "00394460000141"
		record, ok := adapter.Normalize(raw)
		require.True(t, ok)
		assert.Equal(t, entities.BuildSourceScopedDedupKey("pncp", "ctrl-778"), record.DedupKey)
	})

	t.Run("no control number either is dropped", func(t *testing.T) {
		raw := pncpListing{NumeroCompra: "123/2025"}
		_, ok := adapter.Normalize(raw)
		assert.False(t, ok)
	})

	t.Run("year falls back to publication date", func(t *testing.T) {
		raw := pncpListing{
			NumeroCompra:       "55/2024",
			DataPublicacaoPNCP: "2024-03-10T08:00:00",
		}
		raw.OrgaoEntidade.CNPJ = "00394460000141"

		record, ok := adapter.Normalize(raw)
		require.True(t, ok)
		assert.Equal(t, entities.BuildDedupKey("00394460000141", "55/2024", 2024), record.DedupKey)
	})
}

func TestPNCPAdapter_Fetch(t *testing.T) {
	makeListing := func(i int) pncpListing {
		raw := pncpListing{
			NumeroControlePNCP: "ctrl-" + strconv.Itoa(i),
			ObjetoCompra:       "Objeto " + strconv.Itoa(i),
			NumeroCompra:       strconv.Itoa(i) + "/2025",
			AnoCompra:          2025,
			DataPublicacaoPNCP: "2025-08-01T00:00:00",
		}
		raw.OrgaoEntidade.CNPJ = "00394460000141"
		raw.UnidadeOrgao.UFSigla = "SP"
		return raw
	}

	t.Run("paginates until no pages remain", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pageNum, _ := strconv.Atoi(r.URL.Query().Get("pagina"))
			page := pncpPage{TotalPaginas: 2, NumeroPagina: pageNum}
			switch pageNum {
			case 1:
				page.Data = []pncpListing{makeListing(1), makeListing(2)}
				page.PaginasRestantes = 1
			case 2:
				page.Data = []pncpListing{makeListing(3)}
				page.PaginasRestantes = 0
			}
			_ = json.NewEncoder(w).Encode(page)
		}))
		defer server.Close()

		adapter := NewPNCPAdapter(pncpTestConfig(server.URL), zerolog.Nop())

		recordCh, errCh := adapter.Fetch(context.Background(), entities.DateRange{
			From: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC),
		}, nil)

		var records []entities.UnifiedRecord
		for record := range recordCh {
			records = append(records, record)
		}
		require.NoError(t, <-errCh)
		assert.Len(t, records, 3)
	})

	t.Run("server error surfaces after retries with partial credit", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			pageNum, _ := strconv.Atoi(r.URL.Query().Get("pagina"))
			if pageNum > 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			page := pncpPage{
				Data:             []pncpListing{makeListing(1)},
				PaginasRestantes: 1,
			}
			_ = json.NewEncoder(w).Encode(page)
		}))
		defer server.Close()

		adapter := NewPNCPAdapter(pncpTestConfig(server.URL), zerolog.Nop())

		recordCh, errCh := adapter.Fetch(context.Background(), entities.DateRange{
			From: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC),
		}, nil)

		var records []entities.UnifiedRecord
		for record := range recordCh {
			records = append(records, record)
		}

		// The first page's record was delivered before the failure
		assert.Len(t, records, 1)
		assert.Error(t, <-errCh)
	})

	t.Run("client error stops without retrying", func(t *testing.T) {
		var requests int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		adapter := NewPNCPAdapter(pncpTestConfig(server.URL), zerolog.Nop())

		recordCh, errCh := adapter.Fetch(context.Background(), entities.DateRange{
			From: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC),
		}, nil)

		for range recordCh {
		}
		assert.Error(t, <-errCh)
		assert.Equal(t, 1, requests)
	})

	t.Run("retry attempts are reported as progress", func(t *testing.T) {
		var requests int
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			if requests == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_ = json.NewEncoder(w).Encode(pncpPage{Data: []pncpListing{makeListing(1)}})
		}))
		defer server.Close()

		adapter := NewPNCPAdapter(pncpTestConfig(server.URL), zerolog.Nop())

		var retries []entities.SourceProgressStatus
		ctx := entities.WithProgress(context.Background(), func(status entities.SourceProgressStatus, attempt int) {
			retries = append(retries, status)
		})

		recordCh, errCh := adapter.Fetch(ctx, entities.DateRange{
			From: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC),
		}, nil)

		var records []entities.UnifiedRecord
		for record := range recordCh {
			records = append(records, record)
		}
		require.NoError(t, <-errCh)
		assert.Len(t, records, 1)
		assert.Contains(t, retries, entities.ProgressRetrying)
	})
}

func TestPNCPAdapter_HealthCheck(t *testing.T) {
	t.Run("available", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(pncpPage{})
		}))
		defer server.Close()

		adapter := NewPNCPAdapter(pncpTestConfig(server.URL), zerolog.Nop())
		assert.Equal(t, providers.HealthAvailable, adapter.HealthCheck(context.Background()))
	})

	t.Run("unavailable on server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		adapter := NewPNCPAdapter(pncpTestConfig(server.URL), zerolog.Nop())
		assert.Equal(t, providers.HealthUnavailable, adapter.HealthCheck(context.Background()))
	})
}

func TestTransparenciaAdapter_Credentials(t *testing.T) {
	cfg := config.SourceConfig{
		Code:                "transparencia",
		BaseURL:             "http://localhost",
		Priority:            3,
		TimeoutSeconds:      5,
		RequiresCredentials: true,
	}

	t.Run("missing key reported by health check", func(t *testing.T) {
		adapter := NewTransparenciaAdapter(cfg, zerolog.Nop())
		assert.Equal(t, providers.HealthMissingCredentials, adapter.HealthCheck(context.Background()))
	})

	t.Run("missing key fails fetch without network calls", func(t *testing.T) {
		adapter := NewTransparenciaAdapter(cfg, zerolog.Nop())
		recordCh, errCh := adapter.Fetch(context.Background(), entities.DateRange{}, nil)
		for range recordCh {
		}
		assert.ErrorIs(t, <-errCh, providers.ErrMissingCredentials)
	})
}
