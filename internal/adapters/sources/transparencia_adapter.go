package sources

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
	"github.com/govscan/licitahub/backend/internal/domain/providers"
	"github.com/govscan/licitahub/backend/internal/infrastructure/clients/sourceapi"
	"github.com/govscan/licitahub/backend/pkg/config"
	"github.com/govscan/licitahub/backend/pkg/retry"
)

const (
	transparenciaDateFormat = "02/01/2006"
	transparenciaKeyHeader  = "chave-api-dados"
)

// TransparenciaAdapter fetches listings from the Portal da Transparência
// API. The API requires a registered key sent on every request; without one
// the adapter reports missing credentials and is never attempted.
type TransparenciaAdapter struct {
	cfg    config.SourceConfig
	client *sourceapi.Client
	logger zerolog.Logger
}

var _ providers.SourceAdapter = (*TransparenciaAdapter)(nil)

// NewTransparenciaAdapter creates a new Portal da Transparência adapter
func NewTransparenciaAdapter(cfg config.SourceConfig, logger zerolog.Logger) *TransparenciaAdapter {
	client := sourceapi.NewClient(
		cfg.BaseURL,
		time.Duration(cfg.TimeoutSeconds)*time.Second,
		cfg.RateLimitRPS,
		logger.With().Str("source", cfg.Code).Logger(),
	)
	if cfg.APIKey != "" {
		client.WithHeader(transparenciaKeyHeader, cfg.APIKey)
	}
	return &TransparenciaAdapter{
		cfg:    cfg,
		client: client,
		logger: logger.With().Str("source", cfg.Code).Logger(),
	}
}

// Code returns the source's registration code
func (a *TransparenciaAdapter) Code() string {
	return a.cfg.Code
}

// Priority returns the source's dedup ranking
func (a *TransparenciaAdapter) Priority() int {
	return a.cfg.Priority
}

// HealthCheck verifies credentials are configured, then probes the API
func (a *TransparenciaAdapter) HealthCheck(ctx context.Context) providers.HealthStatus {
	if a.cfg.APIKey == "" {
		return providers.HealthMissingCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now()
	query := url.Values{}
	query.Set("dataInicial", now.AddDate(0, 0, -1).Format(transparenciaDateFormat))
	query.Set("dataFinal", now.Format(transparenciaDateFormat))
	query.Set("pagina", "1")

	var page []transparenciaListing
	if err := a.client.GetJSON(ctx, "/api-de-dados/licitacoes", query, &page); err != nil {
		a.logger.Warn().Err(err).Msg("health check failed")
		return providers.HealthUnavailable
	}
	return providers.HealthAvailable
}

// Fetch streams normalized listings for the date range. The API pages until
// an empty array; regions are applied client-side.
func (a *TransparenciaAdapter) Fetch(ctx context.Context, dateRange entities.DateRange, regions []string) (<-chan entities.UnifiedRecord, <-chan error) {
	recordCh := make(chan entities.UnifiedRecord)
	errCh := make(chan error, 1)

	go func() {
		defer close(recordCh)
		defer close(errCh)

		if a.cfg.APIKey == "" {
			errCh <- providers.ErrMissingCredentials
			return
		}

		wanted := regionSet(regions)
		progress := entities.ProgressFromContext(ctx)

		for pageNum := 1; ; pageNum++ {
			var page []transparenciaListing
			err := retry.DoWithLog(ctx, retry.PageConfig(), a.cfg.Code,
				func() error {
					query := url.Values{}
					query.Set("dataInicial", dateRange.From.Format(transparenciaDateFormat))
					query.Set("dataFinal", dateRange.To.Format(transparenciaDateFormat))
					query.Set("pagina", strconv.Itoa(pageNum))

					fetchErr := a.client.GetJSON(ctx, "/api-de-dados/licitacoes", query, &page)
					if sourceapi.IsClientError(fetchErr) {
						return retry.Permanent(fetchErr)
					}
					return fetchErr
				},
				func(attempt int, err error, nextDelay time.Duration) {
					progress(entities.ProgressRetrying, attempt+1)
					a.logger.Warn().
						Int("page", pageNum).
						Int("attempt", attempt).
						Dur("next_delay", nextDelay).
						Err(err).
						Msg("page fetch failed, retrying")
				},
			)
			if err != nil {
				errCh <- err
				return
			}

			if len(page) == 0 {
				return
			}

			for _, raw := range page {
				record, ok := a.Normalize(raw)
				if !ok {
					continue
				}
				if len(wanted) > 0 {
					if _, match := wanted[record.Region]; !match {
						continue
					}
				}
				select {
				case recordCh <- record:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			}
		}
	}()

	return recordCh, errCh
}

// Normalize converts one raw Portal da Transparência listing into the
// unified shape
func (a *TransparenciaAdapter) Normalize(raw transparenciaListing) (entities.UnifiedRecord, bool) {
	cnpj := raw.UnidadeGestora.OrgaoVinculado.CNPJ
	number := raw.Licitacao.Numero

	publication := parseTransparenciaDate(raw.DataPublicacao)
	year := publication.Year()
	if year == 0 {
		year = parseTransparenciaDate(raw.DataAbertura).Year()
	}

	var dedupKey string
	switch {
	case cnpj != "" && number != "":
		dedupKey = entities.BuildDedupKey(cnpj, number, year)
	case raw.ID != 0:
		dedupKey = entities.BuildSourceScopedDedupKey(a.cfg.Code, strconv.FormatInt(raw.ID, 10))
	default:
		return entities.UnifiedRecord{}, false
	}

	record := entities.UnifiedRecord{
		SourceCode:       a.cfg.Code,
		SourceID:         strconv.FormatInt(raw.ID, 10),
		DedupKey:         dedupKey,
		Object:           raw.Licitacao.Objeto,
		EstimatedValue:   raw.Valor,
		Modality:         raw.ModalidadeLicitacao.Descricao,
		Status:           raw.SituacaoCompra.Descricao,
		Region:           raw.Municipio.UF.Sigla,
		Municipality:     raw.Municipio.NomeIBGE,
		OrganizationName: raw.UnidadeGestora.Nome,
		OrganizationID:   cnpj,
		ListingNumber:    number,
		PublicationDate:  publication,
	}

	if opening := parseTransparenciaDate(raw.DataAbertura); !opening.IsZero() {
		record.OpeningDate = &opening
	}

	return record, true
}

func parseTransparenciaDate(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{transparenciaDateFormat, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

type transparenciaListing struct {
	ID             int64   `json:"id"`
	DataPublicacao string  `json:"dataPublicacao"`
	DataAbertura   string  `json:"dataAbertura"`
	Valor          float64 `json:"valor"`
	Licitacao      struct {
		Numero string `json:"numero"`
		Objeto string `json:"objeto"`
	} `json:"licitacao"`
	ModalidadeLicitacao struct {
		Descricao string `json:"descricao"`
	} `json:"modalidadeLicitacao"`
	SituacaoCompra struct {
		Descricao string `json:"descricao"`
	} `json:"situacaoCompra"`
	UnidadeGestora struct {
		Codigo         string `json:"codigo"`
		Nome           string `json:"nome"`
		OrgaoVinculado struct {
			CNPJ string `json:"cnpj"`
		} `json:"orgaoVinculado"`
	} `json:"unidadeGestora"`
	Municipio struct {
		NomeIBGE string `json:"nomeIBGE"`
		UF       struct {
			Sigla string `json:"sigla"`
		} `json:"uf"`
	} `json:"municipio"`
}
