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
	pncpDateFormat = "20060102"
	pncpPageSize   = 50
)

// PNCPAdapter fetches listings from the Portal Nacional de Contratações
// Públicas consulta API. PNCP is the primary source (priority 1).
type PNCPAdapter struct {
	cfg    config.SourceConfig
	client *sourceapi.Client
	logger zerolog.Logger
}

// Ensure PNCPAdapter implements SourceAdapter
var _ providers.SourceAdapter = (*PNCPAdapter)(nil)

// NewPNCPAdapter creates a new PNCP adapter
func NewPNCPAdapter(cfg config.SourceConfig, logger zerolog.Logger) *PNCPAdapter {
	client := sourceapi.NewClient(
		cfg.BaseURL,
		time.Duration(cfg.TimeoutSeconds)*time.Second,
		cfg.RateLimitRPS,
		logger.With().Str("source", cfg.Code).Logger(),
	)
	return &PNCPAdapter{
		cfg:    cfg,
		client: client,
		logger: logger.With().Str("source", cfg.Code).Logger(),
	}
}

// Code returns the source's registration code
func (a *PNCPAdapter) Code() string {
	return a.cfg.Code
}

// Priority returns the source's dedup ranking
func (a *PNCPAdapter) Priority() int {
	return a.cfg.Priority
}

// HealthCheck probes the consulta endpoint with a one-row query
func (a *PNCPAdapter) HealthCheck(ctx context.Context) providers.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now()
	query := url.Values{}
	query.Set("dataInicial", now.AddDate(0, 0, -1).Format(pncpDateFormat))
	query.Set("dataFinal", now.Format(pncpDateFormat))
	query.Set("pagina", "1")
	query.Set("tamanhoPagina", "1")

	var page pncpPage
	if err := a.client.GetJSON(ctx, "/v1/contratacoes/publicacao", query, &page); err != nil {
		a.logger.Warn().Err(err).Msg("health check failed")
		return providers.HealthUnavailable
	}
	return providers.HealthAvailable
}

// Fetch streams normalized listings for the date range, one region at a time
func (a *PNCPAdapter) Fetch(ctx context.Context, dateRange entities.DateRange, regions []string) (<-chan entities.UnifiedRecord, <-chan error) {
	recordCh := make(chan entities.UnifiedRecord)
	errCh := make(chan error, 1)

	go func() {
		defer close(recordCh)
		defer close(errCh)

		// A nil region list means a single unpartitioned pass
		passes := regions
		if len(passes) == 0 {
			passes = []string{""}
		}

		for _, region := range passes {
			if err := a.fetchRegion(ctx, dateRange, region, recordCh); err != nil {
				errCh <- err
				return
			}
		}
	}()

	return recordCh, errCh
}

func (a *PNCPAdapter) fetchRegion(ctx context.Context, dateRange entities.DateRange, region string, out chan<- entities.UnifiedRecord) error {
	progress := entities.ProgressFromContext(ctx)

	for pageNum := 1; ; pageNum++ {
		var page pncpPage
		err := retry.DoWithLog(ctx, retry.PageConfig(), a.cfg.Code,
			func() error {
				query := url.Values{}
				query.Set("dataInicial", dateRange.From.Format(pncpDateFormat))
				query.Set("dataFinal", dateRange.To.Format(pncpDateFormat))
				query.Set("pagina", strconv.Itoa(pageNum))
				query.Set("tamanhoPagina", strconv.Itoa(pncpPageSize))
				if region != "" {
					query.Set("uf", region)
				}

				fetchErr := a.client.GetJSON(ctx, "/v1/contratacoes/publicacao", query, &page)
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
			return err
		}

		for _, raw := range page.Data {
			record, ok := a.Normalize(raw)
			if !ok {
				a.logger.Debug().
					Str("control_number", raw.NumeroControlePNCP).
					Msg("skipping listing with missing identity fields")
				continue
			}
			select {
			case out <- record:
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if page.PaginasRestantes <= 0 || len(page.Data) == 0 {
			return nil
		}
	}
}

// Normalize converts one raw PNCP listing into the unified shape. When the
// identity fields for the cross-source key are missing the listing is kept
// under a source-scoped key; it is only dropped when there is no control
// number to key it by at all.
func (a *PNCPAdapter) Normalize(raw pncpListing) (entities.UnifiedRecord, bool) {
	publication := parsePNCPTime(raw.DataPublicacaoPNCP)
	year := raw.AnoCompra
	if year == 0 {
		year = publication.Year()
	}

	var dedupKey string
	switch {
	case raw.OrgaoEntidade.CNPJ != "" && raw.NumeroCompra != "":
		dedupKey = entities.BuildDedupKey(raw.OrgaoEntidade.CNPJ, raw.NumeroCompra, year)
	case raw.NumeroControlePNCP != "":
		dedupKey = entities.BuildSourceScopedDedupKey(a.cfg.Code, raw.NumeroControlePNCP)
	default:
		return entities.UnifiedRecord{}, false
	}

	record := entities.UnifiedRecord{
		SourceCode:       a.cfg.Code,
		SourceID:         raw.NumeroControlePNCP,
		DedupKey:         dedupKey,
		Object:           raw.ObjetoCompra,
		EstimatedValue:   raw.ValorTotalEstimado,
		Modality:         raw.ModalidadeNome,
		Status:           raw.SituacaoCompraNome,
		Region:           raw.UnidadeOrgao.UFSigla,
		Municipality:     raw.UnidadeOrgao.MunicipioNome,
		OrganizationName: raw.OrgaoEntidade.RazaoSocial,
		OrganizationID:   raw.OrgaoEntidade.CNPJ,
		ListingNumber:    raw.NumeroCompra,
		PublicationDate:  publication,
		SourceURL:        raw.LinkSistemaOrigem,
	}

	if opening := parsePNCPTime(raw.DataAberturaProposta); !opening.IsZero() {
		record.OpeningDate = &opening
	}
	if closing := parsePNCPTime(raw.DataEncerramentoProposta); !closing.IsZero() {
		record.ClosingDate = &closing
	}

	return record, true
}

// parsePNCPTime handles the timestamp variants PNCP emits
func parsePNCPTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

type pncpPage struct {
	Data             []pncpListing `json:"data"`
	TotalRegistros   int           `json:"totalRegistros"`
	TotalPaginas     int           `json:"totalPaginas"`
	NumeroPagina     int           `json:"numeroPagina"`
	PaginasRestantes int           `json:"paginasRestantes"`
}

type pncpListing struct {
	NumeroControlePNCP       string  `json:"numeroControlePNCP"`
	ObjetoCompra             string  `json:"objetoCompra"`
	ValorTotalEstimado       float64 `json:"valorTotalEstimado"`
	ModalidadeNome           string  `json:"modalidadeNome"`
	SituacaoCompraNome       string  `json:"situacaoCompraNome"`
	NumeroCompra             string  `json:"numeroCompra"`
	AnoCompra                int     `json:"anoCompra"`
	DataPublicacaoPNCP       string  `json:"dataPublicacaoPncp"`
	DataAberturaProposta     string  `json:"dataAberturaProposta"`
	DataEncerramentoProposta string  `json:"dataEncerramentoProposta"`
	LinkSistemaOrigem        string  `json:"linkSistemaOrigem"`
	OrgaoEntidade            struct {
		CNPJ        string `json:"cnpj"`
		RazaoSocial string `json:"razaoSocial"`
	} `json:"orgaoEntidade"`
	UnidadeOrgao struct {
		UFSigla       string `json:"ufSigla"`
		MunicipioNome string `json:"municipioNome"`
	} `json:"unidadeOrgao"`
}
