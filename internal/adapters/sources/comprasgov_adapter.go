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
	comprasDateFormat = "2006-01-02"
	comprasPageSize   = 100
)

// ComprasGovAdapter fetches listings from the Compras.gov.br open data API.
// It overlaps heavily with PNCP; the dedup stage keeps the PNCP copy when
// both sources return the same listing.
type ComprasGovAdapter struct {
	cfg    config.SourceConfig
	client *sourceapi.Client
	logger zerolog.Logger
}

var _ providers.SourceAdapter = (*ComprasGovAdapter)(nil)

// NewComprasGovAdapter creates a new Compras.gov.br adapter
func NewComprasGovAdapter(cfg config.SourceConfig, logger zerolog.Logger) *ComprasGovAdapter {
	client := sourceapi.NewClient(
		cfg.BaseURL,
		time.Duration(cfg.TimeoutSeconds)*time.Second,
		cfg.RateLimitRPS,
		logger.With().Str("source", cfg.Code).Logger(),
	)
	return &ComprasGovAdapter{
		cfg:    cfg,
		client: client,
		logger: logger.With().Str("source", cfg.Code).Logger(),
	}
}

// Code returns the source's registration code
func (a *ComprasGovAdapter) Code() string {
	return a.cfg.Code
}

// Priority returns the source's dedup ranking
func (a *ComprasGovAdapter) Priority() int {
	return a.cfg.Priority
}

// HealthCheck probes the contratações endpoint with a one-row query
func (a *ComprasGovAdapter) HealthCheck(ctx context.Context) providers.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := time.Now()
	query := url.Values{}
	query.Set("dataPublicacaoPncpInicial", now.AddDate(0, 0, -1).Format(comprasDateFormat))
	query.Set("dataPublicacaoPncpFinal", now.Format(comprasDateFormat))
	query.Set("pagina", "1")
	query.Set("tamanhoPagina", "1")

	var page comprasPage
	if err := a.client.GetJSON(ctx, "/modulo-contratacoes/1_consultarContratacoes_PNCP_14133", query, &page); err != nil {
		a.logger.Warn().Err(err).Msg("health check failed")
		return providers.HealthUnavailable
	}
	return providers.HealthAvailable
}

// Fetch streams normalized listings for the date range. The API has no
// region filter, so regions are applied client-side.
func (a *ComprasGovAdapter) Fetch(ctx context.Context, dateRange entities.DateRange, regions []string) (<-chan entities.UnifiedRecord, <-chan error) {
	recordCh := make(chan entities.UnifiedRecord)
	errCh := make(chan error, 1)

	go func() {
		defer close(recordCh)
		defer close(errCh)

		wanted := regionSet(regions)
		progress := entities.ProgressFromContext(ctx)

		for pageNum := 1; ; pageNum++ {
			var page comprasPage
			err := retry.DoWithLog(ctx, retry.PageConfig(), a.cfg.Code,
				func() error {
					query := url.Values{}
					query.Set("dataPublicacaoPncpInicial", dateRange.From.Format(comprasDateFormat))
					query.Set("dataPublicacaoPncpFinal", dateRange.To.Format(comprasDateFormat))
					query.Set("pagina", strconv.Itoa(pageNum))
					query.Set("tamanhoPagina", strconv.Itoa(comprasPageSize))

					fetchErr := a.client.GetJSON(ctx, "/modulo-contratacoes/1_consultarContratacoes_PNCP_14133", query, &page)
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

			for _, raw := range page.Resultado {
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

			if len(page.Resultado) == 0 || pageNum >= page.TotalPaginas {
				return
			}
		}
	}()

	return recordCh, errCh
}

// Normalize converts one raw Compras.gov.br listing into the unified shape.
// Listings missing the cross-source identity fields fall back to a
// source-scoped key; only listings without an idCompra are dropped.
func (a *ComprasGovAdapter) Normalize(raw comprasListing) (entities.UnifiedRecord, bool) {
	publication := parsePNCPTime(raw.DataPublicacaoPNCP)
	year := raw.AnoCompra
	if year == 0 {
		year = publication.Year()
	}

	var dedupKey string
	switch {
	case raw.OrgaoCNPJ != "" && raw.NumeroCompra != "":
		dedupKey = entities.BuildDedupKey(raw.OrgaoCNPJ, raw.NumeroCompra, year)
	case raw.IDCompra != "":
		dedupKey = entities.BuildSourceScopedDedupKey(a.cfg.Code, raw.IDCompra)
	default:
		return entities.UnifiedRecord{}, false
	}

	record := entities.UnifiedRecord{
		SourceCode:       a.cfg.Code,
		SourceID:         raw.IDCompra,
		DedupKey:         dedupKey,
		Object:           raw.ObjetoCompra,
		EstimatedValue:   raw.ValorTotalEstimado,
		Modality:         raw.ModalidadeNome,
		Status:           raw.SituacaoCompraNome,
		Region:           raw.UFSigla,
		Municipality:     raw.MunicipioNome,
		OrganizationName: raw.OrgaoNome,
		OrganizationID:   raw.OrgaoCNPJ,
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

func regionSet(regions []string) map[string]struct{} {
	set := make(map[string]struct{}, len(regions))
	for _, r := range regions {
		if r != "" {
			set[r] = struct{}{}
		}
	}
	return set
}

type comprasPage struct {
	Resultado      []comprasListing `json:"resultado"`
	TotalRegistros int              `json:"totalRegistros"`
	TotalPaginas   int              `json:"totalPaginas"`
}

type comprasListing struct {
	IDCompra                 string  `json:"idCompra"`
	ObjetoCompra             string  `json:"objetoCompra"`
	ValorTotalEstimado       float64 `json:"valorTotalEstimado"`
	ModalidadeNome           string  `json:"modalidadeNome"`
	SituacaoCompraNome       string  `json:"situacaoCompraNomePncp"`
	NumeroCompra             string  `json:"numeroCompra"`
	AnoCompra                int     `json:"anoCompraPncp"`
	DataPublicacaoPNCP       string  `json:"dataPublicacaoPncp"`
	DataAberturaProposta     string  `json:"dataAberturaPropostaPncp"`
	DataEncerramentoProposta string  `json:"dataEncerramentoPropostaPncp"`
	LinkSistemaOrigem        string  `json:"linkSistemaOrigem"`
	OrgaoCNPJ                string  `json:"orgaoEntidadeCnpj"`
	OrgaoNome                string  `json:"orgaoEntidadeRazaoSocial"`
	UFSigla                  string  `json:"unidadeOrgaoUfSigla"`
	MunicipioNome            string  `json:"unidadeOrgaoMunicipioNome"`
}
