package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
	"github.com/govscan/licitahub/backend/internal/domain/providers"
)

// MockAdapter emits deterministic listings for local development, so the
// full pipeline can run without hitting government APIs. Enabled with
// MOCK_SOURCES=true.
type MockAdapter struct {
	code     string
	priority int
	count    int
}

var _ providers.SourceAdapter = (*MockAdapter)(nil)

// NewMockAdapter creates a mock source emitting count listings per fetch
func NewMockAdapter(code string, priority, count int) *MockAdapter {
	if count <= 0 {
		count = 25
	}
	return &MockAdapter{code: code, priority: priority, count: count}
}

// Code returns the source's registration code
func (a *MockAdapter) Code() string {
	return a.code
}

// Priority returns the source's dedup ranking
func (a *MockAdapter) Priority() int {
	return a.priority
}

// HealthCheck always reports available
func (a *MockAdapter) HealthCheck(ctx context.Context) providers.HealthStatus {
	return providers.HealthAvailable
}

// Fetch emits deterministic listings inside the date range. The same
// organization and listing numbers are used regardless of source code, so
// two mock sources produce colliding dedup keys and exercise the dedup
// stage.
func (a *MockAdapter) Fetch(ctx context.Context, dateRange entities.DateRange, regions []string) (<-chan entities.UnifiedRecord, <-chan error) {
	recordCh := make(chan entities.UnifiedRecord)
	errCh := make(chan error, 1)

	go func() {
		defer close(recordCh)
		defer close(errCh)

		region := "SP"
		if len(regions) > 0 {
			region = regions[0]
		}

		for i := 0; i < a.count; i++ {
			orgID := fmt.Sprintf("%014d", 10000000000000+i%5)
			number := fmt.Sprintf("%03d/2025", i+1)
			publication := dateRange.From.Add(time.Duration(i) * time.Hour)
			if publication.After(dateRange.To) {
				publication = dateRange.To
			}

			record := entities.UnifiedRecord{
				SourceCode:       a.code,
				SourceID:         fmt.Sprintf("%s-%d", a.code, i),
				DedupKey:         entities.BuildDedupKey(orgID, number, 2025),
				Object:           fmt.Sprintf("Aquisição de materiais de escritório - lote %d", i+1),
				EstimatedValue:   float64(10000 * (i + 1)),
				Modality:         "Pregão Eletrônico",
				Status:           "Divulgada no PNCP",
				Region:           region,
				Municipality:     "São Paulo",
				OrganizationName: fmt.Sprintf("Prefeitura Municipal %d", i%5),
				OrganizationID:   orgID,
				ListingNumber:    number,
				PublicationDate:  publication,
			}

			select {
			case recordCh <- record:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
	}()

	return recordCh, errCh
}
