package providers

import (
	"context"
	"errors"

	"github.com/govscan/licitahub/backend/internal/domain/entities"
)

// ErrMissingCredentials is returned by Fetch when a credential-gated source
// is attempted without its key configured
var ErrMissingCredentials = errors.New("source credentials not configured")

// HealthStatus is the result of a source health probe
type HealthStatus string

const (
	// HealthAvailable means the source answered the probe
	HealthAvailable HealthStatus = "available"

	// HealthUnavailable means the probe failed; never raised as an error
	HealthUnavailable HealthStatus = "unavailable"

	// HealthMissingCredentials means the source requires credentials that are
	// not configured. The engine never attempts such a source.
	HealthMissingCredentials HealthStatus = "missing_credentials"
)

// SourceAdapter wraps one external procurement data source.
//
// Fetch streams normalized records on the first channel and reports at most
// one terminal error on the second; both are closed when the fetch is done.
// Records already delivered before an error or cancellation remain valid
// (partial credit). Implementations rate-limit themselves and retry
// individual pages at most 3 times with exponential backoff.
type SourceAdapter interface {
	// Code returns the source's registration code (e.g. "pncp")
	Code() string

	// Priority returns the source's dedup ranking; lower wins on conflicts
	Priority() int

	// HealthCheck probes the source within a short bounded timeout. It must
	// not panic or return through an error on network failure; that outcome
	// is HealthUnavailable.
	HealthCheck(ctx context.Context) HealthStatus

	// Fetch retrieves listings for the date range, optionally partitioned by
	// region (UF). Restartable only at adapter granularity.
	Fetch(ctx context.Context, dateRange entities.DateRange, regions []string) (<-chan entities.UnifiedRecord, <-chan error)
}
