package entities

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// DateRange bounds a fetch window
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// SearchParams are the normalized query parameters of one search request
type SearchParams struct {
	Sector     string    `json:"sector"`
	Regions    []string  `json:"regions"`
	Statuses   []string  `json:"statuses"`
	Modalities []string  `json:"modalities"`
	SearchMode string    `json:"search_mode"`
	DateRange  DateRange `json:"date_range"`

	// ForceFresh bypasses the cache read path but still participates in the
	// write path. CachedOnly serves straight from cache without a live fetch.
	ForceFresh bool `json:"force_fresh,omitempty"`
	CachedOnly bool `json:"cached_only,omitempty"`
}

// ParamsHash is the cache key for these parameters. The date range is
// deliberately excluded so a recent good result can still serve a request
// whose exact date bounds drifted; ForceFresh/CachedOnly are request
// modifiers, not identity.
func (p SearchParams) ParamsHash() string {
	parts := []string{
		"sector=" + strings.ToLower(strings.TrimSpace(p.Sector)),
		"regions=" + canonicalList(p.Regions),
		"statuses=" + canonicalList(p.Statuses),
		"modalities=" + canonicalList(p.Modalities),
		"mode=" + strings.ToLower(strings.TrimSpace(p.SearchMode)),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:16])
}

func canonicalList(values []string) string {
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			cleaned = append(cleaned, v)
		}
	}
	sort.Strings(cleaned)
	return strings.Join(cleaned, ",")
}

// CacheEntry is the payload persisted per ParamsHash. Only written for
// non-empty results.
type CacheEntry struct {
	ParamsHash  string          `json:"params_hash"`
	Records     []UnifiedRecord `json:"records"`
	TotalCount  int             `json:"total_count"`
	FetchedAt   time.Time       `json:"fetched_at"`
	SourcesUsed []string        `json:"sources_used"`
}
