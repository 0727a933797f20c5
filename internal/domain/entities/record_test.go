package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildDedupKey_SourceIndependent(t *testing.T) {
	// Same listing as published by two different sources: one writes the
	// CNPJ with punctuation, the other does not.
	a := BuildDedupKey("00.394.460/0001-41", "90012/2025", 2025)
	b := BuildDedupKey("00394460000141", "900122025", 2025)

	assert.Equal(t, a, b)
}

func TestBuildDedupKey_DistinctListings(t *testing.T) {
	a := BuildDedupKey("00394460000141", "90012", 2025)
	b := BuildDedupKey("00394460000141", "90013", 2025)
	c := BuildDedupKey("00394460000141", "90012", 2024)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestBuildDedupKey_CaseAndWhitespace(t *testing.T) {
	a := BuildDedupKey(" ABC123 ", "PE-10", 2025)
	b := BuildDedupKey("abc123", "pe10", 2025)

	assert.Equal(t, a, b)
}

func TestBuildSourceScopedDedupKey_ScopedPerSource(t *testing.T) {
	a := BuildSourceScopedDedupKey("pncp", "ctrl-1")
	b := BuildSourceScopedDedupKey("comprasgov", "ctrl-1")

	assert.NotEqual(t, a, b, "the same raw id from two sources must not merge")
	assert.NotEqual(t, a, BuildDedupKey("pncp", "ctrl-1", 0))
}

func TestParamsHash_ExcludesDateRange(t *testing.T) {
	base := SearchParams{
		Sector:     "construção",
		Regions:    []string{"SP", "RJ"},
		Statuses:   []string{"open"},
		Modalities: []string{"pregao"},
		SearchMode: "broad",
		DateRange: DateRange{
			From: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			To:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		},
	}
	shifted := base
	shifted.DateRange = DateRange{
		From: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
	}
	shifted.ForceFresh = true

	assert.Equal(t, base.ParamsHash(), shifted.ParamsHash())
}

func TestParamsHash_OrderInsensitiveLists(t *testing.T) {
	a := SearchParams{Regions: []string{"SP", "RJ", "MG"}}
	b := SearchParams{Regions: []string{"mg", "sp", "rj"}}

	assert.Equal(t, a.ParamsHash(), b.ParamsHash())
}

func TestParamsHash_DifferentFilters(t *testing.T) {
	a := SearchParams{Sector: "saude", Regions: []string{"SP"}}
	b := SearchParams{Sector: "saude", Regions: []string{"RJ"}}

	assert.NotEqual(t, a.ParamsHash(), b.ParamsHash())
}
