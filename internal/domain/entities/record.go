package entities

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// UnifiedRecord is the canonical shape every source adapter normalizes its
// raw listings into. Two records from different sources describing the same
// real-world listing carry the same DedupKey.
type UnifiedRecord struct {
	SourceCode       string     `json:"source_code" db:"source_code"`
	SourceID         string     `json:"source_id" db:"source_id"`
	DedupKey         string     `json:"dedup_key" db:"dedup_key"`
	Object           string     `json:"object" db:"object"`
	EstimatedValue   float64    `json:"estimated_value" db:"estimated_value"`
	Modality         string     `json:"modality" db:"modality"`
	Status           string     `json:"status" db:"status"`
	Region           string     `json:"region" db:"region"`
	Municipality     string     `json:"municipality" db:"municipality"`
	OrganizationName string     `json:"organization_name" db:"organization_name"`
	OrganizationID   string     `json:"organization_id" db:"organization_id"`
	ListingNumber    string     `json:"listing_number" db:"listing_number"`
	PublicationDate  time.Time  `json:"publication_date" db:"publication_date"`
	OpeningDate      *time.Time `json:"opening_date,omitempty" db:"opening_date"`
	ClosingDate      *time.Time `json:"closing_date,omitempty" db:"closing_date"`
	SourceURL        string     `json:"source_url" db:"source_url"`
}

// BuildDedupKey derives the cross-source identity key for a listing from the
// publishing organization, the listing number and the year. The inputs are
// normalized (punctuation stripped, case folded) so that e.g. a CNPJ written
// as "00.394.460/0001-41" in one source and "00394460000141" in another
// still collide.
func BuildDedupKey(organizationID, listingNumber string, year int) string {
	canonical := fmt.Sprintf("%s:%s:%d",
		normalizeKeyPart(organizationID),
		normalizeKeyPart(listingNumber),
		year,
	)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:16])
}

// BuildSourceScopedDedupKey identifies a listing whose organization or
// number fields are missing, so the cross-source key cannot be built. The
// key is scoped to the source, so such listings still reach the caller but
// never merge with records from other sources.
func BuildSourceScopedDedupKey(sourceCode, sourceID string) string {
	canonical := fmt.Sprintf("src:%s:%s",
		normalizeKeyPart(sourceCode),
		normalizeKeyPart(sourceID),
	)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:16])
}

// normalizeKeyPart keeps only letters and digits, lowercased
func normalizeKeyPart(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
