package sequence

import (
	"fmt"
	"time"

	"github.com/stayops/stayops/internal/types"
)

// ScopeKey identifies one independent counter stream. Counters for different
// scopes never contend with each other.
type ScopeKey struct {
	TenantID     string
	DocumentType types.DocumentType
	Year         int
}

func (k ScopeKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.TenantID, k.DocumentType, k.Year)
}

// Counter is the durable per-scope sequence row. LastNumber only ever grows,
// by exactly 1 per successful allocation, under an exclusive row lock.
// RowVersion bumps on every save; with gapless numbers it should always equal
// LastNumber, so a divergence points at writes outside the lock protocol.
// Rows are created lazily on first allocation and never deleted.
type Counter struct {
	TenantID     string             `db:"tenant_id"`
	DocumentType types.DocumentType `db:"document_type"`
	Year         int                `db:"year"`
	Prefix       string             `db:"prefix"`
	LastNumber   int64              `db:"last_number"`
	RowVersion   int64              `db:"row_version"`
	CreatedAt    time.Time          `db:"created_at"`
	UpdatedAt    time.Time          `db:"updated_at"`
}

func (c *Counter) ScopeKey() ScopeKey {
	return ScopeKey{
		TenantID:     c.TenantID,
		DocumentType: c.DocumentType,
		Year:         c.Year,
	}
}

// FormatLegalNumber renders the immutable document number for a scope,
// e.g. FAC-2025-00001.
func FormatLegalNumber(prefix string, year int, number int64) string {
	return fmt.Sprintf("%s-%d-%05d", prefix, year, number)
}
