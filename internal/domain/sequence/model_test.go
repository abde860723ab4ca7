package sequence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stayops/stayops/internal/types"
)

func TestFormatLegalNumber(t *testing.T) {
	assert.Equal(t, "FAC-2025-00001", FormatLegalNumber("FAC", 2025, 1))
	assert.Equal(t, "AVO-2025-00042", FormatLegalNumber("AVO", 2025, 42))
	assert.Equal(t, "REC-2026-99999", FormatLegalNumber("REC", 2026, 99999))

	// Width grows past the padded range instead of truncating
	assert.Equal(t, "FAC-2025-100000", FormatLegalNumber("FAC", 2025, 100000))
}

func TestScopeKeyString(t *testing.T) {
	key := ScopeKey{
		TenantID:     "tenant-1",
		DocumentType: types.DocumentTypeFacture,
		Year:         2025,
	}
	assert.Equal(t, "tenant-1/FACTURE/2025", key.String())
}
