package patient

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/nfcaccess/internal/platform/apierr"
)

var ErrNotFound = apierr.NotFound("patient demographics")

// Records reads patient data owned by other services.
type Records interface {
	Demographics(ctx context.Context, patientID uuid.UUID) (*Demographics, error)
	// EmergencyDocuments returns candidate documents for emergency display.
	// Callers still filter with EmergencySubset.
	EmergencyDocuments(ctx context.Context, patientID uuid.UUID) ([]*Document, error)
}
