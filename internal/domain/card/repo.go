package card

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/nfcaccess/internal/platform/apierr"
)

var (
	ErrNotFound  = apierr.NotFound("card")
	ErrDuplicate = apierr.New(apierr.KindConflict, apierr.CodeDuplicateCard, "patient already has a card")
)

type Repository interface {
	// Create returns ErrDuplicate when the patient already has a card.
	Create(ctx context.Context, c *Card) error
	GetByID(ctx context.Context, id uuid.UUID) (*Card, error)
	GetByPatient(ctx context.Context, patientID uuid.UUID) (*Card, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Touch(ctx context.Context, id uuid.UUID, at time.Time) error
}
