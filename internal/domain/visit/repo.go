package visit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/nfcaccess/internal/platform/apierr"
)

var (
	ErrNotFound    = apierr.NotFound("visit")
	ErrCompleted   = apierr.New(apierr.KindConflict, apierr.CodeVisitCompleted, "visit has already been completed")
	ErrAdminOnly   = apierr.New(apierr.KindForbidden, apierr.CodeForbiddenRole, "only administrators may create visits")
	ErrSessionUsed = apierr.New(apierr.KindConflict, apierr.CodeAlreadyBound, "session has already opened a visit")
)

type Repository interface {
	// Create returns ErrSessionUsed when the creating session already opened
	// a visit.
	Create(ctx context.Context, v *Visit) error
	GetByID(ctx context.Context, id uuid.UUID) (*Visit, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error)
	// Complete marks an open visit completed. It returns ErrCompleted when
	// the visit is already closed.
	Complete(ctx context.Context, id uuid.UUID, at time.Time) error
}
