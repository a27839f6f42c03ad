package session

import (
	"context"

	"github.com/google/uuid"

	"github.com/ehr/nfcaccess/internal/platform/apierr"
)

var (
	ErrNotFound        = apierr.NotFound("session")
	ErrTokenNotFound   = apierr.New(apierr.KindNotFound, apierr.CodeInvalidToken, "session token not recognized")
	ErrExpired         = apierr.New(apierr.KindExpired, apierr.CodeExpiredSession, "session has expired")
	ErrRevoked         = apierr.New(apierr.KindRevoked, apierr.CodeRevokedSession, "session has been revoked")
	ErrAlreadyBound    = apierr.New(apierr.KindConflict, apierr.CodeAlreadyBound, "session is already bound to a visit")
	ErrVisitTaken      = apierr.New(apierr.KindConflict, apierr.CodeAlreadyBound, "visit is already bound to another session")
	ErrPatientMismatch = apierr.New(apierr.KindForbidden, apierr.CodePatientMismatch, "patient does not match the session")
	ErrCardInactive    = apierr.New(apierr.KindForbidden, apierr.CodeCardInactive, "card is inactive")
	ErrMaxLifetime     = apierr.New(apierr.KindConflict, apierr.CodeMaxLifetimeExceeded, "extension would exceed the maximum session lifetime")
)

type Repository interface {
	Create(ctx context.Context, s *Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*Session, error)
	GetByDigest(ctx context.Context, digest string) (*Session, error)
	// Mutate loads the session under a row lock, applies fn and persists the
	// mutable fields (expires_at, revoked, revoked_at, visit_id) when fn
	// returns nil. Concurrent mutations of one session are serialized.
	Mutate(ctx context.Context, digest string, fn func(s *Session) error) (*Session, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Session, int, error)

	AddActivity(ctx context.Context, a *Activity) error
	ListActivities(ctx context.Context, sessionID uuid.UUID) ([]*Activity, error)
	ListActivitiesByVisit(ctx context.Context, visitID uuid.UUID) ([]*Activity, error)
}
