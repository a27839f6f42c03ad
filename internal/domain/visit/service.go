package visit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/nfcaccess/internal/domain/session"
	"github.com/ehr/nfcaccess/internal/platform/apierr"
	"github.com/ehr/nfcaccess/internal/platform/auth"
	"github.com/ehr/nfcaccess/internal/platform/db"
)

// Sessions is the part of the session manager visits depend on.
type Sessions interface {
	Validate(ctx context.Context, raw string) (*session.Session, error)
	BindVisit(ctx context.Context, raw string, visitID uuid.UUID, actor auth.Actor) (*session.Session, error)
	RecordActivity(ctx context.Context, sessionID uuid.UUID, actorID, activity string, visitID *uuid.UUID, details string) error
	ActivitiesByVisit(ctx context.Context, visitID uuid.UUID) ([]*session.Activity, error)
}

type Service struct {
	repo     Repository
	sessions Sessions
	tx       db.Transactor
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, sessions Sessions, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		sessions: sessions,
		tx:       tx,
		logger:   logger.With().Str("component", "visit_binder").Logger(),
		now:      time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// CreateVisit opens a visit for patientID under a valid session and binds
// the session to it. Both writes commit together or not at all.
func (s *Service) CreateVisit(ctx context.Context, actor auth.Actor, patientID uuid.UUID, raw string, f Fields) (*Visit, error) {
	if !actor.IsAdmin() {
		return nil, ErrAdminOnly
	}
	if !validVisitTypes[f.VisitType] {
		return nil, apierr.Validation("visit_type must be one of outpatient, inpatient, emergency, follow_up")
	}
	sess, err := s.sessions.Validate(ctx, raw)
	if err != nil {
		return nil, err
	}
	if sess.PatientID != patientID {
		return nil, session.ErrPatientMismatch
	}
	if sess.VisitID != nil {
		return nil, session.ErrAlreadyBound
	}

	v := &Visit{
		ID:                uuid.New(),
		PatientID:         patientID,
		AttendingID:       f.AttendingID,
		VisitType:         f.VisitType,
		Reason:            f.Reason,
		Status:            StatusOpen,
		CreatingSessionID: sess.ID,
		CreatedBy:         actor.ID,
		CreatedAt:         s.now().UTC(),
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, v); err != nil {
			return err
		}
		if _, err := s.sessions.BindVisit(ctx, raw, v.ID, actor); err != nil {
			return err
		}
		return s.sessions.RecordActivity(ctx, sess.ID, actor.ID, session.ActivityCreateVisit, &v.ID, v.VisitType)
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Str("patient_id", patientID.String()).
			Str("session_id", sess.ID.String()).
			Msg("visit creation rolled back")
		return nil, err
	}

	s.logger.Info().
		Str("visit_id", v.ID.String()).
		Str("patient_id", patientID.String()).
		Str("session_id", sess.ID.String()).
		Str("actor_id", actor.ID).
		Msg("visit created")
	return v, nil
}

// CanDoctorAccess reports whether raw resolves to a valid session bound to
// visitID. Ordinary denials are false, not errors.
func (s *Service) CanDoctorAccess(ctx context.Context, visitID uuid.UUID, raw string) (bool, error) {
	sess, err := s.activeSession(ctx, raw)
	if err != nil || sess == nil {
		return false, err
	}
	return sess.BoundTo(visitID), nil
}

// activeSession returns nil without error when raw is not a usable session.
func (s *Service) activeSession(ctx context.Context, raw string) (*session.Session, error) {
	if raw == "" {
		return nil, nil
	}
	sess, err := s.sessions.Validate(ctx, raw)
	if err == nil {
		return sess, nil
	}
	if apierr.HasKind(err, apierr.KindNotFound) || apierr.HasKind(err, apierr.KindExpired) || apierr.HasKind(err, apierr.KindRevoked) {
		return nil, nil
	}
	return nil, err
}

// PatientOf lets the session manager check visit ownership when binding.
func (s *Service) PatientOf(ctx context.Context, visitID uuid.UUID) (uuid.UUID, error) {
	v, err := s.repo.GetByID(ctx, visitID)
	if err != nil {
		return uuid.Nil, err
	}
	return v.PatientID, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Visit, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// Checkout completes a visit. The caller has already authorized the write;
// when raw is the session bound to the visit the checkout is logged on it.
func (s *Service) Checkout(ctx context.Context, actor auth.Actor, visitID uuid.UUID, raw string) (*Visit, error) {
	if err := s.repo.Complete(ctx, visitID, s.now().UTC()); err != nil {
		return nil, err
	}
	if sess, err := s.activeSession(ctx, raw); err == nil && sess != nil && sess.BoundTo(visitID) {
		s.recordActivity(ctx, sess.ID, actor, visitID, session.ActivityCheckoutVisit)
	}
	s.logger.Info().Str("visit_id", visitID.String()).Str("actor_id", actor.ID).Msg("visit checked out")
	return s.repo.GetByID(ctx, visitID)
}

// Activities lists everything done under sessions against visitID, oldest
// first.
func (s *Service) Activities(ctx context.Context, visitID uuid.UUID) ([]*session.Activity, error) {
	items, err := s.sessions.ActivitiesByVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*session.Activity{}
	}
	return items, nil
}

// ViewedWith logs a read of visitID under raw when raw is a session bound to
// that visit.
func (s *Service) ViewedWith(ctx context.Context, raw string, actor auth.Actor, visitID uuid.UUID) {
	sess, err := s.activeSession(ctx, raw)
	if err != nil || sess == nil || !sess.BoundTo(visitID) {
		return
	}
	s.recordActivity(ctx, sess.ID, actor, visitID, session.ActivityViewVisit)
}

// recordActivity appends a best-effort activity entry.
func (s *Service) recordActivity(ctx context.Context, sessionID uuid.UUID, actor auth.Actor, visitID uuid.UUID, activity string) {
	if err := s.sessions.RecordActivity(ctx, sessionID, actor.ID, activity, &visitID, ""); err != nil {
		s.logger.Warn().Err(err).Str("visit_id", visitID.String()).Str("activity", activity).Msg("record visit activity failed")
	}
}
