package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/nfcaccess/internal/domain/card"
	"github.com/ehr/nfcaccess/internal/platform/apierr"
	"github.com/ehr/nfcaccess/internal/platform/auth"
	"github.com/ehr/nfcaccess/internal/platform/token"
)

// Policy bounds session lifetimes.
type Policy struct {
	TTL         time.Duration
	Extension   time.Duration
	MaxLifetime time.Duration
}

func DefaultPolicy() Policy {
	return Policy{TTL: 4 * time.Hour, Extension: 4 * time.Hour, MaxLifetime: 12 * time.Hour}
}

// Cards is the part of the card registry sessions depend on.
type Cards interface {
	GetByID(ctx context.Context, id uuid.UUID) (*card.Card, error)
	Touch(ctx context.Context, id uuid.UUID, at time.Time)
}

// VisitOwners resolves the patient a visit belongs to.
type VisitOwners interface {
	PatientOf(ctx context.Context, visitID uuid.UUID) (uuid.UUID, error)
}

// Created is returned once, at creation. Token is not retrievable later.
type Created struct {
	Session *Session
	Token   string
}

type Service struct {
	repo   Repository
	cards  Cards
	visits VisitOwners
	policy Policy
	tokens token.Generator
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, cards Cards, policy Policy, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		cards:  cards,
		policy: policy,
		tokens: token.DefaultGenerator(),
		logger: logger.With().Str("component", "session_manager").Logger(),
		now:    time.Now,
	}
}

// SetVisitOwners wires the visit lookup used by BindVisit. The visit
// service depends on this one, so it is attached after construction.
func (s *Service) SetVisitOwners(v VisitOwners) {
	s.visits = v
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) SetTokenGenerator(g token.Generator) {
	s.tokens = g
}

func (s *Service) Policy() Policy {
	return s.policy
}

// Create opens a session from a card tap.
func (s *Service) Create(ctx context.Context, patientID, cardID uuid.UUID, actor auth.Actor) (*Created, error) {
	if patientID == uuid.Nil || cardID == uuid.Nil {
		return nil, apierr.Validation("patient_id and card_id are required")
	}
	c, err := s.cards.GetByID(ctx, cardID)
	if err != nil {
		return nil, err
	}
	if !c.Active {
		return nil, ErrCardInactive
	}
	if c.PatientID != patientID {
		return nil, ErrPatientMismatch
	}

	raw, err := s.tokens.Generate(token.KindSession)
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	now := s.now().UTC()
	sess := &Session{
		ID:            uuid.New(),
		TokenDigest:   token.Digest(raw),
		PatientID:     patientID,
		CardID:        cardID,
		InitiatedBy:   actor.ID,
		InitiatorRole: string(actor.Role),
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.policy.TTL),
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, err
	}
	s.cards.Touch(ctx, cardID, now)
	s.recordBestEffort(ctx, sess.ID, actor.ID, ActivityCreate, nil, "")

	s.logger.Info().
		Str("session_id", sess.ID.String()).
		Str("patient_id", patientID.String()).
		Str("actor_id", actor.ID).
		Time("expires_at", sess.ExpiresAt).
		Msg("session created")
	return &Created{Session: sess, Token: raw}, nil
}

// digestOf rejects anything that is not a well-formed session token. An
// emergency token is never looked up as a session.
func digestOf(raw string) (string, error) {
	if token.ParseAs(raw, token.KindSession) != nil {
		return "", ErrTokenNotFound
	}
	return token.Digest(raw), nil
}

func tokenMiss(err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrTokenNotFound
	}
	return err
}

// Validate returns the session when it is neither revoked nor expired.
func (s *Service) Validate(ctx context.Context, raw string) (*Session, error) {
	digest, err := digestOf(raw)
	if err != nil {
		return nil, err
	}
	sess, err := s.repo.GetByDigest(ctx, digest)
	if err != nil {
		return nil, tokenMiss(err)
	}
	if err := sess.checkAt(s.now()); err != nil {
		return nil, err
	}
	return sess, nil
}

// Extend pushes expiry out by the given duration, or by the policy
// extension when by is zero. A dead session cannot be extended.
func (s *Service) Extend(ctx context.Context, raw string, by time.Duration, actor auth.Actor) (*Session, error) {
	if by == 0 {
		by = s.policy.Extension
	}
	if by < 0 {
		return nil, apierr.Validation("extension must be positive")
	}
	digest, err := digestOf(raw)
	if err != nil {
		return nil, err
	}
	sess, err := s.repo.Mutate(ctx, digest, func(sess *Session) error {
		if err := sess.checkAt(s.now()); err != nil {
			return err
		}
		next := sess.ExpiresAt.Add(by)
		if next.Sub(sess.CreatedAt) > s.policy.MaxLifetime {
			return ErrMaxLifetime
		}
		sess.ExpiresAt = next
		return nil
	})
	if err != nil {
		return nil, tokenMiss(err)
	}
	s.recordBestEffort(ctx, sess.ID, actor.ID, ActivityExtend, nil, "extended by "+by.String())
	return sess, nil
}

// Revoke is idempotent and irreversible.
func (s *Service) Revoke(ctx context.Context, raw string, actor auth.Actor) error {
	digest, err := digestOf(raw)
	if err != nil {
		return err
	}
	alreadyRevoked := false
	sess, err := s.repo.Mutate(ctx, digest, func(sess *Session) error {
		if sess.Revoked {
			alreadyRevoked = true
			return nil
		}
		at := s.now().UTC()
		sess.Revoked = true
		sess.RevokedAt = &at
		return nil
	})
	if err != nil {
		return tokenMiss(err)
	}
	if alreadyRevoked {
		return nil
	}
	s.recordBestEffort(ctx, sess.ID, actor.ID, ActivityRevoke, nil, "")
	s.logger.Info().
		Str("session_id", sess.ID.String()).
		Str("actor_id", actor.ID).
		Msg("session revoked")
	return nil
}

// BindVisit attaches visitID to the session. Binding the visit a session is
// already bound to is a no-op; any other visit is rejected.
func (s *Service) BindVisit(ctx context.Context, raw string, visitID uuid.UUID, actor auth.Actor) (*Session, error) {
	digest, err := digestOf(raw)
	if err != nil {
		return nil, err
	}
	if s.visits == nil {
		return nil, fmt.Errorf("session: visit lookup not configured")
	}
	visitPatient, err := s.visits.PatientOf(ctx, visitID)
	if err != nil {
		return nil, err
	}

	changed := false
	sess, err := s.repo.Mutate(ctx, digest, func(sess *Session) error {
		if err := sess.checkAt(s.now()); err != nil {
			return err
		}
		if sess.VisitID != nil {
			if *sess.VisitID == visitID {
				return nil
			}
			return ErrAlreadyBound
		}
		if sess.PatientID != visitPatient {
			return ErrPatientMismatch
		}
		v := visitID
		sess.VisitID = &v
		changed = true
		return nil
	})
	if err != nil {
		return nil, tokenMiss(err)
	}
	if changed {
		if err := s.RecordActivity(ctx, sess.ID, actor.ID, ActivityBind, &visitID, ""); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Session, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// Activities lists the session's activity log, oldest first.
func (s *Service) Activities(ctx context.Context, sessionID uuid.UUID) ([]*Activity, error) {
	if _, err := s.repo.GetByID(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListActivities(ctx, sessionID)
}

// ActivitiesByVisit lists activity recorded against a visit across all
// sessions bound to it, oldest first.
func (s *Service) ActivitiesByVisit(ctx context.Context, visitID uuid.UUID) ([]*Activity, error) {
	return s.repo.ListActivitiesByVisit(ctx, visitID)
}

// RecordActivity appends to the session's activity log. It joins the
// caller's transaction when one is open.
func (s *Service) RecordActivity(ctx context.Context, sessionID uuid.UUID, actorID, activity string, visitID *uuid.UUID, details string) error {
	if actorID == "" {
		actorID = "anonymous"
	}
	return s.repo.AddActivity(ctx, &Activity{
		ID:         uuid.New(),
		SessionID:  sessionID,
		ActorID:    actorID,
		Activity:   activity,
		VisitID:    visitID,
		Details:    details,
		OccurredAt: s.now().UTC(),
	})
}

func (s *Service) recordBestEffort(ctx context.Context, sessionID uuid.UUID, actorID, activity string, visitID *uuid.UUID, details string) {
	if err := s.RecordActivity(ctx, sessionID, actorID, activity, visitID, details); err != nil {
		s.logger.Warn().Err(err).
			Str("session_id", sessionID.String()).
			Str("activity", activity).
			Msg("record session activity failed")
	}
}

// Now exposes the service clock to collaborators that evaluate sessions.
func (s *Service) Now() time.Time {
	return s.now()
}
