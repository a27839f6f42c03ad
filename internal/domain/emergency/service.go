package emergency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/nfcaccess/internal/domain/patient"
	"github.com/ehr/nfcaccess/internal/platform/auth"
	"github.com/ehr/nfcaccess/internal/platform/token"
)

const DefaultTTL = 24 * time.Hour

type Service struct {
	repo    Repository
	records patient.Records
	ttl     time.Duration
	tokens  token.Generator
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, records patient.Records, ttl time.Duration, logger zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		repo:    repo,
		records: records,
		ttl:     ttl,
		tokens:  token.DefaultGenerator(),
		logger:  logger.With().Str("component", "emergency_access").Logger(),
		now:     time.Now,
	}
}

func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) SetTokenGenerator(g token.Generator) {
	s.tokens = g
}

// Issue creates an emergency token for patientID. Administrators may issue
// for anyone, patients only for themselves.
func (s *Service) Issue(ctx context.Context, patientID uuid.UUID, actor auth.Actor) (*Issued, error) {
	if err := auth.SelfOrAdmin(actor, patientID.String()); err != nil {
		return nil, err
	}
	raw, err := s.tokens.Generate(token.KindEmergency)
	if err != nil {
		return nil, fmt.Errorf("generate emergency token: %w", err)
	}
	now := s.now().UTC()
	t := &Token{
		ID:          uuid.New(),
		TokenDigest: token.Digest(raw),
		PatientID:   patientID,
		IssuedBy:    actor.ID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	s.logger.Warn().
		Str("token_id", t.ID.String()).
		Str("patient_id", patientID.String()).
		Str("actor_id", actor.ID).
		Time("expires_at", t.ExpiresAt).
		Msg("emergency token issued")
	return &Issued{Token: t, Raw: raw}, nil
}

// IsEmergencyToken reports whether raw has the shape of an emergency token.
// It does not look the token up.
func IsEmergencyToken(raw string) bool {
	return token.ParseAs(raw, token.KindEmergency) == nil
}

func digestOf(raw string) (string, error) {
	if !IsEmergencyToken(raw) {
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

// Validate checks raw and records the access. A successful validation that
// cannot be audited is reported as an error.
func (s *Service) Validate(ctx context.Context, raw, accessor string) (*Token, error) {
	return s.ValidateFor(ctx, raw, uuid.Nil, accessor)
}

// ValidateFor is Validate scoped to patientID. A token issued for another
// patient is refused before any access is recorded. uuid.Nil matches the
// token's own patient.
func (s *Service) ValidateFor(ctx context.Context, raw string, patientID uuid.UUID, accessor string) (*Token, error) {
	digest, err := digestOf(raw)
	if err != nil {
		return nil, err
	}
	t, err := s.repo.GetByDigest(ctx, digest)
	if err != nil {
		return nil, tokenMiss(err)
	}
	now := s.now().UTC()
	if err := t.checkAt(now); err != nil {
		s.logger.Warn().Err(err).Str("token_id", t.ID.String()).Str("accessor", accessor).Msg("emergency token refused")
		return nil, err
	}
	if patientID != uuid.Nil && t.PatientID != patientID {
		s.logger.Warn().
			Str("token_id", t.ID.String()).
			Str("requested_patient_id", patientID.String()).
			Str("accessor", accessor).
			Msg("emergency token presented for another patient")
		return nil, ErrPatientMismatch
	}
	if err := s.repo.AddAccess(ctx, &Access{TokenID: t.ID, AccessedAt: now, Accessor: accessor}); err != nil {
		return nil, err
	}
	s.logger.Warn().
		Str("token_id", t.ID.String()).
		Str("patient_id", t.PatientID.String()).
		Str("accessor", accessor).
		Msg("emergency access")
	return t, nil
}

// ResolveAccessibleData returns the emergency view of patientID. The
// document filter runs here whatever the record store returned.
func (s *Service) ResolveAccessibleData(ctx context.Context, raw string, patientID uuid.UUID, accessor string) (*Payload, error) {
	t, err := s.ValidateFor(ctx, raw, patientID, accessor)
	if err != nil {
		return nil, err
	}
	return s.Payload(ctx, t)
}

// Resolve returns the emergency view of the token's own patient.
func (s *Service) Resolve(ctx context.Context, raw, accessor string) (*Payload, error) {
	t, err := s.Validate(ctx, raw, accessor)
	if err != nil {
		return nil, err
	}
	return s.Payload(ctx, t)
}

// Payload builds the emergency view for an already validated token. It
// records nothing.
func (s *Service) Payload(ctx context.Context, t *Token) (*Payload, error) {
	p, err := s.PatientView(ctx, t.PatientID)
	if err != nil {
		return nil, err
	}
	expires := t.ExpiresAt
	p.ExpiresAt = &expires
	return p, nil
}

// PatientView is the emergency subset of patientID's records, with no
// token expiry attached.
func (s *Service) PatientView(ctx context.Context, patientID uuid.UUID) (*Payload, error) {
	demo, err := s.records.Demographics(ctx, patientID)
	if errors.Is(err, patient.ErrNotFound) {
		demo = &patient.Demographics{PatientID: patientID, Allergies: []string{}}
	} else if err != nil {
		return nil, err
	}
	docs, err := s.records.EmergencyDocuments(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return &Payload{
		Demographics: demo,
		Documents:    patient.EmergencySubset(patientID, docs),
	}, nil
}

// Revoke disables raw for good. Revoking twice is not an error.
func (s *Service) Revoke(ctx context.Context, raw string, actor auth.Actor) error {
	digest, err := digestOf(raw)
	if err != nil {
		return err
	}
	alreadyRevoked := false
	t, err := s.repo.Mutate(ctx, digest, func(t *Token) error {
		if err := auth.SelfOrAdmin(actor, t.PatientID.String()); err != nil {
			return err
		}
		if t.Revoked {
			alreadyRevoked = true
			return nil
		}
		at := s.now().UTC()
		t.Revoked = true
		t.RevokedAt = &at
		return nil
	})
	if err != nil {
		return tokenMiss(err)
	}
	if !alreadyRevoked {
		s.logger.Warn().
			Str("token_id", t.ID.String()).
			Str("actor_id", actor.ID).
			Msg("emergency token revoked")
	}
	return nil
}

// AccessLog lists every recorded use of a token, oldest first.
func (s *Service) AccessLog(ctx context.Context, actor auth.Actor, tokenID uuid.UUID) ([]*Access, error) {
	t, err := s.repo.GetByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if err := auth.SelfOrAdmin(actor, t.PatientID.String()); err != nil {
		return nil, err
	}
	return s.repo.ListAccess(ctx, tokenID)
}
