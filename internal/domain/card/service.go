package card

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/nfcaccess/internal/platform/apierr"
	"github.com/ehr/nfcaccess/internal/platform/auth"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "card_registry").Logger(), now: time.Now}
}

// SetClock replaces the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Create registers the patient's card. A patient holds at most one card.
func (s *Service) Create(ctx context.Context, patientID uuid.UUID, active bool, actor auth.Actor) (*Card, error) {
	if patientID == uuid.Nil {
		return nil, apierr.Validation("patient_id is required")
	}
	c := &Card{
		ID:        uuid.New(),
		PatientID: patientID,
		Active:    active,
		CreatedBy: actor.ID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("card_id", c.ID.String()).
		Str("patient_id", patientID.String()).
		Str("actor_id", actor.ID).
		Msg("card registered")
	return c, nil
}

// SetActive is idempotent.
func (s *Service) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	if err := s.repo.SetActive(ctx, id, active); err != nil {
		return err
	}
	s.logger.Info().Str("card_id", id.String()).Bool("active", active).Msg("card state changed")
	return nil
}

func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (*Card, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetByPatient(ctx context.Context, patientID uuid.UUID) (*Card, error) {
	return s.repo.GetByPatient(ctx, patientID)
}

// Touch records a tap. Failures are logged and swallowed.
func (s *Service) Touch(ctx context.Context, id uuid.UUID, at time.Time) {
	if err := s.repo.Touch(ctx, id, at); err != nil {
		s.logger.Warn().Err(err).Str("card_id", id.String()).Msg("update card last_used failed")
	}
}
