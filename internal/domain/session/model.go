package session

import (
	"time"

	"github.com/google/uuid"
)

// Session is a time-boxed grant created by an NFC tap. The raw token is only
// known at creation; storage keeps its digest.
type Session struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	TokenDigest   string     `db:"token_digest" json:"-"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	CardID        uuid.UUID  `db:"card_id" json:"card_id"`
	InitiatedBy   string     `db:"initiated_by" json:"initiated_by"`
	InitiatorRole string     `db:"initiator_role" json:"initiator_role"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt     time.Time  `db:"expires_at" json:"expires_at"`
	Revoked       bool       `db:"revoked" json:"revoked"`
	RevokedAt     *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	VisitID       *uuid.UUID `db:"visit_id" json:"visit_id,omitempty"`
}

// ValidAt reports whether the session grants access at now.
func (s *Session) ValidAt(now time.Time) bool {
	return now.Before(s.ExpiresAt) && !s.Revoked
}

// checkAt returns nil for a valid session. Revocation wins over expiry.
func (s *Session) checkAt(now time.Time) error {
	if s.Revoked {
		return ErrRevoked
	}
	if !now.Before(s.ExpiresAt) {
		return ErrExpired
	}
	return nil
}

// Status is a display label for listings.
func (s *Session) Status(now time.Time) string {
	switch {
	case s.Revoked:
		return "revoked"
	case !now.Before(s.ExpiresAt):
		return "expired"
	}
	return "active"
}

// BoundTo reports whether the session authorizes visitID.
func (s *Session) BoundTo(visitID uuid.UUID) bool {
	return s.VisitID != nil && *s.VisitID == visitID
}

const (
	ActivityCreate        = "create_session"
	ActivityValidate      = "validate_session"
	ActivityExtend        = "extend_session"
	ActivityRevoke        = "revoke_session"
	ActivityBind          = "bind_visit"
	ActivityCreateVisit   = "create_visit"
	ActivityViewVisit     = "view_visit"
	ActivityCheckoutVisit = "checkout_visit"
)

// Activity is an append-only record of what was done under a session.
type Activity struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	SessionID  uuid.UUID  `db:"session_id" json:"session_id"`
	ActorID    string     `db:"actor_id" json:"actor_id"`
	Activity   string     `db:"activity" json:"activity"`
	VisitID    *uuid.UUID `db:"visit_id" json:"visit_id,omitempty"`
	Details    string     `db:"details" json:"details,omitempty"`
	OccurredAt time.Time  `db:"occurred_at" json:"occurred_at"`
}
