package emergency

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/nfcaccess/internal/domain/patient"
)

// Token is an emergency access grant. It reads a fixed subset of one
// patient's data and nothing else.
type Token struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	TokenDigest string     `db:"token_digest" json:"-"`
	PatientID   uuid.UUID  `db:"patient_id" json:"patient_id"`
	IssuedBy    string     `db:"issued_by" json:"issued_by"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt   time.Time  `db:"expires_at" json:"expires_at"`
	Revoked     bool       `db:"revoked" json:"revoked"`
	RevokedAt   *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// checkAt returns nil for a usable token. Revocation wins over expiry.
func (t *Token) checkAt(now time.Time) error {
	if t.Revoked {
		return ErrRevoked
	}
	if !now.Before(t.ExpiresAt) {
		return ErrExpired
	}
	return nil
}

// Access is one audited use of an emergency token.
type Access struct {
	ID         int64     `db:"id" json:"id"`
	TokenID    uuid.UUID `db:"token_id" json:"token_id"`
	AccessedAt time.Time `db:"accessed_at" json:"accessed_at"`
	Accessor   string    `db:"accessor" json:"accessor,omitempty"`
}

// Payload is everything an emergency token holder may see.
type Payload struct {
	Demographics *patient.Demographics `json:"demographics"`
	Documents    []*patient.Document   `json:"documents"`
	ExpiresAt    *time.Time            `json:"access_expires,omitempty"`
}

// Issued is returned once, at issue time.
type Issued struct {
	Token *Token
	Raw   string
}
