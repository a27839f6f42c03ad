package card

import (
	"time"

	"github.com/google/uuid"
)

// Card is the NFC card a patient taps to start a session. Cards are never
// deleted; lost cards are deactivated.
type Card struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	PatientID  uuid.UUID  `db:"patient_id" json:"patient_id"`
	Active     bool       `db:"active" json:"active"`
	CreatedBy  string     `db:"created_by" json:"created_by"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	LastUsedAt *time.Time `db:"last_used_at" json:"last_used_at,omitempty"`
}
