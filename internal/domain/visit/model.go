package visit

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusOpen      = "open"
	StatusCompleted = "completed"
)

var validVisitTypes = map[string]bool{
	"outpatient": true,
	"inpatient":  true,
	"emergency":  true,
	"follow_up":  true,
}

// Visit is a clinical encounter. CreatingSessionID is set at creation and
// never changes.
type Visit struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	AttendingID       *string    `db:"attending_id" json:"attending_id,omitempty"`
	VisitType         string     `db:"visit_type" json:"visit_type"`
	Reason            *string    `db:"reason" json:"reason,omitempty"`
	Status            string     `db:"status" json:"status"`
	CreatingSessionID uuid.UUID  `db:"creating_session_id" json:"creating_session_id"`
	CreatedBy         string     `db:"created_by" json:"created_by"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	CompletedAt       *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Fields are the caller-supplied parts of a new visit.
type Fields struct {
	VisitType   string  `json:"visit_type"`
	Reason      *string `json:"reason,omitempty"`
	AttendingID *string `json:"attending_id,omitempty"`
}
