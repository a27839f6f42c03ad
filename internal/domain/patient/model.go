package patient

import (
	"time"

	"github.com/google/uuid"
)

// Demographics is the fixed field subset exposed under emergency access.
type Demographics struct {
	PatientID  uuid.UUID `db:"patient_id" json:"patient_id"`
	Name       string    `db:"name" json:"name"`
	BloodGroup *string   `db:"blood_group" json:"blood_group,omitempty"`
	Allergies  []string  `db:"allergies" json:"allergies"`
}

// Document carries the flags that decide emergency visibility. Content is
// stored elsewhere.
type Document struct {
	ID               uuid.UUID `db:"id" json:"id"`
	PatientID        uuid.UUID `db:"patient_id" json:"patient_id"`
	Title            string    `db:"title" json:"title"`
	ContentType      *string   `db:"content_type" json:"content_type,omitempty"`
	EmergencyVisible bool      `db:"emergency_visible" json:"-"`
	Approved         bool      `db:"approved" json:"-"`
	UploadedAt       time.Time `db:"uploaded_at" json:"uploaded_at"`
}

// EmergencyReadable reports whether d may be shown to an emergency token holder.
func (d *Document) EmergencyReadable() bool {
	return d.EmergencyVisible && d.Approved
}

// EmergencySubset keeps the documents of patientID that are emergency
// readable, whatever the source returned.
func EmergencySubset(patientID uuid.UUID, docs []*Document) []*Document {
	out := make([]*Document, 0, len(docs))
	for _, d := range docs {
		if d.PatientID == patientID && d.EmergencyReadable() {
			out = append(out, d)
		}
	}
	return out
}
