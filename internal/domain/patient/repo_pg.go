package patient

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/nfcaccess/internal/platform/db"
)

type recordsPG struct {
	pool *pgxpool.Pool
}

func NewRecordsPG(pool *pgxpool.Pool) Records { return &recordsPG{pool: pool} }

func (r *recordsPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func (r *recordsPG) Demographics(ctx context.Context, patientID uuid.UUID) (*Demographics, error) {
	var d Demographics
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT patient_id, name, blood_group, allergies
		FROM patient_demographics WHERE patient_id = $1`, patientID).
		Scan(&d.PatientID, &d.Name, &d.BloodGroup, &d.Allergies)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get demographics: %w", err)
	}
	if d.Allergies == nil {
		d.Allergies = []string{}
	}
	return &d, nil
}

func (r *recordsPG) EmergencyDocuments(ctx context.Context, patientID uuid.UUID) ([]*Document, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, title, content_type, emergency_visible, approved, uploaded_at
		FROM patient_document
		WHERE patient_id = $1 AND emergency_visible AND approved
		ORDER BY uploaded_at DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("list emergency documents: %w", err)
	}
	defer rows.Close()
	var docs []*Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.PatientID, &d.Title, &d.ContentType, &d.EmergencyVisible, &d.Approved, &d.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, &d)
	}
	return docs, rows.Err()
}
