package card

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/nfcaccess/internal/platform/db"
)

type cardRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &cardRepoPG{pool: pool} }

func (r *cardRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const cardCols = `id, patient_id, active, created_by, created_at, last_used_at`

func (r *cardRepoPG) scanCard(row pgx.Row) (*Card, error) {
	var c Card
	err := row.Scan(&c.ID, &c.PatientID, &c.Active, &c.CreatedBy, &c.CreatedAt, &c.LastUsedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan card: %w", err)
	}
	return &c, nil
}

func (r *cardRepoPG) Create(ctx context.Context, c *Card) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO nfc_card (id, patient_id, active, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.PatientID, c.Active, c.CreatedBy, c.CreatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert card: %w", err)
	}
	return nil
}

func (r *cardRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Card, error) {
	return r.scanCard(r.conn(ctx).QueryRow(ctx, `SELECT `+cardCols+` FROM nfc_card WHERE id = $1`, id))
}

func (r *cardRepoPG) GetByPatient(ctx context.Context, patientID uuid.UUID) (*Card, error) {
	return r.scanCard(r.conn(ctx).QueryRow(ctx, `SELECT `+cardCols+` FROM nfc_card WHERE patient_id = $1`, patientID))
}

func (r *cardRepoPG) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE nfc_card SET active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return fmt.Errorf("update card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *cardRepoPG) Touch(ctx context.Context, id uuid.UUID, at time.Time) error {
	// Concurrent taps race; keep the latest timestamp.
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE nfc_card SET last_used_at = $2
		WHERE id = $1 AND (last_used_at IS NULL OR last_used_at < $2)`, id, at)
	return err
}
