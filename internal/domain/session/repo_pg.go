package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/nfcaccess/internal/platform/db"
)

type sessionRepoPG struct {
	pool *pgxpool.Pool
	tx   db.Transactor
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &sessionRepoPG{pool: pool, tx: db.NewTransactor(pool)}
}

func (r *sessionRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const sessionCols = `id, token_digest, patient_id, card_id, initiated_by, initiator_role,
	created_at, expires_at, revoked, revoked_at, visit_id`

func (r *sessionRepoPG) scanSession(row pgx.Row) (*Session, error) {
	var s Session
	err := row.Scan(&s.ID, &s.TokenDigest, &s.PatientID, &s.CardID, &s.InitiatedBy, &s.InitiatorRole,
		&s.CreatedAt, &s.ExpiresAt, &s.Revoked, &s.RevokedAt, &s.VisitID)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	return &s, nil
}

func (r *sessionRepoPG) Create(ctx context.Context, s *Session) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO access_session (id, token_digest, patient_id, card_id, initiated_by, initiator_role,
			created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.TokenDigest, s.PatientID, s.CardID, s.InitiatedBy, s.InitiatorRole,
		s.CreatedAt, s.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *sessionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	return r.scanSession(r.conn(ctx).QueryRow(ctx, `SELECT `+sessionCols+` FROM access_session WHERE id = $1`, id))
}

func (r *sessionRepoPG) GetByDigest(ctx context.Context, digest string) (*Session, error) {
	return r.scanSession(r.conn(ctx).QueryRow(ctx, `SELECT `+sessionCols+` FROM access_session WHERE token_digest = $1`, digest))
}

func (r *sessionRepoPG) Mutate(ctx context.Context, digest string, fn func(s *Session) error) (*Session, error) {
	var out *Session
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		s, err := r.scanSession(r.conn(ctx).QueryRow(ctx,
			`SELECT `+sessionCols+` FROM access_session WHERE token_digest = $1 FOR UPDATE`, digest))
		if err != nil {
			return err
		}
		if err := fn(s); err != nil {
			return err
		}
		_, err = r.conn(ctx).Exec(ctx, `
			UPDATE access_session SET expires_at = $2, revoked = $3, revoked_at = $4, visit_id = $5
			WHERE id = $1`,
			s.ID, s.ExpiresAt, s.Revoked, s.RevokedAt, s.VisitID)
		if db.IsUniqueViolation(err) {
			return ErrVisitTaken
		}
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sessionRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Session, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM access_session WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+sessionCols+` FROM access_session
		WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	var items []*Session
	for rows.Next() {
		s, err := r.scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *sessionRepoPG) AddActivity(ctx context.Context, a *Activity) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO session_activity (id, session_id, actor_id, activity, visit_id, details, occurred_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)`,
		a.ID, a.SessionID, a.ActorID, a.Activity, a.VisitID, a.Details, a.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert session activity: %w", err)
	}
	return nil
}

func (r *sessionRepoPG) ListActivities(ctx context.Context, sessionID uuid.UUID) ([]*Activity, error) {
	return r.listActivities(ctx, "session_id", sessionID)
}

func (r *sessionRepoPG) ListActivitiesByVisit(ctx context.Context, visitID uuid.UUID) ([]*Activity, error) {
	return r.listActivities(ctx, "visit_id", visitID)
}

// listActivities filters on column, which is always a constant.
func (r *sessionRepoPG) listActivities(ctx context.Context, column string, id uuid.UUID) ([]*Activity, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, session_id, actor_id, activity, visit_id, COALESCE(details, ''), occurred_at
		FROM session_activity WHERE `+column+` = $1 ORDER BY occurred_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("list session activity: %w", err)
	}
	defer rows.Close()
	var items []*Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.SessionID, &a.ActorID, &a.Activity, &a.VisitID, &a.Details, &a.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan session activity: %w", err)
		}
		items = append(items, &a)
	}
	return items, rows.Err()
}
