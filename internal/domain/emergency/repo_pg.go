package emergency

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/nfcaccess/internal/platform/db"
)

type tokenRepoPG struct {
	pool *pgxpool.Pool
	tx   db.Transactor
}

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &tokenRepoPG{pool: pool, tx: db.NewTransactor(pool)}
}

func (r *tokenRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const tokenCols = `id, token_digest, patient_id, issued_by, created_at, expires_at, revoked, revoked_at`

func (r *tokenRepoPG) scanToken(row pgx.Row) (*Token, error) {
	var t Token
	err := row.Scan(&t.ID, &t.TokenDigest, &t.PatientID, &t.IssuedBy, &t.CreatedAt, &t.ExpiresAt, &t.Revoked, &t.RevokedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan emergency token: %w", err)
	}
	return &t, nil
}

func (r *tokenRepoPG) Create(ctx context.Context, t *Token) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO emergency_token (id, token_digest, patient_id, issued_by, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.TokenDigest, t.PatientID, t.IssuedBy, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert emergency token: %w", err)
	}
	return nil
}

func (r *tokenRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Token, error) {
	return r.scanToken(r.conn(ctx).QueryRow(ctx, `SELECT `+tokenCols+` FROM emergency_token WHERE id = $1`, id))
}

func (r *tokenRepoPG) GetByDigest(ctx context.Context, digest string) (*Token, error) {
	return r.scanToken(r.conn(ctx).QueryRow(ctx, `SELECT `+tokenCols+` FROM emergency_token WHERE token_digest = $1`, digest))
}

func (r *tokenRepoPG) Mutate(ctx context.Context, digest string, fn func(t *Token) error) (*Token, error) {
	var out *Token
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		t, err := r.scanToken(r.conn(ctx).QueryRow(ctx,
			`SELECT `+tokenCols+` FROM emergency_token WHERE token_digest = $1 FOR UPDATE`, digest))
		if err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
		if _, err := r.conn(ctx).Exec(ctx,
			`UPDATE emergency_token SET revoked = $2, revoked_at = $3 WHERE id = $1`,
			t.ID, t.Revoked, t.RevokedAt); err != nil {
			return fmt.Errorf("update emergency token: %w", err)
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *tokenRepoPG) AddAccess(ctx context.Context, a *Access) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO emergency_access_log (token_id, accessed_at, accessor)
		VALUES ($1, $2, NULLIF($3, ''))
		RETURNING id`,
		a.TokenID, a.AccessedAt, a.Accessor).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert emergency access: %w", err)
	}
	return nil
}

func (r *tokenRepoPG) ListAccess(ctx context.Context, tokenID uuid.UUID) ([]*Access, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, token_id, accessed_at, COALESCE(accessor, '')
		FROM emergency_access_log WHERE token_id = $1 ORDER BY accessed_at, id`, tokenID)
	if err != nil {
		return nil, fmt.Errorf("list emergency access: %w", err)
	}
	defer rows.Close()
	var items []*Access
	for rows.Next() {
		var a Access
		if err := rows.Scan(&a.ID, &a.TokenID, &a.AccessedAt, &a.Accessor); err != nil {
			return nil, fmt.Errorf("scan emergency access: %w", err)
		}
		items = append(items, &a)
	}
	return items, rows.Err()
}
