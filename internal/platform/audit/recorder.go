// Package audit persists the per-request access audit trail.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/nfcaccess/internal/platform/middleware"
)

// DefaultWriteTimeout bounds a single audit insert.
const DefaultWriteTimeout = 2 * time.Second

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Recorder writes middleware.AuditEntry rows to access_audit_log.
type Recorder struct {
	db      execer
	timeout time.Duration
}

// NewRecorder creates a Recorder backed by the given pool.
func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{db: pool, timeout: DefaultWriteTimeout}
}

const insertEntry = `
	INSERT INTO access_audit_log (
		recorded_at, request_id, actor_id, actor_role,
		resource, patient_id, action, method, route,
		ip_address, user_agent, status_code
	) VALUES (
		$1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''),
		$5, NULLIF($6, '')::uuid, $7, $8, $9,
		NULLIF($10, ''), NULLIF($11, ''), $12
	)`

// RecordAccess implements middleware.AuditRecorder. The request context is
// already finished when the middleware calls this, so the write gets its own.
func (r *Recorder) RecordAccess(entry middleware.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	_, err := r.db.Exec(ctx, insertEntry,
		entry.Timestamp, entry.RequestID, entry.ActorID, entry.ActorRole,
		entry.Resource, entry.PatientID, entry.Action, entry.Method, entry.Route,
		entry.IPAddress, entry.UserAgent, entry.StatusCode,
	)
	if err != nil {
		return fmt.Errorf("audit: record %s %s: %w", entry.Method, entry.Route, err)
	}
	return nil
}
