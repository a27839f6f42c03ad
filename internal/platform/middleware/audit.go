package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/nfcaccess/internal/platform/apierr"
	"github.com/ehr/nfcaccess/internal/platform/auth"
)

// AuditEntry records who touched which access resource, and with what result.
type AuditEntry struct {
	ActorID    string
	ActorRole  string
	Resource   string
	PatientID  string
	Action     string // read, create, update, delete
	IPAddress  string
	UserAgent  string
	Route      string
	Method     string
	Timestamp  time.Time
	RequestID  string
	StatusCode int
}

// AuditRecorder persists audit entries. Logging happens regardless.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit emits one access_audit event per /api/v1 call. Raw tokens are never
// logged: the route template is recorded instead of the request path.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditablePath(req.URL.Path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = errorStatus(err)
			}

			entry := AuditEntry{
				Timestamp:  time.Now().UTC(),
				Route:      c.Path(),
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: status,
				Action:     httpMethodToAction(req.Method),
				Resource:   extractResource(c.Path()),
				PatientID:  extractPatientID(c),
			}
			if actor, ok := auth.ActorFromContext(req.Context()); ok {
				entry.ActorID = actor.ID
				entry.ActorRole = string(actor.Role)
			}
			if rid, ok := c.Get("request_id").(string); ok {
				entry.RequestID = rid
			}

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			evt := logger.Info()
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				evt = logger.Warn()
			}
			evt.
				Str("type", "access_audit").
				Str("request_id", entry.RequestID).
				Str("actor_id", entry.ActorID).
				Str("actor_role", entry.ActorRole).
				Str("resource", entry.Resource).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("route", entry.Route).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("access")

			return err
		}
	}
}

func errorStatus(err error) int {
	return apierr.HTTP(err).Code
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/")
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResource returns the first segment of the route after /api/v1/:
//
//	/api/v1/sessions/validate  -> sessions
//	/api/v1/visits/:id         -> visits
func extractResource(route string) string {
	rest := strings.TrimPrefix(route, "/api/v1/")
	if rest == route {
		return "unknown"
	}
	seg, _, _ := strings.Cut(rest, "/")
	if seg == "" {
		return "unknown"
	}
	return seg
}

// extractPatientID reads the patient from the :patient_id route param or the
// patient_id query parameter.
func extractPatientID(c echo.Context) string {
	for i, name := range c.ParamNames() {
		if name == "patient_id" && i < len(c.ParamValues()) && isUUIDLike(c.ParamValues()[i]) {
			return c.ParamValues()[i]
		}
	}
	if p := c.QueryParam("patient_id"); isUUIDLike(p) {
		return p
	}
	return ""
}

func isUUIDLike(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
