package auth

import (
	"context"
	"strings"

	"github.com/ehr/nfcaccess/internal/platform/apierr"
)

// Role is the verified role of the caller. The identity provider is the only
// source of roles; this service never checks credentials itself.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
)

// ParseRole normalizes a role claim. Unrecognized values are returned as-is
// so that the access gate can deny them explicitly.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "admin", "administrator", "staff":
		return RoleAdmin
	case "doctor", "physician":
		return RoleDoctor
	case "patient":
		return RolePatient
	}
	return Role(s)
}

// Known reports whether r is one of the roles the access gate understands.
func (r Role) Known() bool {
	return r == RoleAdmin || r == RoleDoctor || r == RolePatient
}

// Actor is the authenticated caller.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

type contextKey string

const actorKey contextKey = "actor"

// WithActor returns a copy of ctx carrying a.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFromContext returns the authenticated actor, if any.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok && a.ID != ""
}

var (
	ErrAdminOnly = apierr.New(apierr.KindForbidden, apierr.CodeForbiddenRole, "administrator role required")
	ErrNotSelf   = apierr.New(apierr.KindForbidden, apierr.CodePatientMismatch, "patients may only act on their own records")
)

// SelfOrAdmin allows administrators, and patients acting on their own record.
func SelfOrAdmin(a Actor, patientID string) error {
	switch {
	case a.IsAdmin():
		return nil
	case a.Role == RolePatient && a.ID == patientID:
		return nil
	case a.Role == RolePatient:
		return ErrNotSelf
	}
	return apierr.New(apierr.KindForbidden, apierr.CodeForbiddenRole, "role "+string(a.Role)+" may not act on patient records")
}
