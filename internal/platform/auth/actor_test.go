package auth

import (
	"context"
	"testing"

	"github.com/ehr/nfcaccess/internal/platform/apierr"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in   string
		want Role
	}{
		{"admin", RoleAdmin},
		{"Administrator", RoleAdmin},
		{"staff", RoleAdmin},
		{"doctor", RoleDoctor},
		{"physician", RoleDoctor},
		{" Patient ", RolePatient},
		{"nurse", Role("nurse")},
		{"", Role("")},
	}
	for _, tt := range tests {
		if got := ParseRole(tt.in); got != tt.want {
			t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRole_Known(t *testing.T) {
	for _, r := range []Role{RoleAdmin, RoleDoctor, RolePatient} {
		if !r.Known() {
			t.Errorf("expected %s to be known", r)
		}
	}
	if Role("nurse").Known() {
		t.Error("nurse is not a role the gate understands")
	}
}

func TestActorFromContext(t *testing.T) {
	if _, ok := ActorFromContext(context.Background()); ok {
		t.Error("expected no actor on empty context")
	}
	ctx := WithActor(context.Background(), Actor{ID: "doc-1", Role: RoleDoctor})
	a, ok := ActorFromContext(ctx)
	if !ok {
		t.Fatal("expected actor")
	}
	if a.ID != "doc-1" || a.Role != RoleDoctor {
		t.Errorf("unexpected actor %+v", a)
	}
	if _, ok := ActorFromContext(WithActor(context.Background(), Actor{Role: RoleAdmin})); ok {
		t.Error("an actor without id is not authenticated")
	}
}

func TestSelfOrAdmin(t *testing.T) {
	const pid = "2b1c7a10-8f14-4c6b-9a1e-3b5d8f14e45f"
	tests := []struct {
		name  string
		actor Actor
		code  apierr.Code
	}{
		{"admin", Actor{ID: "a", Role: RoleAdmin}, ""},
		{"self", Actor{ID: pid, Role: RolePatient}, ""},
		{"other patient", Actor{ID: "someone", Role: RolePatient}, apierr.CodePatientMismatch},
		{"doctor", Actor{ID: "d", Role: RoleDoctor}, apierr.CodeForbiddenRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := SelfOrAdmin(tt.actor, pid)
			if tt.code == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if apierr.CodeOf(err) != tt.code {
				t.Errorf("expected %s, got %v", tt.code, err)
			}
		})
	}
}
