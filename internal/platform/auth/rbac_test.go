package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func callWithActor(t *testing.T, mw echo.MiddlewareFunc, actor *Actor) (int, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if actor != nil {
		req = req.WithContext(WithActor(req.Context(), *actor))
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	err := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	return rec.Code, err
}

func TestRequireRole_Allowed(t *testing.T) {
	code, err := callWithActor(t, RequireRole(RoleDoctor), &Actor{ID: "d1", Role: RoleDoctor})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if code != http.StatusOK {
		t.Errorf("expected 200, got %d", code)
	}
}

func TestRequireRole_AdminAlwaysPasses(t *testing.T) {
	if _, err := callWithActor(t, RequireRole(RolePatient), &Actor{ID: "a1", Role: RoleAdmin}); err != nil {
		t.Errorf("expected admin to pass, got %v", err)
	}
}

func TestRequireRole_Denied(t *testing.T) {
	_, err := callWithActor(t, RequireRole(RoleDoctor), &Actor{ID: "p1", Role: RolePatient})
	if err == nil {
		t.Fatal("expected error for unauthorized role")
	}
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %v", err)
	}
}

func TestRequireRole_Unauthenticated(t *testing.T) {
	_, err := callWithActor(t, RequireRole(RoleDoctor), nil)
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}

func TestRequireActor(t *testing.T) {
	if _, err := callWithActor(t, RequireActor(), &Actor{ID: "x", Role: Role("nurse")}); err != nil {
		t.Errorf("any authenticated actor should pass, got %v", err)
	}
	if _, err := callWithActor(t, RequireActor(), nil); err == nil {
		t.Error("expected error without actor")
	}
}
