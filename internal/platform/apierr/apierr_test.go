package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

var errSample = New(KindRevoked, CodeRevokedSession, "session has been revoked")

func TestStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindNotFound, http.StatusNotFound},
		{KindExpired, http.StatusUnauthorized},
		{KindRevoked, http.StatusUnauthorized},
		{KindForbidden, http.StatusForbidden},
		{KindConflict, http.StatusConflict},
		{KindValidation, http.StatusBadRequest},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := Status(tt.kind); got != tt.want {
			t.Errorf("Status(%d) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestCodeOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("extend: %w", errSample)
	if got := CodeOf(err); got != CodeRevokedSession {
		t.Errorf("expected %s, got %s", CodeRevokedSession, got)
	}
	if !errors.Is(err, errSample) {
		t.Error("expected errors.Is to match the sentinel")
	}
	if !HasKind(err, KindRevoked) {
		t.Error("expected revoked kind")
	}
	if got := CodeOf(errors.New("boom")); got != CodeInternal {
		t.Errorf("expected internal_error for foreign errors, got %s", got)
	}
}

func TestHTTP_HidesInternalErrors(t *testing.T) {
	he := HTTP(errors.New("connection reset by peer"))
	if he.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", he.Code)
	}
	body, ok := he.Message.(Body)
	if !ok {
		t.Fatalf("expected Body message, got %T", he.Message)
	}
	if body.Code != CodeInternal || body.Message != "internal server error" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestErrorHandler_WritesCode(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	ErrorHandler(errSample, c)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body Body
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != CodeRevokedSession {
		t.Errorf("expected revoked_session, got %s", body.Code)
	}
}

func TestErrorHandler_PlainEchoError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	ErrorHandler(echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header"), c)

	var body Body
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Code != CodeUnauthenticated {
		t.Errorf("expected unauthenticated, got %s", body.Code)
	}
	if body.Message != "missing authorization header" {
		t.Errorf("unexpected message %q", body.Message)
	}
}
