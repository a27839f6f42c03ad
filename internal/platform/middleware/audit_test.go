package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/nfcaccess/internal/platform/apierr"
	"github.com/ehr/nfcaccess/internal/platform/auth"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) last() AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries[len(m.entries)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// newRouteContext builds a context as the router would after matching route.
func newRouteContext(method, path, route string, names, values []string, actor *auth.Actor) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	if actor != nil {
		req = req.WithContext(auth.WithActor(req.Context(), *actor))
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(route)
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return c, rec
}

const testPatientID = "8f14e45f-ceea-4c6b-9a1e-3b5d2b1c7a10"

func TestAudit_PatientSessionsRead(t *testing.T) {
	rec := &mockRecorder{}
	c, _ := newRouteContext(http.MethodGet,
		"/api/v1/patients/"+testPatientID+"/sessions",
		"/api/v1/patients/:patient_id/sessions",
		[]string{"patient_id"}, []string{testPatientID},
		&auth.Actor{ID: "admin-1", Role: auth.RoleAdmin})
	c.Set("request_id", "req-1")

	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", rec.count())
	}
	e := rec.last()
	if e.ActorID != "admin-1" || e.ActorRole != "admin" {
		t.Errorf("unexpected actor %q/%q", e.ActorID, e.ActorRole)
	}
	if e.Resource != "patients" || e.PatientID != testPatientID {
		t.Errorf("unexpected resource %q patient %q", e.Resource, e.PatientID)
	}
	if e.Action != "read" || e.StatusCode != http.StatusOK || e.RequestID != "req-1" {
		t.Errorf("unexpected entry %+v", e)
	}
}

func TestAudit_NeverRecordsRawToken(t *testing.T) {
	var buf bytes.Buffer
	rec := &mockRecorder{}
	c, _ := newRouteContext(http.MethodGet,
		"/api/v1/emergency/nfe_SECRETSECRETSECRET",
		"/api/v1/emergency/:token",
		[]string{"token"}, []string{"nfe_SECRETSECRETSECRET"}, nil)

	if err := Audit(zerolog.New(&buf), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(buf.String(), "SECRET") {
		t.Errorf("token leaked into audit log: %s", buf.String())
	}
	if rec.last().Route != "/api/v1/emergency/:token" {
		t.Errorf("expected route template, got %q", rec.last().Route)
	}
}

func TestAudit_ErrorStatusFromHandlerError(t *testing.T) {
	rec := &mockRecorder{}
	c, _ := newRouteContext(http.MethodPost, "/api/v1/visits", "/api/v1/visits", nil, nil,
		&auth.Actor{ID: "doc-1", Role: auth.RoleDoctor})

	handler := func(c echo.Context) error {
		return apierr.HTTP(apierr.New(apierr.KindForbidden, apierr.CodeForbiddenRole, "admin only"))
	}
	err := Audit(zerolog.Nop(), rec)(handler)(c)
	if err == nil {
		t.Fatal("expected handler error to propagate")
	}
	if got := rec.last().StatusCode; got != http.StatusForbidden {
		t.Errorf("expected 403 recorded, got %d", got)
	}
	if got := rec.last().Action; got != "create" {
		t.Errorf("expected create action, got %q", got)
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	rec := &mockRecorder{}
	c, _ := newRouteContext(http.MethodGet, "/health", "/health", nil, nil, nil)
	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("expected no audit entry for /health, got %d", rec.count())
	}
}

func TestAudit_RecorderError_DoesNotBreakRequest(t *testing.T) {
	rec := &mockRecorder{err: errors.New("db down")}
	c, httpRec := newRouteContext(http.MethodGet, "/api/v1/visits/x", "/api/v1/visits/:id",
		[]string{"id"}, []string{"x"}, nil)
	if err := Audit(zerolog.Nop(), rec)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if httpRec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", httpRec.Code)
	}
}

func TestAudit_PatientIDFromQuery(t *testing.T) {
	rec := &mockRecorder{}
	c, _ := newRouteContext(http.MethodGet, "/api/v1/sessions?patient_id="+testPatientID,
		"/api/v1/sessions", nil, nil, nil)
	_ = Audit(zerolog.Nop(), rec)(okHandler)(c)
	if rec.last().PatientID != testPatientID {
		t.Errorf("expected patient id from query, got %q", rec.last().PatientID)
	}
}

func TestExtractResource(t *testing.T) {
	tests := map[string]string{
		"/api/v1/sessions/validate":       "sessions",
		"/api/v1/visits/:id/doctor-access": "visits",
		"/api/v1/access/check":            "access",
		"/health":                         "unknown",
		"/api/v1/":                        "unknown",
	}
	for route, want := range tests {
		if got := extractResource(route); got != want {
			t.Errorf("extractResource(%q) = %q, want %q", route, got, want)
		}
	}
}

func TestHttpMethodToAction(t *testing.T) {
	tests := map[string]string{
		http.MethodGet:    "read",
		http.MethodHead:   "read",
		http.MethodPost:   "create",
		http.MethodPut:    "update",
		http.MethodPatch:  "update",
		http.MethodDelete: "delete",
	}
	for method, want := range tests {
		if got := httpMethodToAction(method); got != want {
			t.Errorf("httpMethodToAction(%s) = %q, want %q", method, got, want)
		}
	}
}

func TestAuditRecorderFunc(t *testing.T) {
	var got AuditEntry
	f := AuditRecorderFunc(func(e AuditEntry) error {
		got = e
		return nil
	})
	_ = f.RecordAccess(AuditEntry{ActorID: "a"})
	if got.ActorID != "a" {
		t.Error("expected adapter to forward the entry")
	}
}
