package card

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/nfcaccess/internal/platform/apierr"
	"github.com/ehr/nfcaccess/internal/platform/auth"
)

type selfGuard struct{}

func (selfGuard) AuthorizePatient(_ context.Context, actor auth.Actor, patientID uuid.UUID) error {
	return auth.SelfOrAdmin(actor, patientID.String())
}

type denyAll struct{ calls int }

func (d *denyAll) AuthorizePatient(context.Context, auth.Actor, uuid.UUID) error {
	d.calls++
	return apierr.New(apierr.KindForbidden, apierr.CodeUnknownRole, "denied")
}

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	return NewHandler(svc, selfGuard{}), echo.New()
}

func asActor(req *http.Request, a auth.Actor) *http.Request {
	return req.WithContext(auth.WithActor(req.Context(), a))
}

func expectHTTPStatus(t *testing.T, err error, status int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != status {
		t.Errorf("expected %d, got %d", status, he.Code)
	}
}

func TestHandler_Create(t *testing.T) {
	h, e := newTestHandler()
	body := `{"patient_id":"` + uuid.New().String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = asActor(req, admin)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var card Card
	if err := json.Unmarshal(rec.Body.Bytes(), &card); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !card.Active {
		t.Error("cards are active by default")
	}
}

func TestHandler_Create_Duplicate(t *testing.T) {
	h, e := newTestHandler()
	pid := uuid.New()
	_, _ = h.svc.Create(context.Background(), pid, true, admin)

	body := `{"patient_id":"` + pid.String() + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(asActor(req, admin), httptest.NewRecorder())

	expectHTTPStatus(t, h.Create(c), http.StatusConflict)
}

func TestHandler_SetActive(t *testing.T) {
	h, e := newTestHandler()
	card, _ := h.svc.Create(context.Background(), uuid.New(), true, admin)

	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{"active":false}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(card.ID.String())

	if err := h.SetActive(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := h.svc.GetByID(context.Background(), card.ID)
	if got.Active {
		t.Error("expected card to be deactivated")
	}
}

func TestHandler_SetActive_MissingField(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	expectHTTPStatus(t, h.SetActive(c), http.StatusBadRequest)
}

func TestHandler_GetByPatient_Self(t *testing.T) {
	h, e := newTestHandler()
	pid := uuid.New()
	_, _ = h.svc.Create(context.Background(), pid, true, admin)

	req := asActor(httptest.NewRequest(http.MethodGet, "/", nil), auth.Actor{ID: pid.String(), Role: auth.RolePatient})
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("patient_id")
	c.SetParamValues(pid.String())

	if err := h.GetByPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_GetByPatient_OtherPatient(t *testing.T) {
	h, e := newTestHandler()
	pid := uuid.New()
	_, _ = h.svc.Create(context.Background(), pid, true, admin)

	req := asActor(httptest.NewRequest(http.MethodGet, "/", nil), auth.Actor{ID: uuid.New().String(), Role: auth.RolePatient})
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("patient_id")
	c.SetParamValues(pid.String())

	expectHTTPStatus(t, h.GetByPatient(c), http.StatusForbidden)
}

func TestHandler_Get_InvalidID(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	expectHTTPStatus(t, h.Get(c), http.StatusBadRequest)
}

func TestHandler_GetByPatient_DenialFromGuard(t *testing.T) {
	svc, _ := newTestService()
	guard := &denyAll{}
	h := NewHandler(svc, guard)
	pid := uuid.New()
	_, _ = svc.Create(context.Background(), pid, true, admin)

	req := asActor(httptest.NewRequest(http.MethodGet, "/", nil), admin)
	c := echo.New().NewContext(req, httptest.NewRecorder())
	c.SetParamNames("patient_id")
	c.SetParamValues(pid.String())

	err := h.GetByPatient(c)
	expectHTTPStatus(t, err, http.StatusForbidden)
	if body, _ := err.(*echo.HTTPError).Message.(apierr.Body); body.Code != apierr.CodeUnknownRole {
		t.Errorf("expected the guard's code, got %s", body.Code)
	}
	if guard.calls != 1 {
		t.Errorf("expected guard consulted once, got %d", guard.calls)
	}
}
