package visit

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/nfcaccess/internal/platform/apierr"
	"github.com/ehr/nfcaccess/internal/platform/auth"
	"github.com/ehr/nfcaccess/pkg/pagination"
)

// SessionTokenHeader carries the session token on visit reads.
const SessionTokenHeader = "X-Session-Token"

// Guard decides whether actor may touch a visit record or a patient's
// visit history.
type Guard interface {
	AuthorizeVisit(ctx context.Context, actor auth.Actor, patientID, visitID uuid.UUID, token string) error
	AuthorizePatient(ctx context.Context, actor auth.Actor, patientID uuid.UUID) error
}

type Handler struct {
	svc   *Service
	guard Guard
}

func NewHandler(svc *Service, guard Guard) *Handler {
	return &Handler{svc: svc, guard: guard}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/visits", h.Create, auth.RequireRole(auth.RoleAdmin))

	authed := api.Group("", auth.RequireActor())
	authed.GET("/visits/:id", h.Get)
	authed.GET("/visits/:id/doctor-access", h.DoctorAccess)
	authed.GET("/visits/:id/activities", h.Activities)
	authed.GET("/patients/:patient_id/visits", h.ListByPatient)
	authed.POST("/visits/:id/checkout", h.Checkout, auth.RequireRole(auth.RoleDoctor))
}

type createRequest struct {
	Token     string    `json:"token"`
	PatientID uuid.UUID `json:"patient_id"`
	Fields
}

type checkoutRequest struct {
	Token string `json:"token"`
}

func actorOf(c echo.Context) auth.Actor {
	a, _ := auth.ActorFromContext(c.Request().Context())
	return a
}

func sessionToken(c echo.Context) string {
	if t := c.Request().Header.Get(SessionTokenHeader); t != "" {
		return t
	}
	return c.QueryParam("token")
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Token == "" || req.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "token and patient_id are required")
	}
	v, err := h.svc.CreateVisit(c.Request().Context(), actorOf(c), req.PatientID, req.Token, req.Fields)
	if err != nil {
		return apierr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{"visit_id": v.ID, "visit": v})
}

func (h *Handler) DoctorAccess(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ok, err := h.svc.CanDoctorAccess(c.Request().Context(), id, sessionToken(c))
	if err != nil {
		return apierr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"allowed": ok})
}

// authorized loads the visit named by :id and runs it past the guard.
func (h *Handler) authorized(c echo.Context, raw string) (*Visit, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	v, err := h.svc.Get(ctx, id)
	if err != nil {
		return nil, apierr.HTTP(err)
	}
	if err := h.guard.AuthorizeVisit(ctx, actorOf(c), v.PatientID, v.ID, raw); err != nil {
		return nil, apierr.HTTP(err)
	}
	return v, nil
}

func (h *Handler) Get(c echo.Context) error {
	raw := sessionToken(c)
	v, err := h.authorized(c, raw)
	if err != nil {
		return err
	}
	actor := actorOf(c)
	if actor.Role == auth.RoleDoctor {
		h.svc.ViewedWith(c.Request().Context(), raw, actor, v.ID)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Checkout(c echo.Context) error {
	var req checkoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Token == "" {
		req.Token = sessionToken(c)
	}
	v, err := h.authorized(c, req.Token)
	if err != nil {
		return err
	}
	out, err := h.svc.Checkout(c.Request().Context(), actorOf(c), v.ID, req.Token)
	if err != nil {
		return apierr.HTTP(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Activities(c echo.Context) error {
	v, err := h.authorized(c, sessionToken(c))
	if err != nil {
		return err
	}
	items, err := h.svc.Activities(c.Request().Context(), v.ID)
	if err != nil {
		return apierr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}

func (h *Handler) ListByPatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	if err := h.guard.AuthorizePatient(c.Request().Context(), actorOf(c), patientID); err != nil {
		return apierr.HTTP(err)
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListByPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return apierr.HTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}
