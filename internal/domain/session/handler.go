package session

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/nfcaccess/internal/platform/apierr"
	"github.com/ehr/nfcaccess/internal/platform/auth"
	"github.com/ehr/nfcaccess/pkg/pagination"
)

// Guard decides whether an actor may read a patient's session records.
type Guard interface {
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
	// Validation is presented by bedside devices that only hold the token.
	api.POST("/sessions/validate", h.Validate)

	authed := api.Group("", auth.RequireActor())
	authed.POST("/sessions", h.Create)
	authed.POST("/sessions/extend", h.Extend)
	authed.POST("/sessions/revoke", h.Revoke)
	authed.GET("/patients/:patient_id/sessions", h.ListByPatient)
	authed.GET("/sessions/:id/activities", h.Activities)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/sessions/bind", h.BindVisit)
	admin.GET("/sessions/:id", h.Get)
}

type createRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	CardID    uuid.UUID `json:"card_id"`
}

type createResponse struct {
	SessionID    uuid.UUID `json:"session_id"`
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type validateResponse struct {
	Valid     bool      `json:"valid"`
	PatientID uuid.UUID `json:"patient_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type extendRequest struct {
	Token string `json:"token"`
	Hours *int   `json:"hours"`
}

type bindRequest struct {
	Token   string    `json:"token"`
	VisitID uuid.UUID `json:"visit_id"`
}

type sessionView struct {
	*Session
	Status string `json:"status"`
}

func actorOf(c echo.Context) auth.Actor {
	a, _ := auth.ActorFromContext(c.Request().Context())
	return a
}

func bindToken(c echo.Context) (string, error) {
	var req tokenRequest
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}
	return req.Token, nil
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	created, err := h.svc.Create(c.Request().Context(), req.PatientID, req.CardID, actorOf(c))
	if err != nil {
		return apierr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, createResponse{
		SessionID:    created.Session.ID,
		SessionToken: created.Token,
		ExpiresAt:    created.Session.ExpiresAt,
	})
}

func (h *Handler) Validate(c echo.Context) error {
	raw, err := bindToken(c)
	if err != nil {
		return err
	}
	sess, err := h.svc.Validate(c.Request().Context(), raw)
	if err != nil {
		return apierr.HTTP(err)
	}
	h.svc.recordBestEffort(c.Request().Context(), sess.ID, actorOf(c).ID, ActivityValidate, nil, "")
	return c.JSON(http.StatusOK, validateResponse{Valid: true, PatientID: sess.PatientID, ExpiresAt: sess.ExpiresAt})
}

func (h *Handler) Extend(c echo.Context) error {
	var req extendRequest
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}
	var by time.Duration
	if req.Hours != nil {
		if *req.Hours <= 0 {
			return apierr.HTTP(apierr.Validation("hours must be positive"))
		}
		by = time.Duration(*req.Hours) * time.Hour
	}
	sess, err := h.svc.Extend(c.Request().Context(), req.Token, by, actorOf(c))
	if err != nil {
		return apierr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]time.Time{"expires_at": sess.ExpiresAt})
}

func (h *Handler) Revoke(c echo.Context) error {
	raw, err := bindToken(c)
	if err != nil {
		return err
	}
	if err := h.svc.Revoke(c.Request().Context(), raw, actorOf(c)); err != nil {
		return apierr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"revoked": true})
}

func (h *Handler) BindVisit(c echo.Context) error {
	var req bindRequest
	if err := c.Bind(&req); err != nil || req.Token == "" || req.VisitID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "token and visit_id are required")
	}
	sess, err := h.svc.BindVisit(c.Request().Context(), req.Token, req.VisitID, actorOf(c))
	if err != nil {
		return apierr.HTTP(err)
	}
	return c.JSON(http.StatusOK, sessionView{Session: sess, Status: sess.Status(h.svc.Now())})
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	sess, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apierr.HTTP(err)
	}
	return c.JSON(http.StatusOK, sessionView{Session: sess, Status: sess.Status(h.svc.Now())})
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
	now := h.svc.Now()
	views := make([]sessionView, len(items))
	for i, s := range items {
		views[i] = sessionView{Session: s, Status: s.Status(now)}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(views, total, pg))
}

func (h *Handler) Activities(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	sess, err := h.svc.Get(ctx, id)
	if err != nil {
		return apierr.HTTP(err)
	}
	if err := h.guard.AuthorizePatient(ctx, actorOf(c), sess.PatientID); err != nil {
		return apierr.HTTP(err)
	}
	items, err := h.svc.Activities(ctx, id)
	if err != nil {
		return apierr.HTTP(err)
	}
	if items == nil {
		items = []*Activity{}
	}
	return c.JSON(http.StatusOK, items)
}
