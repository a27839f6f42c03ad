package card

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/nfcaccess/internal/platform/apierr"
	"github.com/ehr/nfcaccess/internal/platform/auth"
)

// Guard decides whether an actor may read a patient's records.
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
	admin := api.Group("/cards", auth.RequireRole(auth.RoleAdmin))
	admin.POST("", h.Create)
	admin.GET("/:id", h.Get)
	admin.PUT("/:id/active", h.SetActive)

	api.GET("/patients/:patient_id/card", h.GetByPatient, auth.RequireActor())
}

type createRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	Active    *bool     `json:"active"`
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

func (h *Handler) Create(c echo.Context) error {
	var req createRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	actor, _ := auth.ActorFromContext(c.Request().Context())
	card, err := h.svc.Create(c.Request().Context(), req.PatientID, active, actor)
	if err != nil {
		return apierr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, card)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	card, err := h.svc.GetByID(c.Request().Context(), id)
	if err != nil {
		return apierr.HTTP(err)
	}
	return c.JSON(http.StatusOK, card)
}

func (h *Handler) SetActive(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req setActiveRequest
	if err := c.Bind(&req); err != nil || req.Active == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "active is required")
	}
	if err := h.svc.SetActive(c.Request().Context(), id, *req.Active); err != nil {
		return apierr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"id": id, "active": *req.Active})
}

func (h *Handler) GetByPatient(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	actor, _ := auth.ActorFromContext(c.Request().Context())
	if err := h.guard.AuthorizePatient(c.Request().Context(), actor, patientID); err != nil {
		return apierr.HTTP(err)
	}
	card, err := h.svc.GetByPatient(c.Request().Context(), patientID)
	if err != nil {
		return apierr.HTTP(err)
	}
	return c.JSON(http.StatusOK, card)
}
