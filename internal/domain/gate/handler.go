package gate

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/nfcaccess/internal/platform/apierr"
	"github.com/ehr/nfcaccess/internal/platform/auth"
)

type Handler struct {
	gate *Gate
}

func NewHandler(g *Gate) *Handler {
	return &Handler{gate: g}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/access/check", h.Check, auth.RequireActor())
}

type checkRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	Resource  Resource  `json:"resource"`
	Token     string    `json:"token"`
	VisitID   uuid.UUID `json:"visit_id"`
}

// Check evaluates a request for the calling actor. A denial is a normal
// 200 response carrying the reason.
func (h *Handler) Check(c echo.Context) error {
	var req checkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	actor, _ := auth.ActorFromContext(c.Request().Context())
	d, err := h.gate.Authorize(c.Request().Context(), Request{
		Actor:     actor,
		PatientID: req.PatientID,
		Resource:  req.Resource,
		Token:     req.Token,
		VisitID:   req.VisitID,
	})
	if err != nil {
		return apierr.HTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}
