package emergency

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/nfcaccess/internal/platform/apierr"
	"github.com/ehr/nfcaccess/internal/platform/auth"
)

// Guard authorizes an emergency document read. It returns the token the
// read was granted under, or nil when the caller reached the records on
// their own account.
type Guard interface {
	AuthorizeEmergency(ctx context.Context, actor auth.Actor, patientID uuid.UUID, raw, accessor string) (*Token, error)
}

type Handler struct {
	svc   *Service
	guard Guard
}

func NewHandler(svc *Service, guard Guard) *Handler {
	return &Handler{svc: svc, guard: guard}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/emergency/:token", h.Resolve)

	authed := api.Group("/emergency", auth.RequireActor())
	authed.POST("/tokens", h.Issue)
	authed.POST("/revoke", h.Revoke)
	authed.GET("/tokens/:id/access-log", h.AccessLog)
}

type issueRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
}

type issueResponse struct {
	TokenID   uuid.UUID `json:"token_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type revokeRequest struct {
	Token string `json:"token"`
}

func actorOf(c echo.Context) (auth.Actor, bool) {
	return auth.ActorFromContext(c.Request().Context())
}

// accessorOf identifies the caller for the access log: the verified actor
// when there is one, the client address otherwise.
func accessorOf(c echo.Context) string {
	if a, ok := actorOf(c); ok && a.ID != "" {
		return a.ID
	}
	return "ip:" + c.RealIP()
}

func (h *Handler) Issue(c echo.Context) error {
	var req issueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	actor, _ := actorOf(c)
	issued, err := h.svc.Issue(c.Request().Context(), req.PatientID, actor)
	if err != nil {
		return apierr.HTTP(err)
	}
	return c.JSON(http.StatusCreated, issueResponse{
		TokenID:   issued.Token.ID,
		Token:     issued.Raw,
		ExpiresAt: issued.Token.ExpiresAt,
	})
}

func (h *Handler) Resolve(c echo.Context) error {
	ctx := c.Request().Context()

	var patientID uuid.UUID
	if pid := c.QueryParam("patient_id"); pid != "" {
		parsed, err := uuid.Parse(pid)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		patientID = parsed
	}

	actor, _ := actorOf(c)
	grant, err := h.guard.AuthorizeEmergency(ctx, actor, patientID, c.Param("token"), accessorOf(c))
	if err != nil {
		return apierr.HTTP(err)
	}

	var payload *Payload
	if grant != nil {
		payload, err = h.svc.Payload(ctx, grant)
	} else {
		payload, err = h.svc.PatientView(ctx, patientID)
	}
	if err != nil {
		return apierr.HTTP(err)
	}
	return c.JSON(http.StatusOK, payload)
}

func (h *Handler) Revoke(c echo.Context) error {
	var req revokeRequest
	if err := c.Bind(&req); err != nil || req.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}
	actor, _ := actorOf(c)
	if err := h.svc.Revoke(c.Request().Context(), req.Token, actor); err != nil {
		return apierr.HTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"revoked": true})
}

func (h *Handler) AccessLog(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, _ := actorOf(c)
	items, err := h.svc.AccessLog(c.Request().Context(), actor, id)
	if err != nil {
		return apierr.HTTP(err)
	}
	if items == nil {
		items = []*Access{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items, "total": len(items)})
}
