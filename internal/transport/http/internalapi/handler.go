// Package internalapi provides the operator HTTP API of the dispatcher.
package internalapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/flowdispatch/internal/contract"
	"github.com/xiaot623/flowdispatch/internal/domain"
	"github.com/xiaot623/flowdispatch/internal/result"
	"github.com/xiaot623/flowdispatch/internal/service"
	"github.com/xiaot623/flowdispatch/internal/transport/http/respond"
)

// Handler handles internal HTTP requests.
type Handler struct {
	service       *service.Service
	upsertProfile contract.Operation[profileRequest, *domain.Profile]
}

// NewHandler creates a new internal handler.
func NewHandler(service *service.Service) *Handler {
	h := &Handler{service: service}
	h.upsertProfile = contract.Operation[profileRequest, *domain.Profile]{
		Name:    "upsertProfile",
		Input:   contract.Struct[profileRequest](),
		Output:  contract.Any[*domain.Profile](),
		Handler: h.runUpsertProfile,
	}
	return h
}

// RegisterRoutes registers internal routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/internal/dispatch", h.RunDispatch)
	e.POST("/internal/sessions/cleanup", h.CleanupSessions)
	e.PUT("/internal/profiles/:user_id", h.UpsertProfile)
}

// RunDispatch runs one dispatch cycle and returns its report.
func (h *Handler) RunDispatch(c echo.Context) error {
	return respond.Result(c, http.StatusOK, h.service.RunDispatchCycle(c.Request().Context()))
}

// CleanupSessions deletes expired chat sessions.
func (h *Handler) CleanupSessions(c echo.Context) error {
	res := h.service.CleanupExpired(c.Request().Context())
	if !res.Success {
		return respond.Result(c, http.StatusOK, res)
	}
	return c.JSON(http.StatusOK, result.Ok(map[string]int64{"deleted": res.Data}))
}

type profileRequest struct {
	UserID        string  `json:"-" validate:"required"`
	Email         string  `json:"email" validate:"required,email"`
	FullName      string  `json:"full_name"`
	PlanName      string  `json:"plan_name"`
	CreditBalance float64 `json:"credit_balance" validate:"gte=0"`
	Status        string  `json:"status" validate:"omitempty,oneof=active suspended deleted"`
	Role          string  `json:"role" validate:"omitempty,oneof=user admin"`
}

func (h *Handler) runUpsertProfile(ctx context.Context, req profileRequest) result.Result[*domain.Profile] {
	profile := domain.Profile{
		UserID:        req.UserID,
		Email:         req.Email,
		FullName:      req.FullName,
		PlanName:      req.PlanName,
		CreditBalance: req.CreditBalance,
		Status:        req.Status,
		Role:          req.Role,
	}
	if profile.Status == "" {
		profile.Status = "active"
	}
	if profile.Role == "" {
		profile.Role = "user"
	}
	return h.service.UpsertProfile(ctx, profile)
}

// UpsertProfile stores the identity record of a user.
func (h *Handler) UpsertProfile(c echo.Context) error {
	var req profileRequest
	if err := c.Bind(&req); err != nil {
		return respond.Invalid(c, "invalid request body")
	}
	req.UserID = c.Param("user_id")
	return respond.Result(c, http.StatusOK, h.upsertProfile.Run(c.Request().Context(), req))
}
