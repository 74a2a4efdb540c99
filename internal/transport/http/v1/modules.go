package v1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/flowdispatch/internal/domain"
	"github.com/xiaot623/flowdispatch/internal/result"
	"github.com/xiaot623/flowdispatch/internal/service"
	"github.com/xiaot623/flowdispatch/internal/transport/http/respond"
)

type invokeRequest struct {
	Slug      string         `json:"-" validate:"required"`
	UserID    string         `json:"user_id" validate:"required"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context"`
	ChatMode  bool           `json:"chat_mode"`
	SessionID string         `json:"session_id"`
}

func (h *Handler) runInvoke(ctx context.Context, req invokeRequest) result.Result[*domain.WorkflowOutcome] {
	return h.service.InvokeModule(ctx, req.Slug, service.InvokeRequest{
		UserID:    req.UserID,
		Message:   req.Message,
		Context:   req.Context,
		ChatMode:  req.ChatMode,
		SessionID: req.SessionID,
		Source:    service.SourceHTTP,
	})
}

// ListModules returns the module catalog.
func (h *Handler) ListModules(c echo.Context) error {
	return respond.Result(c, http.StatusOK, h.service.ListModules(c.Request().Context()))
}

// InvokeModule calls a module's workflow synchronously.
func (h *Handler) InvokeModule(c echo.Context) error {
	var req invokeRequest
	if err := c.Bind(&req); err != nil {
		return respond.Invalid(c, "invalid request body")
	}
	req.Slug = c.Param("slug")
	return respond.Result(c, http.StatusOK, h.invoke.Run(c.Request().Context(), req))
}

// GetSession returns one chat session.
func (h *Handler) GetSession(c echo.Context) error {
	return respond.Result(c, http.StatusOK, h.service.GetSession(c.Request().Context(), c.Param("session_id")))
}
