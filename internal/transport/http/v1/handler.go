// Package v1 provides the public HTTP API of the dispatcher.
package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/flowdispatch/internal/contract"
	"github.com/xiaot623/flowdispatch/internal/domain"
	"github.com/xiaot623/flowdispatch/internal/service"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service

	createTask contract.Operation[createTaskRequest, *domain.ScheduledTask]
	updateTask contract.Operation[updateTaskRequest, *domain.ScheduledTask]
	invoke     contract.Operation[invokeRequest, *domain.WorkflowOutcome]
}

// NewHandler creates a new handler.
func NewHandler(service *service.Service) *Handler {
	h := &Handler{service: service}
	h.createTask = contract.Operation[createTaskRequest, *domain.ScheduledTask]{
		Name:    "createTask",
		Input:   contract.All[createTaskRequest](contract.Struct[createTaskRequest](), contract.Func[createTaskRequest](validateCreateTask)),
		Output:  contract.Func[*domain.ScheduledTask](taskPresent),
		Handler: h.runCreateTask,
	}
	h.updateTask = contract.Operation[updateTaskRequest, *domain.ScheduledTask]{
		Name:    "updateTask",
		Input:   contract.All[updateTaskRequest](contract.Struct[updateTaskRequest](), contract.Func[updateTaskRequest](validateUpdateTask)),
		Output:  contract.Func[*domain.ScheduledTask](taskPresent),
		Handler: h.runUpdateTask,
	}
	h.invoke = contract.Operation[invokeRequest, *domain.WorkflowOutcome]{
		Name:    "invokeModule",
		Input:   contract.Struct[invokeRequest](),
		Output:  contract.Any[*domain.WorkflowOutcome](),
		Handler: h.runInvoke,
	}
	return h
}

// RegisterRoutes registers external routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Scheduled tasks
	e.POST("/v1/tasks", h.CreateTask)
	e.GET("/v1/tasks/:task_id", h.GetTask)
	e.PATCH("/v1/tasks/:task_id", h.UpdateTask)
	e.DELETE("/v1/tasks/:task_id", h.DeleteTask)
	e.GET("/v1/tasks/:task_id/events", h.GetTaskEvents)
	e.GET("/v1/users/:user_id/tasks", h.ListUserTasks)

	// Modules
	e.GET("/v1/modules", h.ListModules)
	e.POST("/v1/modules/:slug/invoke", h.InvokeModule)

	// Chat sessions
	e.GET("/v1/sessions/:session_id", h.GetSession)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

// listLimit reads the limit query parameter.
func listLimit(c echo.Context) (int, bool) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, true
}
