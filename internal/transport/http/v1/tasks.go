package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/xiaot623/flowdispatch/internal/domain"
	"github.com/xiaot623/flowdispatch/internal/result"
	"github.com/xiaot623/flowdispatch/internal/service"
	"github.com/xiaot623/flowdispatch/internal/transport/http/respond"
)

// Timestamp accepts either an RFC 3339 string or Unix milliseconds.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("timestamp %q is not RFC 3339", s)
		}
		t.Time = parsed
		return nil
	}
	var ms int64
	if err := json.Unmarshal(b, &ms); err != nil {
		return errors.New("timestamp must be an RFC 3339 string or Unix milliseconds")
	}
	t.Time = time.UnixMilli(ms)
	return nil
}

type createTaskRequest struct {
	UserID        string          `json:"user_id" validate:"required"`
	ModuleID      string          `json:"module_id" validate:"required"`
	ExecutionTime Timestamp       `json:"execution_time"`
	Payload       json.RawMessage `json:"payload"`
}

func validateCreateTask(req createTaskRequest) error {
	if req.ExecutionTime.IsZero() {
		return errors.New("execution_time is required")
	}
	return nil
}

type updateTaskRequest struct {
	TaskID        string          `json:"-" validate:"required"`
	ExecutionTime *Timestamp      `json:"execution_time"`
	Payload       json.RawMessage `json:"payload"`
}

func validateUpdateTask(req updateTaskRequest) error {
	if req.ExecutionTime == nil && len(req.Payload) == 0 {
		return errors.New("nothing to update: set execution_time or payload")
	}
	return nil
}

func taskPresent(task *domain.ScheduledTask) error {
	if task == nil {
		return errors.New("task is nil")
	}
	return nil
}

func (h *Handler) runCreateTask(ctx context.Context, req createTaskRequest) result.Result[*domain.ScheduledTask] {
	return h.service.CreateTask(ctx, service.CreateTaskInput{
		UserID:        req.UserID,
		ModuleID:      req.ModuleID,
		ExecutionTime: req.ExecutionTime.Time,
		Payload:       req.Payload,
	})
}

func (h *Handler) runUpdateTask(ctx context.Context, req updateTaskRequest) result.Result[*domain.ScheduledTask] {
	patch := domain.TaskPatch{Payload: req.Payload}
	if req.ExecutionTime != nil {
		at := req.ExecutionTime.Time
		patch.ExecutionTime = &at
	}
	return h.service.UpdateTask(ctx, req.TaskID, patch)
}

// CreateTask schedules a new task.
func (h *Handler) CreateTask(c echo.Context) error {
	var req createTaskRequest
	if err := c.Bind(&req); err != nil {
		return respond.Invalid(c, "invalid request body")
	}
	return respond.Result(c, http.StatusCreated, h.createTask.Run(c.Request().Context(), req))
}

// GetTask returns one task.
func (h *Handler) GetTask(c echo.Context) error {
	return respond.Result(c, http.StatusOK, h.service.GetTask(c.Request().Context(), c.Param("task_id")))
}

// UpdateTask reschedules a task or replaces its payload.
func (h *Handler) UpdateTask(c echo.Context) error {
	var req updateTaskRequest
	if err := c.Bind(&req); err != nil {
		return respond.Invalid(c, "invalid request body")
	}
	req.TaskID = c.Param("task_id")
	return respond.Result(c, http.StatusOK, h.updateTask.Run(c.Request().Context(), req))
}

// DeleteTask removes a task.
func (h *Handler) DeleteTask(c echo.Context) error {
	return respond.Result(c, http.StatusOK, h.service.DeleteTask(c.Request().Context(), c.Param("task_id")))
}

// GetTaskEvents returns the lifecycle trail of a task.
func (h *Handler) GetTaskEvents(c echo.Context) error {
	limit, ok := listLimit(c)
	if !ok {
		return respond.Invalid(c, "limit must be a positive integer")
	}
	return respond.Result(c, http.StatusOK, h.service.GetTaskEvents(c.Request().Context(), c.Param("task_id"), limit))
}

// ListUserTasks returns a user's tasks, newest first.
func (h *Handler) ListUserTasks(c echo.Context) error {
	limit, ok := listLimit(c)
	if !ok {
		return respond.Invalid(c, "limit must be a positive integer")
	}
	return respond.Result(c, http.StatusOK, h.service.ListTasksByUser(c.Request().Context(), c.Param("user_id"), limit))
}
