package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xiaot623/flowdispatch/internal/domain"
	"github.com/xiaot623/flowdispatch/internal/result"
)

// DefaultDueLimit bounds the work of one dispatch cycle when no limit is given.
const DefaultDueLimit = 10

// ListDue returns up to limit due tasks, oldest execution time first.
func (s *Service) ListDue(ctx context.Context, limit int) result.Result[[]domain.ScheduledTask] {
	if limit <= 0 {
		limit = DefaultDueLimit
	}
	tasks, err := s.store.ListDueTasks(ctx, s.now(), limit)
	if err != nil {
		return result.Failf[[]domain.ScheduledTask](result.KindUnknown, "failed to list due tasks: %v", err)
	}
	return result.Ok(tasks)
}

// MarkRunning claims a scheduled task. A task that no longer exists or was
// already claimed yields TASK_NOT_FOUND.
func (s *Service) MarkRunning(ctx context.Context, taskID string) result.Result[struct{}] {
	ok, err := s.store.MarkTaskRunning(ctx, taskID, s.now())
	if err != nil {
		return result.Failf[struct{}](result.KindUnknown, "failed to mark task running: %v", err)
	}
	if !ok {
		return result.Failf[struct{}](result.KindTaskNotFound, "task %s not found or already claimed", taskID)
	}
	return result.Ok(struct{}{})
}

// MarkCompleted stores data as the result of a running task.
func (s *Service) MarkCompleted(ctx context.Context, taskID string, data json.RawMessage) result.Result[struct{}] {
	return s.markFinished(ctx, taskID, domain.TaskStatusCompleted, data)
}

// MarkFailed stores failure as the result of a running task.
func (s *Service) MarkFailed(ctx context.Context, taskID string, failure domain.TaskFailure) result.Result[struct{}] {
	data, err := json.Marshal(failure)
	if err != nil {
		return result.Failf[struct{}](result.KindUnknown, "failed to marshal failure: %v", err)
	}
	return s.markFinished(ctx, taskID, domain.TaskStatusFailed, data)
}

func (s *Service) markFinished(ctx context.Context, taskID string, status domain.TaskStatus, data []byte) result.Result[struct{}] {
	ok, err := s.store.MarkTaskFinished(ctx, taskID, status, data, s.now())
	if err != nil {
		return result.Failf[struct{}](result.KindUnknown, "failed to mark task %s: %v", status, err)
	}
	if !ok {
		return result.Failf[struct{}](result.KindTaskNotFound, "task %s not found or not running", taskID)
	}
	return result.Ok(struct{}{})
}

// GetTask looks a task up by id.
func (s *Service) GetTask(ctx context.Context, taskID string) result.Result[*domain.ScheduledTask] {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return result.Failf[*domain.ScheduledTask](result.KindUnknown, "failed to get task: %v", err)
	}
	if task == nil {
		return result.Failf[*domain.ScheduledTask](result.KindTaskNotFound, "task %s not found", taskID)
	}
	return result.Ok(task)
}

// CreateTaskInput holds the caller-supplied fields of a new task.
type CreateTaskInput struct {
	UserID        string          `json:"user_id" validate:"required"`
	ModuleID      string          `json:"module_id" validate:"required"`
	ExecutionTime time.Time       `json:"execution_time" validate:"required"`
	Payload       json.RawMessage `json:"payload"`
}

// CreateTask schedules a new task for an existing module.
func (s *Service) CreateTask(ctx context.Context, in CreateTaskInput) result.Result[*domain.ScheduledTask] {
	payload, err := normalizePayload(in.Payload)
	if err != nil {
		return result.Fail[*domain.ScheduledTask](result.KindValidation, err.Error())
	}

	module, err := s.store.GetModule(ctx, in.ModuleID)
	if err != nil {
		return result.Failf[*domain.ScheduledTask](result.KindUnknown, "failed to get module: %v", err)
	}
	if module == nil {
		return result.Failf[*domain.ScheduledTask](result.KindModuleNotFound, "module %s not found", in.ModuleID)
	}

	now := s.now()
	task := &domain.ScheduledTask{
		ID:            "task_" + uuid.New().String(),
		UserID:        in.UserID,
		ModuleID:      in.ModuleID,
		ExecutionTime: in.ExecutionTime,
		Payload:       payload,
		Status:        domain.TaskStatusScheduled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return result.Failf[*domain.ScheduledTask](result.KindUnknown, "failed to create task: %v", err)
	}

	s.recordEvent(ctx, task, domain.EventTypeTaskCreated, map[string]any{
		"module_id":      task.ModuleID,
		"execution_time": task.ExecutionTime.UnixMilli(),
	})
	return result.Ok(task)
}

// UpdateTask patches a task that is still scheduled. A task that has left the
// scheduled state yields CONFLICT.
func (s *Service) UpdateTask(ctx context.Context, taskID string, patch domain.TaskPatch) result.Result[*domain.ScheduledTask] {
	if len(patch.Payload) > 0 {
		payload, err := normalizePayload(patch.Payload)
		if err != nil {
			return result.Fail[*domain.ScheduledTask](result.KindValidation, err.Error())
		}
		patch.Payload = payload
	}

	current := s.GetTask(ctx, taskID)
	if !current.Success {
		return current
	}

	ok, err := s.store.UpdateScheduledTask(ctx, taskID, patch, s.now())
	if err != nil {
		return result.Failf[*domain.ScheduledTask](result.KindUnknown, "failed to update task: %v", err)
	}
	if !ok {
		return result.Failf[*domain.ScheduledTask](result.KindConflict, "task %s is %s and can no longer be changed", taskID, current.Data.Status)
	}

	updated := s.GetTask(ctx, taskID)
	if updated.Success {
		s.recordEvent(ctx, updated.Data, domain.EventTypeTaskUpdated, patch)
	}
	return updated
}

// DeleteTask removes a task.
func (s *Service) DeleteTask(ctx context.Context, taskID string) result.Result[struct{}] {
	current := s.GetTask(ctx, taskID)
	if !current.Success {
		return result.Forward[struct{}](current)
	}

	ok, err := s.store.DeleteTask(ctx, taskID)
	if err != nil {
		return result.Failf[struct{}](result.KindUnknown, "failed to delete task: %v", err)
	}
	if !ok {
		return result.Failf[struct{}](result.KindTaskNotFound, "task %s not found", taskID)
	}

	s.recordEvent(ctx, current.Data, domain.EventTypeTaskDeleted, map[string]any{"status": current.Data.Status})
	return result.Ok(struct{}{})
}

// ListTasksByUser lists a user's tasks, newest first.
func (s *Service) ListTasksByUser(ctx context.Context, userID string, limit int) result.Result[[]domain.ScheduledTask] {
	tasks, err := s.store.ListTasksByUser(ctx, userID, limit)
	if err != nil {
		return result.Failf[[]domain.ScheduledTask](result.KindUnknown, "failed to list tasks: %v", err)
	}
	return result.Ok(tasks)
}

// GetTaskEvents returns the lifecycle trail of a task.
func (s *Service) GetTaskEvents(ctx context.Context, taskID string, limit int) result.Result[[]domain.TaskEvent] {
	if res := s.GetTask(ctx, taskID); !res.Success {
		return result.Forward[[]domain.TaskEvent](res)
	}
	events, err := s.store.GetTaskEvents(ctx, taskID, limit)
	if err != nil {
		return result.Failf[[]domain.TaskEvent](result.KindUnknown, "failed to get task events: %v", err)
	}
	return result.Ok(events)
}

// recordEvent appends an event to the task trail and publishes it. Failures
// are logged only.
func (s *Service) recordEvent(ctx context.Context, task *domain.ScheduledTask, eventType domain.EventType, payload any) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("task_id", task.ID).Msg("failed to marshal event payload")
		return
	}

	event := &domain.TaskEvent{
		EventID: "evt_" + uuid.New().String(),
		TaskID:  task.ID,
		UserID:  task.UserID,
		Ts:      s.now().UnixMilli(),
		Type:    eventType,
		Payload: payloadBytes,
	}
	if err := s.store.CreateTaskEvent(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("task_id", task.ID).Str("event", string(eventType)).Msg("failed to record task event")
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(task.UserID, event); err != nil {
			s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("failed to publish task event")
		}
	}
}

func normalizePayload(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return json.RawMessage(`{}`), nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %v", err)
	}
	return raw, nil
}
