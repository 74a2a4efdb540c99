package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xiaot623/flowdispatch/internal/domain"
)

const taskColumns = `task_id, user_id, module_id, execution_time, payload, status, started_at, completed_at, result, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.ScheduledTask, error) {
	var task domain.ScheduledTask
	var executionTime, createdAt, updatedAt int64
	var payload string
	var startedAt, completedAt sql.NullInt64
	var result sql.NullString
	if err := row.Scan(&task.ID, &task.UserID, &task.ModuleID, &executionTime, &payload, &task.Status,
		&startedAt, &completedAt, &result, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if !task.Status.Valid() {
		return nil, fmt.Errorf("task %s: unknown status %q", task.ID, task.Status)
	}
	task.ExecutionTime = fromMillis(executionTime)
	task.Payload = json.RawMessage(payload)
	task.StartedAt = timePtr(startedAt)
	task.CompletedAt = timePtr(completedAt)
	if result.Valid {
		task.Result = json.RawMessage(result.String)
	}
	task.CreatedAt = fromMillis(createdAt)
	task.UpdatedAt = fromMillis(updatedAt)
	return &task, nil
}

// CreateTask creates a new scheduled task.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *domain.ScheduledTask) error {
	payload := string(task.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.UserID, task.ModuleID, toMillis(task.ExecutionTime), payload, task.Status,
		nullMillis(task.StartedAt), nullMillis(task.CompletedAt), nullStringBytes(task.Result),
		toMillis(task.CreatedAt), toMillis(task.UpdatedAt))
	return err
}

// GetTask retrieves a task by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListDueTasks lists scheduled tasks whose execution time is at or before now,
// oldest first.
func (s *SQLiteStore) ListDueTasks(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledTask, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = ? AND execution_time <= ?
		ORDER BY execution_time ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryTasks(ctx, query, domain.TaskStatusScheduled, toMillis(now))
}

// ListTasksByUser lists a user's tasks, newest first.
func (s *SQLiteStore) ListTasksByUser(ctx context.Context, userID string, limit int) ([]domain.ScheduledTask, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryTasks(ctx, query, userID)
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]domain.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []domain.ScheduledTask{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// UpdateScheduledTask applies patch to a task that is still scheduled.
func (s *SQLiteStore) UpdateScheduledTask(ctx context.Context, taskID string, patch domain.TaskPatch, now time.Time) (bool, error) {
	sets := []string{"updated_at = ?"}
	args := []any{toMillis(now)}
	if patch.ExecutionTime != nil {
		sets = append(sets, "execution_time = ?")
		args = append(args, toMillis(*patch.ExecutionTime))
	}
	if len(patch.Payload) > 0 {
		sets = append(sets, "payload = ?")
		args = append(args, string(patch.Payload))
	}
	args = append(args, taskID, domain.TaskStatusScheduled)

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE task_id = ? AND status = ?`, args...)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// DeleteTask deletes a task.
func (s *SQLiteStore) DeleteTask(ctx context.Context, taskID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, taskID)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// MarkTaskRunning claims a scheduled task. It returns false if the task no
// longer exists or was already claimed.
func (s *SQLiteStore) MarkTaskRunning(ctx context.Context, taskID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, started_at = ?, updated_at = ? WHERE task_id = ? AND status = ?`,
		domain.TaskStatusRunning, toMillis(at), toMillis(at), taskID, domain.TaskStatusScheduled)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// MarkTaskFinished moves a running task to a terminal status.
func (s *SQLiteStore) MarkTaskFinished(ctx context.Context, taskID string, status domain.TaskStatus, result []byte, at time.Time) (bool, error) {
	if !domain.TaskStatusRunning.CanTransitionTo(status) {
		return false, fmt.Errorf("status %q is not terminal", status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, result = ?, completed_at = ?, updated_at = ? WHERE task_id = ? AND status = ?`,
		status, nullStringBytes(result), toMillis(at), toMillis(at), taskID, domain.TaskStatusRunning)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// CreateTaskEvent appends an event to a task's trail.
func (s *SQLiteStore) CreateTaskEvent(ctx context.Context, event *domain.TaskEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_events (event_id, task_id, user_id, ts, type, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		event.EventID, event.TaskID, event.UserID, event.Ts, event.Type, nullStringBytes(event.Payload))
	return err
}

// GetTaskEvents retrieves the events of a task in order.
func (s *SQLiteStore) GetTaskEvents(ctx context.Context, taskID string, limit int) ([]domain.TaskEvent, error) {
	query := `SELECT event_id, task_id, user_id, ts, type, payload FROM task_events WHERE task_id = ? ORDER BY ts ASC, rowid ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []domain.TaskEvent{}
	for rows.Next() {
		var event domain.TaskEvent
		var payload sql.NullString
		if err := rows.Scan(&event.EventID, &event.TaskID, &event.UserID, &event.Ts, &event.Type, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			event.Payload = json.RawMessage(payload.String)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
