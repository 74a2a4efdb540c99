package domain

import (
	"encoding/json"
	"time"
)

// ScheduledTask is a unit of deferred work dispatched to a module's workflow.
type ScheduledTask struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	ModuleID      string          `json:"module_id"`
	ExecutionTime time.Time       `json:"execution_time"`
	Payload       json.RawMessage `json:"payload"`
	Status        TaskStatus      `json:"status"`
	StartedAt     *time.Time      `json:"started_at,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// TaskPatch holds the mutable fields of a scheduled task. Nil fields are left
// unchanged.
type TaskPatch struct {
	ExecutionTime *time.Time      `json:"execution_time,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// TaskFailure is stored as the result of a failed task.
type TaskFailure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// TaskEvent is an entry in a task's lifecycle trail.
type TaskEvent struct {
	EventID string          `json:"event_id"`
	TaskID  string          `json:"task_id"`
	UserID  string          `json:"user_id"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
