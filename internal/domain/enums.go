// Package domain defines the core domain models for the dispatcher.
package domain

// TaskStatus represents the status of a scheduled task.
type TaskStatus string

const (
	TaskStatusScheduled TaskStatus = "scheduled"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusScheduled, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether s -> next is allowed.
// Transitions are one-directional: scheduled -> running -> completed|failed.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusScheduled:
		return next == TaskStatusRunning
	case TaskStatusRunning:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	}
	return false
}

// TriggerType is the invocation mode of a module.
type TriggerType string

const (
	TriggerChat     TriggerType = "CHAT"
	TriggerStandard TriggerType = "STANDARD"
)

// OutcomeVariant tags a workflow outcome by module type.
type OutcomeVariant string

const (
	OutcomeConversational OutcomeVariant = "conversational"
	OutcomeGenerative     OutcomeVariant = "generative"
	OutcomeUnknown        OutcomeVariant = "unknown"
)

// EventType represents the type of a task event.
type EventType string

const (
	EventTypeTaskCreated   EventType = "task_created"
	EventTypeTaskUpdated   EventType = "task_updated"
	EventTypeTaskDeleted   EventType = "task_deleted"
	EventTypeTaskRunning   EventType = "task_running"
	EventTypeTaskCompleted EventType = "task_completed"
	EventTypeTaskFailed    EventType = "task_failed"
	EventTypeTaskSkipped   EventType = "task_skipped"
)
