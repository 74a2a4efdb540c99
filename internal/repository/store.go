// Package repository defines the storage interface and its SQLite implementation.
package repository

import (
	"context"
	"time"

	"github.com/xiaot623/flowdispatch/internal/domain"
)

// Store defines the interface for data persistence.
//
// Lookups return (nil, nil) when the row does not exist. Conditional updates
// return false when no row matched.
type Store interface {
	// Task operations
	CreateTask(ctx context.Context, task *domain.ScheduledTask) error
	GetTask(ctx context.Context, taskID string) (*domain.ScheduledTask, error)
	ListDueTasks(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledTask, error)
	ListTasksByUser(ctx context.Context, userID string, limit int) ([]domain.ScheduledTask, error)
	UpdateScheduledTask(ctx context.Context, taskID string, patch domain.TaskPatch, now time.Time) (bool, error)
	DeleteTask(ctx context.Context, taskID string) (bool, error)
	MarkTaskRunning(ctx context.Context, taskID string, at time.Time) (bool, error)
	MarkTaskFinished(ctx context.Context, taskID string, status domain.TaskStatus, result []byte, at time.Time) (bool, error)

	// Task event operations
	CreateTaskEvent(ctx context.Context, event *domain.TaskEvent) error
	GetTaskEvents(ctx context.Context, taskID string, limit int) ([]domain.TaskEvent, error)

	// Chat session operations
	CreateChatSession(ctx context.Context, session *domain.ChatSession) error
	GetChatSession(ctx context.Context, sessionID string) (*domain.ChatSession, error)
	FindActiveChatSession(ctx context.Context, userID, moduleSlug string, now time.Time) (*domain.ChatSession, error)
	AcquireChatSession(ctx context.Context, candidate *domain.ChatSession, now time.Time) (*domain.ChatSession, bool, error)
	UpdateChatSessionData(ctx context.Context, sessionID string, data map[string]any, at time.Time) (bool, error)
	DeleteExpiredChatSessions(ctx context.Context, now time.Time) (int64, error)

	// Module catalog operations
	UpsertModule(ctx context.Context, module *domain.ModuleDescriptor) error
	GetModule(ctx context.Context, moduleID string) (*domain.ModuleDescriptor, error)
	GetModuleBySlug(ctx context.Context, slug string) (*domain.ModuleDescriptor, error)
	ListModules(ctx context.Context) ([]domain.ModuleDescriptor, error)

	// Profile operations
	UpsertProfile(ctx context.Context, profile *domain.Profile) error
	GetProfile(ctx context.Context, userID string) (*domain.Profile, error)

	// Lifecycle
	Close() error
}

var _ Store = (*SQLiteStore)(nil)
