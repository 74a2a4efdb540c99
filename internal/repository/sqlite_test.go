package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xiaot623/flowdispatch/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTask(id string, at time.Time) *domain.ScheduledTask {
	return &domain.ScheduledTask{
		ID:            id,
		UserID:        "u1",
		ModuleID:      "m1",
		ExecutionTime: at,
		Payload:       json.RawMessage(`{"message":"hi"}`),
		Status:        domain.TaskStatusScheduled,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

func TestListDueTasksOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.UnixMilli(1_700_000_000_000)

	for _, task := range []*domain.ScheduledTask{
		newTask("t3", now.Add(-1*time.Minute)),
		newTask("t1", now.Add(-3*time.Minute)),
		newTask("t2", now.Add(-2*time.Minute)),
		newTask("future", now.Add(time.Minute)),
		newTask("exact", now),
	} {
		if err := store.CreateTask(ctx, task); err != nil {
			t.Fatalf("CreateTask failed: %v", err)
		}
	}
	running := newTask("running", now.Add(-time.Hour))
	running.Status = domain.TaskStatusRunning
	if err := store.CreateTask(ctx, running); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	due, err := store.ListDueTasks(ctx, now, 0)
	if err != nil {
		t.Fatalf("ListDueTasks failed: %v", err)
	}
	var ids []string
	for _, task := range due {
		ids = append(ids, task.ID)
	}
	if fmt.Sprint(ids) != "[t1 t2 t3 exact]" {
		t.Fatalf("unexpected due order: %v", ids)
	}

	limited, err := store.ListDueTasks(ctx, now, 2)
	if err != nil {
		t.Fatalf("ListDueTasks failed: %v", err)
	}
	if len(limited) != 2 || limited[0].ID != "t1" || limited[1].ID != "t2" {
		t.Fatalf("unexpected limited result: %+v", limited)
	}
}

func TestTaskPayloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now()

	task := newTask("t1", now)
	task.Payload = json.RawMessage(`{"message":"write a post","context":{"tone":"dry","n":3}}`)
	if err := store.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if string(got.Payload) != string(task.Payload) {
		t.Fatalf("payload changed: %s", got.Payload)
	}
	if !got.ExecutionTime.Equal(time.UnixMilli(now.UnixMilli())) {
		t.Fatalf("execution time changed: %v", got.ExecutionTime)
	}

	missing, err := store.GetTask(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("expected (nil, nil) for missing task, got %+v, %v", missing, err)
	}
}

func TestTaskMarksAreMonotonic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now()

	if err := store.CreateTask(ctx, newTask("t1", now)); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}

	ok, err := store.MarkTaskFinished(ctx, "t1", domain.TaskStatusCompleted, []byte(`{}`), now)
	if err != nil || ok {
		t.Fatalf("finishing a scheduled task must not match: ok=%v err=%v", ok, err)
	}

	ok, err = store.MarkTaskRunning(ctx, "t1", now)
	if err != nil || !ok {
		t.Fatalf("MarkTaskRunning failed: ok=%v err=%v", ok, err)
	}
	ok, _ = store.MarkTaskRunning(ctx, "t1", now)
	if ok {
		t.Fatalf("second claim must not match")
	}

	ok, err = store.UpdateScheduledTask(ctx, "t1", domain.TaskPatch{Payload: json.RawMessage(`{}`)}, now)
	if err != nil || ok {
		t.Fatalf("running task must not be patched: ok=%v err=%v", ok, err)
	}

	ok, err = store.MarkTaskFinished(ctx, "t1", domain.TaskStatusFailed, []byte(`{"kind":"TIMEOUT","message":"slow"}`), now)
	if err != nil || !ok {
		t.Fatalf("MarkTaskFinished failed: ok=%v err=%v", ok, err)
	}
	ok, _ = store.MarkTaskFinished(ctx, "t1", domain.TaskStatusCompleted, []byte(`{}`), now)
	if ok {
		t.Fatalf("terminal task must not transition again")
	}

	got, err := store.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if got.Status != domain.TaskStatusFailed || got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("unexpected task: %+v", got)
	}
	if string(got.Result) != `{"kind":"TIMEOUT","message":"slow"}` {
		t.Fatalf("unexpected result: %s", got.Result)
	}

	if _, err := store.MarkTaskFinished(ctx, "t1", domain.TaskStatusRunning, nil, now); err == nil {
		t.Fatalf("expected error for non-terminal status")
	}
}

func TestUpdateAndDeleteTask(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now()

	if err := store.CreateTask(ctx, newTask("t1", now)); err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	later := now.Add(time.Hour)
	ok, err := store.UpdateScheduledTask(ctx, "t1", domain.TaskPatch{ExecutionTime: &later}, now)
	if err != nil || !ok {
		t.Fatalf("UpdateScheduledTask failed: ok=%v err=%v", ok, err)
	}
	got, _ := store.GetTask(ctx, "t1")
	if got.ExecutionTime.UnixMilli() != later.UnixMilli() {
		t.Fatalf("execution time not updated: %v", got.ExecutionTime)
	}
	if string(got.Payload) != `{"message":"hi"}` {
		t.Fatalf("payload must be untouched: %s", got.Payload)
	}

	ok, err = store.DeleteTask(ctx, "t1")
	if err != nil || !ok {
		t.Fatalf("DeleteTask failed: ok=%v err=%v", ok, err)
	}
	ok, _ = store.DeleteTask(ctx, "t1")
	if ok {
		t.Fatalf("second delete must not match")
	}
}

func TestTaskEvents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i, typ := range []domain.EventType{domain.EventTypeTaskCreated, domain.EventTypeTaskRunning} {
		event := &domain.TaskEvent{
			EventID: fmt.Sprintf("e%d", i),
			TaskID:  "t1",
			UserID:  "u1",
			Ts:      int64(100 + i),
			Type:    typ,
			Payload: json.RawMessage(`{"task_id":"t1"}`),
		}
		if err := store.CreateTaskEvent(ctx, event); err != nil {
			t.Fatalf("CreateTaskEvent failed: %v", err)
		}
	}

	events, err := store.GetTaskEvents(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("GetTaskEvents failed: %v", err)
	}
	if len(events) != 2 || events[0].Type != domain.EventTypeTaskCreated {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func newSession(id string, created, expires time.Time) *domain.ChatSession {
	return &domain.ChatSession{
		ID:          id,
		UserID:      "u1",
		ModuleSlug:  "ai-assistant",
		SessionData: map[string]any{"turns": float64(0)},
		CreatedAt:   created,
		ExpiresAt:   expires,
	}
}

func TestFindActiveChatSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.UnixMilli(1_700_000_000_000)

	sessions := []*domain.ChatSession{
		newSession("old", now.Add(-2*time.Hour), now.Add(time.Hour)),
		newSession("new", now.Add(-time.Hour), now.Add(time.Hour)),
		newSession("newest-expired", now.Add(-time.Minute), now),
	}
	for _, s := range sessions {
		if err := store.CreateChatSession(ctx, s); err != nil {
			t.Fatalf("CreateChatSession failed: %v", err)
		}
	}

	got, err := store.FindActiveChatSession(ctx, "u1", "ai-assistant", now)
	if err != nil {
		t.Fatalf("FindActiveChatSession failed: %v", err)
	}
	if got == nil || got.ID != "new" {
		t.Fatalf("expected newest active session, got %+v", got)
	}

	none, err := store.FindActiveChatSession(ctx, "u2", "ai-assistant", now)
	if err != nil || none != nil {
		t.Fatalf("expected no session, got %+v, %v", none, err)
	}
}

func TestAcquireChatSessionIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now()

	const workers = 8
	var wg sync.WaitGroup
	ids := make([]string, workers)
	createdCount := make([]bool, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			candidate := newSession(fmt.Sprintf("s%d", i), now, now.Add(time.Hour))
			session, created, err := store.AcquireChatSession(ctx, candidate, now)
			errs[i] = err
			if session != nil {
				ids[i] = session.ID
			}
			createdCount[i] = created
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("AcquireChatSession failed: %v", errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("workers saw different sessions: %v", ids)
		}
		if createdCount[i] {
			created++
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one session to be created, got %d", created)
	}
}

func TestUpdateChatSessionDataAndCleanup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.UnixMilli(1_700_000_000_000)

	if err := store.CreateChatSession(ctx, newSession("live", now, now.Add(time.Hour))); err != nil {
		t.Fatalf("CreateChatSession failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		s := newSession(fmt.Sprintf("dead%d", i), now.Add(-48*time.Hour), now.Add(-time.Duration(i+1)*time.Minute))
		if err := store.CreateChatSession(ctx, s); err != nil {
			t.Fatalf("CreateChatSession failed: %v", err)
		}
	}

	ok, err := store.UpdateChatSessionData(ctx, "live", map[string]any{"step": "budget"}, now)
	if err != nil || !ok {
		t.Fatalf("UpdateChatSessionData failed: ok=%v err=%v", ok, err)
	}
	got, _ := store.GetChatSession(ctx, "live")
	if got.SessionData["step"] != "budget" || got.LastActivity == nil {
		t.Fatalf("unexpected session: %+v", got)
	}

	ok, _ = store.UpdateChatSessionData(ctx, "missing", map[string]any{}, now)
	if ok {
		t.Fatalf("update of missing session must not match")
	}

	n, err := store.DeleteExpiredChatSessions(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpiredChatSessions failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted, got %d", n)
	}
	n, _ = store.DeleteExpiredChatSessions(ctx, now)
	if n != 0 {
		t.Fatalf("expected 0 deleted on second pass, got %d", n)
	}
}

func TestModulesAndProfiles(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now()

	module := &domain.ModuleDescriptor{ID: "m1", Name: "AI Writer", Slug: "ai-writer", Endpoint: "http://x/hook", CreatedAt: now}
	if err := store.UpsertModule(ctx, module); err != nil {
		t.Fatalf("UpsertModule failed: %v", err)
	}
	module.PremiumOnly = true
	module.Endpoint = "http://y/hook"
	if err := store.UpsertModule(ctx, module); err != nil {
		t.Fatalf("UpsertModule failed: %v", err)
	}

	got, err := store.GetModuleBySlug(ctx, "ai-writer")
	if err != nil || got == nil {
		t.Fatalf("GetModuleBySlug failed: %+v, %v", got, err)
	}
	if !got.PremiumOnly || got.Endpoint != "http://y/hook" {
		t.Fatalf("module not updated: %+v", got)
	}
	list, _ := store.ListModules(ctx)
	if len(list) != 1 {
		t.Fatalf("expected 1 module, got %d", len(list))
	}

	profile := &domain.Profile{UserID: "u1", Email: "a@b.c", PlanName: "Premium", Status: "active", Role: "user", CreatedAt: now, UpdatedAt: now}
	if err := store.UpsertProfile(ctx, profile); err != nil {
		t.Fatalf("UpsertProfile failed: %v", err)
	}
	p, err := store.GetProfile(ctx, "u1")
	if err != nil || p == nil || p.PlanName != "Premium" {
		t.Fatalf("unexpected profile: %+v, %v", p, err)
	}
	if p, _ := store.GetProfile(ctx, "nobody"); p != nil {
		t.Fatalf("expected nil profile")
	}
}
