package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/flowdispatch/internal/domain"
	"github.com/xiaot623/flowdispatch/internal/result"
)

// DispatchReport summarizes one dispatch cycle.
type DispatchReport struct {
	Selected   int   `json:"selected"`
	Skipped    int   `json:"skipped"`
	Completed  int   `json:"completed"`
	Failed     int   `json:"failed"`
	MarkErrors int   `json:"mark_errors"`
	DurationMs int64 `json:"duration_ms"`
}

// finalMarkTimeout bounds the store writes that close out a claimed task.
const finalMarkTimeout = 10 * time.Second

type taskOutcome int

const (
	taskSkipped taskOutcome = iota
	taskCompleted
	taskFailed
)

// RunDispatchCycle selects due tasks and runs each through claim, invocation
// and final marking. Tasks claimed by a concurrent cycle are skipped.
func (s *Service) RunDispatchCycle(ctx context.Context) result.Result[DispatchReport] {
	start := time.Now()
	batch, concurrency := DefaultDueLimit, 1
	if s.config != nil {
		batch, concurrency = s.config.DispatchBatchSize, s.config.DispatchConcurrency
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	due := s.ListDue(ctx, batch)
	if !due.Success {
		s.logger.Error().Str("kind", string(due.Kind)).Msg(due.Err)
		return result.Forward[DispatchReport](due)
	}

	var (
		mu     sync.Mutex
		report = DispatchReport{Selected: len(due.Data)}
	)
	var g errgroup.Group
	g.SetLimit(concurrency)
	for i := range due.Data {
		task := due.Data[i]
		g.Go(func() error {
			outcome, markErr := s.dispatchTask(ctx, &task)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case taskSkipped:
				report.Skipped++
			case taskCompleted:
				report.Completed++
			case taskFailed:
				report.Failed++
			}
			if markErr {
				report.MarkErrors++
			}
			return nil
		})
	}
	_ = g.Wait()

	report.DurationMs = time.Since(start).Milliseconds()
	if report.Selected > 0 {
		s.logger.Info().
			Int("selected", report.Selected).
			Int("completed", report.Completed).
			Int("failed", report.Failed).
			Int("skipped", report.Skipped).
			Int("mark_errors", report.MarkErrors).
			Int64("duration_ms", report.DurationMs).
			Msg("dispatch cycle finished")
	}
	return result.Ok(report)
}

func (s *Service) dispatchTask(ctx context.Context, task *domain.ScheduledTask) (taskOutcome, bool) {
	log := s.logger.With().Str("task_id", task.ID).Str("module_id", task.ModuleID).Logger()

	claim := s.MarkRunning(ctx, task.ID)
	if !claim.Success {
		if claim.Kind == result.KindTaskNotFound {
			log.Debug().Msg("task already claimed or deleted; skipping")
			s.recordEvent(ctx, task, domain.EventTypeTaskSkipped, map[string]any{"reason": claim.Err})
		} else {
			log.Error().Str("kind", string(claim.Kind)).Msg(claim.Err)
		}
		return taskSkipped, false
	}
	log.Info().Msg("task running")
	s.recordEvent(ctx, task, domain.EventTypeTaskRunning, map[string]any{"module_id": task.ModuleID})

	res := s.invokeTask(ctx, task)

	// A claimed task must reach a final state even when the cycle is cancelled
	// mid-invocation, otherwise it stays running and is never selected again.
	final, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalMarkTimeout)
	defer cancel()

	if res.Success {
		mark := s.MarkCompleted(final, task.ID, res.Data.Data)
		s.recordEvent(final, task, domain.EventTypeTaskCompleted, map[string]any{
			"module_type":    res.Data.ModuleType,
			"output_message": res.Data.OutputMessage,
			"session_id":     res.Data.SessionID,
		})
		log.Info().Str("module_type", string(res.Data.ModuleType)).Msg("task completed")
		return taskCompleted, s.logMarkFailure(log, mark)
	}

	failure := domain.TaskFailure{Kind: string(res.Kind), Message: res.Err}
	mark := s.MarkFailed(final, task.ID, failure)
	s.recordEvent(final, task, domain.EventTypeTaskFailed, failure)
	log.Warn().Str("kind", failure.Kind).Str("error", failure.Message).Msg("task failed")
	return taskFailed, s.logMarkFailure(log, mark)
}

func (s *Service) logMarkFailure(log zerolog.Logger, mark result.Result[struct{}]) bool {
	if mark.Success {
		return false
	}
	log.Error().Str("kind", string(mark.Kind)).Msg("failed to persist final task state: " + mark.Err)
	return true
}

// invokeTask turns a task payload into an invocation. The payload is passed as
// the input context verbatim; message, chat_mode and session_id are read from
// it when present.
func (s *Service) invokeTask(ctx context.Context, task *domain.ScheduledTask) result.Result[*domain.WorkflowOutcome] {
	module, err := s.store.GetModule(ctx, task.ModuleID)
	if err != nil {
		return result.Failf[*domain.WorkflowOutcome](result.KindUnknown, "failed to get module: %v", err)
	}
	if module == nil {
		return result.Failf[*domain.WorkflowOutcome](result.KindModuleNotFound, "module %s not found", task.ModuleID)
	}

	payload := map[string]any{}
	if len(task.Payload) > 0 {
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			return result.Failf[*domain.WorkflowOutcome](result.KindValidation, "task payload is not a JSON object: %v", err)
		}
		if payload == nil {
			payload = map[string]any{}
		}
	}

	req := InvokeRequest{
		Module:  *module,
		UserID:  task.UserID,
		Context: payload,
		TaskID:  task.ID,
		Source:  SourceDispatch,
	}
	req.Message, _ = payload["message"].(string)
	req.ChatMode, _ = payload["chat_mode"].(bool)
	req.SessionID, _ = payload["session_id"].(string)
	return s.InvokeWorkflow(ctx, req)
}
