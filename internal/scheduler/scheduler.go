// Package scheduler runs the dispatcher's periodic jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one periodic unit of work. It receives the scheduler's context.
type Job func(ctx context.Context)

// Scheduler wraps a cron runner. A job whose previous run is still in
// progress is skipped.
type Scheduler struct {
	parser cron.Parser
	c      *cron.Cron
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler running in loc (UTC when nil).
func New(log zerolog.Logger, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	log = log.With().Str("component", "scheduler").Logger()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		parser: parser,
		c: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log})),
		),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers job under name on schedule.
func (s *Scheduler) Add(name, schedule string, job Job) error {
	if _, err := s.parser.Parse(schedule); err != nil {
		return fmt.Errorf("%s: invalid schedule %q: %w", name, schedule, err)
	}
	_, err := s.c.AddFunc(schedule, func() {
		if s.ctx.Err() != nil {
			return
		}
		start := time.Now()
		job(s.ctx)
		s.log.Debug().Str("job", name).Dur("elapsed", time.Since(start)).Msg("job finished")
	})
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	s.log.Info().Str("job", name).Str("schedule", schedule).Msg("job scheduled")
	return nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.c.Start()
}

// Stop cancels the jobs' context and waits for running jobs to return or
// ctx to be done.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop timed out with jobs still running")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
