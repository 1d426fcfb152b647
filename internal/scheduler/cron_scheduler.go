// Package scheduler runs named maintenance tasks on cron schedules.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TaskFunc is one run of a scheduled task.
type TaskFunc func(ctx context.Context) error

// CronScheduler triggers named tasks. Schedules use the six-field spec with seconds,
// or descriptors such as "@every 5s".
type CronScheduler struct {
	cron   *cron.Cron
	mu     sync.Mutex
	tasks  map[string]cron.EntryID
	logger *slog.Logger
	tracer trace.Tracer

	campaignRetry time.Duration
}

// NewCronScheduler creates a scheduler with no tasks.
func NewCronScheduler(logger *slog.Logger) *CronScheduler {
	return &CronScheduler{
		cron:   cron.New(cron.WithSeconds()),
		tasks:  make(map[string]cron.EntryID),
		logger: logger.With("component", "cron-scheduler"),
		tracer: otel.Tracer("chess-dispatch-scheduler"),
	}
}

// Start runs the scheduler until ctx is done, then waits for running tasks.
func (s *CronScheduler) Start(ctx context.Context) error {
	s.logger.Info("cron scheduler started")
	s.cron.Start()
	<-ctx.Done()
	s.logger.Info("cron scheduler stopping...")
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("cron scheduler stopped")
	return nil
}

// AddTask schedules fn under name, replacing any task with the same name.
func (s *CronScheduler) AddTask(name, spec string, fn TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.tasks[name]; ok {
		s.cron.Remove(entryID)
	}

	wrapper := &taskWrapper{
		name:   name,
		fn:     fn,
		logger: s.logger.With("task", name),
		tracer: s.tracer,
	}

	entryID, err := s.cron.AddJob(spec, cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(wrapper))
	if err != nil {
		s.logger.Error("failed to add task to cron", "task", name, "error", err)
		return err
	}

	s.tasks[name] = entryID
	s.logger.Info("added task to scheduler", "task", name, "schedule", spec)
	return nil
}

// RemoveTask unschedules name. Removing an unknown task is a no-op.
func (s *CronScheduler) RemoveTask(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.tasks[name]; ok {
		s.cron.Remove(entryID)
		delete(s.tasks, name)
		s.logger.Info("removed task from scheduler", "task", name)
	}
}

// Tasks returns the names of the scheduled tasks.
func (s *CronScheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}

type taskWrapper struct {
	name   string
	fn     TaskFunc
	logger *slog.Logger
	tracer trace.Tracer
}

// Run is called by the cron library.
func (w *taskWrapper) Run() {
	// Start a new trace for this background run.
	ctx, span := w.tracer.Start(context.Background(), "scheduler.RunTask",
		trace.WithAttributes(attribute.String("task.name", w.name)))
	defer span.End()

	if err := w.fn(ctx); err != nil {
		w.logger.Error("scheduled task failed", "error", err)
		span.RecordError(err)
	}
}
