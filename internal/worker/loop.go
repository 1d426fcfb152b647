// Package worker consumes queued jobs, asks the engine for a reply move and
// writes the result back for the dispatcher.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chess-dispatch/internal/codec"
	"chess-dispatch/internal/domain"
	"chess-dispatch/internal/metrics"
	"chess-dispatch/internal/tracing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const resultWriteTimeout = 5 * time.Second

// Options tune the worker loop.
type Options struct {
	QueueKey        string
	ResultKeyPrefix string
	ResultTTL       time.Duration
	// IdleInterval is the sleep after an empty pop, and the block timeout when
	// BlockingPop is used.
	IdleInterval   time.Duration
	PacingInterval time.Duration
	// BlockingPop makes the loop wait inside the store for a job when the store
	// supports it.
	BlockingPop bool
}

// Loop is a single sequential consumer. Run one Loop per engine.
type Loop struct {
	store   domain.Store
	popper  domain.BlockingPopper
	engine  domain.Engine
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer
	sleepFn func(ctx context.Context, d time.Duration)
}

// NewLoop creates a worker loop reading from store and computing with engine.
func NewLoop(store domain.Store, engine domain.Engine, opts Options, logger *slog.Logger) *Loop {
	l := &Loop{
		store:   store,
		engine:  engine,
		opts:    opts,
		logger:  logger.With("component", "worker-loop"),
		tracer:  otel.Tracer("chess-dispatch-worker"),
		sleepFn: sleep,
	}
	if p, ok := store.(domain.BlockingPopper); ok && opts.BlockingPop {
		l.popper = p
	}
	return l
}

// Run pops and processes jobs until ctx is done. Failures of individual jobs are
// logged and reported through their result; they never stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("worker loop started",
		"queue", l.opts.QueueKey,
		"blocking_pop", l.popper != nil,
		"idle_interval", l.opts.IdleInterval,
		"pacing_interval", l.opts.PacingInterval,
	)
	for {
		if ctx.Err() != nil {
			l.logger.Info("worker loop stopped")
			return nil
		}

		raw, ok, err := l.next(ctx)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				l.logger.Error("failed to pop job", "error", err)
				l.sleepFn(ctx, l.opts.IdleInterval)
			}
		case !ok:
			if l.popper == nil {
				l.sleepFn(ctx, l.opts.IdleInterval)
			}
		default:
			if err := l.Process(ctx, raw); err != nil {
				l.logger.Warn("job finished with error", "error", err)
			}
		}

		l.sleepFn(ctx, l.opts.PacingInterval)
	}
}

func (l *Loop) next(ctx context.Context) (string, bool, error) {
	if l.popper != nil {
		return l.popper.BlockingPop(ctx, l.opts.QueueKey, l.opts.IdleInterval)
	}
	return l.store.Pop(ctx, l.opts.QueueKey)
}

// Process handles one raw queue payload. The returned error describes why the job
// failed; when the job id is known an error result has already been written.
func (l *Loop) Process(ctx context.Context, raw string) (err error) {
	job, err := codec.DecodeJob(raw)
	if err != nil {
		return l.reject(ctx, raw, err)
	}

	parent := trace.SpanContextFromContext(tracing.Extract(ctx, job.Trace))
	ctx, span := l.tracer.Start(ctx, "worker.Process",
		trace.WithNewRoot(),
		trace.WithLinks(trace.Link{SpanContext: parent}),
		trace.WithAttributes(
			attribute.String("job.id", job.ID),
			attribute.String("game.id", job.GameID),
			attribute.String("move", job.Move),
		),
	)
	defer span.End()

	logger := l.logger.With("job_id", job.ID, "game_id", job.GameID)
	if !job.EnqueuedAt.IsZero() {
		logger.Debug("job picked up", "queued_for", time.Since(job.EnqueuedAt))
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrEngineFailure, r)
			logger.Error("job processing panicked", "panic", r)
			l.fail(ctx, span, logger, job.ID, err)
		}
	}()

	fen := domain.NormalizePosition(job.FEN)
	logger.Info("computing reply", "move", job.Move, "fen", fen)

	best, err := l.compute(ctx, fen)
	if err != nil {
		l.fail(ctx, span, logger, job.ID, err)
		return err
	}

	if err := l.write(ctx, domain.OK(job.ID, best)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write result")
		metrics.WorkerJobsTotal.WithLabelValues("error").Inc()
		logger.Error("failed to write result", "error", err)
		return err
	}

	metrics.WorkerJobsTotal.WithLabelValues("ok").Inc()
	span.SetAttributes(attribute.String("best_move", best))
	span.SetStatus(codes.Ok, "reply computed")
	logger.Info("result written", "best_move", best)
	return nil
}

func (l *Loop) compute(ctx context.Context, fen string) (string, error) {
	metrics.EngineRequestsTotal.Inc()
	timer := prometheus.NewTimer(metrics.EngineComputeSeconds)
	defer timer.ObserveDuration()

	if err := l.engine.SetPosition(ctx, fen); err != nil {
		return "", engineErr(err)
	}
	best, err := l.engine.BestMove(ctx)
	if err != nil {
		return "", engineErr(err)
	}
	return best, nil
}

// reject handles a payload that could not be decoded. If it still names a job id
// the dispatcher is told, otherwise the payload is dropped.
func (l *Loop) reject(ctx context.Context, raw string, cause error) error {
	jobID := codec.PeekJobID(raw)
	if jobID == "" {
		metrics.WorkerJobsTotal.WithLabelValues("dropped").Inc()
		l.logger.Error("dropping unaddressable payload", "error", cause, "payload_len", len(raw))
		return cause
	}
	metrics.WorkerJobsTotal.WithLabelValues("error").Inc()
	l.logger.Error("rejecting malformed job", "job_id", jobID, "error", cause)
	if err := l.write(ctx, domain.Failed(jobID, cause.Error())); err != nil {
		l.logger.Error("failed to write error result", "job_id", jobID, "error", err)
		return errors.Join(cause, err)
	}
	return cause
}

func (l *Loop) fail(ctx context.Context, span trace.Span, logger *slog.Logger, jobID string, cause error) {
	metrics.WorkerJobsTotal.WithLabelValues("error").Inc()
	span.RecordError(cause)
	span.SetStatus(codes.Error, "job failed")
	logger.Error("job failed", "error", cause)
	if err := l.write(ctx, domain.Failed(jobID, cause.Error())); err != nil {
		logger.Error("failed to write error result", "error", err)
	}
}

// write stores result under its job key. It outlives ctx so a job that finished
// during shutdown still reaches its dispatcher.
func (l *Loop) write(ctx context.Context, result *domain.Result) error {
	payload, err := codec.EncodeResult(result)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resultWriteTimeout)
	defer cancel()
	key := domain.ResultKey(l.opts.ResultKeyPrefix, result.JobID)
	return l.store.Set(ctx, key, payload, l.opts.ResultTTL)
}

func engineErr(err error) error {
	if errors.Is(err, domain.ErrEngineFailure) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrEngineFailure, err)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
