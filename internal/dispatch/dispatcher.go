// Package dispatch hands jobs to workers through the shared store and waits for
// their results.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chess-dispatch/internal/codec"
	"chess-dispatch/internal/domain"
	"chess-dispatch/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Options tune the rendezvous wait.
type Options struct {
	QueueKey        string
	ResultKeyPrefix string
	// PollInterval is the delay between result checks. With a Notifier store it is
	// only the fallback for a missed notification.
	PollInterval time.Duration
	// Timeout bounds the wait for a result. Zero waits until ctx is done.
	Timeout time.Duration
}

// Dispatcher enqueues jobs and performs the keyed result rendezvous.
type Dispatcher struct {
	store  domain.Store
	opts   Options
	logger *slog.Logger
	tracer trace.Tracer
}

// NewDispatcher creates a dispatcher on top of store.
func NewDispatcher(store domain.Store, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 50 * time.Millisecond
	}
	return &Dispatcher{
		store:  store,
		opts:   opts,
		logger: logger.With("component", "dispatcher"),
		tracer: otel.Tracer("chess-dispatch-dispatcher"),
	}
}

// Dispatch pushes job onto the queue and blocks until a worker has written its
// result, the wait deadline passes, or ctx is done. The result key is deleted once
// read. A worker-reported failure is returned as a *domain.JobFailedError.
func (d *Dispatcher) Dispatch(ctx context.Context, job *domain.Job) (*domain.Result, error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.Dispatch", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("game.id", job.GameID),
	))
	defer span.End()

	logger := d.logger.With("job_id", job.ID, "game_id", job.GameID)

	payload, err := codec.EncodeJob(job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to encode job")
		return nil, err
	}

	if err := d.store.Push(ctx, d.opts.QueueKey, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to enqueue job")
		logger.Error("failed to push job", "error", err)
		return nil, err
	}
	logger.Info("job pushed to queue", "queue", d.opts.QueueKey, "move", job.Move)

	result, err := d.Await(ctx, job.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to obtain result")
		return nil, err
	}
	span.SetAttributes(attribute.String("result.best_move", result.BestMove))
	return result, nil
}

// Await waits for the result of an already enqueued job. The wait is recorded in
// the job latency histogram whatever its outcome.
func (d *Dispatcher) Await(ctx context.Context, jobID string) (*domain.Result, error) {
	timer := prometheus.NewTimer(metrics.JobLatency)
	defer timer.ObserveDuration()

	if d.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, d.opts.Timeout, domain.ErrResultTimeout)
		defer cancel()
	}

	key := domain.ResultKey(d.opts.ResultKeyPrefix, jobID)
	logger := d.logger.With("job_id", jobID, "key", key)

	// A nil channel never fires, leaving the ticker in charge.
	var notify <-chan struct{}
	if n, ok := d.store.(domain.Notifier); ok {
		events, stop, err := n.Watch(ctx, key)
		if err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return nil, d.waitAborted(jobID, cause)
			}
			logger.Warn("result watch unavailable, falling back to polling", "error", err)
		} else {
			notify = events
			defer stop()
		}
	}

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()

	logger.Debug("waiting for worker to compute result")
	for attempt := 1; ; attempt++ {
		raw, found, err := d.store.Get(ctx, key)
		if err != nil {
			if cause := context.Cause(ctx); cause != nil {
				return nil, d.waitAborted(jobID, cause)
			}
			logger.Error("failed to read result", "error", err)
			return nil, err
		}
		if found {
			logger.Info("result received from worker", "polls", attempt)
			return d.take(ctx, jobID, key, raw)
		}

		select {
		case <-ctx.Done():
			return nil, d.waitAborted(jobID, context.Cause(ctx))
		case <-notify:
		case <-ticker.C:
		}
	}
}

// take deletes the result key and decodes the payload read from it.
func (d *Dispatcher) take(ctx context.Context, jobID, key, raw string) (*domain.Result, error) {
	// The value is already in hand; a failed delete leaves the key to its TTL.
	if err := d.store.Delete(context.WithoutCancel(ctx), key); err != nil {
		d.logger.Warn("failed to delete result key", "key", key, "error", err)
	} else {
		d.logger.Debug("deleted result key", "key", key)
	}

	result, err := codec.DecodeResult(raw)
	if err != nil {
		return nil, err
	}
	if result.JobID != "" && result.JobID != jobID {
		return nil, fmt.Errorf("%w: result under %s belongs to job %s", domain.ErrMalformedPayload, key, result.JobID)
	}
	result.JobID = jobID

	if result.Status == domain.ResultStatusError {
		return nil, &domain.JobFailedError{JobID: jobID, Reason: result.Error}
	}
	return result, nil
}

func (d *Dispatcher) waitAborted(jobID string, cause error) error {
	if errors.Is(cause, domain.ErrResultTimeout) {
		d.logger.Warn("gave up waiting for result", "job_id", jobID, "timeout", d.opts.Timeout)
		return fmt.Errorf("job %s: %w after %s", jobID, domain.ErrResultTimeout, d.opts.Timeout)
	}
	return cause
}
