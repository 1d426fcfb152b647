package scheduler

import (
	"context"
	"fmt"
	"time"

	"chess-dispatch/internal/domain"
	"chess-dispatch/internal/metrics"
)

// QueueDepthTask is the name the backend registers the sampler under.
const QueueDepthTask = "queue-depth"

// QueueDepthSampler returns a task that records the number of pending jobs in the
// job_queue_depth gauge.
func QueueDepthSampler(store domain.Store, queue string) TaskFunc {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		n, err := store.Len(ctx, queue)
		if err != nil {
			return fmt.Errorf("sample queue %s: %w", queue, err)
		}
		metrics.QueueDepth.Set(float64(n))
		return nil
	}
}
