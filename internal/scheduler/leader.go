package scheduler

import (
	"context"
	"time"
)

const campaignRetryDelay = 5 * time.Second

// Elector is a leader election the scheduler can run under.
type Elector interface {
	// Campaign blocks until leadership is won. The channel closes when it is lost.
	Campaign(ctx context.Context) (<-chan struct{}, error)
	Resign(ctx context.Context) error
}

// StartAsLeader runs the scheduler only while this node holds leadership, so that
// several backends sharing a store do not all run the same tasks. It returns when
// ctx is done.
func (s *CronScheduler) StartAsLeader(ctx context.Context, elector Elector) error {
	for ctx.Err() == nil {
		s.logger.Info("campaigning for scheduler leadership")
		lost, err := elector.Campaign(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.Error("leadership campaign failed", "error", err, "retry_in", campaignRetryDelay)
			wait(ctx, s.retryDelay())
			continue
		}

		leaderCtx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-lost:
				s.logger.Warn("scheduler leadership lost")
				cancel()
			case <-leaderCtx.Done():
			}
		}()
		_ = s.Start(leaderCtx)
		cancel()

		resignCtx, resignCancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		if err := elector.Resign(resignCtx); err != nil {
			s.logger.Warn("failed to resign leadership", "error", err)
		}
		resignCancel()
	}
	return nil
}

func (s *CronScheduler) retryDelay() time.Duration {
	if s.campaignRetry > 0 {
		return s.campaignRetry
	}
	return campaignRetryDelay
}

func wait(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
