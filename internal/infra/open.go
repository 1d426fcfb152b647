// Package infra selects and connects the configured store backend.
package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chess-dispatch/internal/config"
	"chess-dispatch/internal/domain"
	"chess-dispatch/internal/infra/etcd"
	"chess-dispatch/internal/infra/memory"
	"chess-dispatch/internal/infra/redis"

	"github.com/cenkalti/backoff/v4"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Backend is an opened store. Etcd is set only for the etcd backend, where it also
// serves the worker registry.
type Backend struct {
	Store domain.Store
	Etcd  *clientv3.Client
}

// Open creates the store named by cfg.StoreBackend. It does not check
// connectivity; see WaitReady.
func Open(cfg *config.Config, logger *slog.Logger) (*Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		client := redis.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		return &Backend{Store: redis.NewStore(client, logger)}, nil
	case config.BackendEtcd:
		client, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
		if err != nil {
			return nil, err
		}
		return &Backend{Store: etcd.NewStore(client, logger), Etcd: client}, nil
	case config.BackendMemory:
		logger.Warn("using in-process memory store; backend and worker must share the process")
		return &Backend{Store: memory.NewStore()}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// WaitReady pings store with exponential backoff until it answers or maxWait
// elapses.
func WaitReady(ctx context.Context, store domain.Store, maxWait time.Duration, logger *slog.Logger) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = maxWait

	return backoff.RetryNotify(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		return store.Ping(pingCtx)
	}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
		logger.Warn("store not ready, retrying", "error", err, "backoff", wait)
	})
}
