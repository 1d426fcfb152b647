// internal/infra/redis/store.go
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chess-dispatch/internal/domain"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// NotifyChannelPrefix namespaces the pub/sub channels announcing result writes.
	NotifyChannelPrefix = "notify:"
)

type redisStore struct {
	client *goredis.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// Store is the redis-backed domain.Store. Queues are lists (RPUSH/LPOP), results are
// plain string keys, and every Set is announced on a pub/sub channel for Watch.
type Store interface {
	domain.Store
	domain.Notifier
	domain.BlockingPopper
}

// NewStore wraps a go-redis client. The store owns the client and closes it on Close.
func NewStore(client *goredis.Client, logger *slog.Logger) Store {
	return &redisStore{
		client: client,
		logger: logger.With("component", "redis-store"),
		tracer: otel.Tracer("chess-dispatch-redis-store"),
	}
}

func (s *redisStore) fail(span trace.Span, op, key string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, op+" failed")
	return fmt.Errorf("redis %s %s: %w: %w", op, key, domain.ErrStoreUnavailable, err)
}

func (s *redisStore) Push(ctx context.Context, queue, value string) error {
	ctx, span := s.tracer.Start(ctx, "store.redis.Push", trace.WithAttributes(attribute.String("redis.key", queue)))
	defer span.End()

	if err := s.client.RPush(ctx, queue, value).Err(); err != nil {
		return s.fail(span, "RPUSH", queue, err)
	}
	return nil
}

func (s *redisStore) Pop(ctx context.Context, queue string) (string, bool, error) {
	ctx, span := s.tracer.Start(ctx, "store.redis.Pop", trace.WithAttributes(attribute.String("redis.key", queue)))
	defer span.End()

	value, err := s.client.LPop(ctx, queue).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.fail(span, "LPOP", queue, err)
	}
	return value, true, nil
}

// BlockingPop uses BLPOP so an idle consumer waits inside redis instead of polling.
func (s *redisStore) BlockingPop(ctx context.Context, queue string, timeout time.Duration) (string, bool, error) {
	ctx, span := s.tracer.Start(ctx, "store.redis.BlockingPop", trace.WithAttributes(attribute.String("redis.key", queue)))
	defer span.End()

	res, err := s.client.BLPop(ctx, timeout, queue).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", false, ctx.Err()
		}
		return "", false, s.fail(span, "BLPOP", queue, err)
	}
	// BLPOP replies with [key, value].
	if len(res) != 2 {
		return "", false, s.fail(span, "BLPOP", queue, fmt.Errorf("unexpected reply length %d", len(res)))
	}
	return res[1], true, nil
}

// Set writes the key and publishes a notification in one MULTI/EXEC.
func (s *redisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, span := s.tracer.Start(ctx, "store.redis.Set", trace.WithAttributes(attribute.String("redis.key", key)))
	defer span.End()

	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, key, value, ttl)
		pipe.Publish(ctx, NotifyChannelPrefix+key, "set")
		return nil
	})
	if err != nil {
		return s.fail(span, "SET", key, err)
	}
	return nil
}

func (s *redisStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, span := s.tracer.Start(ctx, "store.redis.Get", trace.WithAttributes(attribute.String("redis.key", key)))
	defer span.End()

	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, s.fail(span, "GET", key, err)
	}
	return value, true, nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	ctx, span := s.tracer.Start(ctx, "store.redis.Delete", trace.WithAttributes(attribute.String("redis.key", key)))
	defer span.End()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return s.fail(span, "DEL", key, err)
	}
	return nil
}

func (s *redisStore) Len(ctx context.Context, queue string) (int64, error) {
	n, err := s.client.LLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("redis LLEN %s: %w: %w", queue, domain.ErrStoreUnavailable, err)
	}
	return n, nil
}

func (s *redisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis PING: %w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Watch subscribes to the notification channel of key. The subscription is
// confirmed before Watch returns, so a Set issued afterwards is never missed.
func (s *redisStore) Watch(ctx context.Context, key string) (<-chan struct{}, func(), error) {
	ps := s.client.Subscribe(ctx, NotifyChannelPrefix+key)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("redis SUBSCRIBE %s: %w: %w", key, domain.ErrStoreUnavailable, err)
	}

	events := make(chan struct{}, 1)
	msgs := ps.Channel()
	go func() {
		for range msgs {
			select {
			case events <- struct{}{}:
			default:
			}
		}
	}()

	stop := func() {
		if err := ps.Close(); err != nil {
			s.logger.Debug("failed to close subscription", "key", key, "error", err)
		}
	}
	return events, stop, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
