// internal/infra/etcd/store.go
package etcd

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"chess-dispatch/internal/domain"

	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	QueueDir = "/chess/queues/"
	KeyDir   = "/chess/keys/"
	// maxPopAttempts bounds the compare-and-delete retries when consumers race for the head.
	maxPopAttempts = 16
)

type etcdStore struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// Store is the etcd-backed domain.Store.
type Store interface {
	domain.Store
	domain.Notifier
}

// NewStore creates a store backed by etcd.
// Queue entries are ordered by their create revision; a pop deletes the head inside a
// transaction guarded on that revision, so two consumers can never claim the same entry.
func NewStore(client *clientv3.Client, logger *slog.Logger) Store {
	return &etcdStore{
		client: client,
		logger: logger.With("component", "etcd-store"),
		tracer: otel.Tracer("chess-dispatch-etcd-store"),
	}
}

func queuePrefix(queue string) string {
	return path.Join(QueueDir, queue) + "/"
}

func keyPath(key string) string {
	return path.Join(KeyDir, key)
}

func (s *etcdStore) fail(span trace.Span, op, key string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, op+" failed")
	return fmt.Errorf("etcd %s %s: %w: %w", op, key, domain.ErrStoreUnavailable, err)
}

// Push stores the value under a unique key in the queue's directory.
func (s *etcdStore) Push(ctx context.Context, queue, value string) error {
	ctx, span := s.tracer.Start(ctx, "store.etcd.Push")
	defer span.End()

	key := queuePrefix(queue) + uuid.NewString()
	span.SetAttributes(attribute.String("etcd.key", key))

	if _, err := s.client.Put(ctx, key, value); err != nil {
		return s.fail(span, "put", key, err)
	}
	return nil
}

func (s *etcdStore) Pop(ctx context.Context, queue string) (string, bool, error) {
	ctx, span := s.tracer.Start(ctx, "store.etcd.Pop", trace.WithAttributes(attribute.String("queue", queue)))
	defer span.End()

	prefix := queuePrefix(queue)
	for attempt := 0; attempt < maxPopAttempts; attempt++ {
		resp, err := s.client.Get(ctx, prefix,
			clientv3.WithPrefix(),
			clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortAscend), // Oldest first
			clientv3.WithLimit(1),
		)
		if err != nil {
			return "", false, s.fail(span, "get", prefix, err)
		}
		if len(resp.Kvs) == 0 {
			return "", false, nil
		}

		head := resp.Kvs[0]
		txn, err := s.client.Txn(ctx).
			If(clientv3.Compare(clientv3.CreateRevision(string(head.Key)), "=", head.CreateRevision)).
			Then(clientv3.OpDelete(string(head.Key))).
			Commit()
		if err != nil {
			return "", false, s.fail(span, "txn", string(head.Key), err)
		}
		if txn.Succeeded {
			span.SetAttributes(attribute.Int("pop.attempts", attempt+1))
			return string(head.Value), true, nil
		}
		s.logger.Debug("lost race for queue head, retrying", "key", string(head.Key))
	}
	return "", false, nil
}

func (s *etcdStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, span := s.tracer.Start(ctx, "store.etcd.Set")
	defer span.End()

	full := keyPath(key)
	span.SetAttributes(attribute.String("etcd.key", full))

	var opts []clientv3.OpOption
	if ttl > 0 {
		seconds := int64(ttl / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		lease, err := s.client.Grant(ctx, seconds)
		if err != nil {
			return s.fail(span, "grant", full, err)
		}
		opts = append(opts, clientv3.WithLease(lease.ID))
	}

	if _, err := s.client.Put(ctx, full, value, opts...); err != nil {
		return s.fail(span, "put", full, err)
	}
	return nil
}

func (s *etcdStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, span := s.tracer.Start(ctx, "store.etcd.Get")
	defer span.End()

	full := keyPath(key)
	resp, err := s.client.Get(ctx, full)
	if err != nil {
		return "", false, s.fail(span, "get", full, err)
	}
	if len(resp.Kvs) == 0 {
		return "", false, nil
	}
	return string(resp.Kvs[0].Value), true, nil
}

func (s *etcdStore) Delete(ctx context.Context, key string) error {
	ctx, span := s.tracer.Start(ctx, "store.etcd.Delete")
	defer span.End()

	full := keyPath(key)
	if _, err := s.client.Delete(ctx, full); err != nil {
		return s.fail(span, "delete", full, err)
	}
	return nil
}

func (s *etcdStore) Len(ctx context.Context, queue string) (int64, error) {
	resp, err := s.client.Get(ctx, queuePrefix(queue), clientv3.WithPrefix(), clientv3.WithCountOnly())
	if err != nil {
		return 0, fmt.Errorf("etcd count %s: %w: %w", queue, domain.ErrStoreUnavailable, err)
	}
	return resp.Count, nil
}

func (s *etcdStore) Ping(ctx context.Context) error {
	endpoints := s.client.Endpoints()
	if len(endpoints) == 0 {
		return fmt.Errorf("etcd: %w: no endpoints configured", domain.ErrStoreUnavailable)
	}
	if _, err := s.client.Status(ctx, endpoints[0]); err != nil {
		return fmt.Errorf("etcd status %s: %w: %w", endpoints[0], domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Watch signals after every put on key until stop is called or ctx is done. It
// returns once the server has registered the watcher, so a put that follows the
// call is never missed.
func (s *etcdStore) Watch(ctx context.Context, key string) (<-chan struct{}, func(), error) {
	watchCtx, cancel := context.WithCancel(clientv3.WithRequireLeader(ctx))
	watchChan := s.client.Watch(watchCtx, keyPath(key), clientv3.WithCreatedNotify())

	created, ok := <-watchChan
	if !ok {
		cancel()
		return nil, nil, fmt.Errorf("etcd watch %s: %w: closed before it was created", key, domain.ErrStoreUnavailable)
	}
	if err := created.Err(); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("etcd watch %s: %w: %w", key, domain.ErrStoreUnavailable, err)
	}

	events := make(chan struct{}, 1)
	go func() {
		for watchResp := range watchChan {
			if err := watchResp.Err(); err != nil {
				s.logger.Warn("watch interrupted", "key", key, "error", err)
				return
			}
			for _, event := range watchResp.Events {
				if event.Type != clientv3.EventTypePut {
					continue
				}
				select {
				case events <- struct{}{}:
				default:
				}
			}
		}
	}()
	return events, cancel, nil
}

func (s *etcdStore) Close() error {
	return s.client.Close()
}
