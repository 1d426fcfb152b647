// Package memory provides an in-process implementation of domain.Store.
// It offers the same atomicity as the networked stores within a single process and
// is used by tests and by single-process development setups.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"chess-dispatch/internal/domain"
)

var errClosed = errors.New("memory store closed")

type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Store is a mutex-guarded set of FIFO queues and expiring keys.
type Store struct {
	mu       sync.Mutex
	queues   map[string][]string
	kv       map[string]entry
	watchers map[string]map[chan struct{}]struct{}
	// pushed is closed and replaced on every Push to wake blocked consumers.
	pushed chan struct{}
	closed bool
	now    func() time.Time
}

var (
	_ domain.Store          = (*Store)(nil)
	_ domain.Notifier       = (*Store)(nil)
	_ domain.BlockingPopper = (*Store)(nil)
)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		queues:   make(map[string][]string),
		kv:       make(map[string]entry),
		watchers: make(map[string]map[chan struct{}]struct{}),
		pushed:   make(chan struct{}),
		now:      time.Now,
	}
}

func (s *Store) Push(ctx context.Context, queue, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Join(domain.ErrStoreUnavailable, errClosed)
	}

	s.queues[queue] = append(s.queues[queue], value)
	close(s.pushed)
	s.pushed = make(chan struct{})
	return nil
}

func (s *Store) Pop(ctx context.Context, queue string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, errors.Join(domain.ErrStoreUnavailable, errClosed)
	}
	return s.popLocked(queue)
}

func (s *Store) popLocked(queue string) (string, bool, error) {
	q := s.queues[queue]
	if len(q) == 0 {
		return "", false, nil
	}
	value := q[0]
	q[0] = ""
	s.queues[queue] = q[1:]
	return value, true, nil
}

// BlockingPop waits up to timeout for an entry to become available.
func (s *Store) BlockingPop(ctx context.Context, queue string, timeout time.Duration) (string, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return "", false, errors.Join(domain.ErrStoreUnavailable, errClosed)
		}
		value, ok, err := s.popLocked(queue)
		wake := s.pushed
		s.mu.Unlock()
		if ok || err != nil {
			return value, ok, err
		}

		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-timer.C:
			return "", false, nil
		case <-wake:
		}
	}
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Join(domain.ErrStoreUnavailable, errClosed)
	}

	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.kv[key] = e

	for ch := range s.watchers[key] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, errors.Join(domain.ErrStoreUnavailable, errClosed)
	}

	e, ok := s.kv[key]
	if !ok {
		return "", false, nil
	}
	if e.expired(s.now()) {
		delete(s.kv, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Join(domain.ErrStoreUnavailable, errClosed)
	}
	delete(s.kv, key)
	return nil
}

func (s *Store) Len(ctx context.Context, queue string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errors.Join(domain.ErrStoreUnavailable, errClosed)
	}
	return int64(len(s.queues[queue])), nil
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Join(domain.ErrStoreUnavailable, errClosed)
	}
	return ctx.Err()
}

// Watch signals on the returned channel after each Set of key.
func (s *Store) Watch(ctx context.Context, key string) (<-chan struct{}, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	ch := make(chan struct{}, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, errors.Join(domain.ErrStoreUnavailable, errClosed)
	}
	if s.watchers[key] == nil {
		s.watchers[key] = make(map[chan struct{}]struct{})
	}
	s.watchers[key][ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.watchers[key], ch)
			if len(s.watchers[key]) == 0 {
				delete(s.watchers, key)
			}
		})
	}
	return ch, stop, nil
}

// Close makes every subsequent call fail with domain.ErrStoreUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.pushed)
	}
	return nil
}
