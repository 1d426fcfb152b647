package domain

import (
	"context"
	"time"
)

// Store is the shared queue and key/value store that dispatchers and workers
// rendezvous through. Every mutation must be atomic in the underlying store.
type Store interface {
	// Push appends value to the tail of the named queue.
	Push(ctx context.Context, queue, value string) error
	// Pop atomically removes and returns the head of the queue.
	// ok is false when the queue is empty.
	Pop(ctx context.Context, queue string) (value string, ok bool, err error)
	// Set writes value under key, overwriting any previous value.
	// A positive ttl makes the key expire if nobody deletes it.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get reads key. ok is false when the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Len reports the number of pending entries in the queue.
	Len(ctx context.Context, queue string) (int64, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	Close() error
}

// Notifier is implemented by stores that can signal when a key is written.
// The returned channel receives a value after each write to key until stop is called.
type Notifier interface {
	Watch(ctx context.Context, key string) (events <-chan struct{}, stop func(), err error)
}

// BlockingPopper is implemented by stores that can suspend a consumer until a
// queue entry is available or timeout elapses.
type BlockingPopper interface {
	BlockingPop(ctx context.Context, queue string, timeout time.Duration) (value string, ok bool, err error)
}
