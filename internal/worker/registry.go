package worker

import (
	"context"
	"fmt"
	"log/slog"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	// RegistryPrefix is the etcd prefix where workers announce themselves.
	RegistryPrefix = "/chess/workers/"
)

// Registry keeps a worker's presence key alive in etcd for as long as the process
// runs. The key holds the worker's health address.
type Registry struct {
	client  *clientv3.Client
	logger  *slog.Logger
	leaseID clientv3.LeaseID
	key     string
}

// NewRegistry creates a new worker registry.
func NewRegistry(client *clientv3.Client, logger *slog.Logger) *Registry {
	return &Registry{
		client: client,
		logger: logger.With("component", "worker-registry"),
	}
}

// RegistryKey is the presence key of workerID.
func RegistryKey(workerID string) string {
	return RegistryPrefix + workerID
}

// Register writes the presence key under a lease of ttl seconds and keeps the
// lease alive in the background.
func (r *Registry) Register(ctx context.Context, workerID, addr string, ttl int64) error {
	r.key = RegistryKey(workerID)

	leaseResp, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}
	r.leaseID = leaseResp.ID

	if _, err := r.client.Put(ctx, r.key, addr, clientv3.WithLease(r.leaseID)); err != nil {
		return fmt.Errorf("failed to put worker registration key: %w", err)
	}

	keepAliveCh, err := r.client.KeepAlive(context.Background(), r.leaseID)
	if err != nil {
		return fmt.Errorf("failed to start keep-alive: %w", err)
	}

	go func() {
		for ka := range keepAliveCh {
			r.logger.Debug("lease keep-alive refreshed", "lease_id", ka.ID, "ttl", ka.TTL)
		}
		// Closed channel: the lease was revoked or expired.
		r.logger.Warn("keep-alive channel closed, worker registration may have expired")
	}()

	r.logger.Info("worker registered", "key", r.key, "addr", addr)
	return nil
}

// Deregister revokes the lease, which deletes the presence key.
func (r *Registry) Deregister(ctx context.Context) error {
	r.logger.Info("deregistering worker", "key", r.key)
	if _, err := r.client.Revoke(ctx, r.leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	return nil
}
