package dispatch

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"chess-dispatch/internal/metrics"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// WorkerDiscovery tracks the workers announced under a registry prefix in etcd.
// It is informational only: jobs go through the queue whatever it reports.
type WorkerDiscovery struct {
	client  *clientv3.Client
	prefix  string
	logger  *slog.Logger
	workers map[string]string // workerID -> health address
	mu      sync.RWMutex
}

// NewWorkerDiscovery creates a discovery service watching prefix.
func NewWorkerDiscovery(client *clientv3.Client, prefix string, logger *slog.Logger) *WorkerDiscovery {
	return &WorkerDiscovery{
		client:  client,
		prefix:  prefix,
		logger:  logger.With("component", "worker-discovery"),
		workers: make(map[string]string),
	}
}

// WatchWorkers loads the current registrations and then follows changes until ctx
// is done. It blocks; run it in a goroutine.
func (d *WorkerDiscovery) WatchWorkers(ctx context.Context) {
	d.logger.Info("starting to watch for workers", "prefix", d.prefix)

	rev, err := d.loadInitialWorkers(ctx)
	if err != nil {
		d.logger.Error("failed to perform initial worker load", "error", err)
	}

	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if rev > 0 {
		opts = append(opts, clientv3.WithRev(rev+1))
	}
	for watchResp := range d.client.Watch(ctx, d.prefix, opts...) {
		for _, event := range watchResp.Events {
			switch event.Type {
			case clientv3.EventTypePut:
				d.put(string(event.Kv.Key), string(event.Kv.Value))
			case clientv3.EventTypeDelete:
				d.remove(string(event.Kv.Key))
			}
		}
	}
	d.logger.Info("stopped watching for workers")
}

func (d *WorkerDiscovery) loadInitialWorkers(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := d.client.Get(ctx, d.prefix, clientv3.WithPrefix())
	if err != nil {
		return 0, err
	}
	for _, kv := range resp.Kvs {
		d.put(string(kv.Key), string(kv.Value))
	}
	return resp.Header.Revision, nil
}

func (d *WorkerDiscovery) put(key, addr string) {
	id := strings.TrimPrefix(key, d.prefix)
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.workers[id]; !ok {
		d.logger.Info("worker discovered", "id", id, "addr", addr)
	}
	d.workers[id] = addr
	metrics.RegisteredWorkers.Set(float64(len(d.workers)))
}

func (d *WorkerDiscovery) remove(key string) {
	id := strings.TrimPrefix(key, d.prefix)
	d.mu.Lock()
	defer d.mu.Unlock()
	if addr, ok := d.workers[id]; ok {
		d.logger.Info("worker deregistered", "id", id, "addr", addr)
		delete(d.workers, id)
	}
	metrics.RegisteredWorkers.Set(float64(len(d.workers)))
}

// Workers returns a sorted snapshot of the registered workers' addresses.
func (d *WorkerDiscovery) Workers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addrs := make([]string, 0, len(d.workers))
	for _, addr := range d.workers {
		addrs = append(addrs, addr)
	}
	slices.Sort(addrs)
	return addrs
}
