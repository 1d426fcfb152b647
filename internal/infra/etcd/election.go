package etcd

import (
	"context"
	"log/slog"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// ElectionPrefix is the etcd prefix backends campaign under to run the
// maintenance scheduler.
const ElectionPrefix = "/chess/leader/scheduler"

// Elector runs an etcd leader election for one node.
type Elector struct {
	client *clientv3.Client
	nodeID string
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	session  *concurrency.Session
	election *concurrency.Election
	isLeader bool
}

// NewElector creates an elector. ttl is the session lease; leadership is lost that
// long after the node stops refreshing it.
func NewElector(client *clientv3.Client, nodeID string, ttl time.Duration, logger *slog.Logger) *Elector {
	return &Elector{
		client: client,
		nodeID: nodeID,
		ttl:    ttl,
		logger: logger.With("component", "leader-election", "node_id", nodeID),
	}
}

// Campaign blocks until this node is leader or ctx is done. The returned channel is
// closed when leadership is lost.
func (e *Elector) Campaign(ctx context.Context) (<-chan struct{}, error) {
	session, err := concurrency.NewSession(e.client,
		concurrency.WithTTL(int(e.ttl.Seconds())),
		concurrency.WithContext(ctx))
	if err != nil {
		return nil, err
	}

	election := concurrency.NewElection(session, ElectionPrefix)
	if err := election.Campaign(ctx, e.nodeID); err != nil {
		_ = session.Close()
		return nil, err
	}

	e.mu.Lock()
	e.session, e.election, e.isLeader = session, election, true
	e.mu.Unlock()

	e.logger.Info("became the leader")
	return session.Done(), nil
}

// Resign gives up leadership and releases the session lease.
func (e *Elector) Resign(ctx context.Context) error {
	e.mu.Lock()
	session, election := e.session, e.election
	e.session, e.election, e.isLeader = nil, nil, false
	e.mu.Unlock()

	if election == nil {
		return nil
	}
	e.logger.Info("resigning leadership")
	err := election.Resign(ctx)
	_ = session.Close()
	return err
}

// IsLeader reports whether the last campaign succeeded and its session is still
// alive.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isLeader {
		return false
	}
	select {
	case <-e.session.Done():
		return false
	default:
		return true
	}
}
