package etcd

import (
	"fmt"
	"time"

	"chess-dispatch/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// NewClient dials the etcd cluster. A dial failure is reported as domain.ErrStoreUnavailable.
func NewClient(endpoints []string, timeout time.Duration) (*clientv3.Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd %v: %w: %w", endpoints, domain.ErrStoreUnavailable, err)
	}
	return cli, nil
}
