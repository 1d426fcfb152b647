package redis

import (
	goredis "github.com/redis/go-redis/v9"
)

// NewClient creates a go-redis client. Connections are established lazily; callers
// should Ping before relying on it.
func NewClient(addr, password string, db int) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}
