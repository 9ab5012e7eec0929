package redisclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientOptions is the subset of go-redis options the service exposes through config. Zero
// values fall back to the defaults below.
type ClientOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration // read and write
	TLS      bool
}

func (o ClientOptions) redisOptions() *redis.Options {
	opts := &redis.Options{
		Addr:         o.Addr,
		Username:     o.Username,
		Password:     o.Password,
		DB:           o.DB,
		ReadTimeout:  o.Timeout,
		WriteTimeout: o.Timeout,
		PoolSize:     o.PoolSize,
		MinIdleConns: 1,
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout, opts.WriteTimeout = 2*time.Second, 2*time.Second
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 10
	}
	if o.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// NewRedisClient connects and pings; a client that cannot reach the server is closed.
func NewRedisClient(ctx context.Context, o ClientOptions) (*redis.Client, error) {
	if o.Addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}
	rdb := redis.NewClient(o.redisOptions())

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s (db %d): %w", o.Addr, o.DB, err)
	}

	return rdb, nil
}
