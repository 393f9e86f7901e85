// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package redispool

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is the subset of the go-redis client surface the pool hands out.
// *redis.Client satisfies it; tests substitute fakes.
type Client interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

var _ Client = (*redis.Client)(nil)

// ClientFactory builds a pooled client bound to a Config. A pool
// constructed with a nil factory treats the client backend as
// unavailable and degrades instead of failing: all operations become
// no-ops returning failure.
type ClientFactory func(cfg Config) Client

// DefaultClientFactory builds a go-redis client with pooling, timeouts,
// and the library's built-in retry/backoff mapped from Config.
func DefaultClientFactory(cfg Config) Client {
	return redis.NewClient(&redis.Options{
		Addr:            cfg.Addr(),
		DB:              cfg.DB,
		Password:        cfg.Password,
		PoolSize:        cfg.MaxConnections,
		DialTimeout:     cfg.ConnectTimeout,
		ReadTimeout:     cfg.SocketTimeout,
		WriteTimeout:    cfg.SocketTimeout,
		PoolTimeout:     cfg.SocketTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
		// Idle connections are verified at most once per health interval;
		// the pool's own loop provides the keep-alive ping on top.
		ConnMaxIdleTime: cfg.HealthCheckInterval,
	})
}
