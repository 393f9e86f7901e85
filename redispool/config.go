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
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config configures a managed Redis connection pool.
//
// Configuration is supplied once at construction; there is no hot reload.
type Config struct {
	// Host is the Redis server hostname or IP.
	// Default: "localhost"
	Host string

	// Port is the Redis server port.
	// Default: 6379
	Port int

	// DB is the Redis database index.
	// Default: 0
	DB int

	// Password is the connection credential. Empty means no auth.
	Password string

	// MaxConnections is the connection pool size. Must be positive.
	// Default: 50
	MaxConnections int

	// SocketTimeout bounds individual read/write operations. Must be positive.
	// Default: 5s
	SocketTimeout time.Duration

	// ConnectTimeout bounds dialing and the initial liveness probe.
	// Must be positive. Default: 5s
	ConnectTimeout time.Duration

	// MaxRetries bounds retries for ExecuteWithRetry and drives the
	// health-check degradation threshold. Must be non-negative.
	// Default: 3
	MaxRetries int

	// HealthCheckInterval is the period of the background health loop.
	// Must be positive. Default: 30s
	HealthCheckInterval time.Duration
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		Host:                "localhost",
		Port:                6379,
		DB:                  0,
		MaxConnections:      50,
		SocketTimeout:       5 * time.Second,
		ConnectTimeout:      5 * time.Second,
		MaxRetries:          3,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Validate checks if the configuration is valid. Invalid values fail
// construction immediately; they are never retried.
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("host must not be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.DB < 0 {
		return errors.New("db index must be non-negative")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max_connections must be positive")
	}
	if c.SocketTimeout <= 0 {
		return errors.New("socket_timeout must be positive")
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("connect_timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("max_retries must be non-negative")
	}
	if c.HealthCheckInterval <= 0 {
		return errors.New("health_check_interval must be positive")
	}
	return nil
}

// Addr returns the host:port address for dialing.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
