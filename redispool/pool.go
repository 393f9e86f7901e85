// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package redispool provides a managed, retrying Redis connection pool
// with a background health-check loop and a four-state degradation
// model. It is the shared-state substrate of the decision pipeline:
// callers acquire a client only while the pool is verified Connected,
// and a nil client means "currently unavailable", not an error.
package redispool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/mia-sentinel/retry"
)

// timeAfter is swapped by tests to drive the health loop deterministically.
var timeAfter = time.After

// Op is an operation executed against a live client by ExecuteWithRetry.
type Op func(ctx context.Context, client Client) error

// Pool owns a pooled Redis client handle, a status state machine, and a
// background health-check loop.
//
// State transitions are totally ordered by the pool's lock; the lock is
// never held across a network call.
//
// Thread Safety: Safe for concurrent use.
type Pool struct {
	config  Config
	factory ClientFactory
	logger  *slog.Logger
	policy  *retry.Policy

	mu       sync.Mutex
	status   Status
	client   Client
	failures int

	loopCancel context.CancelFunc
	loopWg     sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClientFactory overrides how the pooled client is built. Passing a
// nil factory marks the client backend as unavailable: the pool degrades
// instead of connecting.
func WithClientFactory(factory ClientFactory) Option {
	return func(p *Pool) {
		p.factory = factory
	}
}

// New creates a managed pool in the Disconnected state.
//
// Inputs:
//
//	cfg - Pool configuration. Validated immediately; invalid values fail
//	      construction.
//	opts - Optional overrides.
//
// Outputs:
//
//	*Pool - Ready-to-use pool. Call Connect to establish the client.
//	error - Non-nil if the configuration is invalid.
func New(cfg Config, opts ...Option) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pool config: %w", err)
	}

	p := &Pool{
		config:  cfg,
		factory: DefaultClientFactory,
		logger:  slog.Default(),
		status:  StatusDisconnected,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "redis_pool"))

	policy, err := retry.NewPolicy(retry.Config{
		MaxRetries:  cfg.MaxRetries,
		BackoffBase: 2.0,
		MaxBackoff:  cfg.HealthCheckInterval,
	}, isConnectivityError, p.logger)
	if err != nil {
		return nil, fmt.Errorf("build retry policy: %w", err)
	}
	p.policy = policy

	poolStatus.Set(float64(StatusDisconnected))
	return p, nil
}

// Connect builds the pooled client and verifies liveness with a probe.
//
// Outputs:
//
//	bool - True when the pool reached Connected. False on connectivity
//	       failure (state Disconnected, failure counter incremented) or
//	       when the client backend is unavailable (state Degraded).
//
// Thread Safety: Safe for concurrent use.
func (p *Pool) Connect(ctx context.Context) bool {
	p.mu.Lock()
	if p.factory == nil {
		p.setStatusLocked(StatusDegraded)
		p.mu.Unlock()
		p.logger.Warn("redis client backend unavailable, pool degraded")
		return false
	}
	p.setStatusLocked(StatusReconnecting)
	old := p.client
	p.client = nil
	p.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			p.logger.Warn("closing stale client", slog.String("error", err.Error()))
		}
	}

	client := p.factory(p.config)
	probeCtx, cancel := context.WithTimeout(ctx, p.config.ConnectTimeout)
	err := client.Ping(probeCtx).Err()
	cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		_ = client.Close()
		p.recordFailureLocked()
		p.setStatusLocked(StatusDisconnected)
		poolReconnectFailures.Inc()
		p.logger.Error("redis connect failed",
			slog.String("addr", p.config.Addr()),
			slog.Int("failures", p.failures),
			slog.String("error", err.Error()))
		return false
	}

	p.client = client
	p.failures = 0
	poolFailureGauge.Set(0)
	p.setStatusLocked(StatusConnected)
	p.logger.Info("redis pool connected",
		slog.String("addr", p.config.Addr()),
		slog.Int("db", p.config.DB),
		slog.Int("pool_size", p.config.MaxConnections))
	return true
}

// Disconnect stops the health-check loop, releases the pooled client,
// and returns the pool to Disconnected. Safe to call when never
// connected.
func (p *Pool) Disconnect() {
	p.StopHealthCheck()

	p.mu.Lock()
	client := p.client
	p.client = nil
	p.setStatusLocked(StatusDisconnected)
	p.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			p.logger.Warn("closing client", slog.String("error", err.Error()))
		}
	}
	p.logger.Info("redis pool disconnected")
}

// Client returns the live client, or nil when the pool is not Connected.
// Callers must treat nil as "currently unavailable", not as an error.
func (p *Pool) Client() Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != StatusConnected {
		p.logger.Warn("client requested while pool unavailable",
			slog.String("status", p.status.String()))
		return nil
	}
	return p.client
}

// HealthCheck issues a liveness probe and folds the outcome into pool
// state. Failures are fully internalized; this never returns an error.
//
// Outputs:
//
//	bool - True when the probe succeeded.
func (p *Pool) HealthCheck(ctx context.Context) bool {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	var err error
	if client == nil {
		err = ErrPoolUnavailable
	} else {
		probeCtx, cancel := context.WithTimeout(ctx, p.config.SocketTimeout)
		err = client.Ping(probeCtx).Err()
		cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		p.failures = 0
		poolFailureGauge.Set(0)
		poolHealthChecks.WithLabelValues("ok").Inc()
		if p.status != StatusConnected {
			p.logger.Info("redis health restored")
			p.setStatusLocked(StatusConnected)
		}
		return true
	}

	p.recordFailureLocked()
	poolHealthChecks.WithLabelValues("fail").Inc()
	if p.failures >= p.config.MaxRetries {
		p.setStatusLocked(StatusDisconnected)
	} else {
		p.setStatusLocked(StatusDegraded)
	}
	p.logger.Warn("redis health check failed",
		slog.Int("failures", p.failures),
		slog.Int("max_retries", p.config.MaxRetries),
		slog.String("status", p.status.String()),
		slog.String("error", err.Error()))
	return false
}

// StartHealthCheck launches the background health loop. Every
// HealthCheckInterval it runs HealthCheck and, when unhealthy, attempts
// Connect again.
//
// Outputs:
//
//	error - ErrHealthLoopRunning if the loop is already running; starting
//	        twice is a programming error.
func (p *Pool) StartHealthCheck() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loopCancel != nil {
		return ErrHealthLoopRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.loopCancel = cancel
	p.loopWg.Add(1)
	go p.runHealthLoop(ctx)

	p.logger.Info("health-check loop started",
		slog.Duration("interval", p.config.HealthCheckInterval))
	return nil
}

// StopHealthCheck stops the background loop and waits for it to exit.
// Stopping when not running is a no-op.
func (p *Pool) StopHealthCheck() {
	p.mu.Lock()
	cancel := p.loopCancel
	p.loopCancel = nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	p.loopWg.Wait()
	p.logger.Info("health-check loop stopped")
}

// runHealthLoop is the background worker. It never lets a failure
// escape; every iteration logs and continues.
func (p *Pool) runHealthLoop(ctx context.Context) {
	defer p.loopWg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timeAfter(p.config.HealthCheckInterval):
			if !p.HealthCheck(ctx) {
				p.logger.Info("health loop attempting reconnect")
				p.Connect(ctx)
			}
		}
	}
}

// ExecuteWithRetry runs op against the live client under the pool's
// retry policy, treating connectivity errors as transient.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - op: Operation receiving the live client.
//
// Outputs:
//   - error: ErrClientUnavailable immediately when the backend is
//     unavailable; otherwise the last error wrapped with
//     ErrPoolUnavailable after retry exhaustion; nil on success.
func (p *Pool) ExecuteWithRetry(ctx context.Context, op Op) error {
	p.mu.Lock()
	unavailable := p.factory == nil
	p.mu.Unlock()
	if unavailable {
		return ErrClientUnavailable
	}

	result, err := p.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		client := p.Client()
		if client == nil {
			return ErrPoolUnavailable
		}
		return op(ctx, client)
	})
	if err == nil {
		return nil
	}
	if isConnectivityError(err) {
		return fmt.Errorf("%w after %d attempts: %v", ErrPoolUnavailable, result.Attempts, err)
	}
	return err
}

// Status returns the current pool status.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// FailureCount returns the consecutive-failure counter.
func (p *Pool) FailureCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// setStatusLocked commits a status transition. Caller holds mu.
func (p *Pool) setStatusLocked(next Status) {
	if p.status == next {
		return
	}
	p.logger.Debug("pool status transition",
		slog.String("from", p.status.String()),
		slog.String("to", next.String()))
	p.status = next
	poolStatus.Set(float64(next))
	poolFailureGauge.Set(float64(p.failures))
}

// recordFailureLocked bumps the failure counter and gauge. Caller holds mu.
func (p *Pool) recordFailureLocked() {
	p.failures++
	poolFailureGauge.Set(float64(p.failures))
}
