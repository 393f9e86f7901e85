// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gpuwatch probes accelerator memory health through an external
// diagnostic tool, detects fragmentation, and drives an out-of-band
// driver reload when consecutive failures cross a threshold. Health is
// published through a Redis-backed status key so downstream consumers
// can fail over promptly.
package gpuwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Status keys written to the shared store. Values are overwritten, never
// expired.
const (
	// KeyAcceleratorStatus carries "NORMAL" or "DEGRADED" for the
	// decision pipeline's soldier nodes.
	KeyAcceleratorStatus = "mia:soldier:status"

	// KeyGPUFailures carries the consecutive-failure count as a string.
	KeyGPUFailures = "system:gpu_failures"
)

// Published status values.
const (
	StatusValueNormal   = "NORMAL"
	StatusValueDegraded = "DEGRADED"
)

// ErrWatchdogRunning is returned when Start is called while the loop is
// already running.
var ErrWatchdogRunning = errors.New("watchdog loop already running")

// StatusPublisher is the single-key write surface the watchdog needs.
// *redis.Client and redispool.Client both satisfy it.
type StatusPublisher interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Config configures the hardware watchdog.
type Config struct {
	// CheckInterval is the period of the background probe loop.
	// Must be positive. Default: 30s
	CheckInterval time.Duration

	// FragmentationThreshold marks a probe unhealthy when the estimated
	// fragmentation ratio exceeds it. Must be in (0,1). Default: 0.3
	FragmentationThreshold float64

	// FailureThreshold is the number of consecutive failed checks before
	// the watchdog goes Unhealthy and triggers a driver reload.
	// Must be positive. Default: 3
	FailureThreshold int

	// QueryTimeout bounds the memory-info probe. Must be in (0, 5s].
	// Default: 5s
	QueryTimeout time.Duration

	// ResetTimeout bounds the driver reset command. Must be in (0, 90s].
	// Default: 90s
	ResetTimeout time.Duration

	// SettleDelay is the fixed wait after a reset before re-verifying
	// health. Must be non-negative. Default: 10s
	SettleDelay time.Duration

	// ToolPath is the diagnostic binary. Default: "nvidia-smi"
	ToolPath string
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		CheckInterval:          30 * time.Second,
		FragmentationThreshold: 0.3,
		FailureThreshold:       3,
		QueryTimeout:           5 * time.Second,
		ResetTimeout:           90 * time.Second,
		SettleDelay:            10 * time.Second,
		ToolPath:               "nvidia-smi",
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.CheckInterval <= 0 {
		return errors.New("check_interval must be positive")
	}
	if c.FragmentationThreshold <= 0 || c.FragmentationThreshold >= 1 {
		return errors.New("fragmentation_threshold must be in (0,1)")
	}
	if c.FailureThreshold <= 0 {
		return errors.New("failure_threshold must be positive")
	}
	if c.QueryTimeout <= 0 || c.QueryTimeout > 5*time.Second {
		return errors.New("query_timeout must be in (0, 5s]")
	}
	if c.ResetTimeout <= 0 || c.ResetTimeout > 90*time.Second {
		return errors.New("reset_timeout must be in (0, 90s]")
	}
	if c.SettleDelay < 0 {
		return errors.New("settle_delay must be non-negative")
	}
	if c.ToolPath == "" {
		return errors.New("tool_path must not be empty")
	}
	return nil
}

// Watchdog periodically probes accelerator memory health and recovers
// the driver when checks keep failing.
//
// Thread Safety: Safe for concurrent use. The lock is never held across
// a subprocess call or a sleep.
type Watchdog struct {
	config    Config
	runner    Runner
	publisher StatusPublisher
	logger    *slog.Logger

	mu       sync.Mutex
	status   HealthStatus
	metrics  *Metrics
	failures int

	loopCancel context.CancelFunc
	loopWg     sync.WaitGroup

	reloading atomic.Bool
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithLogger sets the watchdog's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watchdog) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithRunner overrides subprocess execution. Tests inject a MockRunner.
func WithRunner(runner Runner) Option {
	return func(w *Watchdog) {
		if runner != nil {
			w.runner = runner
		}
	}
}

// WithPublisher injects the store client used to publish status keys.
// Without a publisher the watchdog still probes, it just keeps the
// results to itself.
func WithPublisher(publisher StatusPublisher) Option {
	return func(w *Watchdog) {
		w.publisher = publisher
	}
}

// New creates a watchdog in the Healthy state with no metrics yet.
func New(cfg Config, opts ...Option) (*Watchdog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid watchdog config: %w", err)
	}

	w := &Watchdog{
		config: cfg,
		runner: ExecRunner{},
		logger: slog.Default(),
		status: StatusHealthy,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(slog.String("component", "gpu_watchdog"))
	return w, nil
}

// CheckHealth probes accelerator memory through the diagnostic tool.
//
// Outputs:
//
//	bool - True when the probe succeeded and fragmentation is within the
//	       threshold. Tool errors, timeouts, missing binaries, parse
//	       failures, and fragmentation breaches all return false and feed
//	       the consecutive-failure counter; none of them raise.
func (w *Watchdog) CheckHealth(ctx context.Context) bool {
	ctx, span := tracer.Start(ctx, "gpuwatch.check_health")
	defer span.End()

	queryCtx, cancel := context.WithTimeout(ctx, w.config.QueryTimeout)
	out, err := w.runner.Run(queryCtx, w.config.ToolPath,
		"--query-gpu=memory.used,memory.total,temperature.gpu,utilization.gpu",
		"--format=csv,noheader,nounits")
	cancel()
	if err != nil {
		recordCheck(ctx, "tool_error")
		w.handleFailure(ctx, fmt.Sprintf("diagnostic tool: %v", err), errors.Is(err, ErrToolNotFound))
		return false
	}

	m, err := parseMemoryInfo(string(out))
	if err != nil {
		recordCheck(ctx, "parse_error")
		w.handleFailure(ctx, fmt.Sprintf("parse diagnostic output: %v", err), false)
		return false
	}

	usage := m.UsedMB / m.TotalMB
	m.Fragmentation = estimateFragmentation(usage)
	m.IsHealthy = m.Fragmentation <= w.config.FragmentationThreshold
	recordFragmentation(ctx, m.Fragmentation)

	if !m.IsHealthy {
		w.mu.Lock()
		w.metrics = m
		w.mu.Unlock()
		recordCheck(ctx, "fragmented")
		w.handleFailure(ctx, fmt.Sprintf("fragmentation %.3f exceeds threshold %.3f",
			m.Fragmentation, w.config.FragmentationThreshold), false)
		return false
	}

	w.mu.Lock()
	w.failures = 0
	w.metrics = m
	w.setStatusLocked(StatusHealthy)
	w.mu.Unlock()

	recordCheck(ctx, "ok")
	w.publish(ctx, KeyAcceleratorStatus, StatusValueNormal)
	w.publish(ctx, KeyGPUFailures, "0")
	return true
}

// DetectFragmentation returns the latest fragmentation ratio, running a
// fresh check first when no metrics exist yet. Returns -1 when no check
// could produce metrics.
func (w *Watchdog) DetectFragmentation(ctx context.Context) float64 {
	w.mu.Lock()
	m := w.metrics
	w.mu.Unlock()

	if m == nil {
		w.CheckHealth(ctx)
		w.mu.Lock()
		m = w.metrics
		w.mu.Unlock()
	}
	if m == nil {
		return -1
	}
	return m.Fragmentation
}

// TriggerDriverReload publishes DEGRADED, resets the driver, waits for
// it to settle, and re-verifies health.
//
// The DEGRADED signal goes out before recovery starts so downstream
// consumers fail over promptly. Callers must expect this to block for up
// to ResetTimeout plus SettleDelay; do not invoke it from the decision
// hot path.
//
// Outputs:
//
//	bool - True when the post-reload check passed. False on reset
//	       failure, timeout, missing tool, or when a reload is already in
//	       progress.
func (w *Watchdog) TriggerDriverReload(ctx context.Context) bool {
	if !w.reloading.CompareAndSwap(false, true) {
		w.logger.Warn("driver reload already in progress")
		return false
	}
	defer w.reloading.Store(false)
	return w.reload(ctx)
}

// reload runs the reset sequence. Caller holds the reloading flag.
func (w *Watchdog) reload(ctx context.Context) bool {
	ctx, span := tracer.Start(ctx, "gpuwatch.driver_reload")
	defer span.End()

	id := uuid.NewString()
	w.logger.Warn("triggering driver reload",
		slog.String("reload_id", id),
		slog.Int("failures", w.FailureCount()))

	w.publish(ctx, KeyAcceleratorStatus, StatusValueDegraded)

	resetCtx, cancel := context.WithTimeout(ctx, w.config.ResetTimeout)
	_, err := w.runner.Run(resetCtx, w.config.ToolPath, "--gpu-reset")
	cancel()
	if err != nil {
		recordReload(ctx, "reset_failed")
		w.logger.Error("driver reset failed",
			slog.String("reload_id", id),
			slog.String("error", err.Error()))
		return false
	}

	if w.config.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			recordReload(ctx, "cancelled")
			return false
		case <-time.After(w.config.SettleDelay):
		}
	}

	if !w.CheckHealth(ctx) {
		recordReload(ctx, "unverified")
		w.logger.Error("driver reload did not restore health",
			slog.String("reload_id", id))
		return false
	}

	recordReload(ctx, "ok")
	w.logger.Info("driver reload succeeded", slog.String("reload_id", id))
	return true
}

// Start launches the background probe loop, checking health every
// CheckInterval.
//
// Outputs:
//
//	error - ErrWatchdogRunning if the loop is already running; starting
//	        twice is a programming error.
func (w *Watchdog) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.loopCancel != nil {
		return ErrWatchdogRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.loopCancel = cancel
	w.loopWg.Add(1)
	go w.runLoop(ctx)

	w.logger.Info("watchdog started",
		slog.Duration("interval", w.config.CheckInterval),
		slog.String("tool", w.config.ToolPath))
	return nil
}

// Stop stops the background loop and waits for it to exit. Stopping when
// not running is a no-op.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	cancel := w.loopCancel
	w.loopCancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	w.loopWg.Wait()
	w.logger.Info("watchdog stopped")
}

// runLoop is the background worker. Failures never escape an iteration.
func (w *Watchdog) runLoop(ctx context.Context) {
	defer w.loopWg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.config.CheckInterval):
			w.CheckHealth(ctx)
		}
	}
}

// Status returns the current health status.
func (w *Watchdog) Status() HealthStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// FailureCount returns the consecutive-failure counter.
func (w *Watchdog) FailureCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failures
}

// LatestMetrics returns a copy of the most recent snapshot, or nil when
// no check has produced metrics yet.
func (w *Watchdog) LatestMetrics() *Metrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.metrics == nil {
		return nil
	}
	m := *w.metrics
	return &m
}

// handleFailure folds a failed check into watchdog state: bump the
// counter, publish it, pick the next status, and fire the automatic
// reload once the threshold is reached.
func (w *Watchdog) handleFailure(ctx context.Context, reason string, toolMissing bool) {
	w.mu.Lock()
	w.failures++
	n := w.failures

	var next HealthStatus
	switch {
	case toolMissing:
		next = StatusUnavailable
	case n >= w.config.FailureThreshold:
		next = StatusUnhealthy
	default:
		next = StatusDegraded
	}
	w.setStatusLocked(next)
	w.mu.Unlock()

	w.logger.Warn("gpu health check failed",
		slog.String("reason", reason),
		slog.Int("failures", n),
		slog.Int("threshold", w.config.FailureThreshold),
		slog.String("status", next.String()))

	w.publish(ctx, KeyGPUFailures, strconv.Itoa(n))

	if next == StatusUnhealthy && w.reloading.CompareAndSwap(false, true) {
		defer w.reloading.Store(false)
		w.reload(ctx)
	}
}

// publish best-effort writes a status key. Publish errors are logged,
// never raised.
func (w *Watchdog) publish(ctx context.Context, key, value string) {
	if w.publisher == nil {
		return
	}
	if err := w.publisher.Set(ctx, key, value, 0).Err(); err != nil {
		w.logger.Warn("publishing status key failed",
			slog.String("key", key),
			slog.String("error", err.Error()))
	}
}

// setStatusLocked commits a status transition. Caller holds mu.
func (w *Watchdog) setStatusLocked(next HealthStatus) {
	if w.status == next {
		return
	}
	w.logger.Info("gpu status transition",
		slog.String("from", w.status.String()),
		slog.String("to", next.String()))
	w.status = next
}

// parseMemoryInfo extracts memory fields from the tool's CSV output:
// "used, total[, temperature[, utilization]]" with units stripped.
// Used and total are required; absence of either is a parse failure.
func parseMemoryInfo(out string) (*Metrics, error) {
	line := ""
	for _, l := range strings.Split(out, "\n") {
		if strings.TrimSpace(l) != "" {
			line = strings.TrimSpace(l)
			break
		}
	}
	if line == "" {
		return nil, errors.New("empty diagnostic output")
	}

	fields := strings.Split(line, ",")
	if len(fields) < 2 {
		return nil, fmt.Errorf("expected at least 2 fields, got %d", len(fields))
	}

	used, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return nil, fmt.Errorf("used memory: %w", err)
	}
	total, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("total memory: %w", err)
	}
	if used < 0 || total <= 0 {
		return nil, fmt.Errorf("implausible memory values used=%v total=%v", used, total)
	}

	m := &Metrics{
		UsedMB:  used,
		TotalMB: total,
		FreeMB:  total - used,
	}
	if len(fields) > 2 {
		if v, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64); err == nil {
			m.Temperature = &v
		}
	}
	if len(fields) > 3 {
		if v, err := strconv.ParseFloat(strings.TrimSpace(fields[3]), 64); err == nil {
			m.Utilization = &v
		}
	}
	return m, nil
}

// estimateFragmentation approximates the fragmentation ratio from the
// usage ratio. This is a deliberate heuristic, not an allocator
// measurement: pressure on a mostly-full device correlates with
// non-contiguous free space, so the estimate rises with occupancy.
func estimateFragmentation(usage float64) float64 {
	switch {
	case usage >= 0.9:
		return usage
	case usage >= 0.7:
		return usage * 0.5
	default:
		return usage * 0.3
	}
}
