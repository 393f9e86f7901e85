// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package inference protects the remote inference API from overload and
// transient failure: every outbound call passes a sliding-window rate
// limiter and a bounded retry policy.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/mia-sentinel/ratelimit"
	"github.com/AleutianAI/mia-sentinel/retry"
)

// GuardConfig configures the protective layer in front of the API.
type GuardConfig struct {
	// QPSLimit is the per-second admission quota. Must be positive.
	// Default: 5
	QPSLimit int

	// Retry bounds retries of transient API failures.
	Retry retry.Config
}

// DefaultGuardConfig returns sensible defaults for production use.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		QPSLimit: 5,
		Retry:    retry.DefaultConfig(),
	}
}

// Guard rate-limits and retries calls to the remote inference API.
//
// Thread Safety: Safe for concurrent use.
type Guard struct {
	limiter *ratelimit.SlidingWindow
	policy  *retry.Policy
	logger  *slog.Logger
}

// NewGuard creates a guard from config.
func NewGuard(cfg GuardConfig, logger *slog.Logger) (*Guard, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "inference_guard"))

	limiter, err := ratelimit.NewSlidingWindow(cfg.QPSLimit)
	if err != nil {
		return nil, fmt.Errorf("build rate limiter: %w", err)
	}
	policy, err := retry.NewPolicy(cfg.Retry, IsTransientAPIError, logger)
	if err != nil {
		return nil, fmt.Errorf("build retry policy: %w", err)
	}
	return &Guard{limiter: limiter, policy: policy, logger: logger}, nil
}

// Do executes fn under the guard. Each attempt, including retries,
// acquires a fresh admission from the limiter so retried requests count
// against the quota like any other.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := g.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := g.limiter.Acquire(ctx); err != nil {
			return err
		}
		return fn(ctx)
	})
	return err
}

// Limiter exposes the underlying window for status inspection.
func (g *Guard) Limiter() *ratelimit.SlidingWindow {
	return g.limiter
}

// IsTransientAPIError reports whether an inference-API error is worth
// retrying: network failures, timeouts, rate limiting, and server-side
// errors. Client-side request errors are not.
func IsTransientAPIError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
