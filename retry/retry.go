// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retry provides bounded retry with exponential backoff for
// operations against flaky dependencies.
//
// A Policy is parameterized by a transient-error predicate: only errors
// the predicate accepts are retried, everything else propagates
// immediately. The wait before retry n is BackoffBase^n seconds, capped
// by MaxBackoff.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// ErrInvalidConfig is returned when a retry configuration fails validation.
var ErrInvalidConfig = errors.New("invalid retry configuration")

// Config configures retry behavior with exponential backoff.
type Config struct {
	// MaxRetries is the number of additional attempts after the first,
	// so an operation is attempted MaxRetries+1 times in total.
	// Default: 3
	MaxRetries int

	// BackoffBase is the exponential base in seconds. The wait before
	// retry n (0-indexed) is BackoffBase^n seconds.
	// Default: 2.0
	BackoffBase float64

	// MaxBackoff caps the computed wait between attempts.
	// Default: 30s
	MaxBackoff time.Duration

	// JitterFactor is the maximum jitter as a fraction of the wait (0-1).
	// Default: 0 (no jitter)
	JitterFactor float64
}

// DefaultConfig returns sensible defaults for retry behavior.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		BackoffBase: 2.0,
		MaxBackoff:  30 * time.Second,
	}
}

// Validate checks if the retry configuration is valid.
func (c Config) Validate() error {
	if c.MaxRetries < 0 {
		return ErrInvalidConfig
	}
	if c.BackoffBase < 1.0 {
		return ErrInvalidConfig
	}
	if c.MaxBackoff <= 0 {
		return ErrInvalidConfig
	}
	if c.JitterFactor < 0 || c.JitterFactor > 1 {
		return ErrInvalidConfig
	}
	return nil
}

// Result contains the outcome of a retried operation.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int

	// TotalDuration is the total time spent including waits.
	TotalDuration time.Duration

	// LastError is the error from the last attempt (nil if successful).
	LastError error
}

// Func is an operation that can be retried. attempt is 1-based.
type Func func(ctx context.Context, attempt int) error

// Predicate reports whether an error is transient and worth retrying.
type Predicate func(error) bool

// Policy executes operations with bounded exponential-backoff retry.
//
// Thread Safety: Safe for concurrent use. No lock is held across waits,
// so a Policy may wrap operations that are themselves lock-guarded.
type Policy struct {
	config    Config
	transient Predicate
	logger    *slog.Logger
}

// NewPolicy creates a retry policy.
//
// Inputs:
//
//	config - Retry configuration.
//	transient - Predicate selecting retryable errors. Must not be nil.
//	logger - Logger instance. Uses slog.Default() if nil.
//
// Outputs:
//
//	*Policy - Ready-to-use policy.
//	error - Non-nil if the configuration is invalid or transient is nil.
func NewPolicy(config Config, transient Predicate, logger *slog.Logger) (*Policy, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if transient == nil {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{
		config:    config,
		transient: transient,
		logger:    logger.With(slog.String("component", "retry_policy")),
	}, nil
}

// Do executes fn, retrying transient failures up to MaxRetries times.
//
// Inputs:
//   - ctx: Context for cancellation. Checked between attempts only; an
//     in-flight attempt runs to completion.
//   - fn: The operation to execute.
//
// Outputs:
//   - Result: Statistics about the retry sequence.
//   - error: The last error if all attempts failed, nil on success.
//     Non-transient errors propagate immediately without further attempts.
func (p *Policy) Do(ctx context.Context, fn Func) (Result, error) {
	start := time.Now()
	result := Result{}

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		if err := ctx.Err(); err != nil {
			result.LastError = err
			result.TotalDuration = time.Since(start)
			return result, err
		}

		err := fn(ctx, attempt+1)
		if err == nil {
			result.TotalDuration = time.Since(start)
			return result, nil
		}
		result.LastError = err

		if !p.transient(err) {
			result.TotalDuration = time.Since(start)
			return result, err
		}

		if attempt == p.config.MaxRetries {
			break
		}

		wait := p.backoff(attempt)
		p.logger.Warn("transient failure, retrying",
			slog.Int("attempt", attempt+1),
			slog.Int("max_retries", p.config.MaxRetries),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result, ctx.Err()
		case <-time.After(wait):
		}
	}

	result.TotalDuration = time.Since(start)
	return result, result.LastError
}

// backoff computes the wait before retry attempt (0-indexed) with jitter.
func (p *Policy) backoff(attempt int) time.Duration {
	seconds := math.Pow(p.config.BackoffBase, float64(attempt))
	wait := time.Duration(seconds * float64(time.Second))
	if wait > p.config.MaxBackoff || wait <= 0 {
		wait = p.config.MaxBackoff
	}

	if p.config.JitterFactor > 0 {
		jitter := (rand.Float64()*2 - 1) * p.config.JitterFactor
		wait = time.Duration(float64(wait) * (1.0 + jitter))
		if wait <= 0 {
			wait = time.Millisecond
		}
	}
	return wait
}
