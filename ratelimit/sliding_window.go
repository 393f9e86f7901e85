// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ratelimit provides a blocking sliding-window rate limiter used
// to keep outbound request rates to external APIs under a per-second quota.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrInvalidLimit is returned when the limiter is constructed with a
// non-positive quota.
var ErrInvalidLimit = errors.New("qps limit must be positive")

// SlidingWindow admits at most Limit calls in any trailing one-second
// window. Acquire blocks until admission.
//
// FIFO fairness between waiting callers is not guaranteed; only the
// window-occupancy invariant holds.
//
// Thread Safety: Safe for concurrent use.
type SlidingWindow struct {
	limit  int
	window time.Duration

	mu     sync.Mutex
	stamps []time.Time

	// Injected for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSlidingWindow creates a limiter admitting limit calls per second.
func NewSlidingWindow(limit int) (*SlidingWindow, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	return &SlidingWindow{
		limit:  limit,
		window: time.Second,
		now:    time.Now,
		sleep:  realSleep,
	}, nil
}

func realSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Acquire blocks until the call is admitted under the quota.
//
// Inputs:
//   - ctx: Context for cancellation. A cancelled wait returns ctx.Err()
//     without recording an admission.
//
// Outputs:
//   - error: Non-nil only if the context is cancelled while waiting.
//
// The wait is bounded by roughly one window; the lock is not held while
// sleeping.
func (w *SlidingWindow) Acquire(ctx context.Context) error {
	w.mu.Lock()
	for {
		now := w.now()
		w.pruneLocked(now)

		if len(w.stamps) < w.limit {
			w.stamps = append(w.stamps, now)
			w.mu.Unlock()
			return nil
		}

		wait := w.window - now.Sub(w.stamps[0])
		if wait <= 0 {
			// Oldest entry just aged out between prune and here.
			continue
		}

		w.mu.Unlock()
		if err := w.sleep(ctx, wait); err != nil {
			return err
		}
		w.mu.Lock()
	}
}

// Admitted returns the number of admissions still inside the window.
func (w *SlidingWindow) Admitted() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(w.now())
	return len(w.stamps)
}

// Limit returns the configured per-second quota.
func (w *SlidingWindow) Limit() int {
	return w.limit
}

// pruneLocked drops timestamps older than one window. Caller holds mu.
func (w *SlidingWindow) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
