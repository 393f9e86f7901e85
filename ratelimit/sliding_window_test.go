// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock advances virtual time when the limiter sleeps, so blocking
// behavior is tested without real waits.
type fakeClock struct {
	mu  sync.Mutex
	t   time.Time
	log []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	c.t = c.t.Add(d)
	c.log = append(c.log, d)
	return nil
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestWindow(t *testing.T, limit int) (*SlidingWindow, *fakeClock) {
	t.Helper()
	w, err := NewSlidingWindow(limit)
	if err != nil {
		t.Fatalf("NewSlidingWindow: %v", err)
	}
	clock := newFakeClock()
	w.now = clock.now
	w.sleep = clock.sleep
	return w, clock
}

func TestNewSlidingWindow_RejectsNonPositiveLimit(t *testing.T) {
	for _, limit := range []int{0, -1} {
		if _, err := NewSlidingWindow(limit); !errors.Is(err, ErrInvalidLimit) {
			t.Errorf("limit %d: error = %v, want ErrInvalidLimit", limit, err)
		}
	}
}

func TestAcquire_AdmitsUpToLimitWithoutWaiting(t *testing.T) {
	w, clock := newTestWindow(t, 5)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := w.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
	}
	if len(clock.log) != 0 {
		t.Errorf("slept %d times, want 0", len(clock.log))
	}
	if got := w.Admitted(); got != 5 {
		t.Errorf("Admitted() = %d, want 5", got)
	}
}

func TestAcquire_WindowOccupancyInvariant(t *testing.T) {
	const limit = 3
	w, _ := newTestWindow(t, limit)
	ctx := context.Background()

	// Issue limit+k back-to-back calls; virtual time only advances when
	// the limiter itself decides to wait.
	for i := 0; i < limit+4; i++ {
		if err := w.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		// Timestamp inspection: never more than limit inside the window.
		w.mu.Lock()
		cutoff := w.now().Add(-w.window)
		inWindow := 0
		for _, s := range w.stamps {
			if s.After(cutoff) {
				inWindow++
			}
		}
		w.mu.Unlock()
		if inWindow > limit {
			t.Fatalf("call %d: %d admissions in window, limit %d", i, inWindow, limit)
		}
	}
}

func TestAcquire_BlocksUntilOldestExpires(t *testing.T) {
	w, clock := newTestWindow(t, 2)
	ctx := context.Background()

	if err := w.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	clock.advance(300 * time.Millisecond)
	if err := w.Acquire(ctx); err != nil {
		t.Fatal(err)
	}

	// Third call must wait until the first admission ages out: the
	// remaining 700ms of its window.
	if err := w.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if len(clock.log) != 1 {
		t.Fatalf("slept %d times, want 1", len(clock.log))
	}
	if clock.log[0] != 700*time.Millisecond {
		t.Errorf("waited %v, want 700ms", clock.log[0])
	}
}

func TestAcquire_AdmitsAgainAfterWindowPasses(t *testing.T) {
	w, clock := newTestWindow(t, 2)
	ctx := context.Background()

	if err := w.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	clock.advance(1100 * time.Millisecond)

	if got := w.Admitted(); got != 0 {
		t.Errorf("Admitted() after window = %d, want 0", got)
	}
	if err := w.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if len(clock.log) != 0 {
		t.Errorf("slept %d times, want 0", len(clock.log))
	}
}

func TestAcquire_ContextCancelledWhileWaiting(t *testing.T) {
	w, _ := newTestWindow(t, 1)

	if err := w.Acquire(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Acquire(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if got := w.Admitted(); got != 1 {
		t.Errorf("Admitted() = %d, want 1 (cancelled wait must not admit)", got)
	}
}

func TestAcquire_ConcurrentCallersHoldInvariant(t *testing.T) {
	// Real clock here: hammer the limiter from many goroutines and check
	// the recorded admissions afterwards.
	const limit = 10
	w, err := NewSlidingWindow(limit)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	admitted := make([]time.Time, 0, limit*3)
	var mu sync.Mutex
	for i := 0; i < limit*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Acquire(ctx); err != nil {
				return
			}
			mu.Lock()
			admitted = append(admitted, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for _, anchor := range admitted {
		count := 0
		for _, ts := range admitted {
			if !ts.Before(anchor) && ts.Sub(anchor) < time.Second {
				count++
			}
		}
		// Allow slack for the gap between admission and recording.
		if count > limit+2 {
			t.Fatalf("%d admissions within 1s of anchor, limit %d", count, limit)
		}
	}
}
