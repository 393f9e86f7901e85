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
	"errors"
	"io"
	"net"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrClientUnavailable is returned when the pool was constructed
	// without a client backend. Not retried.
	ErrClientUnavailable = errors.New("redis client backend is unavailable")

	// ErrPoolUnavailable is returned when no live client can serve a
	// request, before and after retry exhaustion.
	ErrPoolUnavailable = errors.New("connection pool has no live client")

	// ErrHealthLoopRunning is returned when StartHealthCheck is called
	// while the loop is already running.
	ErrHealthLoopRunning = errors.New("health-check loop already running")
)

// isConnectivityError reports whether err is a transient connectivity
// failure worth retrying. Application-level Redis errors are not.
func isConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPoolUnavailable) {
		// A missing client may come back once the health loop reconnects.
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, redis.ErrClosed) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
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
