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

// Status represents the operational state of a managed pool.
type Status int32

const (
	// StatusDisconnected indicates no live client. Initial state.
	StatusDisconnected Status = iota
	// StatusConnected indicates a verified live client.
	StatusConnected
	// StatusReconnecting indicates a connect attempt is in progress.
	StatusReconnecting
	// StatusDegraded indicates the store missed a health check (below the
	// failure threshold) or the client backend is unavailable.
	StatusDegraded
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}
