// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package gpuwatch

// HealthStatus represents the watchdog's view of the accelerator.
type HealthStatus int32

const (
	// StatusHealthy indicates the last check passed.
	StatusHealthy HealthStatus = iota
	// StatusDegraded indicates failed checks below the failure threshold.
	StatusDegraded
	// StatusUnhealthy indicates the failure threshold was reached.
	StatusUnhealthy
	// StatusUnavailable indicates no accelerator or diagnostic tool.
	StatusUnavailable
)

// String returns the string representation of HealthStatus.
func (s HealthStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Metrics is a point-in-time snapshot of accelerator memory health.
// Snapshots are replaced wholesale on each successful probe, never
// partially mutated.
type Metrics struct {
	// UsedMB is used accelerator memory in MiB.
	UsedMB float64

	// TotalMB is total accelerator memory in MiB.
	TotalMB float64

	// FreeMB is derived: TotalMB - UsedMB.
	FreeMB float64

	// Fragmentation is the estimated fragmentation ratio in [0,1].
	Fragmentation float64

	// Temperature is the reported GPU temperature in Celsius, if present.
	Temperature *float64

	// Utilization is the reported GPU utilization percent, if present.
	Utilization *float64

	// IsHealthy is true when Fragmentation is within the configured
	// threshold.
	IsHealthy bool
}
