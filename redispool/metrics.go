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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for pool state. Registered once per process on the
// default registry, shared by all pool instances.
var (
	poolStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redispool_status",
		Help: "Current pool status (0=disconnected, 1=connected, 2=reconnecting, 3=degraded)",
	})

	poolHealthChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redispool_health_checks_total",
		Help: "Health-check probes by result",
	}, []string{"result"})

	poolReconnectFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redispool_connect_failures_total",
		Help: "Failed connect attempts",
	})

	poolFailureGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redispool_consecutive_failures",
		Help: "Consecutive health-check failures since last success",
	})
)
