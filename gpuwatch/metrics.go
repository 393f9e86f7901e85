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

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for watchdog operations.
var (
	tracer trace.Tracer = otel.Tracer("mia.gpuwatch")
	meter               = otel.Meter("mia.gpuwatch")
)

// Metrics for watchdog operations.
var (
	checkTotal    metric.Int64Counter
	reloadTotal   metric.Int64Counter
	fragmentation metric.Float64Gauge

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		checkTotal, err = meter.Int64Counter(
			"gpu_health_checks_total",
			metric.WithDescription("Total number of GPU health checks by result"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		reloadTotal, err = meter.Int64Counter(
			"gpu_driver_reloads_total",
			metric.WithDescription("Total number of driver reload attempts by result"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fragmentation, err = meter.Float64Gauge(
			"gpu_fragmentation_ratio",
			metric.WithDescription("Estimated GPU memory fragmentation ratio"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordCheck(ctx context.Context, result string) {
	if err := initMetrics(); err != nil {
		slog.Debug("gpuwatch metrics unavailable", slog.String("error", err.Error()))
		return
	}
	checkTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func recordReload(ctx context.Context, result string) {
	if err := initMetrics(); err != nil {
		return
	}
	reloadTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func recordFragmentation(ctx context.Context, ratio float64) {
	if err := initMetrics(); err != nil {
		return
	}
	fragmentation.Record(ctx, ratio)
}
