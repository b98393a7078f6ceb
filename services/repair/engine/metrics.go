// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for repair runs.
var (
	tracer = otel.Tracer("reqrepair.engine")
	meter  = otel.Meter("reqrepair.engine")
)

var (
	runDuration    metric.Float64Histogram
	runTotal       metric.Int64Counter
	evaluations    metric.Int64Counter
	archiveSize    metric.Int64Histogram
	generationsRun metric.Int64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		runDuration, err = meter.Float64Histogram(
			"reqrepair_engine_run_duration_seconds",
			metric.WithDescription("Duration of repair runs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		runTotal, err = meter.Int64Counter(
			"reqrepair_engine_runs_total",
			metric.WithDescription("Repair runs by stop reason"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		evaluations, err = meter.Int64Counter(
			"reqrepair_engine_evaluations_total",
			metric.WithDescription("Candidate fitness evaluations"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		archiveSize, err = meter.Int64Histogram(
			"reqrepair_engine_archive_size",
			metric.WithDescription("Pareto archive size at the end of a run"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		generationsRun, err = meter.Int64Histogram(
			"reqrepair_engine_generations",
			metric.WithDescription("Generations executed per run"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startRepairSpan creates the span of one repair run.
func startRepairSpan(ctx context.Context, p *Problem, cfg *Config) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Engine.Repair",
		trace.WithAttributes(
			attribute.String("repair.pre", p.Original.Pre.String()),
			attribute.String("repair.post", p.Original.Post.String()),
			attribute.Int("repair.traces", p.Suite.Len()),
			attribute.Int("repair.population", cfg.PopulationSize),
			attribute.Int("repair.generations_budget", cfg.Generations),
			attribute.String("repair.aggregation", cfg.Aggregation),
		),
	)
}

// setRepairSpanResult sets the result attributes on a repair span.
func setRepairSpanResult(span trace.Span, r *Result) {
	span.SetAttributes(
		attribute.Bool("repair.no_repair_needed", r.NoRepairNeeded),
		attribute.String("repair.stop_reason", string(r.StopReason)),
		attribute.Int("repair.generations", r.Generations),
		attribute.Int("repair.evaluations", r.Evaluations),
		attribute.Int("repair.solutions", len(r.Solutions)),
	)
}

// recordEvaluations counts fitness evaluations.
func recordEvaluations(ctx context.Context, n int) {
	if n == 0 {
		return
	}
	if err := initMetrics(); err != nil {
		return
	}
	evaluations.Add(ctx, int64(n))
}

// recordRun records the metrics of a finished run.
func recordRun(ctx context.Context, duration time.Duration, r *Result) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("stop_reason", string(r.StopReason)))
	runDuration.Record(ctx, duration.Seconds(), attrs)
	runTotal.Add(ctx, 1, attrs)
	archiveSize.Record(ctx, int64(len(r.Solutions)))
	generationsRun.Record(ctx, int64(r.Generations))
}
