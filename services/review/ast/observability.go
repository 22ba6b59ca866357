// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ast

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("agnusai/review/ast")
	meter  = otel.Meter("agnusai/review/ast")

	metricsOnce   sync.Once
	parseDuration metric.Float64Histogram
	parseCounter  metric.Int64Counter
	symbolCounter metric.Int64Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		var err error
		parseDuration, err = meter.Float64Histogram("review.parse.duration_ms",
			metric.WithDescription("Per-file parse duration in milliseconds"))
		if err != nil {
			parseDuration = nil
		}
		parseCounter, err = meter.Int64Counter("review.parse.files_total",
			metric.WithDescription("Files parsed, labelled by language and outcome"))
		if err != nil {
			parseCounter = nil
		}
		symbolCounter, err = meter.Int64Counter("review.parse.symbols_total",
			metric.WithDescription("Symbols extracted, labelled by language"))
		if err != nil {
			symbolCounter = nil
		}
	})
}

// startParseSpan opens a tracing span for a single file parse.
func startParseSpan(ctx context.Context, language, filePath string, size int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "ast.Parse",
		trace.WithAttributes(
			attribute.String("language", language),
			attribute.String("file", filePath),
			attribute.Int("size_bytes", size),
		),
	)
}

// recordParseMetrics records duration and outcome for a file parse.
func recordParseMetrics(ctx context.Context, language string, duration time.Duration, symbolCount int, success bool) {
	initMetrics()
	attrs := metric.WithAttributes(
		attribute.String("language", language),
		attribute.Bool("success", success),
	)
	if parseDuration != nil {
		parseDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
	if parseCounter != nil {
		parseCounter.Add(ctx, 1, attrs)
	}
	if symbolCounter != nil && symbolCount > 0 {
		symbolCounter.Add(ctx, int64(symbolCount), metric.WithAttributes(attribute.String("language", language)))
	}
}
