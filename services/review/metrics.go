// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package review

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agnusai_webhook_requests_total",
		Help: "Webhook requests by outcome.",
	}, []string{"outcome"})

	reviewsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agnusai_reviews_completed_total",
		Help: "Completed review tasks by result.",
	}, []string{"result"})

	indexTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agnusai_index_tasks_total",
		Help: "Index tasks by result.",
	}, []string{"result"})

	indexDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "agnusai_index_duration_seconds",
		Help:    "Wall-clock duration of index tasks.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	feedbackSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agnusai_feedback_signals_total",
		Help: "Recorded feedback signals by value.",
	}, []string{"signal"})

	tasksRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agnusai_tasks_rejected_total",
		Help: "Background tasks rejected because the queue was full.",
	})
)
