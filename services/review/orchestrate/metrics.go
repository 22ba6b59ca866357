// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commentsPosted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agnusai_comments_posted_total",
		Help: "Inline review comments posted to the host.",
	})

	commentsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agnusai_comments_dropped_total",
		Help: "Parsed comments dropped before posting, by reason.",
	}, []string{"reason"})
)
