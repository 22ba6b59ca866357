// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrate

import "log/slog"

// DefaultPrecisionThreshold is the minimum confidence for a comment to
// survive filtering.
const DefaultPrecisionThreshold = 0.7

// filterByConfidence drops comments whose confidence falls below the
// threshold. Comments without a confidence score pass unfiltered.
func filterByConfidence(comments []ParsedComment, threshold float64, logger *slog.Logger) []ParsedComment {
	kept := make([]ParsedComment, 0, len(comments))
	for _, c := range comments {
		if c.HasConfidence && c.Confidence < threshold {
			commentsDropped.WithLabelValues("low_confidence").Inc()
			logger.Info("dropping low-confidence comment",
				slog.String("path", c.Path),
				slog.Int("line", c.Line),
				slog.Float64("confidence", c.Confidence))
			continue
		}
		kept = append(kept, c)
	}
	return kept
}
