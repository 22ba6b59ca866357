// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrate

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/ivoyant-eng/AgnusAi/services/review/vcs"
)

// ParsedComment is one comment block extracted from the model output.
type ParsedComment struct {
	Path string
	Line int
	Body string

	// Confidence is only meaningful when HasConfidence is set; older
	// prompt revisions did not require a confidence suffix.
	Confidence    float64
	HasConfidence bool

	Severity string
}

// ParsedResponse is the structured form of one model output.
type ParsedResponse struct {
	Summary  string
	Comments []ParsedComment
	Verdict  vcs.Verdict
}

var (
	commentMarkerPattern = regexp.MustCompile(`\[File:\s*([^,\]]+),\s*Line:\s*([^\]]+)\]`)
	confidencePattern    = regexp.MustCompile(`\[Confidence:\s*([0-9]*\.?[0-9]+)\]`)
	verdictPattern       = regexp.MustCompile(`(?im)^\s*VERDICT:\s*(approve|request_changes|comment)\b`)
	summaryPattern       = regexp.MustCompile(`(?is)SUMMARY:\s*(.+)`)
)

const summaryFallbackLen = 500

// ParseResponse extracts the summary, comment blocks and verdict from a
// raw model response.
//
// Description: Comment blocks follow "[File: p, Line: n]" markers; each
// body runs to the next marker or the VERDICT line. Blocks with empty
// bodies or unusable line numbers are dropped with a warning. The
// "[Confidence: X.X]" suffix is stripped from bodies and kept as a float
// clamped to [0,1]. A missing verdict defaults to comment.
func ParseResponse(raw string, logger *slog.Logger) *ParsedResponse {
	out := &ParsedResponse{Verdict: vcs.VerdictComment}

	verdictStart := len(raw)
	if m := verdictPattern.FindStringSubmatchIndex(raw); m != nil {
		verdictStart = m[0]
		out.Verdict = vcs.Verdict(strings.ToLower(raw[m[2]:m[3]]))
	} else {
		logger.Warn("model response has no verdict, defaulting to comment")
	}

	markers := commentMarkerPattern.FindAllStringSubmatchIndex(raw, -1)
	out.Summary = extractSummary(raw, markers, verdictStart)

	if len(markers) == 0 {
		if verdictStart == len(raw) {
			logger.Warn("model response has no comment markers and no verdict, possibly truncated")
		}
		return out
	}

	for i, m := range markers {
		path := strings.TrimSpace(raw[m[2]:m[3]])
		lineText := strings.TrimSpace(raw[m[4]:m[5]])

		end := verdictStart
		if i+1 < len(markers) && markers[i+1][0] < end {
			end = markers[i+1][0]
		}
		body := strings.TrimSpace(raw[m[1]:end])
		if body == "" {
			continue
		}

		line, err := strconv.Atoi(lineText)
		if err != nil || line < 1 {
			logger.Warn("dropping comment with unusable line number",
				slog.String("path", path),
				slog.String("line", lineText))
			continue
		}

		c := ParsedComment{Path: path, Line: line, Severity: deriveSeverity(body)}
		c.Body, c.Confidence, c.HasConfidence = extractConfidence(body)
		if c.Body == "" {
			continue
		}
		out.Comments = append(out.Comments, c)
	}
	return out
}

func extractSummary(raw string, markers [][]int, verdictStart int) string {
	end := verdictStart
	if len(markers) > 0 && markers[0][0] < end {
		end = markers[0][0]
	}
	if m := summaryPattern.FindStringSubmatch(raw[:end]); m != nil {
		return strings.TrimSpace(m[1])
	}
	fallback := strings.TrimSpace(raw[:end])
	if fallback == "" {
		fallback = strings.TrimSpace(raw)
	}
	if len(fallback) > summaryFallbackLen {
		fallback = fallback[:summaryFallbackLen]
	}
	return fallback
}

// extractConfidence strips the confidence suffix from a body and returns
// the value clamped to [0,1].
func extractConfidence(body string) (string, float64, bool) {
	m := confidencePattern.FindStringSubmatch(body)
	if m == nil {
		return body, 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return body, 0, false
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	stripped := strings.TrimSpace(confidencePattern.ReplaceAllString(body, ""))
	return stripped, v, true
}

// deriveSeverity maps the model's keyword convention onto comment
// severities.
func deriveSeverity(body string) string {
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "critical"):
		return "error"
	case strings.Contains(lower, "major"):
		return "warning"
	default:
		return "info"
	}
}
