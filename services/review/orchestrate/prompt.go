// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrate

import (
	"fmt"
	"strings"

	"github.com/ivoyant-eng/AgnusAi/services/review/vcs"
)

// DefaultMaxDiffSize bounds the diff characters injected into a prompt.
const DefaultMaxDiffSize = 50000

const systemPreamble = `You are a senior engineer reviewing a pull request. Be precise and concise.
Only raise issues you are confident about; do not restate the diff.

Output format, exactly:

SUMMARY: <one short paragraph on the overall change>
[File: <path>, Line: <N>]
<issue description>
[Confidence: X.X]
(repeat the bracketed block for each issue)
VERDICT: approve | request_changes | comment

Rules:
- Line numbers refer to the [Line N] markers on added lines in the diff below. Never invent line numbers.
- Only comment on files shown in the diff.
- Use the Codebase Context section (callers, callees, blast radius) to judge the impact of each change, but never cite that section in a comment; describe the affected code directly.
- Use "Critical" for defects that will break production, "Major" for likely bugs.`

const confidenceInstructions = `End every issue body with [Confidence: X.X] on a scale from 0.0 to 1.0:
1.0 = certain defect, 0.7 = probable issue worth raising, below 0.5 = speculative.
Do not raise speculative issues.`

const truncationNotice = `NOTE: the diff below was truncated to fit the context window.
Do not comment on files or lines that are not shown.`

// promptInput carries everything a review prompt is assembled from.
type promptInput struct {
	pr          *vcs.PullRequest
	diff        string
	contextMD   string
	skills      []Skill
	tickets     []string
	maxDiffSize int
	incremental bool
}

// buildPrompt assembles the full review prompt. Returns the prompt and
// whether the diff was truncated.
func buildPrompt(in promptInput) (string, bool) {
	maxDiff := in.maxDiffSize
	if maxDiff <= 0 {
		maxDiff = DefaultMaxDiffSize
	}
	diff := in.diff
	truncated := false
	if len(diff) > maxDiff {
		diff = diff[:maxDiff]
		truncated = true
	}

	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\n")

	if in.pr != nil {
		fmt.Fprintf(&b, "## Pull Request\nTitle: %s\nAuthor: %s\n", in.pr.Title, in.pr.Author)
		if in.pr.Description != "" {
			fmt.Fprintf(&b, "Description: %s\n", in.pr.Description)
		}
		if len(in.tickets) > 0 {
			fmt.Fprintf(&b, "Linked tickets: %s\n", strings.Join(in.tickets, ", "))
		}
		if in.incremental {
			b.WriteString("This is an incremental review covering only commits since the last review.\n")
		}
		b.WriteString("\n")
	}

	if len(in.skills) > 0 {
		b.WriteString("## Team Review Rules\n")
		for _, s := range in.skills {
			b.WriteString(s.Text)
			b.WriteString("\n\n")
		}
	}

	if in.contextMD != "" {
		b.WriteString(in.contextMD)
		b.WriteString("\n")
	}

	b.WriteString("## Diff\n")
	if truncated {
		b.WriteString(truncationNotice)
		b.WriteString("\n")
	}
	b.WriteString(diff)
	b.WriteString("\n\n")
	b.WriteString(confidenceInstructions)
	return b.String(), truncated
}
