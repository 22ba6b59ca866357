// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vcs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTicketRefs(t *testing.T) {
	cases := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "jira keys",
			text: "PROJ-123: fix login flow (relates to INFRA-9)",
			want: []string{"PROJ-123", "INFRA-9"},
		},
		{
			name: "azure boards",
			text: "Implements AB#4567",
			want: []string{"AB#4567"},
		},
		{
			name: "plain issue refs",
			text: "Fixes #42 and closes #43",
			want: []string{"#42", "#43"},
		},
		{
			name: "azure ref does not double count as issue ref",
			text: "AB#100",
			want: []string{"AB#100"},
		},
		{
			name: "deduplicated",
			text: "PROJ-1 PROJ-1 #5 #5",
			want: []string{"PROJ-1", "#5"},
		},
		{
			name: "no refs",
			text: "just a refactor",
			want: nil,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseTicketRefs(tc.text))
		})
	}
}

func TestInferLanguage(t *testing.T) {
	cases := map[string]string{
		"src/app.ts":     "typescript",
		"src/App.TSX":    "typescript",
		"lib/index.js":   "javascript",
		"main.py":        "python",
		"Main.java":      "java",
		"Service.cs":     "csharp",
		"cmd/main.go":    "go",
		"style.css":      "",
		"docs/README.md": "",
	}
	for path, want := range cases {
		assert.Equal(t, want, InferLanguage(path), "path %q", path)
	}
}

func TestFormatCommentBody(t *testing.T) {
	t.Run("severity markers", func(t *testing.T) {
		assert.True(t, len(formatCommentBody(InlineComment{Body: "x", Severity: "error"})) > 0)
		assert.Contains(t, formatCommentBody(InlineComment{Body: "x", Severity: "error"}), "🔴")
		assert.Contains(t, formatCommentBody(InlineComment{Body: "x", Severity: "warning"}), "🟡")
		assert.Contains(t, formatCommentBody(InlineComment{Body: "x", Severity: "info"}), "🔵")
	})

	t.Run("suggestion block", func(t *testing.T) {
		body := formatCommentBody(InlineComment{Body: "use a map", Severity: "info", Suggestion: "m := map[string]int{}"})
		require.Contains(t, body, "```suggestion\nm := map[string]int{}\n```")
	})
}

func TestMapStatus(t *testing.T) {
	cases := map[string]FileStatus{
		"added":    StatusAdded,
		"removed":  StatusDeleted,
		"renamed":  StatusRenamed,
		"modified": StatusModified,
		"changed":  StatusModified,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapStatus(in), "status %q", in)
	}
}
