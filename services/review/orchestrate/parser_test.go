// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrate

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivoyant-eng/AgnusAi/services/review/vcs"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const sampleResponse = `SUMMARY: The change looks mostly solid but has two issues.
[File: src/auth.ts, Line: 42]
Critical: the token is logged in plain text. [Confidence: 0.92]
[File: src/auth.ts, Line: 57]
Consider renaming this variable. [Confidence: 0.60]
[File: src/db.ts, Line: 12]
Major: this query is vulnerable to injection. [Confidence: 0.80]
VERDICT: request_changes
`

func TestParseResponse(t *testing.T) {
	p := ParseResponse(sampleResponse, discard())

	assert.Equal(t, "The change looks mostly solid but has two issues.", p.Summary)
	assert.Equal(t, vcs.VerdictRequestChanges, p.Verdict)
	require.Len(t, p.Comments, 3)

	first := p.Comments[0]
	assert.Equal(t, "src/auth.ts", first.Path)
	assert.Equal(t, 42, first.Line)
	assert.True(t, first.HasConfidence)
	assert.Equal(t, 0.92, first.Confidence)
	assert.NotContains(t, first.Body, "[Confidence", "confidence suffix must be stripped")
	assert.Equal(t, "error", first.Severity, "Critical must map to error")
	assert.Equal(t, "info", p.Comments[1].Severity, "plain comment must map to info")
	assert.Equal(t, "warning", p.Comments[2].Severity, "Major must map to warning")

	t.Run("missing verdict defaults to comment", func(t *testing.T) {
		p := ParseResponse("SUMMARY: ok\n[File: a.go, Line: 1]\nfine here", discard())
		assert.Equal(t, vcs.VerdictComment, p.Verdict)
	})

	t.Run("missing summary falls back to prefix", func(t *testing.T) {
		p := ParseResponse("All good overall.\nVERDICT: approve", discard())
		assert.Equal(t, "All good overall.", p.Summary)
		assert.Equal(t, vcs.VerdictApprove, p.Verdict)
	})

	t.Run("bad line numbers dropped", func(t *testing.T) {
		raw := "[File: a.go, Line: zero]\nbody one\n[File: a.go, Line: 0]\nbody two\nVERDICT: comment"
		p := ParseResponse(raw, discard())
		assert.Empty(t, p.Comments, "expected all comments dropped")
	})

	t.Run("empty bodies skipped", func(t *testing.T) {
		raw := "[File: a.go, Line: 1]\n[File: a.go, Line: 2]\nreal body\nVERDICT: comment"
		p := ParseResponse(raw, discard())
		require.Len(t, p.Comments, 1, "expected only the non-empty block")
		assert.Equal(t, 2, p.Comments[0].Line)
	})

	t.Run("out of range confidence clamped", func(t *testing.T) {
		raw := "[File: a.go, Line: 1]\nbody [Confidence: 1.8]\nVERDICT: comment"
		p := ParseResponse(raw, discard())
		require.Len(t, p.Comments, 1)
		assert.Equal(t, 1.0, p.Comments[0].Confidence, "expected clamp to 1.0")
	})
}

func TestFilterByConfidence(t *testing.T) {
	p := ParseResponse(sampleResponse, discard())
	kept := filterByConfidence(p.Comments, DefaultPrecisionThreshold, discard())
	require.Len(t, kept, 2)
	assert.Equal(t, 0.92, kept[0].Confidence)
	assert.Equal(t, 0.80, kept[1].Confidence)

	t.Run("no confidence passes", func(t *testing.T) {
		in := []ParsedComment{{Path: "a.go", Line: 1, Body: "x"}}
		assert.Len(t, filterByConfidence(in, 0.9, discard()), 1,
			"comment without confidence must pass")
	})
}

func TestCheckpointRoundTrip(t *testing.T) {
	cp := &Checkpoint{
		SHA:           "abc123",
		Timestamp:     1724500000000,
		FilesReviewed: []string{"src/a.ts", "src/b.ts"},
		CommentCount:  2,
		Verdict:       "comment",
	}
	body, err := RenderCheckpointComment(cp, "Looks fine overall.")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(body, checkpointPrefix), "body must start with the sentinel")
	assert.Contains(t, body, "Looks fine overall.", "human summary missing from checkpoint comment")

	got, err := ParseCheckpoint(body)
	require.NoError(t, err)
	assert.Equal(t, cp.SHA, got.SHA)
	assert.Equal(t, cp.CommentCount, got.CommentCount)
	assert.Len(t, got.FilesReviewed, 2)

	t.Run("corrupted payload is malformed", func(t *testing.T) {
		corrupt := strings.Replace(body, `"sha"`, `"sha!`, 1)
		_, err := ParseCheckpoint(corrupt)
		assert.ErrorIs(t, err, ErrMalformedCheckpoint)
	})

	t.Run("no sentinel means no checkpoint", func(t *testing.T) {
		cp, err := ParseCheckpoint("just a human comment")
		assert.NoError(t, err)
		assert.Nil(t, cp)
	})
}

func TestFindCheckpoint(t *testing.T) {
	body, err := RenderCheckpointComment(&Checkpoint{SHA: "abc"}, "summary")
	require.NoError(t, err)
	existing := []vcs.ExistingComment{
		{ID: "1", Body: "an unrelated comment"},
		{ID: "2", Body: body},
	}
	cp, id, err := FindCheckpoint(existing)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "abc", cp.SHA)
	assert.Equal(t, "2", id)

	t.Run("replies are ignored", func(t *testing.T) {
		cp, _, err := FindCheckpoint([]vcs.ExistingComment{{ID: "3", Body: body, IsReply: true}})
		assert.NoError(t, err)
		assert.Nil(t, cp, "reply must not carry a checkpoint")
	})
}

func TestDedupState(t *testing.T) {
	id := CommentID("src/a.ts", 10, "avoid this pattern")
	existing := []vcs.ExistingComment{
		{ID: "1", Body: "avoid this pattern\n\n" + commentIDMarker(id), Path: "src/a.ts", Line: 10},
		{ID: "2", Body: "this is a false positive, the lock is held", Path: "src/b.ts", Line: 5, IsReply: true},
		{ID: "3", Body: "false positive mentioned in a top-level comment", Path: "src/c.ts", Line: 7},
	}
	state := buildDedupState(existing)

	assert.True(t, state.shouldSkip("src/a.ts", 10, "avoid this pattern"), "identical comment must be skipped")
	assert.False(t, state.shouldSkip("src/a.ts", 10, "a different finding"), "different body at same location must not be skipped")
	assert.True(t, state.shouldSkip("src/b.ts", 5, "anything here"), "dismissed location must be skipped")
	assert.False(t, state.shouldSkip("src/c.ts", 7, "new finding"), "dismissal phrases in top-level comments must be ignored")
}

func TestCommentIDStable(t *testing.T) {
	a := CommentID("src/a.ts", 10, "body")
	b := CommentID("src/a.ts", 10, "body")
	assert.Equal(t, a, b, "comment id must be deterministic")
	assert.Len(t, a, 16, "expected 16 hex chars")
	assert.NotEqual(t, a, CommentID("src/a.ts", 11, "body"), "different line must change the id")
}
