// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package diffengine computes unified diffs between two file snapshots for
// hosts that do not provide one. The diff is line based, using the Myers
// O(ND) algorithm with hash-cached line equality.
package diffengine

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// DefaultMaxEditDistance bounds the Myers search. Beyond it the diff
// degrades to a full replacement, which keeps pathological inputs (large
// rewrites, generated files) from burning CPU. The bound is on actual edit
// distance, so small edits in large files still diff precisely.
const DefaultMaxEditDistance = 8000

// contextLines is the unified-diff context window around each change.
const contextLines = 3

// OpKind classifies one line of an edit script.
type OpKind int

// Edit script operations.
const (
	OpEqual OpKind = iota
	OpAdd
	OpRemove
)

// Op is one edit-script entry: a line and what happened to it.
type Op struct {
	Kind OpKind

	// Text is the line content without trailing newline.
	Text string

	// OldLine and NewLine are 1-indexed positions in the pre and post
	// state. OldLine is 0 for adds, NewLine is 0 for removes.
	OldLine int
	NewLine int
}

// Hunk is one contiguous group of changes with surrounding context.
type Hunk struct {
	OldStart, OldLines int
	NewStart, NewLines int
	Ops                []Op
}

// Header renders the standard unified hunk header.
func (h Hunk) Header() string {
	return fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
}

// Differ computes line diffs between two file snapshots.
type Differ struct {
	maxEditDistance int
}

// DifferOption configures a Differ.
type DifferOption func(*Differ)

// WithMaxEditDistance overrides the edit-distance fallback bound.
func WithMaxEditDistance(d int) DifferOption {
	return func(df *Differ) { df.maxEditDistance = d }
}

// NewDiffer creates a Differ with default settings.
func NewDiffer(opts ...DifferOption) *Differ {
	df := &Differ{maxEditDistance: DefaultMaxEditDistance}
	for _, opt := range opts {
		opt(df)
	}
	return df
}

// line pairs content with its FNV-1a hash so equality checks are a hash
// compare first and a string compare only on collision.
type line struct {
	hash uint32
	text string
}

func hashLines(text string) []line {
	if text == "" {
		return nil
	}
	raw := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	out := make([]line, len(raw))
	for i, t := range raw {
		h := fnv.New32a()
		h.Write([]byte(t))
		out[i] = line{hash: h.Sum32(), text: t}
	}
	return out
}

func linesEqual(a, b line) bool {
	return a.hash == b.hash && a.text == b.text
}

// Diff computes the unified hunks transforming oldText into newText.
//
// Description: Runs Myers on the hashed lines; if the edit distance exceeds
// the configured bound the result is a single full-replacement hunk.
// Identical inputs yield no hunks.
func (df *Differ) Diff(oldText, newText string) []Hunk {
	oldLines := hashLines(oldText)
	newLines := hashLines(newText)

	script, ok := myers(oldLines, newLines, df.maxEditDistance)
	if !ok {
		script = fullReplacement(oldLines, newLines)
	}
	return groupHunks(script)
}

// Unified renders the hunks as unified diff body text for the given paths.
func (df *Differ) Unified(oldPath, newPath, oldText, newText string) string {
	hunks := df.Diff(oldText, newText)
	if len(hunks) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", oldPath, newPath)
	for _, h := range hunks {
		b.WriteString(h.Header())
		b.WriteByte('\n')
		for _, op := range h.Ops {
			switch op.Kind {
			case OpAdd:
				b.WriteByte('+')
			case OpRemove:
				b.WriteByte('-')
			default:
				b.WriteByte(' ')
			}
			b.WriteString(op.Text)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// myers runs the O(ND) greedy forward algorithm and backtracks the edit
// script. Returns ok=false when the edit distance exceeds maxD.
func myers(a, b []line, maxD int) ([]Op, bool) {
	n, m := len(a), len(b)
	if n == 0 && m == 0 {
		return nil, true
	}
	max := n + m
	if maxD > 0 && maxD < max {
		max = maxD
	}

	// v[k] is the furthest x on diagonal k; trace keeps a copy per d for
	// backtracking.
	offset := n + m
	v := make([]int, 2*(n+m)+1)
	var trace [][]int

	var dFound = -1
	for d := 0; d <= max; d++ {
		snapshot := make([]int, len(v))
		copy(snapshot, v)
		trace = append(trace, snapshot)

		for k := -d; k <= d; k += 2 {
			var x int
			if k == -d || (k != d && v[offset+k-1] < v[offset+k+1]) {
				x = v[offset+k+1]
			} else {
				x = v[offset+k-1] + 1
			}
			y := x - k
			for x < n && y < m && linesEqual(a[x], b[y]) {
				x++
				y++
			}
			v[offset+k] = x
			if x >= n && y >= m {
				dFound = d
			}
		}
		if dFound >= 0 {
			break
		}
	}
	if dFound < 0 {
		return nil, false
	}

	// Backtrack from (n, m) through the snapshots. trace[d] is the V state
	// saved before depth d ran, so it holds the furthest-reaching endpoints
	// of depth d-1 that the forward pass branched on.
	var ops []Op
	x, y := n, m
	for d := dFound; d > 0; d-- {
		vPrev := trace[d]
		k := x - y
		var prevK int
		if k == -d || (k != d && vPrev[offset+k-1] < vPrev[offset+k+1]) {
			prevK = k + 1
		} else {
			prevK = k - 1
		}
		prevX := vPrev[offset+prevK]
		prevY := prevX - prevK

		for x > prevX && y > prevY {
			x--
			y--
			ops = append(ops, Op{Kind: OpEqual, Text: a[x].text, OldLine: x + 1, NewLine: y + 1})
		}
		if x == prevX {
			y--
			ops = append(ops, Op{Kind: OpAdd, Text: b[y].text, NewLine: y + 1})
		} else {
			x--
			ops = append(ops, Op{Kind: OpRemove, Text: a[x].text, OldLine: x + 1})
		}
		x, y = prevX, prevY
	}
	for x > 0 && y > 0 {
		x--
		y--
		ops = append(ops, Op{Kind: OpEqual, Text: a[x].text, OldLine: x + 1, NewLine: y + 1})
	}

	// Reverse into forward order.
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
	return ops, true
}

// fullReplacement emits remove-all then add-all, the degraded form used
// when the edit distance bound is exceeded.
func fullReplacement(a, b []line) []Op {
	ops := make([]Op, 0, len(a)+len(b))
	for i, l := range a {
		ops = append(ops, Op{Kind: OpRemove, Text: l.text, OldLine: i + 1})
	}
	for i, l := range b {
		ops = append(ops, Op{Kind: OpAdd, Text: l.text, NewLine: i + 1})
	}
	return ops
}

// groupHunks slices an edit script into hunks with three context lines on
// each side, merging changes whose context windows overlap.
func groupHunks(script []Op) []Hunk {
	// Indices of non-equal ops.
	var changes []int
	for i, op := range script {
		if op.Kind != OpEqual {
			changes = append(changes, i)
		}
	}
	if len(changes) == 0 {
		return nil
	}

	var hunks []Hunk
	start := changes[0] - contextLines
	if start < 0 {
		start = 0
	}
	end := changes[0] + contextLines

	for _, c := range changes[1:] {
		// A gap wider than two context windows starts a new hunk.
		if c-contextLines > end+1 {
			hunks = append(hunks, buildHunk(script, start, end))
			start = c - contextLines
		}
		end = c + contextLines
	}
	hunks = append(hunks, buildHunk(script, start, end))
	return hunks
}

func buildHunk(script []Op, start, end int) Hunk {
	if end >= len(script) {
		end = len(script) - 1
	}
	h := Hunk{Ops: script[start : end+1]}
	for _, op := range h.Ops {
		switch op.Kind {
		case OpEqual:
			h.OldLines++
			h.NewLines++
		case OpAdd:
			h.NewLines++
		case OpRemove:
			h.OldLines++
		}
		if h.OldStart == 0 && op.OldLine > 0 {
			h.OldStart = op.OldLine
		}
		if h.NewStart == 0 && op.NewLine > 0 {
			h.NewStart = op.NewLine
		}
	}
	// Pure-insert or pure-delete hunks still need a position.
	if h.OldStart == 0 {
		h.OldStart = h.NewStart
	}
	if h.NewStart == 0 {
		h.NewStart = h.OldStart
	}
	return h
}
