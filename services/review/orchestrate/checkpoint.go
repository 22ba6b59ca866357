// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ivoyant-eng/AgnusAi/services/review/vcs"
)

// ErrMalformedCheckpoint means a sentinel was found but its JSON payload
// could not be decoded. Callers fall back to a full review.
var ErrMalformedCheckpoint = errors.New("malformed checkpoint payload")

const (
	checkpointPrefix = "<!-- AGNUSAI_CHECKPOINT: "
	checkpointSuffix = " -->"
)

// Checkpoint records the last reviewed state of a PR. It is persisted as
// a sentinel-wrapped JSON blob inside a host comment.
type Checkpoint struct {
	SHA           string   `json:"sha"`
	Timestamp     int64    `json:"timestamp"`
	FilesReviewed []string `json:"filesReviewed"`
	CommentCount  int      `json:"commentCount"`
	Verdict       string   `json:"verdict"`
}

// RenderCheckpointComment produces the checkpoint comment body: the
// sentinel line followed by a human-readable summary.
func RenderCheckpointComment(cp *Checkpoint, summary string) (string, error) {
	payload, err := json.Marshal(cp)
	if err != nil {
		return "", fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	var b strings.Builder
	b.WriteString(checkpointPrefix)
	b.Write(payload)
	b.WriteString(checkpointSuffix)
	b.WriteString("\n")
	b.WriteString(summary)
	return b.String(), nil
}

// ParseCheckpoint extracts the checkpoint from a comment body. Returns
// (nil, nil) when the body carries no sentinel and ErrMalformedCheckpoint
// when the sentinel's JSON is unusable.
func ParseCheckpoint(body string) (*Checkpoint, error) {
	start := strings.Index(body, checkpointPrefix)
	if start < 0 {
		return nil, nil
	}
	rest := body[start+len(checkpointPrefix):]
	end := strings.Index(rest, checkpointSuffix)
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated sentinel", ErrMalformedCheckpoint)
	}
	var cp Checkpoint
	if err := json.Unmarshal([]byte(rest[:end]), &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCheckpoint, err)
	}
	if cp.SHA == "" {
		return nil, fmt.Errorf("%w: missing sha", ErrMalformedCheckpoint)
	}
	return &cp, nil
}

// FindCheckpoint locates the checkpoint comment among the PR's existing
// comments. Returns the checkpoint and the host comment id carrying it,
// or ErrMalformedCheckpoint when a sentinel exists but cannot be decoded.
func FindCheckpoint(existing []vcs.ExistingComment) (*Checkpoint, string, error) {
	for _, c := range existing {
		if c.IsReply || !strings.Contains(c.Body, checkpointPrefix) {
			continue
		}
		cp, err := ParseCheckpoint(c.Body)
		if err != nil {
			return nil, c.ID, err
		}
		return cp, c.ID, nil
	}
	return nil, "", nil
}
