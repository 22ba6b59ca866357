// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/ivoyant-eng/AgnusAi/services/review/vcs"
)

// CommentID is the content-addressed dedup id of a comment:
// SHA-256 over path, line and body, truncated to 16 hex characters.
func CommentID(path string, line int, body string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s%d%s", path, line, body)))
	return hex.EncodeToString(sum[:])[:16]
}

// commentIDMarker embeds the dedup id invisibly in posted bodies so a
// later run can recognise its own comments.
func commentIDMarker(id string) string {
	return fmt.Sprintf("<!-- agnusai:id=%s -->", id)
}

var commentIDPattern = regexp.MustCompile(`<!-- agnusai:id=([0-9a-f]{16}) -->`)

// extractCommentID recovers the embedded dedup id, empty if absent.
func extractCommentID(body string) string {
	if m := commentIDPattern.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	return ""
}

// dismissalPhrases are recognised only on replies, never on the comment
// body itself.
var dismissalPhrases = []string{
	"false positive",
	"not an issue",
	"won't fix",
	"wontfix",
	"intentional",
	"dismissed",
	"ignore this",
}

func isDismissal(body string) bool {
	lower := strings.ToLower(body)
	for _, p := range dismissalPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// dedupState captures what is already on the PR: previously posted
// dedup ids and the (path, line) locations whose finding a reviewer
// dismissed in a reply.
type dedupState struct {
	postedIDs map[string]bool
	dismissed map[string]bool
}

func locationKey(path string, line int) string {
	return fmt.Sprintf("%s:%d", path, line)
}

// buildDedupState scans the existing PR comments.
func buildDedupState(existing []vcs.ExistingComment) dedupState {
	state := dedupState{
		postedIDs: make(map[string]bool),
		dismissed: make(map[string]bool),
	}
	for _, c := range existing {
		if c.IsReply {
			if isDismissal(c.Body) && c.Path != "" {
				state.dismissed[locationKey(c.Path, c.Line)] = true
			}
			continue
		}
		if id := extractCommentID(c.Body); id != "" {
			state.postedIDs[id] = true
		}
	}
	return state
}

// shouldSkip reports whether a proposed comment duplicates an existing
// one or targets a location whose earlier finding was dismissed.
func (s dedupState) shouldSkip(path string, line int, body string) bool {
	if s.postedIDs[CommentID(path, line, body)] {
		return true
	}
	return s.dismissed[locationKey(path, line)]
}
