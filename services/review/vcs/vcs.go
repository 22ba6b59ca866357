// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package vcs abstracts the pull-request host. The review core depends
// only on the Adapter contract; per-host implementations live alongside it.
package vcs

import (
	"context"
	"errors"
	"path"
	"regexp"
	"strings"
)

// ErrPRNotFound is returned when the host does not know the PR.
var ErrPRNotFound = errors.New("pull request not found")

// FileStatus classifies a file's change in a diff.
type FileStatus string

// File statuses.
const (
	StatusAdded    FileStatus = "added"
	StatusModified FileStatus = "modified"
	StatusDeleted  FileStatus = "deleted"
	StatusRenamed  FileStatus = "renamed"
)

// Verdict is the overall review outcome.
type Verdict string

// Review verdicts.
const (
	VerdictApprove        Verdict = "approve"
	VerdictRequestChanges Verdict = "request_changes"
	VerdictComment        Verdict = "comment"
)

// PullRequest is host-agnostic PR metadata.
type PullRequest struct {
	ID           string
	Title        string
	Description  string
	Author       string
	HeadSHA      string
	BaseSHA      string
	SourceBranch string
	TargetBranch string
}

// FileDiff is one file's change with its unified diff body.
type FileDiff struct {
	Path      string
	OldPath   string
	Status    FileStatus
	Additions int
	Deletions int

	// Patch is the unified diff hunks for this file, without file headers.
	// Empty when the host withheld it (binary or oversized files).
	Patch string
}

// FileInfo is a changed file with its inferred language.
type FileInfo struct {
	Path     string
	Language string
}

// InlineComment is one comment to post at a line.
type InlineComment struct {
	Path       string
	Line       int
	Body       string
	Severity   string
	Suggestion string
}

// ReviewSubmission is the full outcome posted to the host.
type ReviewSubmission struct {
	Summary  string
	Comments []InlineComment
	Verdict  Verdict
}

// ExistingComment is a comment already present on the PR.
type ExistingComment struct {
	ID      string
	Body    string
	Path    string
	Line    int
	IsReply bool
}

// Adapter is the host contract the review core depends on.
type Adapter interface {
	GetPR(ctx context.Context, prID string) (*PullRequest, error)

	// GetDiff returns per-file diffs. When sinceSHA is non-empty the diff
	// is restricted to commits after that sha.
	GetDiff(ctx context.Context, prID, sinceSHA string) ([]FileDiff, error)

	GetFiles(ctx context.Context, prID string) ([]FileInfo, error)

	// GetFileContent returns the file bytes at a ref. A missing file is
	// non-fatal: empty bytes and a nil error.
	GetFileContent(ctx context.Context, filePath, ref string) ([]byte, error)

	AddInlineComment(ctx context.Context, prID string, c InlineComment) error

	// SubmitReview posts the summary and inline comments and sets the host
	// vote corresponding to the verdict where supported.
	SubmitReview(ctx context.Context, prID string, sub *ReviewSubmission) error

	// ListComments returns existing PR comments, including replies, for
	// checkpoint discovery and dismissal detection.
	ListComments(ctx context.Context, prID string) ([]ExistingComment, error)

	// CreateComment posts a top-level PR comment and returns its id.
	CreateComment(ctx context.Context, prID, body string) (string, error)

	UpdateComment(ctx context.Context, prID, commentID, body string) error

	// GetLinkedTickets parses ticket keys from the PR title and description.
	GetLinkedTickets(ctx context.Context, prID string) ([]string, error)
}

// Ticket reference patterns: Jira (PROJ-123), Azure Boards (AB#123) and
// plain issue references (#123).
var ticketPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Z]+-\d+\b`),
	regexp.MustCompile(`\bAB#\d+\b`),
	regexp.MustCompile(`#\d+\b`),
}

// ParseTicketRefs extracts deduplicated ticket keys from free text, in
// first-seen order. AB#n wins over the #n its tail would also match.
func ParseTicketRefs(text string) []string {
	seen := make(map[string]bool)
	var out []string
	consumed := text
	for _, re := range ticketPatterns {
		for _, m := range re.FindAllString(consumed, -1) {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
		// Remove matches so the looser patterns don't re-match tails.
		consumed = re.ReplaceAllString(consumed, " ")
	}
	return out
}

// languageByExt maps file extensions to review language identifiers.
var languageByExt = map[string]string{
	".ts": "typescript", ".tsx": "typescript",
	".js": "javascript", ".jsx": "javascript",
	".py":   "python",
	".java": "java",
	".cs":   "csharp",
	".go":   "go",
}

// InferLanguage returns the language identifier for a path, or "".
func InferLanguage(filePath string) string {
	return languageByExt[strings.ToLower(path.Ext(filePath))]
}
