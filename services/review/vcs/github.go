// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package vcs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/go-github/v57/github"

	"github.com/ivoyant-eng/AgnusAi/services/review/diffengine"
)

// GitHubAdapter implements the Adapter contract against the GitHub REST
// API (hosted or Enterprise Server).
//
// Thread Safety: Safe for concurrent use; the underlying client is
// stateless per call.
type GitHubAdapter struct {
	client *github.Client
	owner  string
	repo   string
	differ *diffengine.Differ
	logger *slog.Logger
}

// GitHubOption configures a GitHubAdapter.
type GitHubOption func(*githubConfig)

type githubConfig struct {
	token   string
	baseURL string
}

// WithGitHubToken sets the API token.
func WithGitHubToken(token string) GitHubOption {
	return func(c *githubConfig) { c.token = token }
}

// WithGitHubBaseURL points the adapter at a GitHub Enterprise instance.
func WithGitHubBaseURL(url string) GitHubOption {
	return func(c *githubConfig) { c.baseURL = url }
}

// NewGitHubAdapter creates an adapter for one owner/repo pair.
func NewGitHubAdapter(owner, repo string, logger *slog.Logger, opts ...GitHubOption) (*GitHubAdapter, error) {
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("owner and repo must not be empty")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	var cfg githubConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	client := github.NewClient(nil)
	if cfg.token != "" {
		client = client.WithAuthToken(cfg.token)
	}
	if cfg.baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(cfg.baseURL, cfg.baseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to configure enterprise urls: %w", err)
		}
	}

	return &GitHubAdapter{
		client: client,
		owner:  owner,
		repo:   repo,
		differ: diffengine.NewDiffer(),
		logger: logger,
	}, nil
}

func parsePRNumber(prID string) (int, error) {
	n, err := strconv.Atoi(prID)
	if err != nil {
		return 0, fmt.Errorf("invalid pr id %q: %w", prID, err)
	}
	return n, nil
}

func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) {
		return ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}

// GetPR fetches PR metadata.
func (a *GitHubAdapter) GetPR(ctx context.Context, prID string) (*PullRequest, error) {
	number, err := parsePRNumber(prID)
	if err != nil {
		return nil, err
	}
	pr, _, err := a.client.PullRequests.Get(ctx, a.owner, a.repo, number)
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrPRNotFound, prID)
		}
		return nil, fmt.Errorf("failed to fetch pr %s: %w", prID, err)
	}
	return &PullRequest{
		ID:           prID,
		Title:        pr.GetTitle(),
		Description:  pr.GetBody(),
		Author:       pr.GetUser().GetLogin(),
		HeadSHA:      pr.GetHead().GetSHA(),
		BaseSHA:      pr.GetBase().GetSHA(),
		SourceBranch: pr.GetHead().GetRef(),
		TargetBranch: pr.GetBase().GetRef(),
	}, nil
}

// GetDiff returns per-file diffs. With a sinceSHA, only commits after the
// checkpoint are compared. Files whose patch the host withheld are diffed
// locally from their two snapshots.
func (a *GitHubAdapter) GetDiff(ctx context.Context, prID, sinceSHA string) ([]FileDiff, error) {
	number, err := parsePRNumber(prID)
	if err != nil {
		return nil, err
	}

	pr, _, err := a.client.PullRequests.Get(ctx, a.owner, a.repo, number)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pr: %w", err)
	}
	headSHA := pr.GetHead().GetSHA()
	oldRef := pr.GetBase().GetSHA()

	var files []*github.CommitFile
	if sinceSHA == "" {
		opts := &github.ListOptions{PerPage: 100}
		for {
			page, resp, err := a.client.PullRequests.ListFiles(ctx, a.owner, a.repo, number, opts)
			if err != nil {
				return nil, fmt.Errorf("failed to list pr files: %w", err)
			}
			files = append(files, page...)
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
	} else {
		oldRef = sinceSHA
		cmp, _, err := a.client.Repositories.CompareCommits(ctx, a.owner, a.repo, sinceSHA, headSHA, &github.ListOptions{PerPage: 100})
		if err != nil {
			return nil, fmt.Errorf("failed to compare %s...%s: %w", sinceSHA, headSHA, err)
		}
		files = cmp.Files
	}

	out := make([]FileDiff, 0, len(files))
	for _, f := range files {
		fd := FileDiff{
			Path:      f.GetFilename(),
			OldPath:   f.GetPreviousFilename(),
			Status:    mapStatus(f.GetStatus()),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
			Patch:     f.GetPatch(),
		}
		if fd.Patch == "" && fd.Status == StatusModified {
			fd.Patch = a.localDiff(ctx, fd.Path, oldRef, headSHA)
		}
		out = append(out, fd)
	}
	return out, nil
}

// localDiff reconstructs a patch from two file snapshots via the diff
// engine. Failure is non-fatal: the file simply carries no patch.
func (a *GitHubAdapter) localDiff(ctx context.Context, filePath, oldRef, newRef string) string {
	if oldRef == "" || newRef == "" {
		return ""
	}
	oldBytes, err := a.GetFileContent(ctx, filePath, oldRef)
	if err != nil {
		return ""
	}
	newBytes, err := a.GetFileContent(ctx, filePath, newRef)
	if err != nil {
		return ""
	}
	hunks := a.differ.Diff(string(oldBytes), string(newBytes))
	if len(hunks) == 0 {
		return ""
	}
	var b strings.Builder
	for _, h := range hunks {
		b.WriteString(h.Header())
		b.WriteByte('\n')
		for _, op := range h.Ops {
			switch op.Kind {
			case diffengine.OpAdd:
				b.WriteByte('+')
			case diffengine.OpRemove:
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

func mapStatus(s string) FileStatus {
	switch s {
	case "added":
		return StatusAdded
	case "removed":
		return StatusDeleted
	case "renamed":
		return StatusRenamed
	default:
		return StatusModified
	}
}

// GetFiles lists the PR's changed files with inferred languages.
func (a *GitHubAdapter) GetFiles(ctx context.Context, prID string) ([]FileInfo, error) {
	diffs, err := a.GetDiff(ctx, prID, "")
	if err != nil {
		return nil, err
	}
	out := make([]FileInfo, 0, len(diffs))
	for _, d := range diffs {
		out = append(out, FileInfo{Path: d.Path, Language: InferLanguage(d.Path)})
	}
	return out, nil
}

// GetFileContent returns file bytes at a ref. Missing files yield empty
// bytes and no error.
func (a *GitHubAdapter) GetFileContent(ctx context.Context, filePath, ref string) ([]byte, error) {
	content, _, _, err := a.client.Repositories.GetContents(ctx, a.owner, a.repo, filePath,
		&github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		if isNotFound(err) {
			a.logger.Debug("file not found at ref",
				slog.String("path", filePath),
				slog.String("ref", ref))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch %s@%s: %w", filePath, ref, err)
	}
	if content == nil {
		return nil, nil
	}
	text, err := content.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s@%s: %w", filePath, ref, err)
	}
	return []byte(text), nil
}

// AddInlineComment posts one review comment at a line of the head commit.
func (a *GitHubAdapter) AddInlineComment(ctx context.Context, prID string, c InlineComment) error {
	number, err := parsePRNumber(prID)
	if err != nil {
		return err
	}
	pr, _, err := a.client.PullRequests.Get(ctx, a.owner, a.repo, number)
	if err != nil {
		return fmt.Errorf("failed to fetch pr head: %w", err)
	}

	comment := &github.PullRequestComment{
		Body:     github.String(formatCommentBody(c)),
		Path:     github.String(c.Path),
		CommitID: github.String(pr.GetHead().GetSHA()),
		Line:     github.Int(c.Line),
		Side:     github.String("RIGHT"),
	}
	if _, _, err := a.client.PullRequests.CreateComment(ctx, a.owner, a.repo, number, comment); err != nil {
		return fmt.Errorf("failed to post inline comment on %s:%d: %w", c.Path, c.Line, err)
	}
	return nil
}

// SubmitReview posts all inline comments plus the summary as one review
// and maps the verdict to the GitHub review event.
func (a *GitHubAdapter) SubmitReview(ctx context.Context, prID string, sub *ReviewSubmission) error {
	number, err := parsePRNumber(prID)
	if err != nil {
		return err
	}

	event := "COMMENT"
	switch sub.Verdict {
	case VerdictApprove:
		event = "APPROVE"
	case VerdictRequestChanges:
		event = "REQUEST_CHANGES"
	}

	comments := make([]*github.DraftReviewComment, 0, len(sub.Comments))
	for _, c := range sub.Comments {
		comments = append(comments, &github.DraftReviewComment{
			Path: github.String(c.Path),
			Line: github.Int(c.Line),
			Side: github.String("RIGHT"),
			Body: github.String(formatCommentBody(c)),
		})
	}

	review := &github.PullRequestReviewRequest{
		Body:     github.String(sub.Summary),
		Event:    github.String(event),
		Comments: comments,
	}
	if _, _, err := a.client.PullRequests.CreateReview(ctx, a.owner, a.repo, number, review); err != nil {
		return fmt.Errorf("failed to submit review: %w", err)
	}
	a.logger.Info("review submitted",
		slog.String("pr_id", prID),
		slog.String("verdict", string(sub.Verdict)),
		slog.Int("comments", len(sub.Comments)))
	return nil
}

// ListComments returns both issue comments (checkpoints live there) and
// review comments (for reply detection).
func (a *GitHubAdapter) ListComments(ctx context.Context, prID string) ([]ExistingComment, error) {
	number, err := parsePRNumber(prID)
	if err != nil {
		return nil, err
	}

	var out []ExistingComment

	issueOpts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		page, resp, err := a.client.Issues.ListComments(ctx, a.owner, a.repo, number, issueOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to list pr comments: %w", err)
		}
		for _, c := range page {
			out = append(out, ExistingComment{
				ID:   strconv.FormatInt(c.GetID(), 10),
				Body: c.GetBody(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		issueOpts.Page = resp.NextPage
	}

	reviewOpts := &github.PullRequestListCommentsOptions{ListOptions: github.ListOptions{PerPage: 100}}
	for {
		page, resp, err := a.client.PullRequests.ListComments(ctx, a.owner, a.repo, number, reviewOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to list review comments: %w", err)
		}
		for _, c := range page {
			out = append(out, ExistingComment{
				ID:      strconv.FormatInt(c.GetID(), 10),
				Body:    c.GetBody(),
				Path:    c.GetPath(),
				Line:    c.GetLine(),
				IsReply: c.GetInReplyTo() != 0,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		reviewOpts.Page = resp.NextPage
	}

	return out, nil
}

// CreateComment posts a top-level PR comment and returns its id.
func (a *GitHubAdapter) CreateComment(ctx context.Context, prID, body string) (string, error) {
	number, err := parsePRNumber(prID)
	if err != nil {
		return "", err
	}
	c, _, err := a.client.Issues.CreateComment(ctx, a.owner, a.repo, number,
		&github.IssueComment{Body: github.String(body)})
	if err != nil {
		return "", fmt.Errorf("failed to create comment: %w", err)
	}
	return strconv.FormatInt(c.GetID(), 10), nil
}

// UpdateComment edits an existing top-level PR comment.
func (a *GitHubAdapter) UpdateComment(ctx context.Context, prID, commentID, body string) error {
	id, err := strconv.ParseInt(commentID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid comment id %q: %w", commentID, err)
	}
	_, _, err = a.client.Issues.EditComment(ctx, a.owner, a.repo, id,
		&github.IssueComment{Body: github.String(body)})
	if err != nil {
		return fmt.Errorf("failed to update comment %s: %w", commentID, err)
	}
	return nil
}

// GetLinkedTickets parses ticket keys from the PR title and description.
func (a *GitHubAdapter) GetLinkedTickets(ctx context.Context, prID string) ([]string, error) {
	pr, err := a.GetPR(ctx, prID)
	if err != nil {
		return nil, err
	}
	return ParseTicketRefs(pr.Title + "\n" + pr.Description), nil
}

// formatCommentBody prefixes the severity marker and appends any
// suggestion block.
func formatCommentBody(c InlineComment) string {
	var b strings.Builder
	switch c.Severity {
	case "error":
		b.WriteString("🔴 ")
	case "warning":
		b.WriteString("🟡 ")
	default:
		b.WriteString("🔵 ")
	}
	b.WriteString(c.Body)
	if c.Suggestion != "" {
		b.WriteString("\n\n```suggestion\n")
		b.WriteString(c.Suggestion)
		b.WriteString("\n```")
	}
	return b.String()
}
