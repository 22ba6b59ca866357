// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrate drives a pull-request review end to end: diff
// collection, context retrieval, prompt assembly, model invocation,
// response parsing, precision filtering, path validation, deduplication
// against prior reviews and posting, with incremental checkpointing.
package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ivoyant-eng/AgnusAi/services/review/ast"
	"github.com/ivoyant-eng/AgnusAi/services/review/embed"
	"github.com/ivoyant-eng/AgnusAi/services/review/feedback"
	"github.com/ivoyant-eng/AgnusAi/services/review/llm"
	"github.com/ivoyant-eng/AgnusAi/services/review/retrieve"
	"github.com/ivoyant-eng/AgnusAi/services/review/storage"
	"github.com/ivoyant-eng/AgnusAi/services/review/vcs"
)

// Orchestrator reviews pull requests for one repository.
//
// Thread Safety: Safe for concurrent use across PRs; reviews of the same
// PR must be serialised by the caller so the checkpoint visible at review
// start pins the incremental boundary.
type Orchestrator struct {
	repoID  string
	branch  string
	host    vcs.Adapter
	backend llm.Backend
	store   storage.Store
	logger  *slog.Logger

	retriever *retrieve.Retriever
	embedder  embed.Embedder
	signer    *feedback.Signer
	skills    *SkillSet

	depth              retrieve.Depth
	precisionThreshold float64
	maxDiffSize        int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRetriever enables graph-aware context retrieval.
func WithRetriever(r *retrieve.Retriever) Option {
	return func(o *Orchestrator) { o.retriever = r }
}

// WithCommentEmbedder stores an embedding with each posted comment so
// later reviews can retrieve it as a rated example.
func WithCommentEmbedder(e embed.Embedder) Option {
	return func(o *Orchestrator) { o.embedder = e }
}

// WithSigner appends feedback links to posted comments.
func WithSigner(s *feedback.Signer) Option {
	return func(o *Orchestrator) { o.signer = s }
}

// WithSkills injects team review rules into prompts.
func WithSkills(s *SkillSet) Option {
	return func(o *Orchestrator) { o.skills = s }
}

// WithDepth sets the review depth. Default standard.
func WithDepth(d retrieve.Depth) Option {
	return func(o *Orchestrator) { o.depth = d }
}

// WithPrecisionThreshold overrides the confidence cutoff.
func WithPrecisionThreshold(t float64) Option {
	return func(o *Orchestrator) {
		if t > 0 {
			o.precisionThreshold = t
		}
	}
}

// WithMaxDiffSize overrides the prompt diff budget in characters.
func WithMaxDiffSize(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxDiffSize = n
		}
	}
}

// New creates an orchestrator.
func New(repoID, branch string, host vcs.Adapter, backend llm.Backend, store storage.Store, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if host == nil || backend == nil || store == nil {
		return nil, fmt.Errorf("host, backend and store must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	o := &Orchestrator{
		repoID:             repoID,
		branch:             branch,
		host:               host,
		backend:            backend,
		store:              store,
		logger:             logger,
		depth:              retrieve.DepthStandard,
		precisionThreshold: DefaultPrecisionThreshold,
		maxDiffSize:        DefaultMaxDiffSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// ReviewPR runs one review. With incremental set, a checkpoint comment on
// the PR restricts the diff to commits since the last reviewed sha; an
// unchanged head exits without calling the model.
func (o *Orchestrator) ReviewPR(ctx context.Context, prID string, incremental bool) error {
	start := time.Now()

	pr, err := o.host.GetPR(ctx, prID)
	if err != nil {
		return fmt.Errorf("failed to fetch PR %s: %w", prID, err)
	}

	existing, err := o.host.ListComments(ctx, prID)
	if err != nil {
		o.logger.Warn("failed to list existing comments, dedup disabled for this run",
			slog.String("pr_id", prID),
			slog.String("error", err.Error()))
		existing = nil
	}

	sinceSHA := ""
	checkpointCommentID := ""
	if incremental {
		cp, cpID, err := FindCheckpoint(existing)
		checkpointCommentID = cpID
		switch {
		case err != nil:
			o.logger.Warn("malformed checkpoint, falling back to full review",
				slog.String("pr_id", prID),
				slog.String("error", err.Error()))
		case cp != nil && cp.SHA == pr.HeadSHA:
			o.logger.Info("no new commits since checkpoint, skipping review",
				slog.String("pr_id", prID),
				slog.String("sha", cp.SHA))
			return nil
		case cp != nil:
			sinceSHA = cp.SHA
		}
	}

	files, err := o.host.GetDiff(ctx, prID, sinceSHA)
	if err != nil {
		return fmt.Errorf("failed to fetch diff for PR %s: %w", prID, err)
	}
	rv := buildReviewableDiff(files)
	if len(rv.paths) == 0 {
		o.logger.Info("no reviewable files in diff", slog.String("pr_id", prID))
		return nil
	}

	var skills []Skill
	if o.skills != nil {
		skills = o.skills.Matching(rv.paths)
	}

	contextMD := ""
	if o.retriever != nil {
		rc, err := o.retriever.BuildContext(ctx, rv.rawDiff, o.depth)
		if err != nil {
			o.logger.Warn("context retrieval failed, reviewing flat diff",
				slog.String("pr_id", prID),
				slog.String("error", err.Error()))
		} else {
			contextMD = rc.Markdown()
		}
	}

	tickets, err := o.host.GetLinkedTickets(ctx, prID)
	if err != nil {
		o.logger.Warn("failed to fetch linked tickets",
			slog.String("pr_id", prID),
			slog.String("error", err.Error()))
	}

	prompt, truncated := buildPrompt(promptInput{
		pr:          pr,
		diff:        rv.annotated,
		contextMD:   contextMD,
		skills:      skills,
		tickets:     tickets,
		maxDiffSize: o.maxDiffSize,
		incremental: sinceSHA != "",
	})
	if truncated {
		o.logger.Warn("diff truncated for prompt",
			slog.String("pr_id", prID),
			slog.Int("max_chars", o.maxDiffSize))
	}

	raw, err := o.backend.Generate(ctx, prompt)
	if err != nil {
		return fmt.Errorf("model generation failed for PR %s: %w", prID, err)
	}

	parsed := ParseResponse(raw, o.logger)
	comments := filterByConfidence(parsed.Comments, o.precisionThreshold, o.logger)
	accepted := o.validateComments(comments, rv, existing)

	summary := parsed.Summary
	if len(accepted) == 0 && len(parsed.Comments) > 0 {
		summary = "No significant issues found.\n\n" + summary
	}

	sub := &vcs.ReviewSubmission{
		Summary: summary,
		Verdict: parsed.Verdict,
	}
	reviewID := uuid.NewString()
	stored := make([]*storage.Comment, 0, len(accepted))
	for _, c := range accepted {
		id := CommentID(c.Path, c.Line, c.Body)
		sub.Comments = append(sub.Comments, vcs.InlineComment{
			Path:     c.Path,
			Line:     c.Line,
			Body:     o.decorateBody(c.Body, id),
			Severity: c.Severity,
		})
		stored = append(stored, &storage.Comment{
			ID:             id,
			ReviewID:       reviewID,
			RepoID:         o.repoID,
			PRID:           prID,
			Path:           c.Path,
			Line:           c.Line,
			Body:           c.Body,
			Severity:       c.Severity,
			Confidence:     c.Confidence,
			CreatedAtMilli: time.Now().UnixMilli(),
		})
	}

	if err := o.host.SubmitReview(ctx, prID, sub); err != nil {
		return fmt.Errorf("failed to submit review for PR %s: %w", prID, err)
	}
	commentsPosted.Add(float64(len(sub.Comments)))

	o.persistReview(ctx, reviewID, prID, pr.HeadSHA, summary, string(parsed.Verdict), stored)
	o.upsertCheckpoint(ctx, prID, checkpointCommentID, &Checkpoint{
		SHA:           pr.HeadSHA,
		Timestamp:     time.Now().UnixMilli(),
		FilesReviewed: rv.paths,
		CommentCount:  len(sub.Comments),
		Verdict:       string(parsed.Verdict),
	}, summary)

	o.logger.Info("review complete",
		slog.String("pr_id", prID),
		slog.String("verdict", string(parsed.Verdict)),
		slog.Int("comments_posted", len(sub.Comments)),
		slog.Int("comments_dropped", len(parsed.Comments)-len(sub.Comments)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// reviewableDiff is the diff prepared for prompting and validation.
type reviewableDiff struct {
	paths []string

	// rawDiff is the unified diff with file headers, fed to the retriever.
	rawDiff string

	// annotated is the prompt form: added lines carry [Line N] markers,
	// context lines are omitted.
	annotated string

	// pathMap maps a normalised path (no leading slash) to its original.
	pathMap map[string]string

	// addedLines holds the post-state line numbers of + lines per path.
	addedLines map[string]map[int]bool
}

// buildReviewableDiff filters out binary, lock and generated files and
// prepares the remaining patches.
func buildReviewableDiff(files []vcs.FileDiff) reviewableDiff {
	rv := reviewableDiff{
		pathMap:    make(map[string]string),
		addedLines: make(map[string]map[int]bool),
	}
	var raw, annotated strings.Builder
	for _, f := range files {
		if f.Patch == "" || ast.IsGeneratedFile(f.Path) || ast.IgnorePath(f.Path) {
			continue
		}
		rv.paths = append(rv.paths, f.Path)
		rv.pathMap[strings.TrimPrefix(f.Path, "/")] = f.Path
		rv.addedLines[f.Path] = addedLineNumbers(f.Patch)

		oldPath := f.OldPath
		if oldPath == "" {
			oldPath = f.Path
		}
		fmt.Fprintf(&raw, "--- a/%s\n+++ b/%s\n%s\n", oldPath, f.Path, strings.TrimRight(f.Patch, "\n"))
		fmt.Fprintf(&annotated, "File: %s\n%s\n", f.Path, annotatePatch(f.Patch))
	}
	rv.rawDiff = raw.String()
	rv.annotated = annotated.String()
	return rv
}

var hunkHeaderPattern = regexp.MustCompile(`^@@ -\d+(?:,\d+)? \+(\d+)(?:,\d+)? @@`)

// annotatePatch rewrites a unified patch for the model: every added line
// carries its post-state line number, removed lines stay as bare context
// and equal lines are dropped.
func annotatePatch(patch string) string {
	var b strings.Builder
	newLine := 0
	for _, line := range strings.Split(strings.TrimRight(patch, "\n"), "\n") {
		if m := hunkHeaderPattern.FindStringSubmatch(line); m != nil {
			newLine, _ = strconv.Atoi(m[1])
			continue
		}
		switch {
		case strings.HasPrefix(line, "+"):
			fmt.Fprintf(&b, "[Line %d] + %s\n", newLine, line[1:])
			newLine++
		case strings.HasPrefix(line, "-"):
			fmt.Fprintf(&b, "- %s\n", line[1:])
		case strings.HasPrefix(line, `\`):
			// "\ No newline at end of file" markers are not content lines.
		default:
			newLine++
		}
	}
	return b.String()
}

// addedLineNumbers collects the post-state line numbers of the + lines
// in a unified patch.
func addedLineNumbers(patch string) map[int]bool {
	out := make(map[int]bool)
	newLine := 0
	for _, line := range strings.Split(patch, "\n") {
		if m := hunkHeaderPattern.FindStringSubmatch(line); m != nil {
			newLine, _ = strconv.Atoi(m[1])
			continue
		}
		switch {
		case strings.HasPrefix(line, "+"):
			out[newLine] = true
			newLine++
		case strings.HasPrefix(line, "-"):
		case strings.HasPrefix(line, `\`):
		default:
			newLine++
		}
	}
	return out
}

// validateComments applies path validation, added-line validation,
// within-response dedup and dedup against the PR's existing comments.
func (o *Orchestrator) validateComments(comments []ParsedComment, rv reviewableDiff, existing []vcs.ExistingComment) []ParsedComment {
	state := buildDedupState(existing)
	seen := make(map[string]bool)

	kept := make([]ParsedComment, 0, len(comments))
	for _, c := range comments {
		original, ok := rv.pathMap[strings.TrimPrefix(c.Path, "/")]
		if !ok {
			commentsDropped.WithLabelValues("invalid_path").Inc()
			o.logger.Warn("dropping comment on path not in diff",
				slog.String("path", c.Path),
				slog.Int("line", c.Line))
			continue
		}
		c.Path = original
		if !rv.addedLines[original][c.Line] {
			commentsDropped.WithLabelValues("invalid_line").Inc()
			o.logger.Warn("dropping comment on line not added in diff",
				slog.String("path", c.Path),
				slog.Int("line", c.Line))
			continue
		}
		loc := locationKey(c.Path, c.Line)
		if seen[loc] {
			commentsDropped.WithLabelValues("duplicate").Inc()
			continue
		}
		if state.shouldSkip(c.Path, c.Line, c.Body) {
			commentsDropped.WithLabelValues("already_posted").Inc()
			o.logger.Info("skipping duplicate or dismissed comment",
				slog.String("path", c.Path),
				slog.Int("line", c.Line))
			continue
		}
		seen[loc] = true
		kept = append(kept, c)
	}
	return kept
}

// decorateBody appends the dedup marker and, when the signer is enabled,
// the feedback links.
func (o *Orchestrator) decorateBody(body, commentID string) string {
	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n\n")
	b.WriteString(commentIDMarker(commentID))
	if o.signer != nil && o.signer.Enabled() {
		acceptedURL, rejectedURL, err := o.signer.Links(commentID)
		if err != nil {
			o.logger.Warn("failed to mint feedback links",
				slog.String("comment_id", commentID),
				slog.String("error", err.Error()))
			return b.String()
		}
		fmt.Fprintf(&b, "\n\n---\n[👍 Helpful](%s) | [👎 Not helpful](%s)", acceptedURL, rejectedURL)
	}
	return b.String()
}

// persistReview stores the review and its comments for the feedback
// loop. Failures are logged, never fatal: the review is already posted.
func (o *Orchestrator) persistReview(ctx context.Context, reviewID, prID, headSHA, summary, verdict string, comments []*storage.Comment) {
	review := &storage.Review{
		ID:             reviewID,
		RepoID:         o.repoID,
		Branch:         o.branch,
		PRID:           prID,
		Summary:        summary,
		Verdict:        verdict,
		CommentCount:   len(comments),
		HeadSHA:        headSHA,
		CreatedAtMilli: time.Now().UnixMilli(),
	}
	if err := o.store.SaveReview(ctx, review); err != nil {
		o.logger.Warn("failed to persist review",
			slog.String("review_id", reviewID),
			slog.String("error", err.Error()))
		return
	}

	if o.embedder != nil && len(comments) > 0 {
		texts := make([]string, len(comments))
		for i, c := range comments {
			texts[i] = c.Body
		}
		vecs, err := o.embedder.Embed(ctx, texts)
		if err != nil {
			o.logger.Warn("failed to embed review comments",
				slog.String("review_id", reviewID),
				slog.String("error", err.Error()))
		} else {
			for i := range comments {
				if i < len(vecs) {
					comments[i].Embedding = vecs[i]
				}
			}
		}
	}
	for _, c := range comments {
		if err := o.store.SaveComment(ctx, c); err != nil {
			o.logger.Warn("failed to persist comment",
				slog.String("comment_id", c.ID),
				slog.String("error", err.Error()))
		}
	}
}

// upsertCheckpoint writes or updates the checkpoint comment. Failures
// are logged; the next run simply reviews a wider window.
func (o *Orchestrator) upsertCheckpoint(ctx context.Context, prID, commentID string, cp *Checkpoint, summary string) {
	body, err := RenderCheckpointComment(cp, summary)
	if err != nil {
		o.logger.Warn("failed to render checkpoint", slog.String("error", err.Error()))
		return
	}
	if commentID != "" {
		if err := o.host.UpdateComment(ctx, prID, commentID, body); err == nil {
			return
		}
		o.logger.Warn("failed to update checkpoint comment, creating a new one",
			slog.String("pr_id", prID),
			slog.String("comment_id", commentID))
	}
	if _, err := o.host.CreateComment(ctx, prID, body); err != nil {
		o.logger.Warn("failed to create checkpoint comment",
			slog.String("pr_id", prID),
			slog.String("error", err.Error()))
	}
}
