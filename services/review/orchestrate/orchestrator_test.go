// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrate

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivoyant-eng/AgnusAi/services/review/storage"
	"github.com/ivoyant-eng/AgnusAi/services/review/vcs"
)

type fakeHost struct {
	pr       *vcs.PullRequest
	files    []vcs.FileDiff
	existing []vcs.ExistingComment

	submissions  []*vcs.ReviewSubmission
	created      []string
	updated      map[string]string
	lastSinceSHA string
	getDiffCalls int
}

func (f *fakeHost) GetPR(context.Context, string) (*vcs.PullRequest, error) { return f.pr, nil }

func (f *fakeHost) GetDiff(_ context.Context, _ string, sinceSHA string) ([]vcs.FileDiff, error) {
	f.getDiffCalls++
	f.lastSinceSHA = sinceSHA
	return f.files, nil
}

func (f *fakeHost) GetFiles(context.Context, string) ([]vcs.FileInfo, error) { return nil, nil }

func (f *fakeHost) GetFileContent(context.Context, string, string) ([]byte, error) {
	return nil, nil
}

func (f *fakeHost) AddInlineComment(context.Context, string, vcs.InlineComment) error { return nil }

func (f *fakeHost) SubmitReview(_ context.Context, _ string, sub *vcs.ReviewSubmission) error {
	f.submissions = append(f.submissions, sub)
	return nil
}

func (f *fakeHost) ListComments(context.Context, string) ([]vcs.ExistingComment, error) {
	return f.existing, nil
}

func (f *fakeHost) CreateComment(_ context.Context, _ string, body string) (string, error) {
	f.created = append(f.created, body)
	return "new-comment", nil
}

func (f *fakeHost) UpdateComment(_ context.Context, _ string, commentID, body string) error {
	if f.updated == nil {
		f.updated = make(map[string]string)
	}
	f.updated[commentID] = body
	return nil
}

func (f *fakeHost) GetLinkedTickets(context.Context, string) ([]string, error) {
	return vcs.ParseTicketRefs(f.pr.Title + " " + f.pr.Description), nil
}

type fakeBackend struct {
	response string
	err      error
	prompts  []string
}

func (f *fakeBackend) Generate(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

const authPatch = `@@ -1,3 +1,4 @@
 function login() {
+  console.log(token);
   return token;
 }`

func newFakeHost() *fakeHost {
	return &fakeHost{
		pr: &vcs.PullRequest{
			ID:      "42",
			Title:   "PROJ-7: harden login",
			Author:  "dev",
			HeadSHA: "head123",
			BaseSHA: "base456",
		},
		files: []vcs.FileDiff{
			{Path: "src/auth.ts", Status: vcs.StatusModified, Patch: authPatch},
			{Path: "package-lock.json", Status: vcs.StatusModified, Patch: "@@ -1 +1 @@\n-x\n+y"},
			{Path: "image.png", Status: vcs.StatusAdded, Patch: ""},
		},
	}
}

func newTestOrchestrator(t *testing.T, host *fakeHost, backend *fakeBackend, opts ...Option) *Orchestrator {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.NewBadgerStore(db, logger)
	require.NoError(t, err)
	o, err := New("repo1", "main", host, backend, store, logger, opts...)
	require.NoError(t, err)
	return o
}

func TestReviewPR_FullFlow(t *testing.T) {
	host := newFakeHost()
	backend := &fakeBackend{response: `SUMMARY: One real problem.
[File: src/auth.ts, Line: 2]
Critical: the token is logged in plain text. [Confidence: 0.92]
[File: src/auth.ts, Line: 2]
Duplicate finding on the same line. [Confidence: 0.95]
[File: src/hallucinated.ts, Line: 3]
Major: made-up file. [Confidence: 0.90]
[File: src/auth.ts, Line: 99]
Major: line outside the diff. [Confidence: 0.90]
[File: src/auth.ts, Line: 2]
Low confidence nit. [Confidence: 0.30]
VERDICT: request_changes
`}
	o := newTestOrchestrator(t, host, backend)

	require.NoError(t, o.ReviewPR(context.Background(), "42", false))

	require.Len(t, host.submissions, 1)
	sub := host.submissions[0]
	assert.Equal(t, vcs.VerdictRequestChanges, sub.Verdict)
	require.Len(t, sub.Comments, 1, "expected exactly one surviving comment, got %+v", sub.Comments)
	c := sub.Comments[0]
	assert.Equal(t, "src/auth.ts", c.Path)
	assert.Equal(t, 2, c.Line)
	assert.Equal(t, "error", c.Severity)
	assert.Contains(t, c.Body, "agnusai:id=", "posted body must embed the dedup marker")
	assert.NotContains(t, c.Body, "[Confidence", "confidence suffix must not be posted")

	t.Run("checkpoint comment created", func(t *testing.T) {
		require.Len(t, host.created, 1)
		cp, err := ParseCheckpoint(host.created[0])
		require.NoError(t, err)
		require.NotNil(t, cp)
		assert.Equal(t, "head123", cp.SHA)
		assert.Equal(t, 1, cp.CommentCount)
		assert.Equal(t, []string{"src/auth.ts"}, cp.FilesReviewed, "lock and binary files must not be reviewed")
	})

	t.Run("prompt carries annotation and tickets", func(t *testing.T) {
		prompt := backend.prompts[0]
		assert.Contains(t, prompt, "[Line 2] +   console.log(token);")
		assert.Contains(t, prompt, "PROJ-7")
		assert.Contains(t, prompt, "never cite that section in a comment",
			"model must be told to use graph context without quoting it back")
		assert.NotContains(t, prompt, "package-lock.json", "lock file must not reach the prompt")
	})
}

func TestReviewPR_ReplayPostsNothingNew(t *testing.T) {
	host := newFakeHost()
	backend := &fakeBackend{response: `SUMMARY: One real problem.
[File: src/auth.ts, Line: 2]
Critical: the token is logged in plain text. [Confidence: 0.92]
VERDICT: comment
`}
	o := newTestOrchestrator(t, host, backend)
	ctx := context.Background()

	require.NoError(t, o.ReviewPR(ctx, "42", false))
	for _, c := range host.submissions[0].Comments {
		host.existing = append(host.existing, vcs.ExistingComment{
			ID: "e1", Body: c.Body, Path: c.Path, Line: c.Line,
		})
	}

	require.NoError(t, o.ReviewPR(ctx, "42", false))
	assert.Empty(t, host.submissions[1].Comments, "replay must post zero new comments")
	assert.Contains(t, host.submissions[1].Summary, "No significant issues")
}

func TestReviewPR_Incremental(t *testing.T) {
	t.Run("unchanged head exits without model call", func(t *testing.T) {
		host := newFakeHost()
		body, err := RenderCheckpointComment(&Checkpoint{SHA: "head123"}, "earlier summary")
		require.NoError(t, err)
		host.existing = []vcs.ExistingComment{{ID: "cp", Body: body}}
		backend := &fakeBackend{response: "VERDICT: comment"}
		o := newTestOrchestrator(t, host, backend)

		require.NoError(t, o.ReviewPR(context.Background(), "42", true))
		assert.Empty(t, backend.prompts, "model must not be called when head is unchanged")
		assert.Empty(t, host.submissions, "no review must be submitted when head is unchanged")
	})

	t.Run("older checkpoint restricts the diff", func(t *testing.T) {
		host := newFakeHost()
		body, err := RenderCheckpointComment(&Checkpoint{SHA: "older000"}, "earlier summary")
		require.NoError(t, err)
		host.existing = []vcs.ExistingComment{{ID: "cp", Body: body}}
		backend := &fakeBackend{response: "SUMMARY: fine\nVERDICT: approve"}
		o := newTestOrchestrator(t, host, backend)

		require.NoError(t, o.ReviewPR(context.Background(), "42", true))
		assert.Equal(t, "older000", host.lastSinceSHA, "diff must be restricted to the checkpoint sha")
		require.Contains(t, host.updated, "cp", "checkpoint must be updated in place")
		assert.Contains(t, host.updated["cp"], "head123")
	})

	t.Run("malformed checkpoint falls back to full review", func(t *testing.T) {
		host := newFakeHost()
		host.existing = []vcs.ExistingComment{{ID: "cp", Body: checkpointPrefix + `{"sha":` + checkpointSuffix}}
		backend := &fakeBackend{response: "SUMMARY: fine\nVERDICT: approve"}
		o := newTestOrchestrator(t, host, backend)

		require.NoError(t, o.ReviewPR(context.Background(), "42", true))
		assert.Empty(t, host.lastSinceSHA, "full diff expected after malformed checkpoint")
		assert.Len(t, host.submissions, 1, "full review must still run")
	})
}

func TestAnnotatePatch(t *testing.T) {
	got := annotatePatch(authPatch)
	assert.Equal(t, "[Line 2] +   console.log(token);\n", got)

	t.Run("removed lines unmarked", func(t *testing.T) {
		patch := "@@ -1,2 +1,1 @@\n-old line\n keep"
		assert.Equal(t, "- old line\n", annotatePatch(patch))
	})

	t.Run("no-newline marker does not shift numbering", func(t *testing.T) {
		patch := "@@ -1,3 +1,3 @@\n ctx\n-old last\n\\ No newline at end of file\n+new last\n\\ No newline at end of file\n added after"
		got := annotatePatch(patch)
		assert.Contains(t, got, "[Line 2] + new last\n")
		assert.NotContains(t, got, "No newline")
	})
}

func TestAddedLineNumbers(t *testing.T) {
	patch := "@@ -10,3 +10,4 @@\n ctx1\n+first add\n+second add\n ctx2\n@@ -40,2 +41,3 @@\n ctx\n+third add"
	got := addedLineNumbers(patch)
	for _, want := range []int{11, 12, 42} {
		assert.True(t, got[want], "expected added line %d in %v", want, got)
	}
	assert.Len(t, got, 3)

	t.Run("no-newline marker does not shift numbering", func(t *testing.T) {
		patch := "@@ -1,2 +1,3 @@\n ctx\n-old last\n\\ No newline at end of file\n+new last\n+another\n\\ No newline at end of file"
		got := addedLineNumbers(patch)
		assert.True(t, got[2], "first added line must stay at 2 despite the marker: %v", got)
		assert.True(t, got[3], "second added line must follow at 3: %v", got)
		assert.Len(t, got, 2)
	})
}
