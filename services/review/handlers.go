// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package review

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ivoyant-eng/AgnusAi/services/review/feedback"
)

// Tasks is what the HTTP layer needs from the pipeline. *Service
// satisfies it.
type Tasks interface {
	KnownRepo(repoID string) bool
	Review(ctx context.Context, repoID, prID string, incremental bool) error
	Index(ctx context.Context, repoID string, changedFiles []string) error
	Feedback(ctx context.Context, commentID, signal, token string) error
}

const maxWebhookBody = 10 << 20

// IndexState is the coarse status of a repo's indexing.
type IndexState string

// Index states.
const (
	StateIdle     IndexState = "idle"
	StateIndexing IndexState = "indexing"
	StateReady    IndexState = "ready"
	StateError    IndexState = "error"
)

type indexStatus struct {
	State     IndexState `json:"state"`
	UpdatedAt time.Time  `json:"updated_at"`
	Error     string     `json:"error,omitempty"`
}

// Handlers carries the HTTP handler state: the task pipeline, the
// bounded background worker pool and per-repo index status.
type Handlers struct {
	tasks         Tasks
	webhookSecret string
	logger        *slog.Logger

	sem chan struct{}
	wg  sync.WaitGroup

	mu       sync.RWMutex
	statuses map[string]indexStatus
}

// NewHandlers creates the handler set. maxConcurrent bounds background
// review and index tasks.
func NewHandlers(tasks Tasks, webhookSecret string, maxConcurrent int, logger *slog.Logger) (*Handlers, error) {
	if tasks == nil {
		return nil, fmt.Errorf("tasks must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Handlers{
		tasks:         tasks,
		webhookSecret: webhookSecret,
		logger:        logger,
		sem:           make(chan struct{}, maxConcurrent),
		statuses:      make(map[string]indexStatus),
	}, nil
}

// Drain blocks until all in-flight background tasks complete.
func (h *Handlers) Drain() { h.wg.Wait() }

// verifyWebhookSignature checks the GitHub X-Hub-Signature-256 header
// against the raw body. Runs before any payload parsing.
func (h *Handlers) verifyWebhookSignature(body []byte, header string) bool {
	if h.webhookSecret == "" {
		// No secret configured: accept, for local development only.
		return true
	}
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(sig), []byte(want))
}

// githubWebhookPayload is the subset of the webhook body the server
// reads.
type githubWebhookPayload struct {
	Action     string `json:"action"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	PullRequest struct {
		Number int `json:"number"`
	} `json:"pull_request"`
	Commits []struct {
		Added    []string `json:"added"`
		Modified []string `json:"modified"`
		Removed  []string `json:"removed"`
	} `json:"commits"`
}

// HandleWebhook accepts GitHub pull_request and push events. Signature
// verification happens before the payload is parsed; processing is
// asynchronous behind a bounded worker pool.
func (h *Handlers) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		webhookRequests.WithLabelValues("read_error").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	if !h.verifyWebhookSignature(body, c.GetHeader("X-Hub-Signature-256")) {
		webhookRequests.WithLabelValues("invalid_signature").Inc()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	var payload githubWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		webhookRequests.WithLabelValues("bad_payload").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	repoID := payload.Repository.FullName
	if repoID == "" || !h.tasks.KnownRepo(repoID) {
		webhookRequests.WithLabelValues("unknown_repo").Inc()
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
		return
	}

	event := c.GetHeader("X-GitHub-Event")
	switch event {
	case "pull_request":
		if !reviewableAction(payload.Action) {
			webhookRequests.WithLabelValues("ignored_action").Inc()
			c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
			return
		}
		prID := strconv.Itoa(payload.PullRequest.Number)
		incremental := payload.Action == "synchronize"
		if !h.dispatch(func(ctx context.Context) {
			h.runReview(ctx, repoID, prID, incremental)
		}) {
			webhookRequests.WithLabelValues("rejected").Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "task queue full"})
			return
		}
	case "push":
		changed := changedFilesFromPush(payload)
		if !h.dispatch(func(ctx context.Context) {
			h.runIndex(ctx, repoID, changed)
		}) {
			webhookRequests.WithLabelValues("rejected").Inc()
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "task queue full"})
			return
		}
	default:
		webhookRequests.WithLabelValues("ignored_event").Inc()
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
		return
	}

	webhookRequests.WithLabelValues("accepted").Inc()
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func reviewableAction(action string) bool {
	switch action {
	case "opened", "reopened", "synchronize", "ready_for_review":
		return true
	}
	return false
}

func changedFilesFromPush(payload githubWebhookPayload) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(paths []string) {
		for _, p := range paths {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	for _, commit := range payload.Commits {
		add(commit.Added)
		add(commit.Modified)
		add(commit.Removed)
	}
	return out
}

// dispatch runs fn on the bounded worker pool. Returns false when the
// pool is saturated.
func (h *Handlers) dispatch(fn func(ctx context.Context)) bool {
	select {
	case h.sem <- struct{}{}:
	default:
		tasksRejected.Inc()
		return false
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() { <-h.sem }()
		defer func() {
			if r := recover(); r != nil {
				h.logger.Error("panic in background task",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
			}
		}()
		fn(context.Background())
	}()
	return true
}

func (h *Handlers) runReview(ctx context.Context, repoID, prID string, incremental bool) {
	if err := h.tasks.Review(ctx, repoID, prID, incremental); err != nil {
		reviewsCompleted.WithLabelValues("error").Inc()
		h.logger.Error("review task failed",
			slog.String("repo_id", repoID),
			slog.String("pr_id", prID),
			slog.String("error", err.Error()))
		return
	}
	reviewsCompleted.WithLabelValues("ok").Inc()
}

func (h *Handlers) runIndex(ctx context.Context, repoID string, changed []string) {
	h.setStatus(repoID, indexStatus{State: StateIndexing, UpdatedAt: time.Now()})
	start := time.Now()
	if err := h.tasks.Index(ctx, repoID, changed); err != nil {
		indexTasks.WithLabelValues("error").Inc()
		h.setStatus(repoID, indexStatus{State: StateError, UpdatedAt: time.Now(), Error: err.Error()})
		h.logger.Error("index task failed",
			slog.String("repo_id", repoID),
			slog.String("error", err.Error()))
		return
	}
	indexTasks.WithLabelValues("ok").Inc()
	indexDuration.Observe(time.Since(start).Seconds())
	h.setStatus(repoID, indexStatus{State: StateReady, UpdatedAt: time.Now()})
}

func (h *Handlers) setStatus(repoID string, st indexStatus) {
	h.mu.Lock()
	h.statuses[repoID] = st
	h.mu.Unlock()
}

// HandleFeedback records a 👍/👎 click. The token is verified before
// anything is stored; invalid tokens are 401.
func (h *Handlers) HandleFeedback(c *gin.Context) {
	commentID := c.Query("id")
	signal := c.Query("signal")
	token := c.Query("token")
	if commentID == "" || token == "" ||
		(signal != feedback.SignalAccepted && signal != feedback.SignalRejected) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid parameters"})
		return
	}
	if err := h.tasks.Feedback(c.Request.Context(), commentID, signal, token); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	feedbackSignals.WithLabelValues(signal).Inc()
	c.String(http.StatusOK, "Thanks, your feedback was recorded.")
}

// HandleIndexStatus reports the coarse index state for a repo.
func (h *Handlers) HandleIndexStatus(c *gin.Context) {
	repoID := c.Param("owner") + "/" + c.Param("name")
	if !h.tasks.KnownRepo(repoID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown repo"})
		return
	}
	h.mu.RLock()
	st, ok := h.statuses[repoID]
	h.mu.RUnlock()
	if !ok {
		st = indexStatus{State: StateIdle}
	}
	c.JSON(http.StatusOK, st)
}

// HandleHealth is the liveness probe.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
