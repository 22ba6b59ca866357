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
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTasks struct {
	mu          sync.Mutex
	reviews     []string
	indexes     [][]string
	feedbackErr error
	feedback    []string
}

func (f *fakeTasks) KnownRepo(repoID string) bool { return repoID == "acme/payments" }

func (f *fakeTasks) Review(_ context.Context, repoID, prID string, incremental bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := repoID + "#" + prID
	if incremental {
		key += "+inc"
	}
	f.reviews = append(f.reviews, key)
	return nil
}

func (f *fakeTasks) Index(_ context.Context, _ string, changed []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexes = append(f.indexes, changed)
	return nil
}

func (f *fakeTasks) Feedback(_ context.Context, commentID, signal, _ string) error {
	if f.feedbackErr != nil {
		return f.feedbackErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedback = append(f.feedback, commentID+":"+signal)
	return nil
}

func newTestRouter(t *testing.T, tasks Tasks, secret string) (*gin.Engine, *Handlers) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h, err := NewHandlers(tasks, secret, 4, logger)
	require.NoError(t, err)
	router := gin.New()
	SetupRoutes(router, h)
	return router, h
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

const prPayload = `{"action":"opened","repository":{"full_name":"acme/payments"},"pull_request":{"number":42}}`

func postWebhook(router *gin.Engine, event, payload, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhook/github", strings.NewReader(payload))
	req.Header.Set("X-GitHub-Event", event)
	if signature != "" {
		req.Header.Set("X-Hub-Signature-256", signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleWebhook_SignatureVerification(t *testing.T) {
	tasks := &fakeTasks{}
	router, h := newTestRouter(t, tasks, "hooksecret")

	t.Run("missing signature rejected", func(t *testing.T) {
		w := postWebhook(router, "pull_request", prPayload, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("bad signature rejected before parsing", func(t *testing.T) {
		// Malformed JSON: a parse attempt before verification would 400.
		w := postWebhook(router, "pull_request", "{not json", "sha256=deadbeef")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid signature accepted", func(t *testing.T) {
		w := postWebhook(router, "pull_request", prPayload, sign("hooksecret", []byte(prPayload)))
		require.Equal(t, http.StatusAccepted, w.Code, "body: %s", w.Body.String())
		h.Drain()
		require.Len(t, tasks.reviews, 1)
		assert.Equal(t, "acme/payments#42", tasks.reviews[0])
	})
}

func TestHandleWebhook_Events(t *testing.T) {
	tasks := &fakeTasks{}
	router, h := newTestRouter(t, tasks, "")

	t.Run("synchronize is incremental", func(t *testing.T) {
		payload := strings.Replace(prPayload, "opened", "synchronize", 1)
		w := postWebhook(router, "pull_request", payload, "")
		require.Equal(t, http.StatusAccepted, w.Code)
		h.Drain()
		require.Len(t, tasks.reviews, 1)
		assert.Equal(t, "acme/payments#42+inc", tasks.reviews[0])
	})

	t.Run("push queues incremental index", func(t *testing.T) {
		payload := `{"repository":{"full_name":"acme/payments"},"commits":[{"modified":["src/a.ts"],"added":["src/b.ts"]},{"removed":["src/a.ts","old.ts"]}]}`
		w := postWebhook(router, "push", payload, "")
		require.Equal(t, http.StatusAccepted, w.Code)
		h.Drain()
		require.Len(t, tasks.indexes, 1)
		assert.Len(t, tasks.indexes[0], 3, "expected deduplicated changed files")
	})

	t.Run("unknown repo ignored", func(t *testing.T) {
		payload := `{"action":"opened","repository":{"full_name":"other/repo"},"pull_request":{"number":1}}`
		w := postWebhook(router, "pull_request", payload, "")
		require.Equal(t, http.StatusAccepted, w.Code)
		h.Drain()
		for _, r := range tasks.reviews {
			assert.False(t, strings.HasPrefix(r, "other/repo"), "unknown repo must not be reviewed")
		}
	})

	t.Run("closed action ignored", func(t *testing.T) {
		before := len(tasks.reviews)
		payload := strings.Replace(prPayload, "opened", "closed", 1)
		w := postWebhook(router, "pull_request", payload, "")
		require.Equal(t, http.StatusAccepted, w.Code)
		h.Drain()
		assert.Len(t, tasks.reviews, before, "closed PRs must not be reviewed")
	})
}

func TestHandleFeedback(t *testing.T) {
	tasks := &fakeTasks{}
	router, _ := newTestRouter(t, tasks, "")

	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/feedback?id=c1&signal=accepted&token=tok", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		require.Len(t, tasks.feedback, 1)
		assert.Equal(t, "c1:accepted", tasks.feedback[0])
	})

	t.Run("bad signal", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/feedback?id=c1&signal=meh&token=tok", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		tasks.feedbackErr = context.DeadlineExceeded
		defer func() { tasks.feedbackErr = nil }()
		req := httptest.NewRequest(http.MethodGet, "/v1/feedback?id=c1&signal=rejected&token=bad", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestHandleIndexStatus(t *testing.T) {
	tasks := &fakeTasks{}
	router, h := newTestRouter(t, tasks, "")

	t.Run("idle by default", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/index/acme/payments/status", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"idle"`)
	})

	t.Run("ready after an index task", func(t *testing.T) {
		h.runIndex(context.Background(), "acme/payments", nil)
		req := httptest.NewRequest(http.MethodGet, "/v1/index/acme/payments/status", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Contains(t, w.Body.String(), `"ready"`)
	})

	t.Run("unknown repo is 404", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/index/other/repo/status", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandleHealth(t *testing.T) {
	router, _ := newTestRouter(t, &fakeTasks{}, "")
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
