// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chatCompletionResp = `{"id":"chatcmpl-test","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"SUMMARY: looks fine\n\nVERDICT: approve"},"finish_reason":"stop"}],"model":"gpt-4o-mini","usage":{"prompt_tokens":50,"completion_tokens":12}}`

func newMockBackend(t *testing.T, handler http.HandlerFunc, opts ...BackendOption) *LangChainBackend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]BackendOption{
		WithBaseURL(srv.URL),
		WithToken("test-key"),
		WithRequestsPerSecond(1000),
	}, opts...)
	b, err := NewLangChainBackend(logger, opts...)
	require.NoError(t, err)
	return b
}

func TestGenerate(t *testing.T) {
	var gotPrompt string
	b := newMockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotPrompt = string(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletionResp))
	})

	out, err := b.Generate(context.Background(), "Review this diff.")
	require.NoError(t, err)
	assert.Contains(t, out, "VERDICT: approve")
	assert.Contains(t, gotPrompt, "Review this diff.", "prompt must be forwarded to the endpoint")
}

func TestGenerate_ServerError(t *testing.T) {
	b := newMockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
	})

	_, err := b.Generate(context.Background(), "prompt")
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestGenerate_Timeout(t *testing.T) {
	b := newMockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletionResp))
	}, WithTimeout(20*time.Millisecond))

	_, err := b.Generate(context.Background(), "prompt")
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestGenerate_CancelledContext(t *testing.T) {
	b := newMockBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletionResp))
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Generate(ctx, "prompt")
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestNewLangChainBackend_NilLogger(t *testing.T) {
	_, err := NewLangChainBackend(nil)
	assert.Error(t, err)
}
