// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm abstracts the chat/completions backend that produces review
// text. The orchestrator treats generation failures as fatal for the
// review in progress.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// ErrGenerationFailed wraps provider errors surfaced to the orchestrator.
var ErrGenerationFailed = errors.New("llm generation failed")

// Backend generates text from a fully-assembled prompt.
type Backend interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// LangChainBackend drives an OpenAI-compatible chat endpoint through
// langchaingo, with client-side rate limiting and a per-call deadline.
type LangChainBackend struct {
	model       llms.Model
	limiter     *rate.Limiter
	timeout     time.Duration
	temperature float64
	maxTokens   int
	logger      *slog.Logger
}

// BackendOption configures a LangChainBackend.
type BackendOption func(*backendConfig)

type backendConfig struct {
	baseURL     string
	token       string
	model       string
	timeout     time.Duration
	temperature float64
	maxTokens   int
	rps         float64
}

// WithBaseURL points the backend at a self-hosted endpoint.
func WithBaseURL(url string) BackendOption {
	return func(c *backendConfig) { c.baseURL = url }
}

// WithToken sets the API token.
func WithToken(token string) BackendOption {
	return func(c *backendConfig) { c.token = token }
}

// WithModel sets the chat model name.
func WithModel(model string) BackendOption {
	return func(c *backendConfig) { c.model = model }
}

// WithTimeout bounds each generation call.
func WithTimeout(d time.Duration) BackendOption {
	return func(c *backendConfig) { c.timeout = d }
}

// WithMaxTokens caps the response length.
func WithMaxTokens(n int) BackendOption {
	return func(c *backendConfig) { c.maxTokens = n }
}

// WithRequestsPerSecond sets the client-side rate limit.
func WithRequestsPerSecond(rps float64) BackendOption {
	return func(c *backendConfig) { c.rps = rps }
}

// NewLangChainBackend creates a backend for an OpenAI-compatible endpoint.
func NewLangChainBackend(logger *slog.Logger, opts ...BackendOption) (*LangChainBackend, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	cfg := backendConfig{
		model:       "gpt-4o-mini",
		timeout:     3 * time.Minute,
		temperature: 0.2,
		maxTokens:   4096,
		rps:         1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	llmOpts := []openai.Option{openai.WithModel(cfg.model)}
	if cfg.baseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(cfg.baseURL))
	}
	if cfg.token != "" {
		llmOpts = append(llmOpts, openai.WithToken(cfg.token))
	}
	model, err := openai.New(llmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	return &LangChainBackend{
		model:       model,
		limiter:     rate.NewLimiter(rate.Limit(cfg.rps), 1),
		timeout:     cfg.timeout,
		temperature: cfg.temperature,
		maxTokens:   cfg.maxTokens,
		logger:      logger,
	}, nil
}

// Generate produces review text for the prompt.
func (b *LangChainBackend) Generate(ctx context.Context, prompt string) (string, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	out, err := llms.GenerateFromSinglePrompt(ctx, b.model, prompt,
		llms.WithTemperature(b.temperature),
		llms.WithMaxTokens(b.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}

	b.logger.Debug("llm generation complete",
		slog.Int("prompt_chars", len(prompt)),
		slog.Int("response_chars", len(out)),
		slog.Duration("duration", time.Since(start)))
	return out, nil
}
