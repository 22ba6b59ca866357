// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package embed vectorises symbol and comment text and maintains the
// per-repo vector index used for semantic retrieval.
package embed

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// BatchSize is how many texts are embedded per provider call.
const BatchSize = 32

// DefaultDim is the vector dimension of the default embedding model.
const DefaultDim = 1536

// ErrEmptyInput is returned when there is nothing to embed.
var ErrEmptyInput = errors.New("no texts to embed")

// Embedder turns text into vectors.
//
// Implementations must report a stable Dim; a dimension change invalidates
// the vector index and forces re-indexing.
type Embedder interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dim returns the vector dimension.
	Dim() int
}

// OpenAIEmbedder embeds text through an OpenAI-compatible embeddings
// endpoint. Works against the hosted API or any self-hosted server
// exposing the same surface.
type OpenAIEmbedder struct {
	embedder embeddings.Embedder
	dim      int
}

// OpenAIOption configures an OpenAIEmbedder.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL string
	token   string
	model   string
	dim     int
}

// WithBaseURL points the embedder at a self-hosted endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = url }
}

// WithToken sets the API token.
func WithToken(token string) OpenAIOption {
	return func(c *openAIConfig) { c.token = token }
}

// WithModel overrides the embedding model name.
func WithModel(model string) OpenAIOption {
	return func(c *openAIConfig) { c.model = model }
}

// WithDim declares the model's vector dimension.
func WithDim(dim int) OpenAIOption {
	return func(c *openAIConfig) { c.dim = dim }
}

// NewOpenAIEmbedder creates an embedder backed by langchaingo's OpenAI
// client.
func NewOpenAIEmbedder(opts ...OpenAIOption) (*OpenAIEmbedder, error) {
	cfg := openAIConfig{
		model: "text-embedding-3-small",
		dim:   DefaultDim,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	llmOpts := []openai.Option{openai.WithEmbeddingModel(cfg.model)}
	if cfg.baseURL != "" {
		llmOpts = append(llmOpts, openai.WithBaseURL(cfg.baseURL))
	}
	if cfg.token != "" {
		llmOpts = append(llmOpts, openai.WithToken(cfg.token))
	}
	client, err := openai.New(llmOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(BatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return &OpenAIEmbedder{embedder: embedder, dim: cfg.dim}, nil
}

// Embed vectorises the texts, batching inside the langchaingo embedder.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	vecs, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	return vecs, nil
}

// Dim returns the configured vector dimension.
func (e *OpenAIEmbedder) Dim() int { return e.dim }

// AverageUnit averages the vectors and unit-normalises the result. Used to
// collapse several changed-symbol embeddings into one query vector.
func AverageUnit(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	avg := make([]float32, dim)
	for _, v := range vecs {
		for i := 0; i < dim && i < len(v); i++ {
			avg[i] += v[i]
		}
	}
	n := float32(len(vecs))
	var norm float64
	for i := range avg {
		avg[i] /= n
		norm += float64(avg[i]) * float64(avg[i])
	}
	if norm == 0 {
		return avg
	}
	inv := float32(1.0 / math.Sqrt(norm))
	for i := range avg {
		avg[i] *= inv
	}
	return avg
}
