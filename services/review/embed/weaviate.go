// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package embed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// SymbolVectorClass is the Weaviate class holding symbol embeddings.
const SymbolVectorClass = "ReviewSymbolVector"

// SearchResult is one vector-search hit.
type SearchResult struct {
	SymbolID string
	Score    float64
}

// VectorIndex is the per-repo vector store over Weaviate.
//
// Description:
//
//	Vectors are provided by the Embedder (vectorizer "none"); Weaviate only
//	stores and searches them. Object ids are derived deterministically from
//	(repoId, symbolId) so re-indexing a symbol replaces its vector instead
//	of duplicating it.
//
// Thread Safety:
//
//	Safe for concurrent use; the underlying client is stateless per call.
type VectorIndex struct {
	client *weaviate.Client
	logger *slog.Logger
	dim    int
}

// NewVectorIndex wraps an opened Weaviate client.
func NewVectorIndex(client *weaviate.Client, dim int, logger *slog.Logger) (*VectorIndex, error) {
	if client == nil {
		return nil, fmt.Errorf("weaviate client must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if dim <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dim)
	}
	return &VectorIndex{client: client, logger: logger, dim: dim}, nil
}

func symbolVectorSchema(dim int) *models.Class {
	indexFilterable := true
	return &models.Class{
		Class: SymbolVectorClass,
		// The dimension is recorded in the description so EnsureSchema can
		// detect model drift and recreate the class.
		Description: "Symbol embeddings for review retrieval; dim=" + strconv.Itoa(dim),
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "symbolId",
				DataType:        []string{"text"},
				IndexFilterable: &indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "repoId",
				DataType:        []string{"text"},
				IndexFilterable: &indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "branch",
				DataType:        []string{"text"},
				IndexFilterable: &indexFilterable,
				Tokenization:    "field",
			},
		},
	}
}

// EnsureSchema creates the symbol vector class if absent. If the class
// exists with a different embedding dimension it is dropped and recreated,
// which requires a re-index; the caller is told via the returned flag.
func (v *VectorIndex) EnsureSchema(ctx context.Context) (recreated bool, err error) {
	existing, err := v.client.Schema().ClassGetter().WithClassName(SymbolVectorClass).Do(ctx)
	if err == nil && existing != nil {
		want := "dim=" + strconv.Itoa(v.dim)
		if len(existing.Description) >= len(want) && existing.Description[len(existing.Description)-len(want):] == want {
			return false, nil
		}
		v.logger.Warn("embedding dimension changed, recreating vector class",
			slog.String("class", SymbolVectorClass),
			slog.Int("dim", v.dim))
		if err := v.client.Schema().ClassDeleter().WithClassName(SymbolVectorClass).Do(ctx); err != nil {
			return false, fmt.Errorf("failed to drop stale vector class: %w", err)
		}
		if err := v.client.Schema().ClassCreator().WithClass(symbolVectorSchema(v.dim)).Do(ctx); err != nil {
			return false, fmt.Errorf("failed to recreate vector class: %w", err)
		}
		return true, nil
	}

	if err := v.client.Schema().ClassCreator().WithClass(symbolVectorSchema(v.dim)).Do(ctx); err != nil {
		return false, fmt.Errorf("failed to create vector class: %w", err)
	}
	return false, nil
}

// objectID derives the stable Weaviate object id for a symbol vector.
func objectID(repoID, symbolID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(repoID+"|"+symbolID)).String()
}

// Upsert stores one symbol vector, replacing any previous vector for the
// same (repo, symbol).
func (v *VectorIndex) Upsert(ctx context.Context, symbolID, repoID, branch string, vec []float32) error {
	if len(vec) != v.dim {
		return fmt.Errorf("vector dimension %d does not match index dimension %d", len(vec), v.dim)
	}
	id := objectID(repoID, symbolID)
	props := map[string]any{
		"symbolId": symbolID,
		"repoId":   repoID,
		"branch":   branch,
	}

	// Try update first; fall back to create for new objects.
	err := v.client.Data().Updater().
		WithClassName(SymbolVectorClass).
		WithID(id).
		WithProperties(props).
		WithVector(vec).
		Do(ctx)
	if err == nil {
		return nil
	}

	_, err = v.client.Data().Creator().
		WithClassName(SymbolVectorClass).
		WithID(id).
		WithProperties(props).
		WithVector(vec).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to upsert vector for %s: %w", symbolID, err)
	}
	return nil
}

// Search returns the topK nearest symbols to the query vector within a
// repo, scored by certainty (cosine similarity mapped to [0,1]).
func (v *VectorIndex) Search(ctx context.Context, queryVec []float32, repoID string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	repoFilter := filters.Where().
		WithPath([]string{"repoId"}).
		WithOperator(filters.Equal).
		WithValueString(repoID)

	nearVector := v.client.GraphQL().NearVectorArgBuilder().
		WithVector(queryVec)

	fields := []graphql.Field{
		{Name: "symbolId"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
		}},
	}

	result, err := v.client.GraphQL().Get().
		WithClassName(SymbolVectorClass).
		WithFields(fields...).
		WithWhere(repoFilter).
		WithNearVector(nearVector).
		WithLimit(topK).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("vector search failed: %s", result.Errors[0].Message)
	}

	return parseSearchResults(result.Data), nil
}

// parseSearchResults walks the GraphQL response shape
// Get -> ReviewSymbolVector -> [{symbolId, _additional{certainty}}].
func parseSearchResults(data map[string]models.JSONObject) []SearchResult {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil
	}
	rows, ok := get[SymbolVectorClass].([]any)
	if !ok {
		return nil
	}
	out := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		m, ok := row.(map[string]any)
		if !ok {
			continue
		}
		sr := SearchResult{}
		if id, ok := m["symbolId"].(string); ok {
			sr.SymbolID = id
		}
		if add, ok := m["_additional"].(map[string]any); ok {
			switch c := add["certainty"].(type) {
			case float64:
				sr.Score = c
			case json.Number:
				if f, err := c.Float64(); err == nil {
					sr.Score = f
				}
			}
		}
		if sr.SymbolID != "" {
			out = append(out, sr)
		}
	}
	return out
}

// DeleteRepo removes every vector belonging to the repo.
func (v *VectorIndex) DeleteRepo(ctx context.Context, repoID string) error {
	repoFilter := filters.Where().
		WithPath([]string{"repoId"}).
		WithOperator(filters.Equal).
		WithValueString(repoID)

	_, err := v.client.Batch().ObjectsBatchDeleter().
		WithClassName(SymbolVectorClass).
		WithWhere(repoFilter).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete vectors for repo %s: %w", repoID, err)
	}
	return nil
}

// Delete removes the vectors for specific symbol ids within a repo.
func (v *VectorIndex) Delete(ctx context.Context, repoID string, symbolIDs []string) error {
	for _, symbolID := range symbolIDs {
		err := v.client.Data().Deleter().
			WithClassName(SymbolVectorClass).
			WithID(objectID(repoID, symbolID)).
			Do(ctx)
		if err != nil {
			// Missing objects are fine; the index may never have seen them.
			v.logger.Debug("vector delete skipped",
				slog.String("symbol_id", symbolID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}
