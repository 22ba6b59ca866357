// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivoyant-eng/AgnusAi/services/review/ast"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewBadgerStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return store
}

func TestBadgerStore_Snapshot_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	blob := []byte(`{"symbols":[],"edges":[]}`)
	meta, err := store.SaveSnapshot(ctx, "repo1", "main", blob)
	require.NoError(t, err)
	assert.NotEmpty(t, meta.ContentHash)
	assert.NotZero(t, meta.CompressedSize)

	loaded, err := store.LoadSnapshot(ctx, "repo1", "main")
	require.NoError(t, err)
	assert.Equal(t, string(blob), string(loaded))

	t.Run("missing snapshot", func(t *testing.T) {
		_, err := store.LoadSnapshot(ctx, "repo1", "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("overwrite replaces", func(t *testing.T) {
		next := []byte(`{"symbols":[{"id":"a"}],"edges":[]}`)
		_, err := store.SaveSnapshot(ctx, "repo1", "main", next)
		require.NoError(t, err)
		loaded, err := store.LoadSnapshot(ctx, "repo1", "main")
		require.NoError(t, err)
		assert.Equal(t, string(next), string(loaded), "expected latest snapshot to win")
	})
}

func TestBadgerStore_SymbolsAndEdges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	symbols := []*ast.Symbol{
		{ID: "a.ts:f", FilePath: "a.ts", Name: "f", QualifiedName: "f", Kind: ast.SymbolKindFunction, StartLine: 1, EndLine: 2},
		{ID: "b.ts:g", FilePath: "b.ts", Name: "g", QualifiedName: "g", Kind: ast.SymbolKindFunction, StartLine: 1, EndLine: 2},
	}
	require.NoError(t, store.SaveSymbols(ctx, "repo1", "main", symbols))

	edges := []ast.Edge{
		{From: "a.ts:f", To: "b.ts:g", Kind: ast.EdgeKindCalls},
		{From: "a.ts:f", ToName: "unresolved", Kind: ast.EdgeKindCalls},
	}
	require.NoError(t, store.SaveEdges(ctx, "repo1", "main", edges))

	t.Run("delete by file removes symbols and touching edges", func(t *testing.T) {
		require.NoError(t, store.DeleteFileSymbols(ctx, "repo1", "main", "b.ts"))
		// The edge a.ts:f -> b.ts:g touched the removed file and is gone;
		// saving again must not resurrect old state.
		var sym ast.Symbol
		err := store.getJSON(scopeKey(keyPrefixSymbol, "repo1", "main", "b.ts:g"), &sym)
		assert.ErrorIs(t, err, ErrNotFound, "expected symbol to be deleted")
		err = store.getJSON(scopeKey(keyPrefixSymbol, "repo1", "main", "a.ts:f"), &sym)
		assert.NoError(t, err, "expected untouched symbol to survive")
	})
}

func TestBadgerStore_ReviewsCommentsFeedback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	review := &Review{ID: "rev1", RepoID: "repo1", Branch: "main", PRID: "42", Summary: "ok", Verdict: "comment"}
	require.NoError(t, store.SaveReview(ctx, review))

	comment := &Comment{
		ID: "c1", ReviewID: "rev1", RepoID: "repo1", PRID: "42",
		Path: "a.ts", Line: 10, Body: "nit", Severity: "info",
		Embedding: []float32{0.1, 0.2},
	}
	require.NoError(t, store.SaveComment(ctx, comment))

	comments, err := store.ListComments(ctx, "repo1")
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "c1", comments[0].ID)
	assert.Len(t, comments[0].Embedding, 2, "expected embedding to round trip")

	t.Run("feedback latest wins", func(t *testing.T) {
		require.NoError(t, store.SetFeedback(ctx, "c1", FeedbackAccepted))
		require.NoError(t, store.SetFeedback(ctx, "c1", FeedbackRejected))
		signal, err := store.GetFeedback(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, FeedbackRejected, signal, "expected latest signal to win")
	})

	t.Run("unknown comment has no feedback", func(t *testing.T) {
		_, err := store.GetFeedback(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestBadgerStore_DeleteRepo(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSymbols(ctx, "doomed", "main", []*ast.Symbol{
		{ID: "a.ts:f", FilePath: "a.ts", Name: "f", QualifiedName: "f", Kind: ast.SymbolKindFunction, StartLine: 1, EndLine: 2},
	}))
	_, err := store.SaveSnapshot(ctx, "doomed", "main", []byte("{}"))
	require.NoError(t, err)
	require.NoError(t, store.SaveComment(ctx, &Comment{ID: "c1", RepoID: "doomed"}))
	// A second repo must survive.
	_, err = store.SaveSnapshot(ctx, "kept", "main", []byte("{}"))
	require.NoError(t, err)

	require.NoError(t, store.DeleteRepo(ctx, "doomed"))

	_, err = store.LoadSnapshot(ctx, "doomed", "main")
	assert.ErrorIs(t, err, ErrNotFound, "expected snapshot gone")
	comments, err := store.ListComments(ctx, "doomed")
	require.NoError(t, err)
	assert.Empty(t, comments)
	_, err = store.LoadSnapshot(ctx, "kept", "main")
	assert.NoError(t, err, "expected other repo to survive")
}

func TestBadgerStore_Embeddings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveEmbedding(ctx, "repo1", "main", "a.ts:f", []float32{1, 2, 3}))
	var vec []float32
	require.NoError(t, store.getJSON(scopeKey(keyPrefixVec, "repo1", "main", "a.ts:f"), &vec))
	assert.Len(t, vec, 3)

	require.NoError(t, store.DeleteFileEmbeddings(ctx, "repo1", "main", []string{"a.ts:f"}))
	err := store.getJSON(scopeKey(keyPrefixVec, "repo1", "main", "a.ts:f"), &vec)
	assert.ErrorIs(t, err, ErrNotFound, "expected embedding deleted")
}
