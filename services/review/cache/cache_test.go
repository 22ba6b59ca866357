// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivoyant-eng/AgnusAi/services/review/ast"
	"github.com/ivoyant-eng/AgnusAi/services/review/indexer"
	"github.com/ivoyant-eng/AgnusAi/services/review/storage"
)

func newTestCache(t *testing.T) (*Cache, storage.Store) {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := storage.NewBadgerStore(db, logger)
	require.NoError(t, err)
	c, err := NewCache(ast.NewRegistry(), store, logger)
	require.NoError(t, err)
	return c, store
}

func seedRepo(t *testing.T, root string) {
	t.Helper()
	content := "export function greet(name: string) {\n    return 'hi ' + name;\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "greet.ts"), []byte(content), 0o644))
}

func TestCache_GetIndexesOnFirstUse(t *testing.T) {
	c, _ := newTestCache(t)
	root := t.TempDir()
	seedRepo(t, root)

	entry, err := c.Get(context.Background(), "repo1", "main", root)
	require.NoError(t, err)
	assert.NotNil(t, entry.Graph().GetSymbol("greet.ts:greet"), "expected full index on first access")
	assert.True(t, c.Loaded("repo1", "main"), "entry must be resident after Get")

	t.Run("second access reuses the entry", func(t *testing.T) {
		again, err := c.Get(context.Background(), "repo1", "main", root)
		require.NoError(t, err)
		assert.Same(t, entry, again)
	})

	t.Run("branches are distinct entries", func(t *testing.T) {
		other, err := c.Get(context.Background(), "repo1", "dev", root)
		require.NoError(t, err)
		assert.NotSame(t, entry, other, "expected a separate entry per branch")
	})
}

func TestCache_GetLoadsSnapshot(t *testing.T) {
	c, store := newTestCache(t)
	root := t.TempDir()
	seedRepo(t, root)
	ctx := context.Background()

	// Index once to persist a snapshot, then drop the cache.
	_, err := c.Get(ctx, "repo1", "main", root)
	require.NoError(t, err)
	fresh, err := NewCache(ast.NewRegistry(), store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	// No repo root: the only way to symbols is the snapshot.
	entry, err := fresh.Get(ctx, "repo1", "main", "")
	require.NoError(t, err)
	assert.NotNil(t, entry.Graph().GetSymbol("greet.ts:greet"), "expected graph restored from snapshot")
}

func TestCache_ConcurrentGetSharesLoad(t *testing.T) {
	c, _ := newTestCache(t)
	root := t.TempDir()
	seedRepo(t, root)

	const n = 8
	entries := make([]*Entry, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := c.Get(context.Background(), "repo1", "main", root)
			if err != nil {
				t.Errorf("Get failed: %v", err)
				return
			}
			entries[i] = e
		}()
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		require.Same(t, entries[0], entries[i], "concurrent Gets must share one entry")
	}
}

func TestCache_Evict(t *testing.T) {
	c, store := newTestCache(t)
	root := t.TempDir()
	seedRepo(t, root)
	ctx := context.Background()

	_, err := c.Get(ctx, "repo1", "main", root)
	require.NoError(t, err)
	require.NoError(t, c.Evict(ctx, "repo1"))
	assert.False(t, c.Loaded("repo1", "main"), "entry must be gone after eviction")
	_, err = store.LoadSnapshot(ctx, "repo1", "main")
	assert.Error(t, err, "stored snapshot must be deleted on eviction")
}

func TestEntry_RunIndexAndReview(t *testing.T) {
	c, _ := newTestCache(t)
	root := t.TempDir()
	seedRepo(t, root)
	ctx := context.Background()

	entry, err := c.Get(ctx, "repo1", "main", root)
	require.NoError(t, err)

	err = entry.RunIndex(func(ix *indexer.Indexer) error {
		content := "export function farewell(name: string) {\n    return 'bye ' + name;\n}\n"
		if err := os.WriteFile(filepath.Join(root, "farewell.ts"), []byte(content), 0o644); err != nil {
			return err
		}
		return ix.IncrementalUpdate(ctx, root, []string{"farewell.ts"})
	})
	require.NoError(t, err)
	assert.NotNil(t, entry.Graph().GetSymbol("farewell.ts:farewell"),
		"incremental update must be visible through the entry")
}
