// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache owns the per-(repo, branch) lifecycle of loaded symbol
// graphs and their retriever and indexer: load-on-first-use from a
// durable snapshot (full index as fallback), serialised writes, eviction
// on repo deregistration.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/ivoyant-eng/AgnusAi/services/review/ast"
	"github.com/ivoyant-eng/AgnusAi/services/review/embed"
	"github.com/ivoyant-eng/AgnusAi/services/review/graph"
	"github.com/ivoyant-eng/AgnusAi/services/review/indexer"
	"github.com/ivoyant-eng/AgnusAi/services/review/retrieve"
	"github.com/ivoyant-eng/AgnusAi/services/review/storage"
)

// Entry is the loaded state for one (repo, branch).
//
// Thread Safety: Indexing runs under the entry's write lock so a review
// observes the graph either before or after a batch, never mid-batch.
// Reviews take the read lock and may run concurrently.
type Entry struct {
	RepoID string
	Branch string

	mu        sync.RWMutex
	graph     *graph.SymbolGraph
	indexer   *indexer.Indexer
	retriever *retrieve.Retriever
}

// RunIndex executes fn with exclusive access to the entry's indexer.
func (e *Entry) RunIndex(fn func(*indexer.Indexer) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(e.indexer)
}

// RunReview executes fn with shared access to the entry's retriever.
func (e *Entry) RunReview(fn func(*retrieve.Retriever) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fn(e.retriever)
}

// Graph returns the entry's graph. The graph handles its own locking for
// individual reads.
func (e *Entry) Graph() *graph.SymbolGraph { return e.graph }

// Cache maps (repoID, branch) pairs to loaded entries.
//
// Thread Safety: Safe for concurrent use. Concurrent first accesses for
// the same pair share one load via singleflight.
type Cache struct {
	registry *ast.Registry
	store    storage.Store
	logger   *slog.Logger

	embedder embed.Embedder
	vectors  *embed.VectorIndex

	mu      sync.RWMutex
	entries map[string]*Entry
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithEmbedding enables embedding for loaded entries.
func WithEmbedding(e embed.Embedder, v *embed.VectorIndex) Option {
	return func(c *Cache) {
		c.embedder = e
		c.vectors = v
	}
}

// NewCache creates an empty cache.
func NewCache(registry *ast.Registry, store storage.Store, logger *slog.Logger, opts ...Option) (*Cache, error) {
	if registry == nil || store == nil {
		return nil, fmt.Errorf("registry and store must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	c := &Cache{
		registry: registry,
		store:    store,
		logger:   logger,
		entries:  make(map[string]*Entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func cacheKey(repoID, branch string) string {
	return repoID + "\x00" + branch
}

// Get returns the entry for a (repo, branch), loading it on first
// access: from the stored snapshot when one exists and verifies, by a
// full index of repoRoot otherwise.
func (c *Cache) Get(ctx context.Context, repoID, branch, repoRoot string) (*Entry, error) {
	key := cacheKey(repoID, branch)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return entry, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		entry, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return entry, nil
		}
		entry, err := c.load(ctx, repoID, branch, repoRoot)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = entry
		c.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

// load builds an entry from the snapshot or, failing that, a full index.
func (c *Cache) load(ctx context.Context, repoID, branch, repoRoot string) (*Entry, error) {
	g, loaded := c.loadSnapshot(ctx, repoID, branch)
	if g == nil {
		g = graph.New()
	}

	var ixOpts []indexer.Option
	if c.embedder != nil && c.vectors != nil {
		ixOpts = append(ixOpts, indexer.WithEmbedding(c.embedder, c.vectors))
	}
	ix, err := indexer.New(repoID, branch, c.registry, g, c.store, c.logger, ixOpts...)
	if err != nil {
		return nil, err
	}

	var rOpts []retrieve.Option
	if c.embedder != nil && c.vectors != nil {
		rOpts = append(rOpts, retrieve.WithEmbedding(c.embedder, c.vectors))
	}
	r, err := retrieve.New(repoID, branch, g, c.store, c.logger, rOpts...)
	if err != nil {
		return nil, err
	}

	if !loaded && repoRoot != "" {
		if err := ix.FullIndex(ctx, repoRoot); err != nil {
			return nil, fmt.Errorf("failed to index %s@%s: %w", repoID, branch, err)
		}
	}

	return &Entry{
		RepoID:    repoID,
		Branch:    branch,
		graph:     g,
		indexer:   ix,
		retriever: r,
	}, nil
}

// loadSnapshot restores the graph from storage. A missing snapshot is
// normal; a corrupt one is logged and discarded.
func (c *Cache) loadSnapshot(ctx context.Context, repoID, branch string) (*graph.SymbolGraph, bool) {
	blob, err := c.store.LoadSnapshot(ctx, repoID, branch)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("failed to load graph snapshot, reindexing",
				slog.String("repo_id", repoID),
				slog.String("branch", branch),
				slog.String("error", err.Error()))
		}
		return nil, false
	}
	g, err := graph.Deserialize(blob)
	if err != nil {
		c.logger.Warn("corrupt graph snapshot, reindexing",
			slog.String("repo_id", repoID),
			slog.String("branch", branch),
			slog.String("error", err.Error()))
		return nil, false
	}
	c.logger.Info("graph loaded from snapshot",
		slog.String("repo_id", repoID),
		slog.String("branch", branch),
		slog.Int("symbols", g.SymbolCount()))
	return g, true
}

// Evict removes every loaded branch of a repo and deletes its stored
// state. Called on repo deregistration.
func (c *Cache) Evict(ctx context.Context, repoID string) error {
	prefix := repoID + "\x00"

	c.mu.Lock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()

	if err := c.store.DeleteRepo(ctx, repoID); err != nil {
		return fmt.Errorf("failed to delete stored state for %s: %w", repoID, err)
	}
	if c.vectors != nil {
		if err := c.vectors.DeleteRepo(ctx, repoID); err != nil {
			c.logger.Warn("failed to delete repo vectors",
				slog.String("repo_id", repoID),
				slog.String("error", err.Error()))
		}
	}
	c.logger.Info("repo evicted", slog.String("repo_id", repoID))
	return nil
}

// Loaded reports whether a (repo, branch) entry is currently resident.
func (c *Cache) Loaded(repoID, branch string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[cacheKey(repoID, branch)]
	return ok
}
