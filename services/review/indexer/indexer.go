// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package indexer drives the parse → graph → storage → embedding pipeline
// for one (repo, branch), both as a full walk and as incremental per-file
// updates, reporting progress through a non-blocking event sink.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ivoyant-eng/AgnusAi/services/review/ast"
	"github.com/ivoyant-eng/AgnusAi/services/review/embed"
	"github.com/ivoyant-eng/AgnusAi/services/review/graph"
	"github.com/ivoyant-eng/AgnusAi/services/review/storage"
)

// ProgressStep identifies a progress event type.
type ProgressStep string

// Progress steps.
const (
	StepParsing   ProgressStep = "parsing"
	StepEmbedding ProgressStep = "embedding"
	StepDone      ProgressStep = "done"
	StepError     ProgressStep = "error"
)

// Progress is one indexing progress event.
type Progress struct {
	Step        ProgressStep `json:"step"`
	File        string       `json:"file,omitempty"`
	Progress    int          `json:"progress,omitempty"`
	Total       int          `json:"total,omitempty"`
	SymbolCount int          `json:"symbol_count,omitempty"`
	EdgeCount   int          `json:"edge_count,omitempty"`
	DurationMs  int64        `json:"duration_ms,omitempty"`
	Message     string       `json:"message,omitempty"`
}

// Indexer builds and maintains the symbol graph for one (repo, branch).
//
// Thread Safety: A single Indexer must not run FullIndex and
// IncrementalUpdate concurrently with itself; the graph cache serialises
// operations per (repo, branch).
type Indexer struct {
	repoID   string
	branch   string
	registry *ast.Registry
	graph    *graph.SymbolGraph
	store    storage.Store
	embedder embed.Embedder
	vectors  *embed.VectorIndex
	logger   *slog.Logger

	parallelism int
	events      chan<- Progress
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithEmbedding enables symbol embedding through the given adapter pair.
func WithEmbedding(e embed.Embedder, v *embed.VectorIndex) Option {
	return func(ix *Indexer) {
		ix.embedder = e
		ix.vectors = v
	}
}

// WithEvents sets the progress event sink. Events are dropped, never
// blocked on, when the receiver lags.
func WithEvents(ch chan<- Progress) Option {
	return func(ix *Indexer) { ix.events = ch }
}

// WithParallelism bounds concurrent file parsing.
func WithParallelism(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.parallelism = n
		}
	}
}

// New creates an indexer over an existing graph.
func New(repoID, branch string, registry *ast.Registry, g *graph.SymbolGraph, store storage.Store, logger *slog.Logger, opts ...Option) (*Indexer, error) {
	if registry == nil || g == nil || store == nil {
		return nil, fmt.Errorf("registry, graph and store must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	ix := &Indexer{
		repoID:      repoID,
		branch:      branch,
		registry:    registry,
		graph:       g,
		store:       store,
		logger:      logger,
		parallelism: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// Graph returns the indexer's graph.
func (ix *Indexer) Graph() *graph.SymbolGraph { return ix.graph }

// emit sends a progress event without ever blocking the pipeline.
func (ix *Indexer) emit(p Progress) {
	if ix.events == nil {
		return
	}
	select {
	case ix.events <- p:
	default:
	}
}

// FullIndex walks the directory root, parses every supported file and
// rebuilds graph, storage, embeddings and the snapshot.
func (ix *Indexer) FullIndex(ctx context.Context, root string) error {
	start := time.Now()

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if ast.IgnorePath(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}
		if ix.registry.Supported(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enumerate %s: %w", root, err)
	}

	results, err := ix.parseFiles(ctx, root, files)
	if err != nil {
		return err
	}

	var allSymbols []*ast.Symbol
	for _, r := range results {
		for _, s := range r.Symbols {
			s.RepoID = ix.repoID
			s.Branch = ix.branch
			ix.graph.AddSymbol(s)
			allSymbols = append(allSymbols, s)
		}
		for _, e := range r.Edges {
			ix.graph.AddEdge(e)
		}
	}
	ix.graph.ResolveNames()

	if err := ix.persist(ctx, allSymbols); err != nil {
		return err
	}
	if err := ix.embedSymbols(ctx, allSymbols); err != nil {
		return err
	}
	if err := ix.writeSnapshot(ctx); err != nil {
		return err
	}

	ix.emit(Progress{
		Step:        StepDone,
		SymbolCount: ix.graph.SymbolCount(),
		EdgeCount:   ix.graph.EdgeCount(),
		DurationMs:  time.Since(start).Milliseconds(),
	})
	ix.logger.Info("full index complete",
		slog.String("repo_id", ix.repoID),
		slog.String("branch", ix.branch),
		slog.Int("files", len(files)),
		slog.Int("symbols", ix.graph.SymbolCount()),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// parseFiles parses the files concurrently. Per-file parse failures are
// logged and skipped; they never fail the index.
func (ix *Indexer) parseFiles(ctx context.Context, root string, files []string) ([]*ast.ParseResult, error) {
	results := make([]*ast.ParseResult, len(files))
	var parsed int
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.parallelism)
	for i, rel := range files {
		g.Go(func() error {
			content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
			if err != nil {
				ix.logger.Warn("failed to read file, skipping",
					slog.String("file", rel),
					slog.String("error", err.Error()))
				return nil
			}
			result, err := ix.registry.Parse(ctx, content, rel)
			if err != nil {
				ix.logger.Warn("failed to parse file, skipping",
					slog.String("file", rel),
					slog.String("error", err.Error()))
				return nil
			}
			mu.Lock()
			results[i] = result
			parsed++
			progress := parsed
			mu.Unlock()
			ix.emit(Progress{Step: StepParsing, File: rel, Progress: progress, Total: len(files)})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := results[:0]
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, nil
}

// persist stores symbols and the graph's resolved edges. Storage errors
// abort the operation.
func (ix *Indexer) persist(ctx context.Context, symbols []*ast.Symbol) error {
	if err := ix.store.SaveSymbols(ctx, ix.repoID, ix.branch, symbols); err != nil {
		return fmt.Errorf("failed to persist symbols: %w", err)
	}
	edges := ix.collectEdges(symbols)
	if err := ix.store.SaveEdges(ctx, ix.repoID, ix.branch, edges); err != nil {
		return fmt.Errorf("failed to persist edges: %w", err)
	}
	return nil
}

// collectEdges gathers the resolved outbound edges of the given symbols.
func (ix *Indexer) collectEdges(symbols []*ast.Symbol) []ast.Edge {
	var out []ast.Edge
	for _, s := range symbols {
		out = append(out, ix.graph.OutEdges(s.ID)...)
	}
	return out
}

// embedSymbols embeds the symbols in fixed-size batches. Batch failures
// are logged and skipped; reviews degrade gracefully for unembedded
// symbols.
func (ix *Indexer) embedSymbols(ctx context.Context, symbols []*ast.Symbol) error {
	if ix.embedder == nil || ix.vectors == nil || len(symbols) == 0 {
		return nil
	}

	total := (len(symbols) + embed.BatchSize - 1) / embed.BatchSize
	for batch := 0; batch*embed.BatchSize < len(symbols); batch++ {
		lo := batch * embed.BatchSize
		hi := lo + embed.BatchSize
		if hi > len(symbols) {
			hi = len(symbols)
		}
		chunk := symbols[lo:hi]

		texts := make([]string, len(chunk))
		for i, s := range chunk {
			texts[i] = embeddingText(s)
		}
		vecs, err := ix.embedder.Embed(ctx, texts)
		if err != nil {
			ix.logger.Warn("embedding batch failed, skipping",
				slog.Int("batch", batch),
				slog.String("error", err.Error()))
			continue
		}
		for i, s := range chunk {
			if i >= len(vecs) {
				break
			}
			if err := ix.vectors.Upsert(ctx, s.ID, ix.repoID, ix.branch, vecs[i]); err != nil {
				ix.logger.Warn("vector upsert failed, skipping",
					slog.String("symbol_id", s.ID),
					slog.String("error", err.Error()))
				continue
			}
			if err := ix.store.SaveEmbedding(ctx, ix.repoID, ix.branch, s.ID, vecs[i]); err != nil {
				return fmt.Errorf("failed to persist embedding: %w", err)
			}
		}
		ix.emit(Progress{Step: StepEmbedding, SymbolCount: hi - lo, Progress: batch + 1, Total: total})
	}
	return nil
}

// embeddingText is the text embedded per symbol: its signature plus the
// doc comment when present.
func embeddingText(s *ast.Symbol) string {
	if s.DocComment == "" {
		return s.Signature
	}
	return s.Signature + "\n" + s.DocComment
}

// writeSnapshot serialises the graph into storage.
func (ix *Indexer) writeSnapshot(ctx context.Context) error {
	blob, err := ix.graph.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialise graph: %w", err)
	}
	if _, err := ix.store.SaveSnapshot(ctx, ix.repoID, ix.branch, blob); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// IncrementalUpdate re-indexes the changed files: each file is removed
// from graph and storage, re-parsed when it still exists, names are
// resolved once for the batch, affected symbols are re-embedded and the
// snapshot is rewritten.
func (ix *Indexer) IncrementalUpdate(ctx context.Context, root string, changedFiles []string) error {
	start := time.Now()
	var reparsed []*ast.Symbol

	for i, rel := range changedFiles {
		rel = filepath.ToSlash(strings.TrimPrefix(rel, "/"))

		// Drop prior state for the file.
		removedIDs := make([]string, 0)
		for _, s := range ix.graph.SymbolsInFile(rel) {
			removedIDs = append(removedIDs, s.ID)
		}
		ix.graph.RemoveFile(rel)
		if err := ix.store.DeleteFileSymbols(ctx, ix.repoID, ix.branch, rel); err != nil {
			return fmt.Errorf("failed to delete stored symbols for %s: %w", rel, err)
		}
		if len(removedIDs) > 0 {
			if err := ix.store.DeleteFileEmbeddings(ctx, ix.repoID, ix.branch, removedIDs); err != nil {
				return fmt.Errorf("failed to delete stored embeddings for %s: %w", rel, err)
			}
			if ix.vectors != nil {
				if err := ix.vectors.Delete(ctx, ix.repoID, removedIDs); err != nil {
					ix.logger.Warn("vector delete failed",
						slog.String("file", rel),
						slog.String("error", err.Error()))
				}
			}
		}

		if !ix.registry.Supported(rel) {
			continue
		}
		content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			// Deleted files stay removed.
			if !errors.Is(err, fs.ErrNotExist) {
				ix.logger.Warn("failed to read changed file, treating as removed",
					slog.String("file", rel),
					slog.String("error", err.Error()))
			}
			continue
		}
		result, err := ix.registry.Parse(ctx, content, rel)
		if err != nil {
			ix.logger.Warn("failed to parse changed file, skipping",
				slog.String("file", rel),
				slog.String("error", err.Error()))
			continue
		}
		for _, s := range result.Symbols {
			s.RepoID = ix.repoID
			s.Branch = ix.branch
			ix.graph.AddSymbol(s)
			reparsed = append(reparsed, s)
		}
		for _, e := range result.Edges {
			ix.graph.AddEdge(e)
		}
		ix.emit(Progress{Step: StepParsing, File: rel, Progress: i + 1, Total: len(changedFiles)})
	}

	ix.graph.ResolveNames()

	if err := ix.persist(ctx, reparsed); err != nil {
		return err
	}
	if err := ix.embedSymbols(ctx, reparsed); err != nil {
		return err
	}
	if err := ix.writeSnapshot(ctx); err != nil {
		return err
	}

	ix.emit(Progress{
		Step:        StepDone,
		SymbolCount: ix.graph.SymbolCount(),
		EdgeCount:   ix.graph.EdgeCount(),
		DurationMs:  time.Since(start).Milliseconds(),
	})
	return nil
}
