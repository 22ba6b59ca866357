// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package graph maintains the in-memory symbol graph for one (repo, branch):
// an adjacency structure over extracted symbols supporting bounded BFS,
// blast-radius queries, per-file invalidation and snapshot serialisation.
package graph

import (
	"sort"
	"sync"

	"github.com/ivoyant-eng/AgnusAi/services/review/ast"
)

// SymbolGraph is the adjacency structure over symbols and edges.
//
// Description: Symbols are keyed by their stable id. Edges live in two
// mirrored indices (outEdges by source, inEdges by target) that are kept
// consistent by construction. Call and import edges arrive from parsers with
// bare target names; ResolveNames expands them against the name index, and
// the bare-name records are retained so later resolutions can rebuild edges
// that file removal pruned.
//
// Thread Safety: All methods are safe for concurrent use. Reads take the
// read lock; mutations take the write lock.
type SymbolGraph struct {
	mu sync.RWMutex

	symbols map[string]*ast.Symbol

	// outEdges[from] and inEdges[to] always hold the same edge set.
	outEdges map[string][]ast.Edge
	inEdges  map[string][]ast.Edge

	// nameToIDs maps a bare symbol name to the sorted ids declaring it.
	nameToIDs map[string][]string

	// fileToSymbols maps a file path to the ids declared in it.
	fileToSymbols map[string][]string

	// nameRefs holds bare-name edge records keyed by source symbol id.
	// Records survive resolution so that edges into a file can be rebuilt
	// after the file is removed and re-indexed.
	nameRefs map[string][]ast.Edge

	// edgeSet deduplicates resolved edges: key is from|to|kind.
	edgeSet map[edgeKey]bool

	// refSet deduplicates bare-name records: key is from|toName|kind.
	refSet map[refKey]bool
}

type edgeKey struct {
	from, to string
	kind     ast.EdgeKind
}

type refKey struct {
	from, toName string
	kind         ast.EdgeKind
}

// New creates an empty symbol graph.
func New() *SymbolGraph {
	return &SymbolGraph{
		symbols:       make(map[string]*ast.Symbol),
		outEdges:      make(map[string][]ast.Edge),
		inEdges:       make(map[string][]ast.Edge),
		nameToIDs:     make(map[string][]string),
		fileToSymbols: make(map[string][]string),
		nameRefs:      make(map[string][]ast.Edge),
		edgeSet:       make(map[edgeKey]bool),
		refSet:        make(map[refKey]bool),
	}
}

// AddSymbol upserts a symbol by id and updates the name and file indices.
func (g *SymbolGraph) AddSymbol(s *ast.Symbol) {
	if s == nil || s.ID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.symbols[s.ID]; ok {
		// Re-upsert of an existing id: refresh the record, indices are
		// already correct because id encodes path and qualified name.
		if old.Name != s.Name {
			g.removeFromIndex(g.nameToIDs, old.Name, s.ID)
			g.insertSorted(g.nameToIDs, s.Name, s.ID)
		}
		g.symbols[s.ID] = s
		return
	}

	g.symbols[s.ID] = s
	g.insertSorted(g.nameToIDs, s.Name, s.ID)
	g.fileToSymbols[s.FilePath] = append(g.fileToSymbols[s.FilePath], s.ID)
}

// AddEdge records an edge. Resolved edges (To set) are inserted into both
// adjacency indices, idempotent on exact duplicates. Unresolved edges
// (ToName set) are queued for ResolveNames.
func (g *SymbolGraph) AddEdge(e ast.Edge) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addEdgeLocked(e)
}

func (g *SymbolGraph) addEdgeLocked(e ast.Edge) {
	if e.From == "" {
		return
	}
	if !e.Resolved() {
		if e.ToName == "" {
			return
		}
		rk := refKey{from: e.From, toName: e.ToName, kind: e.Kind}
		if g.refSet[rk] {
			return
		}
		g.refSet[rk] = true
		g.nameRefs[e.From] = append(g.nameRefs[e.From], ast.Edge{From: e.From, ToName: e.ToName, Kind: e.Kind})
		return
	}
	key := edgeKey{from: e.From, to: e.To, kind: e.Kind}
	if g.edgeSet[key] {
		return
	}
	g.edgeSet[key] = true
	stored := ast.Edge{From: e.From, To: e.To, Kind: e.Kind}
	g.outEdges[e.From] = append(g.outEdges[e.From], stored)
	g.inEdges[e.To] = append(g.inEdges[e.To], stored)
}

// ResolveNames expands every bare-name edge record into zero or more
// resolved edges, one per symbol currently declaring that name. Self-edges
// and names that resolve to nothing produce no edge. Records are retained,
// not consumed: re-running resolution after a file's symbols were removed
// and re-added rebuilds the cross-file edges from surviving sources.
// Called at the end of a full index and after each incremental batch.
func (g *SymbolGraph) ResolveNames() {
	g.mu.Lock()
	defer g.mu.Unlock()

	froms := make([]string, 0, len(g.nameRefs))
	for from := range g.nameRefs {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	for _, from := range froms {
		for _, e := range g.nameRefs[from] {
			for _, id := range g.nameToIDs[e.ToName] {
				if id == e.From {
					continue
				}
				g.addEdgeLocked(ast.Edge{From: e.From, To: id, Kind: e.Kind})
			}
		}
	}
}

// RemoveFile deletes every symbol declared in the file, all of their edges
// in both directions, and their name and file index entries.
func (g *SymbolGraph) RemoveFile(filePath string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := g.fileToSymbols[filePath]
	if len(ids) == 0 {
		return
	}
	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		removed[id] = true
	}

	for _, id := range ids {
		if s, ok := g.symbols[id]; ok {
			g.removeFromIndex(g.nameToIDs, s.Name, id)
			delete(g.symbols, id)
		}
		delete(g.outEdges, id)
		delete(g.inEdges, id)
	}
	delete(g.fileToSymbols, filePath)

	// Prune surviving adjacency lists and the dedup set.
	for from, edges := range g.outEdges {
		g.outEdges[from] = pruneEdges(edges, removed)
	}
	for to, edges := range g.inEdges {
		g.inEdges[to] = pruneEdges(edges, removed)
	}
	for key := range g.edgeSet {
		if removed[key.from] || removed[key.to] {
			delete(g.edgeSet, key)
		}
	}

	// Name records from removed symbols can never resolve again; records
	// from surviving symbols stay so resolution can reconnect them when
	// the file's symbols come back.
	for _, id := range ids {
		delete(g.nameRefs, id)
	}
	for key := range g.refSet {
		if removed[key.from] {
			delete(g.refSet, key)
		}
	}
}

func pruneEdges(edges []ast.Edge, removed map[string]bool) []ast.Edge {
	kept := edges[:0]
	for _, e := range edges {
		if !removed[e.From] && !removed[e.To] {
			kept = append(kept, e)
		}
	}
	return kept
}

// GetSymbol returns the symbol for an id, or nil.
func (g *SymbolGraph) GetSymbol(id string) *ast.Symbol {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.symbols[id]
}

// SymbolsInFile returns the symbols declared in a file, in insertion order.
func (g *SymbolGraph) SymbolsInFile(filePath string) []*ast.Symbol {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := g.fileToSymbols[filePath]
	out := make([]*ast.Symbol, 0, len(ids))
	for _, id := range ids {
		if s, ok := g.symbols[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// OutEdges returns a copy of the resolved edges leaving a symbol.
func (g *SymbolGraph) OutEdges(id string) []ast.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	edges := g.outEdges[id]
	out := make([]ast.Edge, len(edges))
	copy(out, edges)
	return out
}

// FilePaths returns the sorted paths of every file with symbols in the
// graph.
func (g *SymbolGraph) FilePaths() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.fileToSymbols))
	for path := range g.fileToSymbols {
		out = append(out, path)
	}
	sort.Strings(out)
	return out
}

// SymbolCount returns the number of symbols in the graph.
func (g *SymbolGraph) SymbolCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.symbols)
}

// EdgeCount returns the number of resolved edges in the graph.
func (g *SymbolGraph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edgeSet)
}

// GetCallers returns symbols reachable within hops inbound hops of id,
// excluding the seed, in breadth-first discovery order. Ids discovered at
// the same depth are ordered lexicographically for determinism.
func (g *SymbolGraph) GetCallers(id string, hops int) []*ast.Symbol {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.bfs(id, hops, g.inEdges, func(e ast.Edge) string { return e.From })
}

// GetCallees returns symbols reachable within hops outbound hops of id,
// excluding the seed, in breadth-first discovery order.
func (g *SymbolGraph) GetCallees(id string, hops int) []*ast.Symbol {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.bfs(id, hops, g.outEdges, func(e ast.Edge) string { return e.To })
}

// bfs walks up to hops levels from seed over the given adjacency index.
// Absent seeds and hops <= 0 return empty; cycles are cut by the visited
// set. Caller must hold at least the read lock.
func (g *SymbolGraph) bfs(seed string, hops int, adjacency map[string][]ast.Edge, neighbor func(ast.Edge) string) []*ast.Symbol {
	if hops <= 0 {
		return nil
	}
	if _, ok := g.symbols[seed]; !ok {
		return nil
	}

	visited := map[string]bool{seed: true}
	frontier := []string{seed}
	var out []*ast.Symbol

	for depth := 0; depth < hops && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, e := range adjacency[id] {
				n := neighbor(e)
				if !visited[n] {
					visited[n] = true
					next = append(next, n)
				}
			}
		}
		sort.Strings(next)
		for _, id := range next {
			if s, ok := g.symbols[id]; ok {
				out = append(out, s)
			}
		}
		frontier = next
	}
	return out
}

// insertSorted adds id to index[key] keeping the slice sorted and unique.
func (g *SymbolGraph) insertSorted(index map[string][]string, key, id string) {
	ids := index[key]
	i := sort.SearchStrings(ids, id)
	if i < len(ids) && ids[i] == id {
		return
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	index[key] = ids
}

// removeFromIndex drops id from index[key], deleting empty buckets.
func (g *SymbolGraph) removeFromIndex(index map[string][]string, key, id string) {
	ids := index[key]
	for i, v := range ids {
		if v == id {
			index[key] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(index[key]) == 0 {
		delete(index, key)
	}
}
