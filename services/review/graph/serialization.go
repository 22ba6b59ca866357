// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ivoyant-eng/AgnusAi/services/review/ast"
)

// serializedGraph is the on-disk shape of a graph snapshot.
type serializedGraph struct {
	Symbols  []*ast.Symbol `json:"symbols"`
	Edges    []ast.Edge    `json:"edges"`
	NameRefs []ast.Edge    `json:"name_refs,omitempty"`
}

// Serialize renders the graph as deterministic JSON of {symbols, edges,
// name_refs}.
//
// Symbols are ordered by id, edges by (from, to, kind) and name records by
// (from, to_name, kind), so serialising the same logical graph always
// yields byte-identical output. Bare-name records are persisted alongside
// resolved edges so a restored graph can still rebuild cross-file edges
// during incremental updates.
func (g *SymbolGraph) Serialize() ([]byte, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := serializedGraph{
		Symbols: make([]*ast.Symbol, 0, len(g.symbols)),
		Edges:   make([]ast.Edge, 0, len(g.edgeSet)),
	}
	for _, s := range g.symbols {
		out.Symbols = append(out.Symbols, s)
	}
	sort.Slice(out.Symbols, func(i, j int) bool { return out.Symbols[i].ID < out.Symbols[j].ID })

	for key := range g.edgeSet {
		out.Edges = append(out.Edges, ast.Edge{From: key.from, To: key.to, Kind: key.kind})
	}
	sort.Slice(out.Edges, func(i, j int) bool {
		a, b := out.Edges[i], out.Edges[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.To != b.To {
			return a.To < b.To
		}
		return a.Kind < b.Kind
	})

	for key := range g.refSet {
		out.NameRefs = append(out.NameRefs, ast.Edge{From: key.from, ToName: key.toName, Kind: key.kind})
	}
	sort.Slice(out.NameRefs, func(i, j int) bool {
		a, b := out.NameRefs[i], out.NameRefs[j]
		if a.From != b.From {
			return a.From < b.From
		}
		if a.ToName != b.ToName {
			return a.ToName < b.ToName
		}
		return a.Kind < b.Kind
	})

	return json.Marshal(out)
}

// Deserialize rebuilds a graph, including all indices, from Serialize
// output.
func Deserialize(data []byte) (*SymbolGraph, error) {
	var in serializedGraph
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("failed to decode graph snapshot: %w", err)
	}

	g := New()
	for _, s := range in.Symbols {
		g.AddSymbol(s)
	}
	for _, e := range in.Edges {
		g.AddEdge(e)
	}
	for _, e := range in.NameRefs {
		g.AddEdge(e)
	}
	return g, nil
}
