// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package graph

import (
	"sort"

	"github.com/ivoyant-eng/AgnusAi/services/review/ast"
)

// BlastRadius summarises the impact of changing a set of symbols.
type BlastRadius struct {
	// DirectCallers are reachable in exactly one inbound hop of any seed.
	DirectCallers []*ast.Symbol `json:"direct_callers"`

	// TransitiveCallers are reachable within two inbound hops but not one.
	TransitiveCallers []*ast.Symbol `json:"transitive_callers"`

	// AffectedFiles is the sorted deduplicated union of caller file paths.
	AffectedFiles []string `json:"affected_files"`

	// RiskScore is 0-100; see GetBlastRadius for the formula.
	RiskScore int `json:"risk_score"`
}

// GetBlastRadius computes the blast radius of the seed symbol ids.
//
// Direct callers are the union of 1-hop inbound neighbours across all
// seeds; transitive callers are 2-hop-reachable symbols not already direct.
// Seeds never count as their own callers. The risk score is
// min(100, 10*|direct| + 5*|affectedFiles|), multiplied by 1.5 when more
// than five files are affected, capped at 100.
func (g *SymbolGraph) GetBlastRadius(ids []string) *BlastRadius {
	seeds := make(map[string]bool, len(ids))
	for _, id := range ids {
		seeds[id] = true
	}

	direct := make(map[string]*ast.Symbol)
	var directOrder []string
	transitive := make(map[string]*ast.Symbol)
	var transitiveOrder []string

	for _, id := range ids {
		for _, s := range g.GetCallers(id, 1) {
			if seeds[s.ID] || direct[s.ID] != nil {
				continue
			}
			direct[s.ID] = s
			directOrder = append(directOrder, s.ID)
		}
	}
	for _, id := range ids {
		for _, s := range g.GetCallers(id, 2) {
			if seeds[s.ID] || direct[s.ID] != nil || transitive[s.ID] != nil {
				continue
			}
			transitive[s.ID] = s
			transitiveOrder = append(transitiveOrder, s.ID)
		}
	}

	files := make(map[string]bool)
	br := &BlastRadius{}
	for _, id := range directOrder {
		br.DirectCallers = append(br.DirectCallers, direct[id])
		files[direct[id].FilePath] = true
	}
	for _, id := range transitiveOrder {
		br.TransitiveCallers = append(br.TransitiveCallers, transitive[id])
		files[transitive[id].FilePath] = true
	}
	for f := range files {
		br.AffectedFiles = append(br.AffectedFiles, f)
	}
	sort.Strings(br.AffectedFiles)

	score := 10*len(br.DirectCallers) + 5*len(br.AffectedFiles)
	if score > 100 {
		score = 100
	}
	if len(br.AffectedFiles) > 5 {
		score = score * 3 / 2
	}
	if score > 100 {
		score = 100
	}
	br.RiskScore = score
	return br
}
