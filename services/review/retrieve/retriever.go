// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package retrieve assembles the review context for a diff: changed symbols,
// bounded caller/callee neighbourhoods, blast radius, semantically similar
// symbols re-ranked by graph distance, and feedback-rated prior comments.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/ivoyant-eng/AgnusAi/services/review/ast"
	"github.com/ivoyant-eng/AgnusAi/services/review/embed"
	"github.com/ivoyant-eng/AgnusAi/services/review/graph"
	"github.com/ivoyant-eng/AgnusAi/services/review/storage"
)

// Depth selects how far the retriever reaches from the changed symbols.
type Depth string

// Review depths.
const (
	DepthFast     Depth = "fast"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

const (
	// semanticTopK is how many vector-search candidates are fetched
	// before graph-distance re-ranking.
	semanticTopK = 10

	// diffEmbedLimit bounds how much of the diff is embedded for the
	// prior-example query.
	diffEmbedLimit = 8000

	acceptedExampleLimit = 5
	rejectedExampleLimit = 3
)

// Context is the retrieval bundle injected into the review prompt.
type Context struct {
	ChangedFiles      []string
	ChangedSymbols    []*ast.Symbol
	DirectCallers     []*ast.Symbol
	TransitiveCallers []*ast.Symbol
	Callees           []*ast.Symbol
	BlastRadius       *graph.BlastRadius
	SemanticNeighbors []*ast.Symbol
	PriorExamples     []string
	RejectedExamples  []string
}

// Empty reports whether the context carries nothing worth rendering.
func (c *Context) Empty() bool {
	return c == nil || len(c.ChangedSymbols) == 0
}

// Retriever builds review contexts against one (repo, branch) graph.
//
// Thread Safety: Safe for concurrent use; the graph handles its own
// locking and the retriever itself is stateless.
type Retriever struct {
	repoID   string
	branch   string
	graph    *graph.SymbolGraph
	store    storage.Store
	embedder embed.Embedder
	vectors  *embed.VectorIndex
	logger   *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithEmbedding enables deep-mode semantic retrieval and prior-example RAG.
func WithEmbedding(e embed.Embedder, v *embed.VectorIndex) Option {
	return func(r *Retriever) {
		r.embedder = e
		r.vectors = v
	}
}

// New creates a retriever over an existing graph.
func New(repoID, branch string, g *graph.SymbolGraph, store storage.Store, logger *slog.Logger, opts ...Option) (*Retriever, error) {
	if g == nil || store == nil {
		return nil, fmt.Errorf("graph and store must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	r := &Retriever{
		repoID: repoID,
		branch: branch,
		graph:  g,
		store:  store,
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// BuildContext assembles the review context for a raw unified diff.
//
// Description: Changed files come from the diff headers only; no file
// contents are read. Graph traversal depth follows the review depth.
// Embedding-backed sections degrade to empty when no adapter is configured
// or an embedding call fails.
func (r *Retriever) BuildContext(ctx context.Context, rawDiff string, depth Depth) (*Context, error) {
	out := &Context{ChangedFiles: ChangedFilePaths(rawDiff)}

	seen := make(map[string]bool)
	for _, path := range out.ChangedFiles {
		for _, s := range r.graph.SymbolsInFile(path) {
			if !seen[s.ID] {
				seen[s.ID] = true
				out.ChangedSymbols = append(out.ChangedSymbols, s)
			}
		}
	}
	if len(out.ChangedSymbols) == 0 {
		return out, nil
	}

	hops := 2
	if depth == DepthFast {
		hops = 1
	}

	changedIDs := make([]string, 0, len(out.ChangedSymbols))
	for _, s := range out.ChangedSymbols {
		changedIDs = append(changedIDs, s.ID)
	}

	direct := make(map[string]bool)
	for _, s := range out.ChangedSymbols {
		for _, c := range r.graph.GetCallers(s.ID, 1) {
			if !seen[c.ID] && !direct[c.ID] {
				direct[c.ID] = true
				out.DirectCallers = append(out.DirectCallers, c)
			}
		}
	}
	if hops > 1 {
		for _, s := range out.ChangedSymbols {
			for _, c := range r.graph.GetCallers(s.ID, hops) {
				if !seen[c.ID] && !direct[c.ID] {
					direct[c.ID] = true
					out.TransitiveCallers = append(out.TransitiveCallers, c)
				}
			}
		}
	}

	callees := make(map[string]bool)
	for _, s := range out.ChangedSymbols {
		for _, c := range r.graph.GetCallees(s.ID, 1) {
			if !seen[c.ID] && !callees[c.ID] {
				callees[c.ID] = true
				out.Callees = append(out.Callees, c)
			}
		}
	}

	out.BlastRadius = r.graph.GetBlastRadius(changedIDs)

	if depth == DepthDeep && r.embedder != nil && r.vectors != nil {
		excluded := make(map[string]bool, len(seen)+len(direct)+len(callees))
		for id := range seen {
			excluded[id] = true
		}
		for id := range direct {
			excluded[id] = true
		}
		for id := range callees {
			excluded[id] = true
		}
		out.SemanticNeighbors = r.semanticNeighbors(ctx, out.ChangedSymbols, excluded)
	}

	if r.embedder != nil {
		out.PriorExamples, out.RejectedExamples = r.ratedExamples(ctx, rawDiff)
	}
	return out, nil
}

// semanticNeighbors embeds the changed symbols, queries the vector index
// with the averaged unit vector and re-ranks candidates by similarity
// scaled with inverse graph distance.
func (r *Retriever) semanticNeighbors(ctx context.Context, changed []*ast.Symbol, excluded map[string]bool) []*ast.Symbol {
	texts := make([]string, len(changed))
	for i, s := range changed {
		texts[i] = s.Signature
		if s.DocComment != "" {
			texts[i] += "\n" + s.DocComment
		}
	}
	vecs, err := r.embedder.Embed(ctx, texts)
	if err != nil {
		r.logger.Warn("failed to embed changed symbols, skipping semantic retrieval",
			slog.String("repo_id", r.repoID),
			slog.String("error", err.Error()))
		return nil
	}
	query := embed.AverageUnit(vecs)
	if len(query) == 0 {
		return nil
	}

	hits, err := r.vectors.Search(ctx, query, r.repoID, semanticTopK)
	if err != nil {
		r.logger.Warn("vector search failed, skipping semantic retrieval",
			slog.String("repo_id", r.repoID),
			slog.String("error", err.Error()))
		return nil
	}

	distance := r.graphDistances(changed)

	type ranked struct {
		id    string
		score float64
	}
	candidates := make([]ranked, 0, len(hits))
	for _, h := range hits {
		if excluded[h.SymbolID] {
			continue
		}
		d, ok := distance[h.SymbolID]
		if !ok {
			// No path within two hops of any changed symbol.
			d = 3
		}
		candidates = append(candidates, ranked{id: h.SymbolID, score: h.Score / float64(d+1)})
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	out := make([]*ast.Symbol, 0, len(candidates))
	for _, c := range candidates {
		if s := r.graph.GetSymbol(c.id); s != nil {
			out = append(out, s)
		}
	}
	return out
}

// graphDistances maps every symbol within two undirected hops of a changed
// symbol to its minimum hop count.
func (r *Retriever) graphDistances(changed []*ast.Symbol) map[string]int {
	distance := make(map[string]int)
	record := func(symbols []*ast.Symbol, d int) {
		for _, s := range symbols {
			if cur, ok := distance[s.ID]; !ok || d < cur {
				distance[s.ID] = d
			}
		}
	}
	for _, s := range changed {
		record(r.graph.GetCallers(s.ID, 1), 1)
		record(r.graph.GetCallees(s.ID, 1), 1)
		record(r.graph.GetCallers(s.ID, 2), 2)
		record(r.graph.GetCallees(s.ID, 2), 2)
	}
	return distance
}

// ratedExamples embeds the diff head and retrieves the most similar
// previously-posted comments, split by their feedback signal.
func (r *Retriever) ratedExamples(ctx context.Context, rawDiff string) (accepted, rejected []string) {
	text := rawDiff
	if len(text) > diffEmbedLimit {
		text = text[:diffEmbedLimit]
	}
	if text == "" {
		return nil, nil
	}
	vecs, err := r.embedder.Embed(ctx, []string{text})
	if err != nil || len(vecs) == 0 {
		if err != nil {
			r.logger.Warn("failed to embed diff, skipping prior examples",
				slog.String("repo_id", r.repoID),
				slog.String("error", err.Error()))
		}
		return nil, nil
	}
	query := vecs[0]

	comments, err := r.store.ListComments(ctx, r.repoID)
	if err != nil {
		r.logger.Warn("failed to list prior comments",
			slog.String("repo_id", r.repoID),
			slog.String("error", err.Error()))
		return nil, nil
	}

	type scored struct {
		body string
		sim  float64
	}
	var acceptedPool, rejectedPool []scored
	for _, c := range comments {
		if len(c.Embedding) == 0 {
			continue
		}
		signal, err := r.store.GetFeedback(ctx, c.ID)
		if err != nil || signal == "" {
			continue
		}
		entry := scored{body: stripFeedbackArtifacts(c.Body), sim: cosine(query, c.Embedding)}
		switch signal {
		case storage.FeedbackAccepted:
			acceptedPool = append(acceptedPool, entry)
		case storage.FeedbackRejected:
			rejectedPool = append(rejectedPool, entry)
		}
	}

	take := func(pool []scored, n int) []string {
		sort.SliceStable(pool, func(i, j int) bool { return pool[i].sim > pool[j].sim })
		if len(pool) > n {
			pool = pool[:n]
		}
		out := make([]string, 0, len(pool))
		for _, e := range pool {
			if e.body != "" {
				out = append(out, e.body)
			}
		}
		return out
	}
	return take(acceptedPool, acceptedExampleLimit), take(rejectedPool, rejectedExampleLimit)
}

// cosine computes cosine similarity of two vectors, 0 on mismatch or
// zero magnitude.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// feedbackLinkPattern matches the 👍/👎 link line appended to posted
// comments.
var feedbackLinkPattern = regexp.MustCompile(`(?m)^\[👍[^\n]*\]\([^)]*\)[^\n]*$`)

// ChangedFilePaths extracts the changed file paths from a raw unified
// diff via its ---/+++ header pairs, preferring the post-state name.
func ChangedFilePaths(rawDiff string) []string {
	var paths []string
	seen := make(map[string]bool)
	add := func(p string) {
		p = strings.TrimPrefix(p, "a/")
		p = strings.TrimPrefix(p, "b/")
		if p == "" || p == "/dev/null" || seen[p] {
			return
		}
		seen[p] = true
		paths = append(paths, p)
	}

	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(rawDiff)).ReadAllFiles()
	if err == nil && len(fileDiffs) > 0 {
		for _, fd := range fileDiffs {
			if fd.NewName != "" && fd.NewName != "/dev/null" {
				add(fd.NewName)
			} else {
				add(fd.OrigName)
			}
		}
		return paths
	}

	// Bare header pairs that the strict parser rejects.
	lines := strings.Split(rawDiff, "\n")
	for i, l := range lines {
		if !strings.HasPrefix(l, "+++ ") {
			continue
		}
		p := strings.TrimSpace(strings.TrimPrefix(l, "+++ "))
		if p == "/dev/null" && i > 0 && strings.HasPrefix(lines[i-1], "--- ") {
			p = strings.TrimSpace(strings.TrimPrefix(lines[i-1], "--- "))
		}
		add(p)
	}
	return paths
}

// stripFeedbackArtifacts removes the feedback-link UI line and its
// separator from a stored comment body.
func stripFeedbackArtifacts(body string) string {
	body = feedbackLinkPattern.ReplaceAllString(body, "")
	lines := strings.Split(body, "\n")
	kept := lines[:0]
	for _, l := range lines {
		if strings.TrimSpace(l) == "---" {
			continue
		}
		kept = append(kept, l)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
