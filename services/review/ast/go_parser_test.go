// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ast

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goTestSource = `package worker

import (
	"context"
	legacyqueue "example.com/pkg/queue"
)

// Pool runs jobs with bounded concurrency.
type Pool struct {
	Base
	size int
}

// Runner accepts jobs.
type Runner interface {
	Run(ctx context.Context) error
}

const defaultSize = 4

// Start launches the pool.
func (p *Pool) Start(ctx context.Context) error {
	return p.dispatch(ctx)
}

func (p *Pool) dispatch(ctx context.Context) error {
	return drain(ctx)
}

func drain(ctx context.Context) error {
	return nil
}
`

func TestGoParser_Parse_Symbols(t *testing.T) {
	parser := NewGoParser()
	result, err := parser.Parse(context.Background(), []byte(goTestSource), "internal/worker/pool.go")
	require.NoError(t, err)
	assert.Equal(t, "go", result.Language)

	pool := findSymbol(result, "Pool")
	require.NotNil(t, pool, "expected type 'Pool'")
	assert.Equal(t, SymbolKindType, pool.Kind)
	assert.NotEmpty(t, pool.DocComment, "expected doc comment on Pool")

	runner := findSymbol(result, "Runner")
	require.NotNil(t, runner)
	assert.Equal(t, SymbolKindInterface, runner.Kind)
	size := findSymbol(result, "defaultSize")
	require.NotNil(t, size)
	assert.Equal(t, SymbolKindConst, size.Kind)

	// Receiver-qualified methods, pointer stripped.
	start := findSymbol(result, "Pool.Start")
	require.NotNil(t, start, "expected method 'Pool.Start'")
	assert.Equal(t, SymbolKindMethod, start.Kind)
	drain := findSymbol(result, "drain")
	require.NotNil(t, drain)
	assert.Equal(t, SymbolKindFunction, drain.Kind)
}

func TestGoParser_Parse_Edges(t *testing.T) {
	parser := NewGoParser()
	result, err := parser.Parse(context.Background(), []byte(goTestSource), "internal/worker/pool.go")
	require.NoError(t, err)

	assert.True(t, hasEdge(result, "internal/worker/pool.go:Pool.Start", "dispatch", EdgeKindCalls),
		"expected call edge Start -> dispatch")
	assert.True(t, hasEdge(result, "internal/worker/pool.go:Pool.dispatch", "drain", EdgeKindCalls),
		"expected call edge dispatch -> drain")
	// Struct embedding records a uses edge.
	assert.True(t, hasEdge(result, "internal/worker/pool.go:Pool", "Base", EdgeKindUses),
		"expected uses edge Pool -> Base")

	first := result.Symbols[0].ID
	// Aliased imports bind the alias; plain imports the last path component.
	assert.True(t, hasEdge(result, first, "legacyqueue", EdgeKindImports),
		"expected import edge for alias legacyqueue")
	assert.True(t, hasEdge(result, first, "context", EdgeKindImports),
		"expected import edge for context")
}

func TestGoParser_Parse_SyntaxErrorIsPartial(t *testing.T) {
	source := `package p

func good() {}

func broken( {{{
`
	parser := NewGoParser()
	result, err := parser.Parse(context.Background(), []byte(source), "broken.go")
	require.NoError(t, err, "syntax errors must not fail the parse")
	assert.NotNil(t, findSymbol(result, "good"), "expected partial result to contain 'good'")
	assert.True(t, result.HasErrors(), "expected parse errors to be recorded")
}
