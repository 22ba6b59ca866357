// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ast

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

// prepareParse validates content, computes the content hash and runs
// tree-sitter. Every language parser funnels through here so that size
// limits, UTF-8 validation and hashing behave identically.
//
// A new tree-sitter parser instance is created per call; the smacker
// bindings are not safe for concurrent reuse of one parser.
func prepareParse(ctx context.Context, lang *sitter.Language, language string, content []byte, filePath string, maxFileSize int64) (*sitter.Tree, *ParseResult, error) {
	if int64(len(content)) > maxFileSize {
		return nil, nil, fmt.Errorf("%w: size %d exceeds limit %d", ErrFileTooLarge, len(content), maxFileSize)
	}
	if !utf8.Valid(content) {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidContent, filePath)
	}
	if len(content) > WarnFileSize {
		slog.Warn("parsing large file",
			slog.String("file", filePath),
			slog.Int("size_bytes", len(content)))
	}

	hash := sha256.Sum256(content)

	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, nil, fmt.Errorf("tree-sitter parse failed: %w", err)
	}

	result := &ParseResult{
		FilePath:      filePath,
		Language:      language,
		Symbols:       make([]*Symbol, 0),
		Edges:         make([]Edge, 0),
		Hash:          hex.EncodeToString(hash[:]),
		ParsedAtMilli: time.Now().UnixMilli(),
	}
	if root := tree.RootNode(); root != nil && root.HasError() {
		result.Errors = append(result.Errors, "source contains syntax errors")
	}
	return tree, result, nil
}

// nodeText returns the source text of a node, or "" for nil nodes.
func nodeText(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return n.Content(src)
}

// lineRange returns the 1-indexed inclusive line span of a node.
func lineRange(n *sitter.Node) (int, int) {
	return int(n.StartPoint().Row) + 1, int(n.EndPoint().Row) + 1
}

// signatureLine returns the declaration text of node up to (not including)
// its body child, collapsed to a single line.
func signatureLine(n, body *sitter.Node, src []byte) string {
	start := n.StartByte()
	end := n.EndByte()
	if body != nil && body.StartByte() > start {
		end = body.StartByte()
	}
	sig := string(src[start:end])
	if i := strings.IndexByte(sig, '\n'); i >= 0 && body == nil {
		sig = sig[:i]
	}
	return strings.Join(strings.Fields(sig), " ")
}

// leadingComment collects the contiguous comment block immediately above a
// node, with common comment markers stripped.
func leadingComment(n *sitter.Node, src []byte) string {
	var parts []string
	for prev := n.PrevNamedSibling(); prev != nil; prev = prev.PrevNamedSibling() {
		if prev.Type() != "comment" && prev.Type() != "line_comment" && prev.Type() != "block_comment" {
			break
		}
		// Only comments directly adjacent to the declaration count.
		if int(n.StartPoint().Row)-int(prev.EndPoint().Row) > len(parts)+1 {
			break
		}
		parts = append([]string{stripCommentMarkers(prev.Content(src))}, parts...)
		n = prev
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// stripCommentMarkers removes //, #, /* */ and leading * decoration.
func stripCommentMarkers(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "/**")
	text = strings.TrimPrefix(text, "/*")
	text = strings.TrimSuffix(text, "*/")
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "///")
		line = strings.TrimPrefix(line, "//")
		line = strings.TrimPrefix(line, "#")
		line = strings.TrimPrefix(line, "*")
		lines = append(lines, strings.TrimSpace(line))
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// collectCalls walks a body subtree and appends one calls edge per distinct
// bare callee name, in discovery order. The callee of a member or selector
// expression is its final identifier; resolution to a concrete symbol
// happens later in the graph.
func collectCalls(body *sitter.Node, src []byte, fromID string, calleeOf func(n *sitter.Node, src []byte) string, edges *[]Edge) {
	if body == nil {
		return
	}
	seen := make(map[string]bool)
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if name := calleeOf(n, src); name != "" && !seen[name] {
			seen[name] = true
			*edges = append(*edges, Edge{From: fromID, ToName: name, Kind: EdgeKindCalls})
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(body)
}

// attachImportEdges assigns import edges to the file's first declared
// symbol. A file without symbols contributes no import edges; the graph
// would discard them at resolution time anyway.
func attachImportEdges(result *ParseResult, importNames []string) {
	if len(importNames) == 0 || len(result.Symbols) == 0 {
		return
	}
	fromID := result.Symbols[0].ID
	seen := make(map[string]bool)
	for _, name := range importNames {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		result.Edges = append(result.Edges, Edge{From: fromID, ToName: name, Kind: EdgeKindImports})
	}
}
