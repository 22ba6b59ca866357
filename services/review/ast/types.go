// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ast provides deterministic, error-tolerant symbol extraction from
// source files. Each language parser is built on tree-sitter and yields
// symbols and edges without performing any I/O; ill-formed input produces a
// partial result, never an error.
package ast

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Parser size limits.
const (
	// DefaultMaxFileSize is the largest file a parser will accept (10MB).
	DefaultMaxFileSize = 10 * 1024 * 1024

	// WarnFileSize triggers a slow-parse warning log (1MB).
	WarnFileSize = 1 * 1024 * 1024
)

// Sentinel errors returned by parsers.
var (
	// ErrFileTooLarge is returned when content exceeds the size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum size")

	// ErrInvalidContent is returned for non-UTF-8 content.
	ErrInvalidContent = errors.New("content is not valid UTF-8")

	// ErrUnsupportedLanguage is returned when no parser handles a path.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// SymbolKind classifies a declared symbol.
type SymbolKind string

// Symbol kinds recognised by the graph.
const (
	SymbolKindFunction  SymbolKind = "function"
	SymbolKindMethod    SymbolKind = "method"
	SymbolKindClass     SymbolKind = "class"
	SymbolKindInterface SymbolKind = "interface"
	SymbolKindType      SymbolKind = "type"
	SymbolKindConst     SymbolKind = "const"
)

// EdgeKind classifies a directed relation between symbols.
type EdgeKind string

// Edge kinds recognised by the graph.
const (
	EdgeKindCalls      EdgeKind = "calls"
	EdgeKindImports    EdgeKind = "imports"
	EdgeKindInherits   EdgeKind = "inherits"
	EdgeKindImplements EdgeKind = "implements"
	EdgeKindUses       EdgeKind = "uses"
	EdgeKindOverrides  EdgeKind = "overrides"
)

// Symbol represents a named declaration extracted from a source file.
//
// Symbols form the nodes of the per-repository code graph. The ID is stable
// across re-parses of the same unchanged declaration, which makes symbols
// safe to use as durable storage and vector-index keys.
type Symbol struct {
	// ID is "<filePath>:<qualifiedName>", unique within a (repo, branch).
	ID string `json:"id"`

	// FilePath is repo-relative, forward-slash normalised, no leading slash.
	FilePath string `json:"file_path"`

	// Name is the bare identifier, e.g. "login".
	Name string `json:"name"`

	// QualifiedName is the dotted form, e.g. "AuthService.login".
	QualifiedName string `json:"qualified_name"`

	// Kind classifies the declaration.
	Kind SymbolKind `json:"kind"`

	// Signature is a single-line human-readable declaration string.
	Signature string `json:"signature"`

	// StartLine and EndLine bound the body, inclusive and 1-indexed.
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	// DocComment is the leading documentation text, if any.
	DocComment string `json:"doc_comment,omitempty"`

	// RepoID and Branch scope the symbol. Set by the indexer, not parsers.
	RepoID string `json:"repo_id,omitempty"`
	Branch string `json:"branch,omitempty"`
}

// GenerateID builds the stable symbol ID from its path and qualified name.
func GenerateID(filePath, qualifiedName string) string {
	return filePath + ":" + qualifiedName
}

// Validate checks the symbol's structural invariants.
func (s *Symbol) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("symbol name must not be empty")
	}
	if s.FilePath == "" {
		return fmt.Errorf("symbol file path must not be empty")
	}
	if strings.Contains(s.FilePath, "..") {
		return fmt.Errorf("symbol file path must not contain path traversal")
	}
	if s.StartLine < 1 {
		return fmt.Errorf("start line must be >= 1, got %d", s.StartLine)
	}
	if s.EndLine < s.StartLine {
		return fmt.Errorf("end line %d precedes start line %d", s.EndLine, s.StartLine)
	}
	return nil
}

// Edge is a directed relation between two symbols.
//
// The To side is a tagged value: parsers emit call targets as bare names
// (ToName) because a language-agnostic extractor cannot resolve arbitrary
// references. The graph resolves bare names to symbol IDs once per indexing
// batch; an edge is resolved when To is non-empty.
type Edge struct {
	// From is the source symbol ID.
	From string `json:"from"`

	// To is the target symbol ID once resolved, empty while pending.
	To string `json:"to,omitempty"`

	// ToName is the bare target identifier prior to resolution.
	ToName string `json:"to_name,omitempty"`

	// Kind classifies the relation.
	Kind EdgeKind `json:"kind"`
}

// Resolved reports whether the edge's target is a concrete symbol ID.
func (e Edge) Resolved() bool {
	return e.To != ""
}

// ParseResult is the output of parsing one source file.
type ParseResult struct {
	// FilePath is the parsed file, relative to the repository root.
	FilePath string `json:"file_path"`

	// Language is the parser's language identifier, e.g. "typescript".
	Language string `json:"language"`

	// Symbols are the declarations found, in source order.
	Symbols []*Symbol `json:"symbols"`

	// Edges are relations with From set to a symbol in this file. Call and
	// import targets are bare names awaiting graph resolution.
	Edges []Edge `json:"edges"`

	// Errors lists non-fatal parse problems; partial results still apply.
	Errors []string `json:"errors,omitempty"`

	// Hash is the SHA-256 of the content at parse time.
	Hash string `json:"hash"`

	// ParsedAtMilli is when parsing completed (Unix milliseconds).
	ParsedAtMilli int64 `json:"parsed_at_milli"`
}

// SetParsedAt stamps the result with the current time.
func (r *ParseResult) SetParsedAt() {
	r.ParsedAtMilli = time.Now().UnixMilli()
}

// HasErrors reports whether any non-fatal parse problems were recorded.
func (r *ParseResult) HasErrors() bool {
	return len(r.Errors) > 0
}
