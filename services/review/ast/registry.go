// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ast

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
)

// Parser extracts symbols and edges from one language's source files.
//
// Implementations must be deterministic (same bytes produce the same
// output), total (syntax errors yield a partial, non-erroring result) and
// free of I/O. They must be safe for concurrent use.
type Parser interface {
	// Parse extracts symbols from source content.
	Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error)

	// Language returns the parser's language identifier.
	Language() string
}

// Registry dispatches file paths to language parsers by extension.
//
// Construction registers each language independently: a grammar that fails
// to initialise disables only that language, logged as a warning, while the
// remaining parsers continue to operate.
//
// Thread Safety: Registry is immutable after construction and safe for
// concurrent use.
type Registry struct {
	byExt map[string]Parser
}

// NewRegistry builds a registry with every supported language parser.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Parser)}

	r.register(func() (Parser, []string) {
		return NewTypeScriptParser(), []string{".ts", ".tsx", ".js", ".jsx"}
	})
	r.register(func() (Parser, []string) {
		return NewPythonParser(), []string{".py"}
	})
	r.register(func() (Parser, []string) {
		return NewJavaParser(), []string{".java"}
	})
	r.register(func() (Parser, []string) {
		return NewCSharpParser(), []string{".cs"}
	})
	r.register(func() (Parser, []string) {
		return NewGoParser(), []string{".go"}
	})

	return r
}

// register installs one language, isolating grammar initialisation panics
// (ABI mismatch, missing grammar) so other languages keep working.
func (r *Registry) register(build func() (Parser, []string)) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Warn("language parser failed to initialise, skipping language",
				slog.Any("panic", rec))
		}
	}()
	p, exts := build()
	for _, ext := range exts {
		r.byExt[ext] = p
	}
}

// ParserFor returns the parser handling the given path, or nil.
func (r *Registry) ParserFor(filePath string) Parser {
	return r.byExt[strings.ToLower(path.Ext(filePath))]
}

// Supported reports whether the path maps to a registered language and is
// not an ignored or generated file.
func (r *Registry) Supported(filePath string) bool {
	if IgnorePath(filePath) || IsGeneratedFile(filePath) {
		return false
	}
	return r.ParserFor(filePath) != nil
}

// Parse dispatches to the language parser for the path.
func (r *Registry) Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error) {
	p := r.ParserFor(filePath)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedLanguage, filePath)
	}
	return p.Parse(ctx, content, filePath)
}

// ignoredDirs are path segments that exclude a file from indexing.
var ignoredDirs = map[string]bool{
	"node_modules":  true,
	"dist":          true,
	"build":         true,
	".git":          true,
	".next":         true,
	"__pycache__":   true,
	"coverage":      true,
	".turbo":        true,
	"target":        true,
	"__generated__": true,
}

// lockFiles are dependency lock files, never indexed or reviewed.
var lockFiles = map[string]bool{
	"package-lock.json":  true,
	"yarn.lock":          true,
	"pnpm-lock.yaml":     true,
	"poetry.lock":        true,
	"Pipfile.lock":       true,
	"Cargo.lock":         true,
	"composer.lock":      true,
	"go.sum":             true,
	"packages.lock.json": true,
}

// IgnorePath reports whether any segment of the path is an ignored
// directory.
func IgnorePath(filePath string) bool {
	for _, seg := range strings.Split(filePath, "/") {
		if ignoredDirs[seg] {
			return true
		}
	}
	return false
}

// IsGeneratedFile reports whether the file name matches a recognised
// generated-file pattern (minified bundles, lock files, protobuf output,
// code generators).
func IsGeneratedFile(filePath string) bool {
	base := path.Base(filePath)
	if lockFiles[base] {
		return true
	}
	for _, marker := range []string{".min.", ".bundle.", ".pb.", ".generated.", ".gen."} {
		if strings.Contains(base, marker) {
			return true
		}
	}
	return false
}
