// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ast

import (
	"context"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// PythonParser extracts symbols from Python sources.
//
// Functions and methods (including async and decorated ones) become
// function/method symbols, classes become class symbols with inherits edges
// for their bases. Docstrings are preferred over leading comments for the
// DocComment field, matching how Python code is actually documented.
type PythonParser struct {
	maxFileSize int64
}

// PythonOption configures a PythonParser.
type PythonOption func(*PythonParser)

// WithPyMaxFileSize overrides the default file size limit.
func WithPyMaxFileSize(n int64) PythonOption {
	return func(p *PythonParser) { p.maxFileSize = n }
}

// NewPythonParser creates a Python parser.
func NewPythonParser(opts ...PythonOption) *PythonParser {
	p := &PythonParser{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(p)
	}
	_ = python.GetLanguage()
	return p
}

// Language returns "python".
func (p *PythonParser) Language() string { return "python" }

// Parse extracts symbols and edges from one Python file.
func (p *PythonParser) Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error) {
	ctx, span := startParseSpan(ctx, p.Language(), filePath, len(content))
	defer span.End()
	start := time.Now()

	tree, result, err := prepareParse(ctx, python.GetLanguage(), p.Language(), content, filePath, p.maxFileSize)
	if err != nil {
		recordParseMetrics(ctx, p.Language(), time.Since(start), 0, false)
		return nil, err
	}
	defer tree.Close()

	var imports []string
	root := tree.RootNode()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		p.extractTopLevel(root.NamedChild(i), content, filePath, result, &imports)
	}
	attachImportEdges(result, imports)

	recordParseMetrics(ctx, p.Language(), time.Since(start), len(result.Symbols), true)
	return result, nil
}

func (p *PythonParser) extractTopLevel(node *sitter.Node, src []byte, filePath string, result *ParseResult, imports *[]string) {
	decl := node
	if decl.Type() == "decorated_definition" {
		if def := decl.ChildByFieldName("definition"); def != nil {
			decl = def
		}
	}
	switch decl.Type() {
	case "function_definition":
		p.extractFunction(decl, node, src, filePath, "", result)
	case "class_definition":
		p.extractClass(decl, node, src, filePath, result)
	case "import_statement", "import_from_statement":
		collectPyImportNames(decl, src, imports)
	}
}

func (p *PythonParser) extractFunction(decl, commentAnchor *sitter.Node, src []byte, filePath, owner string, result *ParseResult) {
	name := nodeText(decl.ChildByFieldName("name"), src)
	if name == "" {
		return
	}
	qualified := name
	kind := SymbolKindFunction
	if owner != "" {
		qualified = owner + "." + name
		kind = SymbolKindMethod
	}
	body := decl.ChildByFieldName("body")
	doc := pyDocstring(body, src)
	if doc == "" {
		doc = leadingComment(commentAnchor, src)
	}
	startLine, endLine := lineRange(decl)
	sym := &Symbol{
		ID:            GenerateID(filePath, qualified),
		FilePath:      filePath,
		Name:          name,
		QualifiedName: qualified,
		Kind:          kind,
		Signature:     signatureLine(decl, body, src),
		StartLine:     startLine,
		EndLine:       endLine,
		DocComment:    doc,
	}
	result.Symbols = append(result.Symbols, sym)
	collectCalls(body, src, sym.ID, pyCallee, &result.Edges)
}

func (p *PythonParser) extractClass(decl, commentAnchor *sitter.Node, src []byte, filePath string, result *ParseResult) {
	className := nodeText(decl.ChildByFieldName("name"), src)
	if className == "" {
		return
	}
	body := decl.ChildByFieldName("body")
	doc := pyDocstring(body, src)
	if doc == "" {
		doc = leadingComment(commentAnchor, src)
	}
	startLine, endLine := lineRange(decl)
	classSym := &Symbol{
		ID:            GenerateID(filePath, className),
		FilePath:      filePath,
		Name:          className,
		QualifiedName: className,
		Kind:          SymbolKindClass,
		Signature:     signatureLine(decl, body, src),
		StartLine:     startLine,
		EndLine:       endLine,
		DocComment:    doc,
	}
	result.Symbols = append(result.Symbols, classSym)

	// Bases: class Foo(Base, Protocol) produces inherits edges.
	if supers := decl.ChildByFieldName("superclasses"); supers != nil {
		for i := 0; i < int(supers.NamedChildCount()); i++ {
			if name := pyBareName(supers.NamedChild(i), src); name != "" {
				result.Edges = append(result.Edges, Edge{From: classSym.ID, ToName: name, Kind: EdgeKindInherits})
			}
		}
	}

	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		memberDecl := member
		if memberDecl.Type() == "decorated_definition" {
			if def := memberDecl.ChildByFieldName("definition"); def != nil {
				memberDecl = def
			}
		}
		if memberDecl.Type() == "function_definition" {
			p.extractFunction(memberDecl, member, src, filePath, className, result)
		}
	}
}

// pyDocstring returns the docstring when the body's first statement is a
// bare string literal.
func pyDocstring(body *sitter.Node, src []byte) string {
	if body == nil || body.NamedChildCount() == 0 {
		return ""
	}
	first := body.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	text := str.Content(src)
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(text, q) && strings.HasSuffix(text, q) && len(text) >= 2*len(q) {
			return strings.TrimSpace(text[len(q) : len(text)-len(q)])
		}
	}
	return strings.TrimSpace(text)
}

// pyCallee returns the bare callee name for a call node, or "".
func pyCallee(n *sitter.Node, src []byte) string {
	if n.Type() != "call" {
		return ""
	}
	return pyBareName(n.ChildByFieldName("function"), src)
}

func pyBareName(n *sitter.Node, src []byte) string {
	for n != nil {
		switch n.Type() {
		case "identifier":
			return n.Content(src)
		case "attribute":
			n = n.ChildByFieldName("attribute")
		case "subscript":
			n = n.ChildByFieldName("value")
		case "parenthesized_expression":
			n = n.NamedChild(0)
		default:
			return ""
		}
	}
	return ""
}

// collectPyImportNames gathers the local names an import introduces:
// `import a.b` yields "b", `from x import y as z` yields "z".
func collectPyImportNames(stmt *sitter.Node, src []byte, out *[]string) {
	appendName := func(n *sitter.Node) {
		switch n.Type() {
		case "dotted_name":
			// Last component is the name bound locally.
			if c := n.NamedChild(int(n.NamedChildCount()) - 1); c != nil {
				*out = append(*out, c.Content(src))
			}
		case "identifier":
			*out = append(*out, n.Content(src))
		case "aliased_import":
			if alias := n.ChildByFieldName("alias"); alias != nil {
				*out = append(*out, alias.Content(src))
			}
		case "wildcard_import":
			// `from x import *` binds nothing nameable.
		}
	}
	if stmt.Type() == "import_from_statement" {
		// Skip the module_name field; only imported names bind locally.
		module := stmt.ChildByFieldName("module_name")
		for i := 0; i < int(stmt.NamedChildCount()); i++ {
			child := stmt.NamedChild(i)
			if module != nil && child.Equal(module) {
				continue
			}
			appendName(child)
		}
		return
	}
	for i := 0; i < int(stmt.NamedChildCount()); i++ {
		appendName(stmt.NamedChild(i))
	}
}
