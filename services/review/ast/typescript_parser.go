// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ast

import (
	"context"
	"path"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// TypeScriptParser extracts symbols from TypeScript, TSX and JavaScript
// sources. The grammar is chosen per file extension: .tsx uses the TSX
// grammar, .js/.jsx use the JavaScript grammar, everything else plain
// TypeScript.
//
// Description: Emits function, class, method, interface and type-alias
// symbols; calls, imports, inherits and implements edges. Arrow functions
// bound to a const are reported as functions, which is how most modern
// TypeScript codebases declare them.
//
// Thread Safety: Safe for concurrent use; a fresh tree-sitter parser is
// created per Parse call.
type TypeScriptParser struct {
	maxFileSize int64
}

// TypeScriptOption configures a TypeScriptParser.
type TypeScriptOption func(*TypeScriptParser)

// WithTSMaxFileSize overrides the default file size limit.
func WithTSMaxFileSize(n int64) TypeScriptOption {
	return func(p *TypeScriptParser) { p.maxFileSize = n }
}

// NewTypeScriptParser creates a TypeScript/JavaScript parser.
func NewTypeScriptParser(opts ...TypeScriptOption) *TypeScriptParser {
	p := &TypeScriptParser{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(p)
	}
	// Touch each grammar now so a broken binding fails registration
	// instead of the first Parse call.
	_ = typescript.GetLanguage()
	_ = tsx.GetLanguage()
	_ = javascript.GetLanguage()
	return p
}

// Language returns "typescript".
func (p *TypeScriptParser) Language() string { return "typescript" }

func grammarFor(filePath string) *sitter.Language {
	switch strings.ToLower(path.Ext(filePath)) {
	case ".tsx":
		return tsx.GetLanguage()
	case ".js", ".jsx":
		return javascript.GetLanguage()
	default:
		return typescript.GetLanguage()
	}
}

// Parse extracts symbols and edges from one TypeScript/JavaScript file.
func (p *TypeScriptParser) Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error) {
	ctx, span := startParseSpan(ctx, p.Language(), filePath, len(content))
	defer span.End()
	start := time.Now()

	tree, result, err := prepareParse(ctx, grammarFor(filePath), p.Language(), content, filePath, p.maxFileSize)
	if err != nil {
		recordParseMetrics(ctx, p.Language(), time.Since(start), 0, false)
		return nil, err
	}
	defer tree.Close()

	var imports []string
	p.walkProgram(tree.RootNode(), content, filePath, result, &imports)
	attachImportEdges(result, imports)

	recordParseMetrics(ctx, p.Language(), time.Since(start), len(result.Symbols), true)
	return result, nil
}

// walkProgram visits top-level declarations. export_statement wrappers are
// unwrapped so `export class X` and `class X` extract identically.
func (p *TypeScriptParser) walkProgram(root *sitter.Node, src []byte, filePath string, result *ParseResult, imports *[]string) {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		decl := node
		if decl.Type() == "export_statement" {
			if inner := decl.NamedChild(0); inner != nil {
				decl = inner
			}
		}
		switch decl.Type() {
		case "function_declaration", "generator_function_declaration":
			p.extractFunction(decl, node, src, filePath, result)
		case "lexical_declaration", "variable_declaration":
			p.extractArrowConsts(decl, node, src, filePath, result)
		case "class_declaration":
			p.extractClass(decl, node, src, filePath, result)
		case "interface_declaration":
			p.extractNamedType(decl, node, src, filePath, SymbolKindInterface, result)
		case "type_alias_declaration":
			p.extractNamedType(decl, node, src, filePath, SymbolKindType, result)
		case "enum_declaration":
			p.extractNamedType(decl, node, src, filePath, SymbolKindType, result)
		case "import_statement":
			collectTSImportNames(decl, src, imports)
		}
	}
}

func (p *TypeScriptParser) extractFunction(decl, commentAnchor *sitter.Node, src []byte, filePath string, result *ParseResult) {
	name := nodeText(decl.ChildByFieldName("name"), src)
	if name == "" {
		return
	}
	body := decl.ChildByFieldName("body")
	startLine, endLine := lineRange(decl)
	sym := &Symbol{
		ID:            GenerateID(filePath, name),
		FilePath:      filePath,
		Name:          name,
		QualifiedName: name,
		Kind:          SymbolKindFunction,
		Signature:     signatureLine(decl, body, src),
		StartLine:     startLine,
		EndLine:       endLine,
		DocComment:    leadingComment(commentAnchor, src),
	}
	result.Symbols = append(result.Symbols, sym)
	collectCalls(body, src, sym.ID, tsCallee, &result.Edges)
}

// extractArrowConsts reports `const f = (...) => {...}` declarators as
// function symbols and other initialised top-level consts as const symbols.
func (p *TypeScriptParser) extractArrowConsts(decl, commentAnchor *sitter.Node, src []byte, filePath string, result *ParseResult) {
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		dtor := decl.NamedChild(i)
		if dtor.Type() != "variable_declarator" {
			continue
		}
		name := nodeText(dtor.ChildByFieldName("name"), src)
		if name == "" {
			continue
		}
		value := dtor.ChildByFieldName("value")
		kind := SymbolKindConst
		var body *sitter.Node
		if value != nil && (value.Type() == "arrow_function" || value.Type() == "function_expression" || value.Type() == "function") {
			kind = SymbolKindFunction
			body = value.ChildByFieldName("body")
		}
		startLine, endLine := lineRange(decl)
		sym := &Symbol{
			ID:            GenerateID(filePath, name),
			FilePath:      filePath,
			Name:          name,
			QualifiedName: name,
			Kind:          kind,
			Signature:     signatureLine(decl, body, src),
			StartLine:     startLine,
			EndLine:       endLine,
			DocComment:    leadingComment(commentAnchor, src),
		}
		result.Symbols = append(result.Symbols, sym)
		if body != nil {
			collectCalls(body, src, sym.ID, tsCallee, &result.Edges)
		}
	}
}

func (p *TypeScriptParser) extractClass(decl, commentAnchor *sitter.Node, src []byte, filePath string, result *ParseResult) {
	className := nodeText(decl.ChildByFieldName("name"), src)
	if className == "" {
		return
	}
	body := decl.ChildByFieldName("body")
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
		DocComment:    leadingComment(commentAnchor, src),
	}
	result.Symbols = append(result.Symbols, classSym)

	p.extractHeritage(decl, src, classSym.ID, result)

	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		if member.Type() != "method_definition" {
			continue
		}
		methodName := nodeText(member.ChildByFieldName("name"), src)
		if methodName == "" {
			continue
		}
		qualified := className + "." + methodName
		methodBody := member.ChildByFieldName("body")
		mStart, mEnd := lineRange(member)
		methodSym := &Symbol{
			ID:            GenerateID(filePath, qualified),
			FilePath:      filePath,
			Name:          methodName,
			QualifiedName: qualified,
			Kind:          SymbolKindMethod,
			Signature:     signatureLine(member, methodBody, src),
			StartLine:     mStart,
			EndLine:       mEnd,
			DocComment:    leadingComment(member, src),
		}
		result.Symbols = append(result.Symbols, methodSym)
		collectCalls(methodBody, src, methodSym.ID, tsCallee, &result.Edges)
	}
}

// extractHeritage emits inherits edges from extends clauses and implements
// edges from implements clauses.
func (p *TypeScriptParser) extractHeritage(decl *sitter.Node, src []byte, fromID string, result *ParseResult) {
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		child := decl.NamedChild(i)
		if child.Type() != "class_heritage" {
			continue
		}
		// TypeScript grammar nests extends/implements clauses; the JavaScript
		// grammar puts the superclass expression directly under class_heritage.
		if child.NamedChildCount() == 0 {
			continue
		}
		for j := 0; j < int(child.NamedChildCount()); j++ {
			clause := child.NamedChild(j)
			switch clause.Type() {
			case "extends_clause":
				for k := 0; k < int(clause.NamedChildCount()); k++ {
					if name := bareTypeName(clause.NamedChild(k), src); name != "" {
						result.Edges = append(result.Edges, Edge{From: fromID, ToName: name, Kind: EdgeKindInherits})
					}
				}
			case "implements_clause":
				for k := 0; k < int(clause.NamedChildCount()); k++ {
					if name := bareTypeName(clause.NamedChild(k), src); name != "" {
						result.Edges = append(result.Edges, Edge{From: fromID, ToName: name, Kind: EdgeKindImplements})
					}
				}
			default:
				if name := bareTypeName(clause, src); name != "" {
					result.Edges = append(result.Edges, Edge{From: fromID, ToName: name, Kind: EdgeKindInherits})
				}
			}
		}
	}
}

func (p *TypeScriptParser) extractNamedType(decl, commentAnchor *sitter.Node, src []byte, filePath string, kind SymbolKind, result *ParseResult) {
	name := nodeText(decl.ChildByFieldName("name"), src)
	if name == "" {
		return
	}
	body := decl.ChildByFieldName("body")
	startLine, endLine := lineRange(decl)
	sym := &Symbol{
		ID:            GenerateID(filePath, name),
		FilePath:      filePath,
		Name:          name,
		QualifiedName: name,
		Kind:          kind,
		Signature:     signatureLine(decl, body, src),
		StartLine:     startLine,
		EndLine:       endLine,
		DocComment:    leadingComment(commentAnchor, src),
	}
	result.Symbols = append(result.Symbols, sym)

	// `interface A extends B` heritage.
	if kind == SymbolKindInterface {
		for i := 0; i < int(decl.NamedChildCount()); i++ {
			child := decl.NamedChild(i)
			if child.Type() != "extends_type_clause" && child.Type() != "extends_clause" {
				continue
			}
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if n := bareTypeName(child.NamedChild(j), src); n != "" {
					result.Edges = append(result.Edges, Edge{From: sym.ID, ToName: n, Kind: EdgeKindInherits})
				}
			}
		}
	}
}

// tsCallee returns the bare callee name for a call_expression node, or "".
// For member calls like svc.login(...) the final property name is used.
func tsCallee(n *sitter.Node, src []byte) string {
	if n.Type() != "call_expression" && n.Type() != "new_expression" {
		return ""
	}
	fn := n.ChildByFieldName("function")
	if fn == nil {
		fn = n.ChildByFieldName("constructor")
	}
	return bareTypeName(fn, src)
}

// bareTypeName reduces an expression or type reference to its final bare
// identifier: `a.b.c` yields "c", `Foo<T>` yields "Foo".
func bareTypeName(n *sitter.Node, src []byte) string {
	for n != nil {
		switch n.Type() {
		case "identifier", "type_identifier", "property_identifier", "shorthand_property_identifier":
			return n.Content(src)
		case "member_expression":
			n = n.ChildByFieldName("property")
		case "generic_type":
			n = n.ChildByFieldName("name")
		case "nested_type_identifier":
			n = n.ChildByFieldName("name")
		case "parenthesized_expression":
			n = n.NamedChild(0)
		default:
			return ""
		}
	}
	return ""
}

// collectTSImportNames gathers the local names introduced by one import
// statement: default imports, named imports and namespace aliases.
func collectTSImportNames(stmt *sitter.Node, src []byte, out *[]string) {
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "identifier":
			*out = append(*out, n.Content(src))
			return
		case "import_specifier":
			// Prefer the alias when present.
			if alias := n.ChildByFieldName("alias"); alias != nil {
				*out = append(*out, alias.Content(src))
				return
			}
			if name := n.ChildByFieldName("name"); name != nil {
				*out = append(*out, name.Content(src))
				return
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	for i := 0; i < int(stmt.NamedChildCount()); i++ {
		child := stmt.NamedChild(i)
		if child.Type() == "import_clause" {
			walk(child)
		}
	}
}
