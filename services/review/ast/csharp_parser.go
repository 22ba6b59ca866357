// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ast

import (
	"context"
	"time"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/csharp"
)

// CSharpParser extracts symbols from C# sources.
//
// Namespace declarations (block and file scoped) are traversed
// transparently; the namespace itself is not a symbol.
type CSharpParser struct {
	maxFileSize int64
}

// CSharpOption configures a CSharpParser.
type CSharpOption func(*CSharpParser)

// WithCSMaxFileSize overrides the default file size limit.
func WithCSMaxFileSize(n int64) CSharpOption {
	return func(p *CSharpParser) { p.maxFileSize = n }
}

// NewCSharpParser creates a C# parser.
func NewCSharpParser(opts ...CSharpOption) *CSharpParser {
	p := &CSharpParser{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(p)
	}
	_ = csharp.GetLanguage()
	return p
}

// Language returns "csharp".
func (p *CSharpParser) Language() string { return "csharp" }

// Parse extracts symbols and edges from one C# file.
func (p *CSharpParser) Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error) {
	ctx, span := startParseSpan(ctx, p.Language(), filePath, len(content))
	defer span.End()
	start := time.Now()

	tree, result, err := prepareParse(ctx, csharp.GetLanguage(), p.Language(), content, filePath, p.maxFileSize)
	if err != nil {
		recordParseMetrics(ctx, p.Language(), time.Since(start), 0, false)
		return nil, err
	}
	defer tree.Close()

	var imports []string
	p.walkDeclarations(tree.RootNode(), content, filePath, result, &imports)
	attachImportEdges(result, imports)

	recordParseMetrics(ctx, p.Language(), time.Since(start), len(result.Symbols), true)
	return result, nil
}

func (p *CSharpParser) walkDeclarations(scope *sitter.Node, src []byte, filePath string, result *ParseResult, imports *[]string) {
	for i := 0; i < int(scope.NamedChildCount()); i++ {
		node := scope.NamedChild(i)
		switch node.Type() {
		case "namespace_declaration", "file_scoped_namespace_declaration":
			if body := node.ChildByFieldName("body"); body != nil {
				p.walkDeclarations(body, src, filePath, result, imports)
			} else {
				p.walkDeclarations(node, src, filePath, result, imports)
			}
		case "class_declaration", "record_declaration", "struct_declaration":
			p.extractType(node, src, filePath, SymbolKindClass, result)
		case "interface_declaration":
			p.extractType(node, src, filePath, SymbolKindInterface, result)
		case "enum_declaration":
			p.extractType(node, src, filePath, SymbolKindType, result)
		case "using_directive":
			collectCSUsingName(node, src, imports)
		}
	}
}

func (p *CSharpParser) extractType(decl *sitter.Node, src []byte, filePath string, kind SymbolKind, result *ParseResult) {
	typeName := nodeText(decl.ChildByFieldName("name"), src)
	if typeName == "" {
		return
	}
	body := decl.ChildByFieldName("body")
	startLine, endLine := lineRange(decl)
	typeSym := &Symbol{
		ID:            GenerateID(filePath, typeName),
		FilePath:      filePath,
		Name:          typeName,
		QualifiedName: typeName,
		Kind:          kind,
		Signature:     signatureLine(decl, body, src),
		StartLine:     startLine,
		EndLine:       endLine,
		DocComment:    leadingComment(decl, src),
	}
	result.Symbols = append(result.Symbols, typeSym)

	// The grammar does not distinguish a base class from interfaces in the
	// base_list; the I-prefix naming convention decides the edge kind.
	if bases := decl.ChildByFieldName("bases"); bases != nil {
		for i := 0; i < int(bases.NamedChildCount()); i++ {
			name := csTypeName(bases.NamedChild(i), src)
			if name == "" {
				continue
			}
			edgeKind := EdgeKindInherits
			if kind != SymbolKindInterface && isInterfaceName(name) {
				edgeKind = EdgeKindImplements
			}
			result.Edges = append(result.Edges, Edge{From: typeSym.ID, ToName: name, Kind: edgeKind})
		}
	}

	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		switch member.Type() {
		case "method_declaration", "constructor_declaration":
			p.extractMethod(member, src, filePath, typeName, result)
		case "class_declaration", "interface_declaration", "record_declaration":
			innerKind := SymbolKindClass
			if member.Type() == "interface_declaration" {
				innerKind = SymbolKindInterface
			}
			p.extractType(member, src, filePath, innerKind, result)
		}
	}
}

func (p *CSharpParser) extractMethod(member *sitter.Node, src []byte, filePath, typeName string, result *ParseResult) {
	methodName := nodeText(member.ChildByFieldName("name"), src)
	if methodName == "" {
		return
	}
	qualified := typeName + "." + methodName
	body := member.ChildByFieldName("body")
	mStart, mEnd := lineRange(member)
	sym := &Symbol{
		ID:            GenerateID(filePath, qualified),
		FilePath:      filePath,
		Name:          methodName,
		QualifiedName: qualified,
		Kind:          SymbolKindMethod,
		Signature:     signatureLine(member, body, src),
		StartLine:     mStart,
		EndLine:       mEnd,
		DocComment:    leadingComment(member, src),
	}
	result.Symbols = append(result.Symbols, sym)
	collectCalls(body, src, sym.ID, csCallee, &result.Edges)
}

// isInterfaceName applies the C# convention of an I prefix followed by
// another capital, e.g. IDisposable.
func isInterfaceName(name string) bool {
	runes := []rune(name)
	return len(runes) >= 2 && runes[0] == 'I' && unicode.IsUpper(runes[1])
}

// csCallee returns the bare callee name for an invocation node, or "".
func csCallee(n *sitter.Node, src []byte) string {
	switch n.Type() {
	case "invocation_expression":
		return csTypeName(n.ChildByFieldName("function"), src)
	case "object_creation_expression":
		return csTypeName(n.ChildByFieldName("type"), src)
	}
	return ""
}

func csTypeName(n *sitter.Node, src []byte) string {
	for n != nil {
		switch n.Type() {
		case "identifier":
			return n.Content(src)
		case "member_access_expression":
			n = n.ChildByFieldName("name")
		case "qualified_name":
			n = n.NamedChild(int(n.NamedChildCount()) - 1)
		case "generic_name":
			n = n.NamedChild(0)
		case "base_list":
			return ""
		default:
			return ""
		}
	}
	return ""
}

// collectCSUsingName records the final component of a using directive.
// Alias directives (`using Foo = Bar.Baz;`) record the alias.
func collectCSUsingName(decl *sitter.Node, src []byte, out *[]string) {
	if alias := decl.ChildByFieldName("alias"); alias != nil {
		if name := csTypeName(alias, src); name != "" {
			*out = append(*out, name)
			return
		}
	}
	for i := int(decl.NamedChildCount()) - 1; i >= 0; i-- {
		if name := csTypeName(decl.NamedChild(i), src); name != "" {
			*out = append(*out, name)
			return
		}
	}
}
