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

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
)

// JavaParser extracts symbols from Java sources.
type JavaParser struct {
	maxFileSize int64
}

// JavaOption configures a JavaParser.
type JavaOption func(*JavaParser)

// WithJavaMaxFileSize overrides the default file size limit.
func WithJavaMaxFileSize(n int64) JavaOption {
	return func(p *JavaParser) { p.maxFileSize = n }
}

// NewJavaParser creates a Java parser.
func NewJavaParser(opts ...JavaOption) *JavaParser {
	p := &JavaParser{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(p)
	}
	_ = java.GetLanguage()
	return p
}

// Language returns "java".
func (p *JavaParser) Language() string { return "java" }

// Parse extracts symbols and edges from one Java file.
func (p *JavaParser) Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error) {
	ctx, span := startParseSpan(ctx, p.Language(), filePath, len(content))
	defer span.End()
	start := time.Now()

	tree, result, err := prepareParse(ctx, java.GetLanguage(), p.Language(), content, filePath, p.maxFileSize)
	if err != nil {
		recordParseMetrics(ctx, p.Language(), time.Since(start), 0, false)
		return nil, err
	}
	defer tree.Close()

	var imports []string
	root := tree.RootNode()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		node := root.NamedChild(i)
		switch node.Type() {
		case "class_declaration", "record_declaration":
			p.extractClass(node, content, filePath, SymbolKindClass, result)
		case "interface_declaration":
			p.extractClass(node, content, filePath, SymbolKindInterface, result)
		case "enum_declaration":
			p.extractClass(node, content, filePath, SymbolKindType, result)
		case "import_declaration":
			collectJavaImportName(node, content, &imports)
		}
	}
	attachImportEdges(result, imports)

	recordParseMetrics(ctx, p.Language(), time.Since(start), len(result.Symbols), true)
	return result, nil
}

func (p *JavaParser) extractClass(decl *sitter.Node, src []byte, filePath string, kind SymbolKind, result *ParseResult) {
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
		Kind:          kind,
		Signature:     signatureLine(decl, body, src),
		StartLine:     startLine,
		EndLine:       endLine,
		DocComment:    leadingComment(decl, src),
	}
	result.Symbols = append(result.Symbols, classSym)

	// extends: `superclass` for classes, `extends_interfaces` for interfaces.
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		child := decl.NamedChild(i)
		switch child.Type() {
		case "superclass", "extends_interfaces":
			collectJavaTypeNames(child, src, classSym.ID, EdgeKindInherits, result)
		case "super_interfaces":
			collectJavaTypeNames(child, src, classSym.ID, EdgeKindImplements, result)
		}
	}

	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		member := body.NamedChild(i)
		switch member.Type() {
		case "method_declaration", "constructor_declaration":
			p.extractMethod(member, src, filePath, className, result)
		case "class_declaration", "interface_declaration", "enum_declaration":
			// Nested types surface as their own top-level-style symbols.
			innerKind := SymbolKindClass
			if member.Type() == "interface_declaration" {
				innerKind = SymbolKindInterface
			}
			p.extractClass(member, src, filePath, innerKind, result)
		}
	}
}

func (p *JavaParser) extractMethod(member *sitter.Node, src []byte, filePath, className string, result *ParseResult) {
	methodName := nodeText(member.ChildByFieldName("name"), src)
	if methodName == "" {
		return
	}
	qualified := className + "." + methodName
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
	collectCalls(body, src, sym.ID, javaCallee, &result.Edges)
}

// javaCallee returns the bare callee name for an invocation node, or "".
func javaCallee(n *sitter.Node, src []byte) string {
	switch n.Type() {
	case "method_invocation":
		return nodeText(n.ChildByFieldName("name"), src)
	case "object_creation_expression":
		return javaTypeName(n.ChildByFieldName("type"), src)
	}
	return ""
}

func javaTypeName(n *sitter.Node, src []byte) string {
	for n != nil {
		switch n.Type() {
		case "type_identifier", "identifier":
			return n.Content(src)
		case "generic_type":
			n = n.NamedChild(0)
		case "scoped_type_identifier", "scoped_identifier":
			n = n.NamedChild(int(n.NamedChildCount()) - 1)
		default:
			return ""
		}
	}
	return ""
}

func collectJavaTypeNames(clause *sitter.Node, src []byte, fromID string, kind EdgeKind, result *ParseResult) {
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if name := javaTypeName(n, src); name != "" {
			result.Edges = append(result.Edges, Edge{From: fromID, ToName: name, Kind: kind})
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(clause)
}

// collectJavaImportName records the final component of an import, skipping
// wildcard imports which bind no single name.
func collectJavaImportName(decl *sitter.Node, src []byte, out *[]string) {
	for i := 0; i < int(decl.ChildCount()); i++ {
		if decl.Child(i).Type() == "asterisk" {
			return
		}
	}
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		if name := javaTypeName(decl.NamedChild(i), src); name != "" {
			*out = append(*out, name)
			return
		}
	}
}
