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
	"github.com/smacker/go-tree-sitter/golang"
)

// GoParser extracts symbols from Go sources.
//
// Methods are qualified by their receiver's base type (pointer stripped),
// so `func (s *Server) Start()` yields "Server.Start". Interface
// satisfaction is implicit in Go and produces no implements edges; struct
// embedding of a named type produces a uses edge.
type GoParser struct {
	maxFileSize int64
}

// GoOption configures a GoParser.
type GoOption func(*GoParser)

// WithGoMaxFileSize overrides the default file size limit.
func WithGoMaxFileSize(n int64) GoOption {
	return func(p *GoParser) { p.maxFileSize = n }
}

// NewGoParser creates a Go parser.
func NewGoParser(opts ...GoOption) *GoParser {
	p := &GoParser{maxFileSize: DefaultMaxFileSize}
	for _, opt := range opts {
		opt(p)
	}
	_ = golang.GetLanguage()
	return p
}

// Language returns "go".
func (p *GoParser) Language() string { return "go" }

// Parse extracts symbols and edges from one Go file.
func (p *GoParser) Parse(ctx context.Context, content []byte, filePath string) (*ParseResult, error) {
	ctx, span := startParseSpan(ctx, p.Language(), filePath, len(content))
	defer span.End()
	start := time.Now()

	tree, result, err := prepareParse(ctx, golang.GetLanguage(), p.Language(), content, filePath, p.maxFileSize)
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
		case "function_declaration":
			p.extractFunc(node, content, filePath, "", result)
		case "method_declaration":
			p.extractFunc(node, content, filePath, goReceiverType(node, content), result)
		case "type_declaration":
			p.extractTypes(node, content, filePath, result)
		case "const_declaration", "var_declaration":
			p.extractConsts(node, content, filePath, result)
		case "import_declaration":
			collectGoImportNames(node, content, &imports)
		}
	}
	attachImportEdges(result, imports)

	recordParseMetrics(ctx, p.Language(), time.Since(start), len(result.Symbols), true)
	return result, nil
}

func (p *GoParser) extractFunc(decl *sitter.Node, src []byte, filePath, receiver string, result *ParseResult) {
	name := nodeText(decl.ChildByFieldName("name"), src)
	if name == "" {
		return
	}
	qualified := name
	kind := SymbolKindFunction
	if receiver != "" {
		qualified = receiver + "." + name
		kind = SymbolKindMethod
	}
	body := decl.ChildByFieldName("body")
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
		DocComment:    leadingComment(decl, src),
	}
	result.Symbols = append(result.Symbols, sym)
	collectCalls(body, src, sym.ID, goCallee, &result.Edges)
}

func (p *GoParser) extractTypes(decl *sitter.Node, src []byte, filePath string, result *ParseResult) {
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		spec := decl.NamedChild(i)
		if spec.Type() != "type_spec" {
			continue
		}
		name := nodeText(spec.ChildByFieldName("name"), src)
		if name == "" {
			continue
		}
		typeNode := spec.ChildByFieldName("type")
		kind := SymbolKindType
		if typeNode != nil && typeNode.Type() == "interface_type" {
			kind = SymbolKindInterface
		}
		startLine, endLine := lineRange(spec)
		sym := &Symbol{
			ID:            GenerateID(filePath, name),
			FilePath:      filePath,
			Name:          name,
			QualifiedName: name,
			Kind:          kind,
			Signature:     "type " + name + " " + goTypeHead(typeNode, src),
			StartLine:     startLine,
			EndLine:       endLine,
			DocComment:    leadingComment(decl, src),
		}
		result.Symbols = append(result.Symbols, sym)

		// Struct embedding of a named type is the closest Go has to
		// inheritance; record it as a uses edge.
		if typeNode != nil && typeNode.Type() == "struct_type" {
			collectGoEmbedded(typeNode, src, sym.ID, result)
		}
	}
}

func (p *GoParser) extractConsts(decl *sitter.Node, src []byte, filePath string, result *ParseResult) {
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		spec := decl.NamedChild(i)
		if spec.Type() != "const_spec" && spec.Type() != "var_spec" {
			continue
		}
		nameNode := spec.ChildByFieldName("name")
		if nameNode == nil || nameNode.Type() != "identifier" {
			continue
		}
		name := nameNode.Content(src)
		startLine, endLine := lineRange(spec)
		result.Symbols = append(result.Symbols, &Symbol{
			ID:            GenerateID(filePath, name),
			FilePath:      filePath,
			Name:          name,
			QualifiedName: name,
			Kind:          SymbolKindConst,
			Signature:     strings.Join(strings.Fields(spec.Content(src)), " "),
			StartLine:     startLine,
			EndLine:       endLine,
			DocComment:    leadingComment(decl, src),
		})
	}
}

// goReceiverType returns the receiver's base type name, pointer stripped.
func goReceiverType(decl *sitter.Node, src []byte) string {
	recv := decl.ChildByFieldName("receiver")
	if recv == nil || recv.NamedChildCount() == 0 {
		return ""
	}
	param := recv.NamedChild(0)
	t := param.ChildByFieldName("type")
	for t != nil {
		switch t.Type() {
		case "pointer_type", "generic_type":
			t = t.NamedChild(0)
		case "type_identifier":
			return t.Content(src)
		default:
			return ""
		}
	}
	return ""
}

// goTypeHead renders a short head for a type spec signature.
func goTypeHead(t *sitter.Node, src []byte) string {
	if t == nil {
		return ""
	}
	switch t.Type() {
	case "struct_type":
		return "struct"
	case "interface_type":
		return "interface"
	default:
		text := t.Content(src)
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[:i]
		}
		return strings.TrimSpace(text)
	}
}

// goCallee returns the bare callee name for a call_expression, or "".
func goCallee(n *sitter.Node, src []byte) string {
	if n.Type() != "call_expression" {
		return ""
	}
	fn := n.ChildByFieldName("function")
	for fn != nil {
		switch fn.Type() {
		case "identifier":
			return fn.Content(src)
		case "selector_expression":
			fn = fn.ChildByFieldName("field")
		case "field_identifier":
			return fn.Content(src)
		case "parenthesized_expression":
			fn = fn.NamedChild(0)
		default:
			return ""
		}
	}
	return ""
}

// collectGoEmbedded emits uses edges for embedded fields in a struct body.
func collectGoEmbedded(structType *sitter.Node, src []byte, fromID string, result *ParseResult) {
	var body *sitter.Node
	for i := 0; i < int(structType.NamedChildCount()); i++ {
		if structType.NamedChild(i).Type() == "field_declaration_list" {
			body = structType.NamedChild(i)
			break
		}
	}
	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		field := body.NamedChild(i)
		if field.Type() != "field_declaration" {
			continue
		}
		// Embedded fields have a type but no name.
		if field.ChildByFieldName("name") != nil {
			continue
		}
		t := field.ChildByFieldName("type")
		for t != nil && (t.Type() == "pointer_type" || t.Type() == "qualified_type") {
			t = t.NamedChild(int(t.NamedChildCount()) - 1)
		}
		if t != nil && t.Type() == "type_identifier" {
			result.Edges = append(result.Edges, Edge{From: fromID, ToName: t.Content(src), Kind: EdgeKindUses})
		}
	}
}

// collectGoImportNames records the local name each import binds: the alias
// when present, otherwise the final path component.
func collectGoImportNames(decl *sitter.Node, src []byte, out *[]string) {
	var handleSpec func(spec *sitter.Node)
	handleSpec = func(spec *sitter.Node) {
		switch spec.Type() {
		case "import_spec_list":
			for i := 0; i < int(spec.NamedChildCount()); i++ {
				handleSpec(spec.NamedChild(i))
			}
		case "import_spec":
			if name := spec.ChildByFieldName("name"); name != nil {
				text := name.Content(src)
				if text != "_" && text != "." {
					*out = append(*out, text)
				}
				return
			}
			path := strings.Trim(nodeText(spec.ChildByFieldName("path"), src), `"`)
			if i := strings.LastIndexByte(path, '/'); i >= 0 {
				path = path[i+1:]
			}
			if path != "" {
				*out = append(*out, path)
			}
		}
	}
	for i := 0; i < int(decl.NamedChildCount()); i++ {
		handleSpec(decl.NamedChild(i))
	}
}
