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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const typescriptTestSource = `import { ApiClient } from './client';
import * as utils from './utils';

/**
 * Handles user authentication.
 */
export class AuthService {
    /** Logs a user in. */
    async login(user: string, pass: string): Promise<boolean> {
        validateCredentials(user, pass);
        return this.api.post('/login');
    }

    logout(): void {}
}

export interface Credentials {
    user: string;
    pass: string;
}

export type SessionID = string;

export function validateCredentials(user: string, pass: string): void {
    if (!user) throw new Error("missing user");
}

export const hashToken = (token: string) => {
    return token.trim();
};

const MAX_RETRIES = 3;
`

func findSymbol(result *ParseResult, qualified string) *Symbol {
	for _, sym := range result.Symbols {
		if sym.QualifiedName == qualified {
			return sym
		}
	}
	return nil
}

func hasEdge(result *ParseResult, from, toName string, kind EdgeKind) bool {
	for _, e := range result.Edges {
		if e.From == from && e.ToName == toName && e.Kind == kind {
			return true
		}
	}
	return false
}

func TestTypeScriptParser_Parse_EmptyFile(t *testing.T) {
	parser := NewTypeScriptParser()
	result, err := parser.Parse(context.Background(), []byte(""), "empty.ts")
	require.NoError(t, err)
	assert.Equal(t, "typescript", result.Language)
	assert.Empty(t, result.Symbols)
	assert.NotEmpty(t, result.Hash, "expected content hash to be set even for empty input")
}

func TestTypeScriptParser_Parse_Symbols(t *testing.T) {
	parser := NewTypeScriptParser()
	result, err := parser.Parse(context.Background(), []byte(typescriptTestSource), "src/auth.ts")
	require.NoError(t, err)

	class := findSymbol(result, "AuthService")
	require.NotNil(t, class, "expected class 'AuthService'")
	assert.Equal(t, SymbolKindClass, class.Kind)
	assert.Equal(t, "src/auth.ts:AuthService", class.ID)
	assert.Contains(t, class.DocComment, "user authentication")

	login := findSymbol(result, "AuthService.login")
	require.NotNil(t, login, "expected method 'AuthService.login'")
	assert.Equal(t, SymbolKindMethod, login.Kind)
	assert.Equal(t, "login", login.Name)
	assert.Contains(t, login.DocComment, "Logs a user in")

	creds := findSymbol(result, "Credentials")
	require.NotNil(t, creds)
	assert.Equal(t, SymbolKindInterface, creds.Kind)
	session := findSymbol(result, "SessionID")
	require.NotNil(t, session)
	assert.Equal(t, SymbolKindType, session.Kind)
	validate := findSymbol(result, "validateCredentials")
	require.NotNil(t, validate)
	assert.Equal(t, SymbolKindFunction, validate.Kind)

	// Arrow functions bound to a const count as functions.
	hash := findSymbol(result, "hashToken")
	require.NotNil(t, hash)
	assert.Equal(t, SymbolKindFunction, hash.Kind)
	retries := findSymbol(result, "MAX_RETRIES")
	require.NotNil(t, retries)
	assert.Equal(t, SymbolKindConst, retries.Kind)
}

func TestTypeScriptParser_Parse_CallEdges(t *testing.T) {
	parser := NewTypeScriptParser()
	result, err := parser.Parse(context.Background(), []byte(typescriptTestSource), "src/auth.ts")
	require.NoError(t, err)

	assert.True(t, hasEdge(result, "src/auth.ts:AuthService.login", "validateCredentials", EdgeKindCalls),
		"expected call edge login -> validateCredentials")
	// Member call uses the final property name.
	assert.True(t, hasEdge(result, "src/auth.ts:AuthService.login", "post", EdgeKindCalls),
		"expected call edge login -> post")
}

func TestTypeScriptParser_Parse_ImportEdges(t *testing.T) {
	parser := NewTypeScriptParser()
	result, err := parser.Parse(context.Background(), []byte(typescriptTestSource), "src/auth.ts")
	require.NoError(t, err)

	// Import edges attach to the file's first symbol.
	first := result.Symbols[0].ID
	assert.True(t, hasEdge(result, first, "ApiClient", EdgeKindImports),
		"expected import edge for ApiClient")
	assert.True(t, hasEdge(result, first, "utils", EdgeKindImports),
		"expected import edge for namespace alias utils")
}

func TestTypeScriptParser_Parse_Heritage(t *testing.T) {
	source := `class Admin extends User implements Auditable {
    audit(): void {}
}
`
	parser := NewTypeScriptParser()
	result, err := parser.Parse(context.Background(), []byte(source), "admin.ts")
	require.NoError(t, err)
	assert.True(t, hasEdge(result, "admin.ts:Admin", "User", EdgeKindInherits),
		"expected inherits edge Admin -> User")
	assert.True(t, hasEdge(result, "admin.ts:Admin", "Auditable", EdgeKindImplements),
		"expected implements edge Admin -> Auditable")
}

func TestTypeScriptParser_Parse_SyntaxErrorIsPartial(t *testing.T) {
	source := `export function good(): void {}
export function broken( {{{
`
	parser := NewTypeScriptParser()
	result, err := parser.Parse(context.Background(), []byte(source), "broken.ts")
	require.NoError(t, err, "syntax errors must not fail the parse")
	assert.NotNil(t, findSymbol(result, "good"), "expected partial result to contain 'good'")
	assert.True(t, result.HasErrors(), "expected parse errors to be recorded")
}

func TestTypeScriptParser_Parse_RejectsOversizeAndBinary(t *testing.T) {
	parser := NewTypeScriptParser(WithTSMaxFileSize(16))
	_, err := parser.Parse(context.Background(), []byte(strings.Repeat("x", 32)), "big.ts")
	assert.Error(t, err, "expected error for oversize file")

	parser = NewTypeScriptParser()
	_, err = parser.Parse(context.Background(), []byte{0xff, 0xfe, 0x00, 0x80}, "bin.ts")
	assert.Error(t, err, "expected error for non-UTF-8 content")
}

func TestTypeScriptParser_Parse_JavaScript(t *testing.T) {
	source := `class Cart {
    total() {
        return sum(this.items);
    }
}

function sum(items) {
    return items.length;
}
`
	parser := NewTypeScriptParser()
	result, err := parser.Parse(context.Background(), []byte(source), "cart.js")
	require.NoError(t, err)
	assert.NotNil(t, findSymbol(result, "Cart.total"), "expected method 'Cart.total' from .js source")
	assert.True(t, hasEdge(result, "cart.js:Cart.total", "sum", EdgeKindCalls),
		"expected call edge total -> sum")
}

func TestTypeScriptParser_Parse_Deterministic(t *testing.T) {
	parser := NewTypeScriptParser()
	first, err := parser.Parse(context.Background(), []byte(typescriptTestSource), "src/auth.ts")
	require.NoError(t, err)
	second, err := parser.Parse(context.Background(), []byte(typescriptTestSource), "src/auth.ts")
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash, "expected identical hashes for identical content")
	require.Equal(t, len(first.Symbols), len(second.Symbols))
	for i := range first.Symbols {
		assert.Equal(t, first.Symbols[i].ID, second.Symbols[i].ID, "symbol order differs at %d", i)
	}
}
