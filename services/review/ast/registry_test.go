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

func TestRegistry_Supported(t *testing.T) {
	r := NewRegistry()

	supported := []string{
		"src/app.ts", "src/App.tsx", "lib/index.js", "pages/home.jsx",
		"billing/invoice.py", "com/example/Main.java", "Service.cs",
		"internal/server/server.go",
	}
	for _, p := range supported {
		assert.True(t, r.Supported(p), "expected %q to be supported", p)
	}

	unsupported := []string{
		"README.md", "style.css", "node_modules/left-pad/index.js",
		"dist/app.js", "__pycache__/mod.py", "vendor.min.js",
		"api.pb.go", "package-lock.json", "src/schema.generated.ts",
	}
	for _, p := range unsupported {
		assert.False(t, r.Supported(p), "expected %q to be skipped", p)
	}
}

func TestRegistry_Parse_UnsupportedLanguage(t *testing.T) {
	r := NewRegistry()
	_, err := r.Parse(context.Background(), []byte("body {}"), "style.css")
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
}

func TestRegistry_Parse_DispatchesByExtension(t *testing.T) {
	r := NewRegistry()

	cases := []struct {
		path     string
		source   string
		language string
	}{
		{"a.ts", "export function f(): void {}", "typescript"},
		{"a.py", "def f():\n    pass\n", "python"},
		{"A.java", "class A { void f() {} }", "java"},
		{"A.cs", "class A { void F() {} }", "csharp"},
		{"a.go", "package a\n\nfunc f() {}\n", "go"},
	}
	for _, tc := range cases {
		result, err := r.Parse(context.Background(), []byte(tc.source), tc.path)
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.language, result.Language, tc.path)
		assert.NotEmpty(t, result.Symbols, "%s: expected at least one symbol", tc.path)
	}
}

func TestGenerateID(t *testing.T) {
	assert.Equal(t, "src/auth.ts:AuthService.login", GenerateID("src/auth.ts", "AuthService.login"))
}

func TestSymbol_Validate(t *testing.T) {
	valid := &Symbol{Name: "f", FilePath: "a.go", StartLine: 1, EndLine: 2}
	assert.NoError(t, valid.Validate())

	bad := []*Symbol{
		{FilePath: "a.go", StartLine: 1, EndLine: 1},
		{Name: "f", StartLine: 1, EndLine: 1},
		{Name: "f", FilePath: "../a.go", StartLine: 1, EndLine: 1},
		{Name: "f", FilePath: "a.go", StartLine: 0, EndLine: 1},
		{Name: "f", FilePath: "a.go", StartLine: 5, EndLine: 2},
	}
	for i, s := range bad {
		assert.Error(t, s.Validate(), "case %d", i)
	}
}
