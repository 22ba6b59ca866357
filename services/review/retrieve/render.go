// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package retrieve

import (
	"fmt"
	"strings"

	"github.com/ivoyant-eng/AgnusAi/services/review/ast"
)

const (
	// maxSymbolsPerSection keeps the rendered context near the prompt
	// token budget.
	maxSymbolsPerSection = 10

	// maxSignatureLen truncates pathological one-line signatures.
	maxSignatureLen = 120
)

// Markdown renders the context as the "Codebase Context" prompt section.
// Empty sub-sections are omitted; every symbol is a single line.
func (c *Context) Markdown() string {
	if c.Empty() {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Codebase Context\n")

	writeSymbols(&b, "Changed Symbols", c.ChangedSymbols)

	if c.BlastRadius != nil && c.BlastRadius.RiskScore > 0 {
		fmt.Fprintf(&b, "\n### Blast Radius\nRisk score: %d/100, %d direct caller(s), %d affected file(s).\n",
			c.BlastRadius.RiskScore, len(c.BlastRadius.DirectCallers), len(c.BlastRadius.AffectedFiles))
		for i, f := range c.BlastRadius.AffectedFiles {
			if i == maxSymbolsPerSection {
				fmt.Fprintf(&b, "- (%d more)\n", len(c.BlastRadius.AffectedFiles)-i)
				break
			}
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}

	writeSymbols(&b, "Direct Callers (1 hop)", c.DirectCallers)
	writeSymbols(&b, "Transitive Callers (2 hops)", c.TransitiveCallers)
	writeSymbols(&b, "Callees", c.Callees)
	writeSymbols(&b, "Semantic Neighbors", c.SemanticNeighbors)
	writeExamples(&b, "Examples your team found helpful", c.PriorExamples)
	writeExamples(&b, "Examples your team found NOT helpful", c.RejectedExamples)

	return b.String()
}

func writeSymbols(b *strings.Builder, title string, symbols []*ast.Symbol) {
	if len(symbols) == 0 {
		return
	}
	fmt.Fprintf(b, "\n### %s\n", title)
	for i, s := range symbols {
		if i == maxSymbolsPerSection {
			fmt.Fprintf(b, "- (%d more)\n", len(symbols)-i)
			break
		}
		b.WriteString(symbolLine(s))
	}
}

func symbolLine(s *ast.Symbol) string {
	sig := strings.Join(strings.Fields(s.Signature), " ")
	if len(sig) > maxSignatureLen {
		sig = sig[:maxSignatureLen] + "..."
	}
	if sig == "" {
		return fmt.Sprintf("- `%s` (%s) in %s\n", s.QualifiedName, s.Kind, s.FilePath)
	}
	return fmt.Sprintf("- `%s` (%s): `%s`\n", s.QualifiedName, s.Kind, sig)
}

func writeExamples(b *strings.Builder, title string, examples []string) {
	if len(examples) == 0 {
		return
	}
	fmt.Fprintf(b, "\n### %s\n", title)
	for _, ex := range examples {
		fmt.Fprintf(b, "- %s\n", strings.ReplaceAll(strings.TrimSpace(ex), "\n", " "))
	}
}
