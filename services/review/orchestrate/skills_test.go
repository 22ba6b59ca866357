// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSkill(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadSkills(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "typescript.txt", "match: **/*.ts\nPrefer const over let.")
	writeSkill(t, dir, "sql.md", "match: **/*.sql\nAlways use parameterised queries.")
	writeSkill(t, dir, "general.txt", "Keep functions under 50 lines.")
	writeSkill(t, dir, "broken.txt", "match: *.py\n")
	writeSkill(t, dir, "ignored.yaml", "not a skill")

	s, err := LoadSkills(dir, discard())
	require.NoError(t, err)

	t.Run("matching by glob", func(t *testing.T) {
		got := s.Matching([]string{"src/app.ts"})
		require.Len(t, got, 2, "expected typescript and general skills, got %v", got)
		assert.Equal(t, "general.txt", got[0].Name)
		assert.Equal(t, "typescript.txt", got[1].Name)
	})

	t.Run("no match", func(t *testing.T) {
		got := s.Matching([]string{"schema.graphql"})
		require.Len(t, got, 1, "only the headerless skill should match, got %v", got)
		assert.Equal(t, "general.txt", got[0].Name)
	})

	t.Run("empty snippet skipped", func(t *testing.T) {
		for _, skill := range s.Matching([]string{"script.py"}) {
			assert.NotEqual(t, "broken.txt", skill.Name, "skill with empty snippet must be skipped")
		}
	})

	t.Run("empty dir yields empty set", func(t *testing.T) {
		s, err := LoadSkills("", discard())
		require.NoError(t, err)
		assert.Empty(t, s.Matching([]string{"src/app.ts"}))
	})

	t.Run("missing dir yields empty set", func(t *testing.T) {
		s, err := LoadSkills(filepath.Join(dir, "does-not-exist"), discard())
		require.NoError(t, err)
		assert.Empty(t, s.Matching([]string{"src/app.ts"}))
	})
}

func TestMatchGlob(t *testing.T) {
	cases := []struct {
		pattern, path string
		want          bool
	}{
		{"*", "anything/at/all.go", true},
		{"*.ts", "src/app.ts", true},
		{"*.ts", "src/app.go", false},
		{"**/*.ts", "deep/nested/app.ts", true},
		{"src/*.ts", "src/app.ts", true},
		{"src/*.ts", "other/app.ts", false},
		{"**/migrations/*.sql", "db/migrations/001.sql", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, matchGlob(tc.pattern, tc.path), "matchGlob(%q, %q)", tc.pattern, tc.path)
	}
}
