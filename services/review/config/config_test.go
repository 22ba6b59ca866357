// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
server:
  listen: "127.0.0.1:9090"
llm:
  model: "gpt-4o"
repos:
  - id: "acme/payments"
    owner: "acme"
    name: "payments"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Listen)
	assert.Equal(t, "gpt-4o", cfg.LLM.Model)

	t.Run("defaults applied", func(t *testing.T) {
		assert.Equal(t, "standard", cfg.Review.Depth)
		assert.Equal(t, 0.7, cfg.Review.PrecisionThreshold)
		assert.Equal(t, 50000, cfg.Review.MaxDiffSize)
		assert.Equal(t, 3*time.Minute, cfg.LLM.Timeout)
		assert.Equal(t, "main", cfg.Repos[0].Branch)
	})
}

func TestLoad_EnvSecrets(t *testing.T) {
	t.Setenv(EnvWebhookSecret, "hooksecret")
	t.Setenv(EnvFeedbackSecret, "fbsecret")
	t.Setenv(EnvGitHubToken, "ghp_token")
	t.Setenv(EnvLLMToken, "sk-token")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "hooksecret", cfg.Server.WebhookSecret)
	assert.Equal(t, "fbsecret", cfg.Server.FeedbackSecret)
	assert.Equal(t, "sk-token", cfg.LLM.Token)
	assert.Equal(t, "ghp_token", cfg.Repos[0].Token, "repo token must fall back to GITHUB_TOKEN")
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad depth": `
server:
  listen: "127.0.0.1:9090"
review:
  depth: "ludicrous"
llm:
  model: "gpt-4o"
`,
		"threshold out of range": `
server:
  listen: "127.0.0.1:9090"
review:
  precision_threshold: 1.5
llm:
  model: "gpt-4o"
`,
		"repo missing owner": `
server:
  listen: "127.0.0.1:9090"
llm:
  model: "gpt-4o"
repos:
  - id: "acme/payments"
    name: "payments"
`,
		"bad listen": `
server:
  listen: "not a hostport"
llm:
  model: "gpt-4o"
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err, "expected validation error")
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
