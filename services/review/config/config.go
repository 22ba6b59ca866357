// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the server configuration. Settings
// come from a YAML file; secrets come from the environment and override
// anything in the file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment variables carrying secrets. They always win over the file.
const (
	EnvWebhookSecret  = "AGNUSAI_WEBHOOK_SECRET"
	EnvFeedbackSecret = "AGNUSAI_FEEDBACK_SECRET"
	EnvGitHubToken    = "GITHUB_TOKEN"
	EnvLLMToken       = "OPENAI_API_KEY"
)

// Config is the full server configuration.
//
// Thread Safety: Immutable after Load; safe for concurrent use.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Review    ReviewConfig    `yaml:"review"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Storage   StorageConfig   `yaml:"storage"`
	Repos     []RepoConfig    `yaml:"repos" validate:"dive"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Listen is the host:port the server binds.
	Listen string `yaml:"listen" validate:"required,hostname_port"`

	// BaseURL is the externally reachable URL used in feedback links.
	// Empty disables feedback links.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`

	// WebhookSecret verifies webhook signatures. Env only.
	WebhookSecret string `yaml:"-"`

	// FeedbackSecret signs feedback tokens. Env only. Empty disables
	// feedback links.
	FeedbackSecret string `yaml:"-"`

	// MaxConcurrentTasks bounds background indexing and review tasks.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks" validate:"gte=0,lte=256"`

	// SkillsDir holds team review rule snippets. Empty disables skills.
	SkillsDir string `yaml:"skills_dir"`
}

// ReviewConfig tunes the review pipeline.
type ReviewConfig struct {
	Depth              string  `yaml:"depth" validate:"oneof=fast standard deep"`
	PrecisionThreshold float64 `yaml:"precision_threshold" validate:"gte=0,lte=1"`
	MaxDiffSize        int     `yaml:"max_diff_size" validate:"gte=0"`
}

// LLMConfig configures the model backend.
type LLMConfig struct {
	Model             string        `yaml:"model" validate:"required"`
	BaseURL           string        `yaml:"base_url" validate:"omitempty,url"`
	Token             string        `yaml:"-"`
	Timeout           time.Duration `yaml:"timeout" validate:"gte=0"`
	MaxTokens         int           `yaml:"max_tokens" validate:"gte=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
}

// EmbeddingConfig configures the embedding adapter and vector index.
type EmbeddingConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Model          string `yaml:"model"`
	Dim            int    `yaml:"dim" validate:"gte=0"`
	WeaviateHost   string `yaml:"weaviate_host" validate:"required_if=Enabled true"`
	WeaviateScheme string `yaml:"weaviate_scheme" validate:"omitempty,oneof=http https"`
}

// StorageConfig configures the local key-value store.
type StorageConfig struct {
	// Path is the badger directory. Empty means in-memory, for tests.
	Path string `yaml:"path"`
}

// RepoConfig registers one repository for review.
type RepoConfig struct {
	// ID is the stable repo identifier, e.g. "acme/payments".
	ID string `yaml:"id" validate:"required"`

	// Owner and Name locate the repo on the host.
	Owner string `yaml:"owner" validate:"required"`
	Name  string `yaml:"name" validate:"required"`

	// Branch is the indexed branch.
	Branch string `yaml:"branch"`

	// Root is the local checkout used for full indexing.
	Root string `yaml:"root"`

	// Token is the host API token. Env only.
	Token string `yaml:"-"`
}

// Load reads, defaults, env-overrides and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = "0.0.0.0:8080"
	}
	if c.Server.MaxConcurrentTasks == 0 {
		c.Server.MaxConcurrentTasks = 4
	}
	if c.Review.Depth == "" {
		c.Review.Depth = "standard"
	}
	if c.Review.PrecisionThreshold == 0 {
		c.Review.PrecisionThreshold = 0.7
	}
	if c.Review.MaxDiffSize == 0 {
		c.Review.MaxDiffSize = 50000
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 3 * time.Minute
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "text-embedding-3-small"
	}
	if c.Embedding.Dim == 0 {
		c.Embedding.Dim = 1536
	}
	if c.Embedding.WeaviateScheme == "" {
		c.Embedding.WeaviateScheme = "http"
	}
	for i := range c.Repos {
		if c.Repos[i].Branch == "" {
			c.Repos[i].Branch = "main"
		}
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvWebhookSecret); v != "" {
		c.Server.WebhookSecret = v
	}
	if v := os.Getenv(EnvFeedbackSecret); v != "" {
		c.Server.FeedbackSecret = v
	}
	if v := os.Getenv(EnvLLMToken); v != "" {
		c.LLM.Token = v
	}
	if v := os.Getenv(EnvGitHubToken); v != "" {
		for i := range c.Repos {
			if c.Repos[i].Token == "" {
				c.Repos[i].Token = v
			}
		}
	}
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
