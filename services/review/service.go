// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package review wires the review core together and exposes it over
// HTTP: webhook intake, feedback collection, index status, health and
// metrics.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"github.com/ivoyant-eng/AgnusAi/services/review/ast"
	"github.com/ivoyant-eng/AgnusAi/services/review/cache"
	"github.com/ivoyant-eng/AgnusAi/services/review/config"
	"github.com/ivoyant-eng/AgnusAi/services/review/embed"
	"github.com/ivoyant-eng/AgnusAi/services/review/feedback"
	"github.com/ivoyant-eng/AgnusAi/services/review/indexer"
	"github.com/ivoyant-eng/AgnusAi/services/review/llm"
	"github.com/ivoyant-eng/AgnusAi/services/review/orchestrate"
	"github.com/ivoyant-eng/AgnusAi/services/review/retrieve"
	"github.com/ivoyant-eng/AgnusAi/services/review/storage"
	"github.com/ivoyant-eng/AgnusAi/services/review/vcs"
)

// Service owns the per-repo review pipeline: graph cache, adapters and
// orchestrators.
//
// Thread Safety: Safe for concurrent use. Per-(repo, branch) write
// serialisation happens inside the cache entries.
type Service struct {
	cfg    *config.Config
	store  storage.Store
	logger *slog.Logger

	cache   *cache.Cache
	backend llm.Backend
	signer  *feedback.Signer
	skills  *orchestrate.SkillSet

	embedder embed.Embedder
	vectors  *embed.VectorIndex

	repos map[string]config.RepoConfig
	hosts map[string]vcs.Adapter
}

// NewService builds the pipeline from configuration.
func NewService(cfg *config.Config, store storage.Store, logger *slog.Logger) (*Service, error) {
	if cfg == nil || store == nil {
		return nil, fmt.Errorf("config and store must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	backendOpts := []llm.BackendOption{
		llm.WithModel(cfg.LLM.Model),
		llm.WithTimeout(cfg.LLM.Timeout),
	}
	if cfg.LLM.BaseURL != "" {
		backendOpts = append(backendOpts, llm.WithBaseURL(cfg.LLM.BaseURL))
	}
	if cfg.LLM.Token != "" {
		backendOpts = append(backendOpts, llm.WithToken(cfg.LLM.Token))
	}
	if cfg.LLM.MaxTokens > 0 {
		backendOpts = append(backendOpts, llm.WithMaxTokens(cfg.LLM.MaxTokens))
	}
	if cfg.LLM.RequestsPerSecond > 0 {
		backendOpts = append(backendOpts, llm.WithRequestsPerSecond(cfg.LLM.RequestsPerSecond))
	}
	backend, err := llm.NewLangChainBackend(logger, backendOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create model backend: %w", err)
	}

	s := &Service{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		backend: backend,
		signer:  feedback.NewSigner(cfg.Server.FeedbackSecret, cfg.Server.BaseURL),
		repos:   make(map[string]config.RepoConfig),
		hosts:   make(map[string]vcs.Adapter),
	}

	s.skills, err = orchestrate.LoadSkills(cfg.Server.SkillsDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load skills: %w", err)
	}

	var cacheOpts []cache.Option
	if cfg.Embedding.Enabled {
		if err := s.initEmbedding(); err != nil {
			return nil, err
		}
		cacheOpts = append(cacheOpts, cache.WithEmbedding(s.embedder, s.vectors))
	}
	s.cache, err = cache.NewCache(ast.NewRegistry(), store, logger, cacheOpts...)
	if err != nil {
		return nil, err
	}

	for _, rc := range cfg.Repos {
		var hostOpts []vcs.GitHubOption
		if rc.Token != "" {
			hostOpts = append(hostOpts, vcs.WithGitHubToken(rc.Token))
		}
		host, err := vcs.NewGitHubAdapter(rc.Owner, rc.Name, logger, hostOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create adapter for %s: %w", rc.ID, err)
		}
		s.repos[rc.ID] = rc
		s.hosts[rc.ID] = host
	}
	return s, nil
}

func (s *Service) initEmbedding() error {
	embOpts := []embed.OpenAIOption{
		embed.WithModel(s.cfg.Embedding.Model),
		embed.WithDim(s.cfg.Embedding.Dim),
	}
	if s.cfg.LLM.BaseURL != "" {
		embOpts = append(embOpts, embed.WithBaseURL(s.cfg.LLM.BaseURL))
	}
	if s.cfg.LLM.Token != "" {
		embOpts = append(embOpts, embed.WithToken(s.cfg.LLM.Token))
	}
	embedder, err := embed.NewOpenAIEmbedder(embOpts...)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   s.cfg.Embedding.WeaviateHost,
		Scheme: s.cfg.Embedding.WeaviateScheme,
	})
	if err != nil {
		return fmt.Errorf("failed to create weaviate client: %w", err)
	}
	vectors, err := embed.NewVectorIndex(client, embedder.Dim(), s.logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	recreated, err := vectors.EnsureSchema(ctx)
	if err != nil {
		return fmt.Errorf("failed to ensure vector schema: %w", err)
	}
	if recreated {
		s.logger.Warn("vector schema recreated, existing embeddings were dropped; reindex required")
	}

	s.embedder = embedder
	s.vectors = vectors
	return nil
}

// WatchSkills starts hot-reloading the skills directory until ctx is
// cancelled.
func (s *Service) WatchSkills(ctx context.Context) error {
	return s.skills.Watch(ctx)
}

// KnownRepo reports whether a repo id is registered.
func (s *Service) KnownRepo(repoID string) bool {
	_, ok := s.repos[repoID]
	return ok
}

// Review runs one PR review task for a registered repo.
func (s *Service) Review(ctx context.Context, repoID, prID string, incremental bool) error {
	rc, ok := s.repos[repoID]
	if !ok {
		return fmt.Errorf("unknown repo %s", repoID)
	}
	entry, err := s.cache.Get(ctx, repoID, rc.Branch, rc.Root)
	if err != nil {
		return err
	}

	return entry.RunReview(func(r *retrieve.Retriever) error {
		opts := []orchestrate.Option{
			orchestrate.WithRetriever(r),
			orchestrate.WithSkills(s.skills),
			orchestrate.WithSigner(s.signer),
			orchestrate.WithDepth(retrieve.Depth(s.cfg.Review.Depth)),
			orchestrate.WithPrecisionThreshold(s.cfg.Review.PrecisionThreshold),
			orchestrate.WithMaxDiffSize(s.cfg.Review.MaxDiffSize),
		}
		if s.embedder != nil {
			opts = append(opts, orchestrate.WithCommentEmbedder(s.embedder))
		}
		o, err := orchestrate.New(repoID, rc.Branch, s.hosts[repoID], s.backend, s.store, s.logger, opts...)
		if err != nil {
			return err
		}
		return o.ReviewPR(ctx, prID, incremental)
	})
}

// Index updates a registered repo's graph: a full index when no changed
// files are given, an incremental batch otherwise.
func (s *Service) Index(ctx context.Context, repoID string, changedFiles []string) error {
	rc, ok := s.repos[repoID]
	if !ok {
		return fmt.Errorf("unknown repo %s", repoID)
	}
	entry, err := s.cache.Get(ctx, repoID, rc.Branch, rc.Root)
	if err != nil {
		return err
	}
	return entry.RunIndex(func(ix *indexer.Indexer) error {
		if len(changedFiles) == 0 {
			return ix.FullIndex(ctx, rc.Root)
		}
		return ix.IncrementalUpdate(ctx, rc.Root, changedFiles)
	})
}

// Evict deregisters a repo's loaded and stored state.
func (s *Service) Evict(ctx context.Context, repoID string) error {
	return s.cache.Evict(ctx, repoID)
}

// Feedback records a verified feedback signal.
func (s *Service) Feedback(ctx context.Context, commentID, signal, token string) error {
	if err := s.signer.Verify(commentID, signal, token); err != nil {
		return err
	}
	return s.store.SetFeedback(ctx, commentID, storage.FeedbackSignal(signal))
}
