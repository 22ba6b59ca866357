// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package storage persists symbols, edges, graph snapshots, embeddings,
// reviews, comments and feedback signals. The canonical implementation is
// BadgerStore; the Store interface exists so tests and alternative backends
// can swap in.
package storage

import (
	"context"
	"errors"

	"github.com/ivoyant-eng/AgnusAi/services/review/ast"
)

// Sentinel errors returned by stores.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrCorruptSnapshot is returned when a snapshot fails its integrity
	// check on load.
	ErrCorruptSnapshot = errors.New("snapshot content hash mismatch")
)

// FeedbackSignal is a reviewer's verdict on one posted comment.
type FeedbackSignal string

// Feedback signals. Latest write wins; signals are never deleted.
const (
	FeedbackAccepted FeedbackSignal = "accepted"
	FeedbackRejected FeedbackSignal = "rejected"
)

// Review is one completed review of a PR.
type Review struct {
	ID             string `json:"id"`
	RepoID         string `json:"repo_id"`
	Branch         string `json:"branch"`
	PRID           string `json:"pr_id"`
	Summary        string `json:"summary"`
	Verdict        string `json:"verdict"`
	CommentCount   int    `json:"comment_count"`
	HeadSHA        string `json:"head_sha"`
	CreatedAtMilli int64  `json:"created_at_milli"`
}

// Comment is one posted inline comment, kept for the feedback loop. The
// embedding, when present, lets the retriever find similar past comments.
type Comment struct {
	ID             string    `json:"id"`
	ReviewID       string    `json:"review_id"`
	RepoID         string    `json:"repo_id"`
	PRID           string    `json:"pr_id"`
	Path           string    `json:"path"`
	Line           int       `json:"line"`
	Body           string    `json:"body"`
	Severity       string    `json:"severity"`
	Confidence     float64   `json:"confidence,omitempty"`
	Embedding      []float32 `json:"embedding,omitempty"`
	CreatedAtMilli int64     `json:"created_at_milli"`
}

// SnapshotMeta describes a stored graph snapshot.
type SnapshotMeta struct {
	RepoID         string `json:"repo_id"`
	Branch         string `json:"branch"`
	SymbolCount    int    `json:"symbol_count"`
	EdgeCount      int    `json:"edge_count"`
	CompressedSize int64  `json:"compressed_size"`
	ContentHash    string `json:"content_hash"`
	CreatedAtMilli int64  `json:"created_at_milli"`
}

// Store is the durable persistence contract for the review core.
//
// All write operations are upserts. Deletions are scoped by filePath for
// incremental updates and by repoId for deregistration.
type Store interface {
	// Symbols and edges.
	SaveSymbols(ctx context.Context, repoID, branch string, symbols []*ast.Symbol) error
	SaveEdges(ctx context.Context, repoID, branch string, edges []ast.Edge) error
	DeleteFileSymbols(ctx context.Context, repoID, branch, filePath string) error

	// Graph snapshots, one per (repo, branch), gzip-compressed with an
	// integrity hash.
	SaveSnapshot(ctx context.Context, repoID, branch string, blob []byte) (*SnapshotMeta, error)
	LoadSnapshot(ctx context.Context, repoID, branch string) ([]byte, error)

	// Symbol embeddings.
	SaveEmbedding(ctx context.Context, repoID, branch, symbolID string, vec []float32) error
	DeleteFileEmbeddings(ctx context.Context, repoID, branch string, symbolIDs []string) error

	// Reviews and comments.
	SaveReview(ctx context.Context, r *Review) error
	SaveComment(ctx context.Context, c *Comment) error
	ListComments(ctx context.Context, repoID string) ([]*Comment, error)

	// Feedback signals, keyed by comment id, latest wins.
	SetFeedback(ctx context.Context, commentID string, signal FeedbackSignal) error
	GetFeedback(ctx context.Context, commentID string) (FeedbackSignal, error)

	// DeleteRepo removes every record scoped to the repo.
	DeleteRepo(ctx context.Context, repoID string) error

	// Close releases the underlying database.
	Close() error
}
