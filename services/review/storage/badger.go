// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package storage

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ivoyant-eng/AgnusAi/services/review/ast"
)

// BadgerDB key prefixes. Every key starts with "review:" so other data in
// a shared DB is never touched by DeleteRepo.
const (
	keyPrefixSymbol   = "review:sym:"
	keyPrefixEdge     = "review:edge:"
	keyPrefixSnap     = "review:snap:"
	keyPrefixVec      = "review:vec:"
	keyPrefixReview   = "review:review:"
	keyPrefixComment  = "review:comment:"
	keyPrefixFeedback = "review:feedback:"

	keySuffixData = ":data"
	keySuffixMeta = ":meta"
)

// BadgerStore is the BadgerDB-backed Store implementation.
//
// Description:
//
//	Stores all records as JSON values under typed key prefixes. Graph
//	snapshots are gzip-compressed and carry a SHA-256 content hash that is
//	verified on load.
//
// Thread Safety:
//
//	Safe for concurrent use. BadgerDB handles its own concurrency control.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewBadgerStore creates a store on an opened BadgerDB instance.
//
// Inputs:
//
//	db - An opened BadgerDB instance. Must not be nil.
//	logger - Logger for diagnostic output. Must not be nil.
func NewBadgerStore(db *badger.DB, logger *slog.Logger) (*BadgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("badger db must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &BadgerStore{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func scopeKey(prefix, repoID, branch, rest string) []byte {
	return []byte(prefix + repoID + ":" + branch + ":" + rest)
}

func (s *BadgerStore) putJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *BadgerStore) getJSON(key []byte, v any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

// deletePrefix removes every key under a prefix, optionally filtered.
func (s *BadgerStore) deletePrefix(prefix []byte, keep func(key, val []byte) bool) error {
	// Collect first, delete in batches; deleting while iterating is not
	// supported by badger iterators.
	var doomed [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			if keep != nil {
				val, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				if keep(key, val) {
					continue
				}
			}
			doomed = append(doomed, key)
		}
		return nil
	})
	if err != nil {
		return err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range doomed {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// SaveSymbols upserts a batch of symbols scoped to (repo, branch).
func (s *BadgerStore) SaveSymbols(ctx context.Context, repoID, branch string, symbols []*ast.Symbol) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, sym := range symbols {
		data, err := json.Marshal(sym)
		if err != nil {
			return fmt.Errorf("failed to encode symbol %s: %w", sym.ID, err)
		}
		if err := wb.Set(scopeKey(keyPrefixSymbol, repoID, branch, sym.ID), data); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// SaveEdges upserts a batch of resolved edges scoped to (repo, branch).
// Unresolved edges are a transient parser state and are skipped.
func (s *BadgerStore) SaveEdges(ctx context.Context, repoID, branch string, edges []ast.Edge) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, e := range edges {
		if !e.Resolved() {
			continue
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to encode edge: %w", err)
		}
		rest := e.From + "|" + e.To + "|" + string(e.Kind)
		if err := wb.Set(scopeKey(keyPrefixEdge, repoID, branch, rest), data); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// DeleteFileSymbols removes stored symbols whose FilePath matches, plus
// edges touching them.
func (s *BadgerStore) DeleteFileSymbols(ctx context.Context, repoID, branch, filePath string) error {
	// Symbol ids start with the file path, so both the symbol keys and the
	// edge endpoints can be matched by prefix.
	idPrefix := filePath + ":"

	symPrefix := scopeKey(keyPrefixSymbol, repoID, branch, idPrefix)
	if err := s.deletePrefix(symPrefix, nil); err != nil {
		return fmt.Errorf("failed to delete symbols for %s: %w", filePath, err)
	}

	edgePrefix := scopeKey(keyPrefixEdge, repoID, branch, "")
	return s.deletePrefix(edgePrefix, func(key, val []byte) bool {
		var e ast.Edge
		if err := json.Unmarshal(val, &e); err != nil {
			return false
		}
		touches := hasIDPrefix(e.From, idPrefix) || hasIDPrefix(e.To, idPrefix)
		return !touches
	})
}

func hasIDPrefix(id, prefix string) bool {
	return len(id) >= len(prefix) && id[:len(prefix)] == prefix
}

// SaveSnapshot gzip-compresses the blob and stores it with integrity
// metadata, replacing any previous snapshot for the (repo, branch).
func (s *BadgerStore) SaveSnapshot(ctx context.Context, repoID, branch string, blob []byte) (*SnapshotMeta, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(blob); err != nil {
		return nil, fmt.Errorf("failed to compress snapshot: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress snapshot: %w", err)
	}
	compressed := buf.Bytes()
	hash := sha256.Sum256(compressed)

	meta := &SnapshotMeta{
		RepoID:         repoID,
		Branch:         branch,
		CompressedSize: int64(len(compressed)),
		ContentHash:    hex.EncodeToString(hash[:]),
		CreatedAtMilli: time.Now().UnixMilli(),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot metadata: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(keyPrefixSnap+repoID+":"+branch+keySuffixData), compressed); err != nil {
			return err
		}
		return txn.Set([]byte(keyPrefixSnap+repoID+":"+branch+keySuffixMeta), metaJSON)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}

	s.logger.Info("graph snapshot saved",
		slog.String("repo_id", repoID),
		slog.String("branch", branch),
		slog.Int64("compressed_bytes", meta.CompressedSize))
	return meta, nil
}

// LoadSnapshot returns the decompressed snapshot blob, verifying the
// stored content hash first.
func (s *BadgerStore) LoadSnapshot(ctx context.Context, repoID, branch string) ([]byte, error) {
	var compressed []byte
	var meta SnapshotMeta

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefixSnap + repoID + ":" + branch + keySuffixData))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		compressed, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}

		metaItem, err := txn.Get([]byte(keyPrefixSnap + repoID + ":" + branch + keySuffixMeta))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return metaItem.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if err != nil {
		return nil, err
	}

	hash := sha256.Sum256(compressed)
	if hex.EncodeToString(hash[:]) != meta.ContentHash {
		return nil, fmt.Errorf("%w: repo %s branch %s", ErrCorruptSnapshot, repoID, branch)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	defer zr.Close()
	blob, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	return blob, nil
}

// SaveEmbedding upserts one symbol embedding.
func (s *BadgerStore) SaveEmbedding(ctx context.Context, repoID, branch, symbolID string, vec []float32) error {
	return s.putJSON(scopeKey(keyPrefixVec, repoID, branch, symbolID), vec)
}

// DeleteFileEmbeddings removes the embeddings for the given symbol ids.
func (s *BadgerStore) DeleteFileEmbeddings(ctx context.Context, repoID, branch string, symbolIDs []string) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, id := range symbolIDs {
		if err := wb.Delete(scopeKey(keyPrefixVec, repoID, branch, id)); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// SaveReview upserts a review record.
func (s *BadgerStore) SaveReview(ctx context.Context, r *Review) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("review must have an id")
	}
	return s.putJSON([]byte(keyPrefixReview+r.RepoID+":"+r.ID), r)
}

// SaveComment upserts a posted comment.
func (s *BadgerStore) SaveComment(ctx context.Context, c *Comment) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("comment must have an id")
	}
	return s.putJSON([]byte(keyPrefixComment+c.RepoID+":"+c.ID), c)
}

// ListComments returns every stored comment for a repo.
func (s *BadgerStore) ListComments(ctx context.Context, repoID string) ([]*Comment, error) {
	prefix := []byte(keyPrefixComment + repoID + ":")
	var out []*Comment
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var c Comment
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			})
			if err != nil {
				return err
			}
			out = append(out, &c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list comments for %s: %w", repoID, err)
	}
	return out, nil
}

// SetFeedback records a feedback signal for a comment. Latest write wins.
func (s *BadgerStore) SetFeedback(ctx context.Context, commentID string, signal FeedbackSignal) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefixFeedback+commentID), []byte(signal))
	})
}

// GetFeedback returns the feedback signal for a comment, or ErrNotFound.
func (s *BadgerStore) GetFeedback(ctx context.Context, commentID string) (FeedbackSignal, error) {
	var signal FeedbackSignal
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefixFeedback + commentID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			signal = FeedbackSignal(val)
			return nil
		})
	})
	return signal, err
}

// DeleteRepo removes every record scoped to the repo across all branches.
// Feedback signals are keyed by comment id; the repo's comments are removed
// but their signals are retained, which is harmless because the comment ids
// are never reused.
func (s *BadgerStore) DeleteRepo(ctx context.Context, repoID string) error {
	prefixes := []string{
		keyPrefixSymbol + repoID + ":",
		keyPrefixEdge + repoID + ":",
		keyPrefixSnap + repoID + ":",
		keyPrefixVec + repoID + ":",
		keyPrefixReview + repoID + ":",
		keyPrefixComment + repoID + ":",
	}
	for _, p := range prefixes {
		if err := s.deletePrefix([]byte(p), nil); err != nil {
			return fmt.Errorf("failed to delete repo %s: %w", repoID, err)
		}
	}
	s.logger.Info("repo storage deleted", slog.String("repo_id", repoID))
	return nil
}
