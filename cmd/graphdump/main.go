// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// graphdump inspects the review server's BadgerDB state.
//
// The server persists a gzip-compressed graph snapshot per (repo, branch)
// plus individual symbol, edge, comment and feedback records. This tool
// opens the database read-only and prints a human-readable summary:
// snapshot sizes and ages, symbol/edge counts per graph, and stored
// comment/feedback totals per repo.
//
// Usage:
//
//	graphdump --path /var/lib/agnusai
//
// Exit codes:
//
//	0 — success (including "empty database", which prints a message)
//	1 — error opening or reading the database
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/ivoyant-eng/AgnusAi/services/review/graph"
	"github.com/ivoyant-eng/AgnusAi/services/review/storage"
)

// Key layout must match storage/badger.go exactly.
const (
	snapPrefix     = "review:snap:"
	symbolPrefix   = "review:sym:"
	edgePrefix     = "review:edge:"
	commentPrefix  = "review:comment:"
	feedbackPrefix = "review:feedback:"

	metaSuffix = ":meta"
)

func main() {
	pathFlag := flag.String("path", "", "Path to the review BadgerDB directory")
	flag.Parse()

	if *pathFlag == "" {
		fatalf("--path is required")
	}
	if _, err := os.Stat(*pathFlag); os.IsNotExist(err) {
		fmt.Println("Database directory does not exist. The server has not yet indexed anything.")
		os.Exit(0)
	}

	db, err := badger.Open(badger.DefaultOptions(*pathFlag).
		WithLogger(nil).
		WithReadOnly(true))
	if err != nil {
		fatalf("open BadgerDB at %s: %v", *pathFlag, err)
	}
	defer func() { _ = db.Close() }()

	snapshots, err := collectSnapshots(db)
	if err != nil {
		fatalf("read snapshots: %v", err)
	}
	counts, err := countRecords(db)
	if err != nil {
		fatalf("count records: %v", err)
	}

	if len(snapshots) == 0 && len(counts) == 0 {
		fmt.Println("No review data found. The server has not indexed any repos yet.")
		os.Exit(0)
	}

	fmt.Printf("Database path: %s\n", *pathFlag)
	fmt.Println(strings.Repeat("─", 72))

	for i, snap := range snapshots {
		fmt.Printf("\n[%d] Snapshot:  %s @ %s\n", i+1, snap.meta.RepoID, snap.meta.Branch)
		fmt.Printf("    Size:      %s compressed\n", formatBytes(snap.meta.CompressedSize))
		fmt.Printf("    Hash:      %s\n", shorten(snap.meta.ContentHash))
		fmt.Printf("    Age:       %s\n",
			time.Since(time.UnixMilli(snap.meta.CreatedAtMilli)).Round(time.Second))
		if snap.decodeErr != nil {
			fmt.Printf("    DECODE ERROR: %v\n", snap.decodeErr)
			continue
		}
		fmt.Printf("    Graph:     %d symbols, %d edges, %d files\n", snap.symbols, snap.edges, snap.files)
	}

	repos := make([]string, 0, len(counts))
	for repo := range counts {
		repos = append(repos, repo)
	}
	sort.Strings(repos)

	if len(repos) > 0 {
		fmt.Printf("\n%-40s %8s %8s %9s %9s\n", "Repo", "Symbols", "Edges", "Comments", "Feedback")
		fmt.Println(strings.Repeat("─", 78))
		for _, repo := range repos {
			c := counts[repo]
			fmt.Printf("%-40s %8d %8d %9d %9d\n", repo, c.symbols, c.edges, c.comments, c.feedback)
		}
	}

	fmt.Printf("\n%s\nSummary: %d snapshot%s, %d repo%s with records\n",
		strings.Repeat("─", 72),
		len(snapshots), plural(len(snapshots)),
		len(repos), plural(len(repos)))
}

type snapshotInfo struct {
	meta      storage.SnapshotMeta
	symbols   int
	edges     int
	files     int
	decodeErr error
}

// collectSnapshots reads every snapshot meta record and decodes the
// matching data blob through the storage layer's integrity checks.
func collectSnapshots(db *badger.DB) ([]snapshotInfo, error) {
	store, err := storage.NewBadgerStore(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		return nil, err
	}

	var out []snapshotInfo
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(snapPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key())
			if !strings.HasSuffix(key, metaSuffix) {
				continue
			}
			var info snapshotInfo
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &info.meta)
			})
			if err != nil {
				info.decodeErr = err
				out = append(out, info)
				continue
			}
			out = append(out, info)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// LoadSnapshot verifies the content hash and decompresses; done outside
	// the iterator transaction.
	for i := range out {
		if out[i].decodeErr != nil {
			continue
		}
		blob, err := store.LoadSnapshot(context.Background(), out[i].meta.RepoID, out[i].meta.Branch)
		if err != nil {
			out[i].decodeErr = err
			continue
		}
		g, err := graph.Deserialize(blob)
		if err != nil {
			out[i].decodeErr = err
			continue
		}
		out[i].symbols = g.SymbolCount()
		out[i].edges = g.EdgeCount()
		out[i].files = len(g.FilePaths())
	}
	return out, nil
}

type recordCounts struct {
	symbols, edges, comments, feedback int
}

// countRecords tallies per-repo record counts by key prefix. Keys embed
// the repo id directly after the type prefix.
func countRecords(db *badger.DB) (map[string]*recordCounts, error) {
	counts := make(map[string]*recordCounts)
	bump := func(repo string) *recordCounts {
		c, ok := counts[repo]
		if !ok {
			c = &recordCounts{}
			counts[repo] = c
		}
		return c
	}

	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			switch {
			case strings.HasPrefix(key, symbolPrefix):
				bump(repoFromKey(key, symbolPrefix)).symbols++
			case strings.HasPrefix(key, edgePrefix):
				bump(repoFromKey(key, edgePrefix)).edges++
			case strings.HasPrefix(key, commentPrefix):
				bump(repoFromKey(key, commentPrefix)).comments++
			case strings.HasPrefix(key, feedbackPrefix):
				// Feedback keys carry only the comment id; counted globally
				// under a pseudo-repo when unattributable.
				bump("(feedback)").feedback++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// repoFromKey extracts "owner/name" from "<prefix>owner/name:branch:rest".
func repoFromKey(key, prefix string) string {
	rest := strings.TrimPrefix(key, prefix)
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		return rest[:i]
	}
	return rest
}

func shorten(hash string) string {
	if len(hash) > 16 {
		return hash[:16] + "…"
	}
	return hash
}

func formatBytes(n int64) string {
	switch {
	case n >= 1024*1024:
		return fmt.Sprintf("%.1f MB (%d bytes)", float64(n)/1024/1024, n)
	case n >= 1024:
		return fmt.Sprintf("%.1f KB (%d bytes)", float64(n)/1024, n)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "graphdump: "+format+"\n", args...)
	os.Exit(1)
}
