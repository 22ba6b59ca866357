// Copyright (C) 2025 Ivoyant Engineering
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Skill is one plain-text review rule keyed by a file glob. It is
// injected into the prompt when any changed file matches the glob.
type Skill struct {
	Name    string
	Pattern string
	Text    string
}

// skillHeaderPrefix introduces the glob on a skill file's first line.
const skillHeaderPrefix = "match:"

// SkillSet loads skills from a directory and optionally hot-reloads them
// when files change.
//
// Thread Safety: Safe for concurrent use; reloads swap the slice under a
// write lock.
type SkillSet struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	skills []Skill
}

// LoadSkills reads every .txt and .md file under dir. An empty dir
// yields an empty, still-usable set.
func LoadSkills(dir string, logger *slog.Logger) (*SkillSet, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	s := &SkillSet{dir: dir, logger: logger}
	if dir == "" {
		return s, nil
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SkillSet) reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.mu.Lock()
			s.skills = nil
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("failed to read skills directory %s: %w", s.dir, err)
	}

	var skills []Skill
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".txt" && ext != ".md" {
			continue
		}
		content, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			s.logger.Warn("failed to read skill file, skipping",
				slog.String("file", e.Name()),
				slog.String("error", err.Error()))
			continue
		}
		skill, err := parseSkill(e.Name(), string(content))
		if err != nil {
			s.logger.Warn("failed to parse skill file, skipping",
				slog.String("file", e.Name()),
				slog.String("error", err.Error()))
			continue
		}
		skills = append(skills, skill)
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })

	s.mu.Lock()
	s.skills = skills
	s.mu.Unlock()
	s.logger.Debug("skills loaded", slog.String("dir", s.dir), slog.Int("count", len(skills)))
	return nil
}

// parseSkill splits a skill file into its glob header and snippet text.
// A missing header makes the skill match every file.
func parseSkill(name, content string) (Skill, error) {
	skill := Skill{Name: name, Pattern: "*"}
	lines := strings.SplitN(content, "\n", 2)
	first := strings.TrimSpace(lines[0])
	if strings.HasPrefix(strings.ToLower(first), skillHeaderPrefix) {
		skill.Pattern = strings.TrimSpace(first[len(skillHeaderPrefix):])
		if skill.Pattern == "" {
			return Skill{}, fmt.Errorf("empty glob in header")
		}
		if len(lines) == 2 {
			skill.Text = strings.TrimSpace(lines[1])
		}
	} else {
		skill.Text = strings.TrimSpace(content)
	}
	if skill.Text == "" {
		return Skill{}, fmt.Errorf("empty snippet")
	}
	return skill, nil
}

// Matching returns the skills whose glob matches any of the paths.
func (s *SkillSet) Matching(paths []string) []Skill {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Skill
	for _, skill := range s.skills {
		for _, p := range paths {
			if matchGlob(skill.Pattern, p) {
				out = append(out, skill)
				break
			}
		}
	}
	return out
}

// matchGlob matches a glob against a forward-slash path. Patterns
// without a slash and "**/"-prefixed patterns match the basename.
func matchGlob(pattern, filePath string) bool {
	if pattern == "*" {
		return true
	}
	if ok, _ := path.Match(pattern, filePath); ok {
		return true
	}
	base := path.Base(filePath)
	if !strings.Contains(pattern, "/") {
		ok, _ := path.Match(pattern, base)
		return ok
	}
	if rest, found := strings.CutPrefix(pattern, "**/"); found {
		if ok, _ := path.Match(rest, base); ok {
			return true
		}
		// Also try the pattern against every path suffix.
		segments := strings.Split(filePath, "/")
		for i := range segments {
			if ok, _ := path.Match(rest, strings.Join(segments[i:], "/")); ok {
				return true
			}
		}
	}
	return false
}

// Watch hot-reloads the skill set until ctx is cancelled. Any write,
// create or remove in the directory triggers a full reload.
func (s *SkillSet) Watch(ctx context.Context) error {
	if s.dir == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create skills watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch skills directory %s: %w", s.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				if err := s.reload(); err != nil {
					s.logger.Warn("skill reload failed",
						slog.String("error", err.Error()))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("skills watcher error", slog.String("error", err.Error()))
			}
		}
	}()
	return nil
}
