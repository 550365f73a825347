package service

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/arturoeanton/codequery/internal/domain"
)

// excludedDirs are pruned at any depth by exact segment name.
var excludedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"dist":         true,
	"build":        true,
	".venv":        true,
}

// ExcludedDir reports whether a directory named name is never indexed.
func ExcludedDir(name string) bool {
	return excludedDirs[name]
}

// Candidate is a file the selector accepted.
type Candidate struct {
	Path    string // relative to the root, forward slashes
	Content string
	// Progress is the walk so far, this file included.
	Progress SelectionStats
}

// SelectionStats summarises one walk.
type SelectionStats struct {
	FilesScanned int
	FilesIndexed int
	BytesSkipped int64
	SkipReasons  map[string]int
}

func (s *SelectionStats) snapshot() SelectionStats {
	out := *s
	out.SkipReasons = maps.Clone(s.SkipReasons)
	return out
}

func (s *SelectionStats) skip(w domain.SelectionWarning) {
	if s.SkipReasons == nil {
		s.SkipReasons = make(map[string]int)
	}
	s.SkipReasons[w.Reason]++
	s.BytesSkipped += w.Bytes
	slog.Debug("file skipped", "path", w.Path, "reason", w.Reason, "bytes", w.Bytes)
}

// SelectorOptions configures the file selector.
type SelectorOptions struct {
	MaxFileBytes int64
	Extensions   []string // lowercase, with leading dot
}

// Selector decides which files of a workspace are indexed.
type Selector struct {
	maxBytes   int64
	extensions map[string]bool
}

// NewSelector creates a selector.
func NewSelector(opts SelectorOptions) *Selector {
	exts := make(map[string]bool, len(opts.Extensions))
	for _, e := range opts.Extensions {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts[e] = true
	}
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = 512 * 1024
	}
	return &Selector{maxBytes: opts.MaxFileBytes, extensions: exts}
}

// Select walks root and calls fn for every accepted file in lexical order.
// Each call walks the filesystem again. An error from fn or from the walk
// itself aborts the selection.
func (s *Selector) Select(ctx context.Context, root string, fn func(Candidate) error) (SelectionStats, error) {
	var stats SelectionStats

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			stats.skip(domain.SelectionWarning{Path: p, Reason: domain.SkipUnreadable})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if p != root && excludedDirs[d.Name()] {
				n := countRegularFiles(p)
				stats.FilesScanned += n
				if n > 0 {
					if stats.SkipReasons == nil {
						stats.SkipReasons = make(map[string]int)
					}
					stats.SkipReasons[domain.SkipExcludedDir] += n
				}
				slog.Debug("directory excluded", "path", rel, "files", n)
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		stats.FilesScanned++
		info, err := d.Info()
		if err != nil {
			stats.skip(domain.SelectionWarning{Path: rel, Reason: domain.SkipUnreadable})
			return nil
		}
		if info.Size() > s.maxBytes {
			stats.skip(domain.SelectionWarning{Path: rel, Reason: domain.SkipTooLarge, Bytes: info.Size()})
			return nil
		}
		if !s.extensions[strings.ToLower(filepath.Ext(p))] {
			stats.skip(domain.SelectionWarning{Path: rel, Reason: domain.SkipExtension})
			return nil
		}

		data, err := os.ReadFile(p)
		if err != nil {
			stats.skip(domain.SelectionWarning{Path: rel, Reason: domain.SkipUnreadable})
			return nil
		}
		if !utf8.Valid(data) {
			stats.skip(domain.SelectionWarning{Path: rel, Reason: domain.SkipBinary, Bytes: int64(len(data))})
			return nil
		}

		stats.FilesIndexed++
		return fn(Candidate{Path: rel, Content: string(data), Progress: stats.snapshot()})
	})
	if err != nil {
		return stats, fmt.Errorf("select files: %w", err)
	}
	return stats, nil
}

// countRegularFiles counts the regular files under an excluded directory.
// Unreadable entries are ignored.
func countRegularFiles(dir string) int {
	n := 0
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			n++
		}
		return nil
	})
	return n
}
