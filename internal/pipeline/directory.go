package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/docchunk/internal/doctree"
)

// DefaultPattern is the file pattern used when a directory ingestion names
// none.
const DefaultPattern = "*.md"

// FileResult is the outcome for one file of a directory batch. Err is set
// exactly when the file failed.
type FileResult struct {
	Records  []doctree.ChunkRecord `json:"records,omitempty"`
	Warnings []doctree.Diagnostic  `json:"warnings,omitempty"`
	Err      error                 `json:"-"`
}

// BatchResult maps each processed file path to its outcome. Files skipped
// because of cancellation are absent.
type BatchResult map[string]FileResult

// Succeeded returns the number of files ingested without error.
func (b BatchResult) Succeeded() int {
	n := 0
	for _, r := range b {
		if r.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the number of files that failed.
func (b BatchResult) Failed() int {
	return len(b) - b.Succeeded()
}

// Paths returns the result keys in lexical order.
func (b BatchResult) Paths() []string {
	paths := make([]string, 0, len(b))
	for p := range b {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// IngestDirectory ingests every entry under root whose name matches
// pattern, descending into subdirectories when recursive is set. A pattern
// containing a path separator is matched against the path relative to root.
//
// Files are processed in parallel, up to Config.Workers at a time. A file
// that fails is recorded with its error and does not stop the batch. The
// context is checked before each file starts; on cancellation the files
// already finished are returned together with the context error.
func (p *Pipeline) IngestDirectory(ctx context.Context, root, pattern string, recursive bool, meta map[string]any) (BatchResult, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	files, err := findFiles(root, pattern, recursive)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	log := p.log.With("root", root, "pattern", pattern, "recursive", recursive)
	log.Info("ingesting directory", "files", len(files))

	var (
		mu  sync.Mutex
		out = make(BatchResult, len(files))
	)
	// Not errgroup.WithContext: one file failing must not cancel the rest.
	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)

	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res, err := p.Ingest(ctx, FromFile(path), meta)
			if err != nil && isCancellation(err) {
				return nil
			}

			fr := FileResult{Err: err}
			if err != nil {
				log.Error("file ingestion failed", "path", path, "error", err)
			} else {
				fr.Records = res.Records
				fr.Warnings = res.Warnings
			}
			mu.Lock()
			out[path] = fr
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	log.Info("directory ingestion finished",
		"files", len(files),
		"succeeded", out.Succeeded(),
		"failed", out.Failed(),
		"skipped", len(files)-len(out),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// findFiles lists matching entries in lexical order. Directories whose name
// matches are listed too so they surface as unreadable files instead of
// vanishing silently.
func findFiles(root, pattern string, recursive bool) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, &IOError{Path: root, Err: err}
	}
	if !info.IsDir() {
		return nil, &IOError{Path: root, Err: errors.New("not a directory")}
	}

	byRelPath := strings.ContainsRune(pattern, '/') || strings.ContainsRune(pattern, filepath.Separator)
	matches := func(path, name string) bool {
		subject := name
		if byRelPath {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return false
			}
			subject = filepath.ToSlash(rel)
		}
		ok, _ := filepath.Match(pattern, subject)
		return ok
	}

	var files []string
	if !recursive {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, &IOError{Path: root, Err: err}
		}
		for _, e := range entries {
			path := filepath.Join(root, e.Name())
			if matches(path, e.Name()) {
				files = append(files, path)
			}
		}
		return files, nil
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			// Unreadable subdirectory: its contents are unknown, keep walking.
			return nil
		}
		if path != root && matches(path, d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, &IOError{Path: root, Err: err}
	}
	sort.Strings(files)
	return files, nil
}
