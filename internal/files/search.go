package files

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"

	"file-server-go/internal/workspace"
)

// MaxSearchResults caps the number of entries returned by Search.
const MaxSearchResults = 1000

var errSearchLimit = errors.New("search result limit reached")

// Search walks dir and returns entries whose path relative to dir, or whose
// name, matches the doublestar pattern (e.g. "**/*.pdf", "report-*").
// Symlinks are neither followed nor returned.
func (s *Service) Search(ctx context.Context, identity, dir, pattern string) ([]Entry, error) {
	if pattern == "" || !doublestar.ValidatePattern(pattern) {
		return nil, &OpError{Op: "search", Path: dir, Name: pattern, Err: workspace.ErrInvalidPath}
	}

	loc, err := s.resolveDir("search", identity, dir)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results []Entry
	)

	conf := fastwalk.Config{Follow: false}
	walkErr := fastwalk.Walk(&conf, loc.Physical, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil || p == loc.Physical {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(loc.Physical, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if !matches(pattern, rel, d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		mu.Lock()
		defer mu.Unlock()
		if len(results) >= MaxSearchResults {
			return errSearchLimit
		}
		results = append(results, newEntry(loc.Child(rel), info))
		return nil
	})

	if walkErr != nil && !errors.Is(walkErr, errSearchLimit) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, storageErr("search", loc.Virtual, ctxErr)
		}
		return nil, classify("search", loc.Virtual, walkErr)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Path < results[j].Path
	})
	return results, nil
}

func matches(pattern, rel, name string) bool {
	if ok, _ := doublestar.Match(pattern, rel); ok {
		return true
	}
	ok, _ := doublestar.Match(pattern, name)
	return ok
}
