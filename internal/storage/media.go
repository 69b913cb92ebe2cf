// Package storage provides sandboxed access to the broadcaster's media
// directories. Path resolution is restricted to configured roots so the
// dashboard can never read outside the work or liner directories.
package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned when a requested path does not resolve
// inside any permitted media root.
var ErrOutsideRoot = errors.New("path outside media roots")

// MediaRoots restricts file serving to a fixed set of directories.
type MediaRoots struct {
	roots []string
}

// NewMediaRoots builds a root set from the given directories. Empty
// entries are skipped; at least one root is required.
func NewMediaRoots(dirs ...string) (*MediaRoots, error) {
	roots := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("resolving media root %s: %w", dir, err)
		}
		roots = append(roots, abs)
	}
	if len(roots) == 0 {
		return nil, errors.New("at least one media root is required")
	}
	return &MediaRoots{roots: roots}, nil
}

// Roots returns the absolute permitted directories.
func (m *MediaRoots) Roots() []string {
	out := make([]string, len(m.roots))
	copy(out, m.roots)
	return out
}

// Resolve cleans the requested path and ensures it falls inside one of
// the permitted roots. Absolute paths are checked as given; relative
// paths are tried against each root in order. The file does not need
// to exist.
func (m *MediaRoots) Resolve(requested string) (string, error) {
	if requested == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutsideRoot)
	}

	if filepath.IsAbs(requested) {
		abs, err := filepath.Abs(filepath.Clean(requested))
		if err != nil {
			return "", fmt.Errorf("resolving %s: %w", requested, err)
		}
		for _, root := range m.roots {
			if insideRoot(abs, root) {
				return abs, nil
			}
		}
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, requested)
	}

	clean := filepath.Clean(requested)
	for _, root := range m.roots {
		abs := filepath.Join(root, clean)
		if insideRoot(abs, root) {
			return abs, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrOutsideRoot, requested)
}

func insideRoot(abs, root string) bool {
	return abs == root || strings.HasPrefix(abs, root+string(filepath.Separator))
}
