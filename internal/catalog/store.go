package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/airwav/airwav/internal/observability"
)

// Store holds the loaded catalog and swaps it atomically on reload. A failed
// reload keeps the previous catalog and records the error.
type Store struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	tracks   []Track
	byID     map[string]Track
	loadedAt time.Time
	lastErr  error
}

// NewStore loads the catalog at path. The initial load must succeed.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: observability.WithComponent(logger, "catalog"),
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the watched catalog file path.
func (s *Store) Path() string { return s.path }

// Reload re-reads the catalog file. On failure the previous tracks remain
// live and the error is retained for inspection.
func (s *Store) Reload() error {
	tracks, err := Load(s.path)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.lastErr = err
		return err
	}

	byID := make(map[string]Track, len(tracks))
	for _, track := range tracks {
		byID[track.ID] = track
	}

	s.tracks = tracks
	s.byID = byID
	s.loadedAt = time.Now()
	s.lastErr = nil
	return nil
}

// Tracks returns a copy of the loaded tracks in file order.
func (s *Store) Tracks() []Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Track(nil), s.tracks...)
}

// Get looks up a track by ID.
func (s *Store) Get(id string) (Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	track, ok := s.byID[id]
	return track, ok
}

// Len returns the number of loaded tracks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tracks)
}

// LoadedAt returns when the current catalog was loaded.
func (s *Store) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// LastError returns the most recent reload error, nil after a clean reload.
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Watch reloads the catalog when the file changes. The parent directory is
// watched so rename-over replacement (atomic writers, most editors) is seen
// as well as in-place writes. Events are debounced; onReload, when set, is
// invoked after every attempt with the live track count and the reload
// error. Watching stops when ctx is cancelled.
func (s *Store) Watch(ctx context.Context, debounce time.Duration, onReload func(count int, err error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	s.logger.Info("watching catalog for changes", "path", s.path, "debounce", debounce)
	go s.watchLoop(ctx, watcher, debounce, onReload)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, debounce time.Duration, onReload func(count int, err error)) {
	defer func() { _ = watcher.Close() }()

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	base := filepath.Base(s.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			// Debounce: reset the timer on each burst of events.
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounce, func() {
				err := s.Reload()
				if err != nil {
					s.logger.Error("catalog reload failed, keeping previous", "error", err)
				} else {
					s.logger.Info("catalog reloaded", "tracks", s.Len())
				}
				if onReload != nil {
					onReload(s.Len(), err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("catalog watcher error", "error", err)
		}
	}
}
