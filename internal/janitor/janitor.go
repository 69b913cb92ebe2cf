// Package janitor removes stale intermediate audio files from the work
// directory on a cron schedule.
package janitor

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/airwav/airwav/internal/model"
	"github.com/airwav/airwav/internal/observability"
)

const (
	// DefaultSchedule is how often sweeps run when none is configured.
	DefaultSchedule = "@every 10m"
	// DefaultMaxAge is the minimum age before an unreferenced file is removed.
	DefaultMaxAge = 30 * time.Minute
)

// intermediaryPrefixes names the work files the pipeline writes and later
// abandons. The download cache and the stream FIFO never match these.
var intermediaryPrefixes = []string{
	"engine-chunk-",
	"engine-recovery-",
	"song-faded-",
	"talk-raw-",
	"talk-fx-",
	"recover-",
}

// SnapshotSource yields the current dashboard snapshot for reference checks.
type SnapshotSource interface {
	Snapshot() model.DashboardSnapshot
}

// ClipSource lists the clips currently placed on the timeline.
type ClipSource interface {
	Clips() []model.ScheduledClip
}

// Config holds sweep settings.
type Config struct {
	WorkDir  string
	Schedule string
	MaxAge   time.Duration

	// CacheDir and MaxBytes bound the track download cache. Zero MaxBytes
	// disables the budget.
	CacheDir string
	MaxBytes int64
}

// Janitor sweeps the work directory, deleting intermediaries that are old
// enough and no longer referenced by the playout state.
type Janitor struct {
	cfg    Config
	state  SnapshotSource
	clips  ClipSource
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

// New validates the schedule and returns a janitor. clips may be nil when
// the timeline scheduler is not in use.
func New(cfg Config, state SnapshotSource, clips ClipSource, logger *slog.Logger) (*Janitor, error) {
	if cfg.WorkDir == "" {
		return nil, errors.New("janitor work dir is required")
	}
	if state == nil {
		return nil, errors.New("janitor state source is required")
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", cfg.Schedule, err)
	}
	return &Janitor{
		cfg:    cfg,
		state:  state,
		clips:  clips,
		logger: observability.WithComponent(logger, "janitor"),
		now:    time.Now,
	}, nil
}

// Start begins periodic sweeps.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.cron != nil {
		return errors.New("janitor already started")
	}

	c := cron.New()
	if _, err := c.AddFunc(j.cfg.Schedule, func() {
		n, err := j.Sweep()
		switch {
		case err != nil:
			j.logger.Error("sweep failed", slog.String("error", err.Error()))
		case n > 0:
			j.logger.Info("sweep removed stale files", slog.Int("removed", n))
		}
		n, err = j.TrimCache()
		switch {
		case err != nil:
			j.logger.Error("cache trim failed", slog.String("error", err.Error()))
		case n > 0:
			j.logger.Info("cache trim removed files", slog.Int("removed", n))
		}
	}); err != nil {
		return fmt.Errorf("scheduling sweep: %w", err)
	}
	c.Start()
	j.cron = c

	j.logger.Info("janitor started",
		slog.String("schedule", j.cfg.Schedule),
		slog.Duration("max_age", j.cfg.MaxAge),
		slog.Int64("cache_max_bytes", j.cfg.MaxBytes))
	return nil
}

// Stop halts scheduling and waits for an in-flight sweep to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	c := j.cron
	j.cron = nil
	j.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	j.logger.Info("janitor stopped")
}

// Sweep removes intermediary files older than MaxAge that nothing still
// references. It returns the number of files removed.
func (j *Janitor) Sweep() (int, error) {
	entries, err := os.ReadDir(j.cfg.WorkDir)
	if err != nil {
		return 0, fmt.Errorf("reading work dir: %w", err)
	}

	referenced := j.referencedPaths()
	cutoff := j.now().Add(-j.cfg.MaxAge)

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !isIntermediary(name) {
			continue
		}
		path := filepath.Join(j.cfg.WorkDir, name)
		if referenced[path] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, fmt.Errorf("stat %s: %w", name, err)
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			j.logger.Warn("removing stale file",
				slog.String("file", name),
				slog.String("error", err.Error()))
			continue
		}
		removed++
		j.logger.Debug("removed stale file", slog.String("file", name))
	}
	return removed, nil
}

// TrimCache enforces the cache byte budget by removing the oldest
// unreferenced cache files until the directory fits under MaxBytes. It
// returns the number of files removed. A missing cache directory is not
// an error; the cache may simply not have been populated yet.
func (j *Janitor) TrimCache() (int, error) {
	if j.cfg.MaxBytes <= 0 || j.cfg.CacheDir == "" {
		return 0, nil
	}

	entries, err := os.ReadDir(j.cfg.CacheDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading cache dir: %w", err)
	}

	type cacheFile struct {
		path    string
		size    int64
		modTime time.Time
	}
	var files []cacheFile
	var total int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, cacheFile{
			path:    filepath.Join(j.cfg.CacheDir, entry.Name()),
			size:    info.Size(),
			modTime: info.ModTime(),
		})
		total += info.Size()
	}
	if total <= j.cfg.MaxBytes {
		return 0, nil
	}

	sort.Slice(files, func(i, k int) bool { return files[i].modTime.Before(files[k].modTime) })

	referenced := j.referencedPaths()
	removed := 0
	for _, f := range files {
		if total <= j.cfg.MaxBytes {
			break
		}
		if referenced[filepath.Clean(f.path)] {
			continue
		}
		if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			j.logger.Warn("trimming cache file",
				slog.String("file", filepath.Base(f.path)),
				slog.String("error", err.Error()))
			continue
		}
		total -= f.size
		removed++
		j.logger.Debug("trimmed cache file", slog.String("file", filepath.Base(f.path)))
	}
	return removed, nil
}

// referencedPaths collects every work file the playout state still points at.
func (j *Janitor) referencedPaths() map[string]bool {
	refs := make(map[string]bool)
	add := func(p string) {
		if p != "" {
			refs[filepath.Clean(p)] = true
		}
	}

	snap := j.state.Snapshot()
	if snap.NowPlaying != nil {
		add(snap.NowPlaying.FilePath)
	}
	for _, item := range snap.Queue {
		add(item.Segment.FilePath)
	}
	for _, seg := range snap.RecentSegments {
		add(seg.FilePath)
	}
	if j.clips != nil {
		for _, clip := range j.clips.Clips() {
			add(clip.FilePath)
		}
	}
	return refs
}

func isIntermediary(name string) bool {
	for _, prefix := range intermediaryPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
