// Package cache materializes catalog tracks as normalized WAV files on
// disk. Each source is downloaded at most once; everything downstream of
// the cache works with local 48 kHz stereo PCM.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/airwav/airwav/internal/catalog"
	"github.com/airwav/airwav/internal/ffmpeg"
	"github.com/airwav/airwav/internal/observability"
	"github.com/airwav/airwav/internal/runner"
)

const (
	// MaxTrackSeconds caps every cached track; longer sources are cut.
	MaxTrackSeconds = 60

	// maxUsableSeconds tolerates encoder padding on top of the cap. Files
	// probing past it are treated as stale and refetched.
	maxUsableSeconds = 60.25

	prewarmCount = 4
	dirName      = "yt-cache"
)

// Cache fetches and normalizes track audio under <workDir>/yt-cache.
type Cache struct {
	dir    string
	tools  *ffmpeg.Tools
	prober *ffmpeg.Prober
	logger *slog.Logger
	sf     singleflight.Group
}

// New creates the cache directory if needed.
func New(workDir string, tools *ffmpeg.Tools, prober *ffmpeg.Prober, logger *slog.Logger) (*Cache, error) {
	dir := filepath.Join(workDir, dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}
	return &Cache{
		dir:    dir,
		tools:  tools,
		prober: prober,
		logger: observability.WithComponent(logger, "cache"),
	}, nil
}

// Dir returns the cache directory. The janitor uses it to exempt cached
// tracks from reaping.
func (c *Cache) Dir() string {
	return c.dir
}

// TrackPath returns where a track's normalized WAV lives once cached.
func (c *Cache) TrackPath(trackID string) string {
	return filepath.Join(c.dir, trackID+"-60s.wav")
}

// FetchTrackWAV returns a normalized WAV for the track, downloading and
// re-encoding on a miss. Concurrent calls for the same track share one
// in-flight download; waiters honor their own context.
func (c *Cache) FetchTrackWAV(ctx context.Context, track catalog.Track) (string, error) {
	path := c.TrackPath(track.ID)
	if c.usable(ctx, path) {
		return path, nil
	}

	ch := c.sf.DoChan(track.ID, func() (any, error) {
		// A waiter that queued behind a finished flight re-checks first.
		if c.usable(ctx, path) {
			return path, nil
		}
		if err := c.populate(ctx, track, path); err != nil {
			return nil, err
		}
		return path, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Prewarm fetches the first few tracks ahead of playout so the builder's
// opening pulls are warm. Failures log and never abort startup.
func (c *Cache) Prewarm(ctx context.Context, tracks []catalog.Track) {
	if len(tracks) == 0 {
		return
	}
	if len(tracks) > prewarmCount {
		tracks = tracks[:prewarmCount]
	}

	var g errgroup.Group
	g.SetLimit(prewarmCount)
	for _, track := range tracks {
		g.Go(func() error {
			if _, err := c.FetchTrackWAV(ctx, track); err != nil {
				c.logger.Warn("prewarm fetch failed",
					slog.String("track_id", track.ID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	g.Wait()
}

// usable reports whether path holds a playable cached track.
func (c *Cache) usable(ctx context.Context, path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	dur := c.prober.ProbeDuration(ctx, path)
	return dur > 0 && dur <= maxUsableSeconds
}

// populate downloads the source audio and atomically installs the
// normalized copy at finalPath.
func (c *Cache) populate(ctx context.Context, track catalog.Track, finalPath string) error {
	if !c.tools.HasDownloader() {
		return fmt.Errorf("%w: no downloader for track %s", ffmpeg.ErrDependencyMissing, track.ID)
	}

	rawPath := filepath.Join(c.dir, "dl-"+track.ID+".wav")
	template := filepath.Join(c.dir, "dl-"+track.ID+".%(ext)s")
	defer os.Remove(rawPath)

	program, args := c.tools.Downloader.Command(
		"-x",
		"--audio-format", "wav",
		"--no-playlist",
		"-o", template,
		track.URL,
	)
	c.logger.Info("downloading track",
		slog.String("track_id", track.ID),
		slog.String("title", track.Title),
	)
	if _, _, err := runner.Run(ctx, program, args); err != nil {
		return fmt.Errorf("downloading track %s: %w", track.ID, err)
	}

	pending, err := renameio.NewPendingFile(finalPath)
	if err != nil {
		return fmt.Errorf("create pending cache file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			c.logger.Debug("cleanup pending cache file", slog.String("error", err.Error()))
		}
	}()

	// ffmpeg writes the pending temp file; the extension is gone so the
	// container must be forced.
	normArgs := []string{
		"-y",
		"-i", rawPath,
		"-t", fmt.Sprintf("%d", MaxTrackSeconds),
		"-ar", "48000",
		"-ac", "2",
		"-c:a", "pcm_s16le",
		"-f", "wav",
		pending.Name(),
	}
	if _, _, err := runner.Run(ctx, c.tools.FFmpeg, normArgs); err != nil {
		return fmt.Errorf("normalizing track %s: %w", track.ID, err)
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace cache file: %w", err)
	}

	c.logger.Info("track cached",
		slog.String("track_id", track.ID),
		slog.String("path", filepath.Base(finalPath)),
	)
	return nil
}
