package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/airwav/airwav/internal/runner"
)

// probeCacheTTL bounds how long a probed duration is remembered. Keys carry
// the file mtime, so the TTL only matters for unbounded growth.
const probeCacheTTL = 5 * time.Minute

// Prober measures media durations with ffprobe. Results are memoized per
// path+mtime so repeated probes of ring-resident files do not re-exec.
type Prober struct {
	ffprobePath string
	cache       *gocache.Cache
}

// NewProber creates a prober. An empty ffprobePath produces a prober whose
// probes always report -1.
func NewProber(ffprobePath string) *Prober {
	return &Prober{
		ffprobePath: ffprobePath,
		cache:       gocache.New(probeCacheTTL, 2*probeCacheTTL),
	}
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeDuration returns the duration of the media file in seconds, or -1
// when the file cannot be probed for any reason. Failures are never cached;
// a file that was mid-write gets probed again on the next call.
func (p *Prober) ProbeDuration(ctx context.Context, path string) float64 {
	if p.ffprobePath == "" {
		return -1
	}

	info, err := os.Stat(path)
	if err != nil {
		return -1
	}
	key := fmt.Sprintf("%s|%d", path, info.ModTime().UnixNano())

	if cached, ok := p.cache.Get(key); ok {
		return cached.(float64)
	}

	stdout, _, err := runner.Run(ctx, p.ffprobePath, []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	})
	if err != nil {
		return -1
	}

	var out probeOutput
	if err := json.Unmarshal(stdout, &out); err != nil {
		return -1
	}

	duration, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil || duration <= 0 {
		return -1
	}

	p.cache.SetDefault(key, duration)
	return duration
}
