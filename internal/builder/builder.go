// Package builder produces the next rendered segment for the playout
// queue: edge-faded songs from the catalog rotation, spoken host links,
// and emergency liners when speech production fails.
package builder

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airwav/airwav/internal/catalog"
	"github.com/airwav/airwav/internal/commentary"
	"github.com/airwav/airwav/internal/model"
	"github.com/airwav/airwav/internal/observability"
	"github.com/airwav/airwav/internal/render"
)

const (
	defaultCadence = 2
	defaultFadeIn  = 0.4
	defaultFadeOut = 0.9

	manualCommentaryPriority = 120
	manualTrackPriority      = 110

	lastPlayedSize    = 5
	recoverSilenceSec = 3.0
)

// linerExts are the file types considered playable liners.
var linerExts = map[string]bool{
	".wav": true, ".mp3": true, ".flac": true, ".ogg": true, ".m4a": true,
}

// TrackSource lists the playable catalog.
type TrackSource interface {
	Tracks() []catalog.Track
}

// TrackFetcher materializes a catalog track as a local WAV.
type TrackFetcher interface {
	FetchTrackWAV(ctx context.Context, track catalog.Track) (string, error)
}

// SpeechSynthesizer renders text to a WAV file.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, outPath string) error
}

// LinkWriter produces the host-link text spoken between songs.
type LinkWriter interface {
	Generate(ctx context.Context, req commentary.Request) (string, error)
}

// AudioShaper applies the edge-fade and voice filter chains.
type AudioShaper interface {
	EdgeFades(ctx context.Context, inPath, outPath string, fadeIn, fadeOut, durationSec float64) error
	Voice(ctx context.Context, inPath, outPath string) error
}

// DurationProber reports a media file's duration in seconds, negative
// when unknown.
type DurationProber interface {
	ProbeDuration(ctx context.Context, path string) float64
}

// Config carries the station knobs the builder needs.
type Config struct {
	WorkDir           string
	StationName       string
	LinerDir          string
	CommentaryCadence int     // songs between host links
	FadeInSec         float64 // leading edge fade on songs
	FadeOutSec        float64 // trailing edge fade on songs
}

// Deps are the builder's collaborators.
type Deps struct {
	Source  TrackSource
	Fetcher TrackFetcher
	Speech  SpeechSynthesizer
	Writer  LinkWriter
	Shaper  AudioShaper
	Prober  DurationProber
	Rand    *rand.Rand
	Logger  *slog.Logger
}

// Builder assembles playout segments. BuildNext runs on the engine
// goroutine; the manual builds are called from API handlers, so shared
// rotation state sits behind the mutex.
type Builder struct {
	cfg  Config
	deps Deps

	logger *slog.Logger

	mu         sync.Mutex
	phase      model.Phase
	order      []catalog.Track
	pos        int
	sinceTalk  int
	lastPlayed []catalog.Track
}

// New returns a Builder writing intermediates under cfg.WorkDir.
func New(cfg Config, deps Deps) (*Builder, error) {
	if cfg.CommentaryCadence <= 0 {
		cfg.CommentaryCadence = defaultCadence
	}
	if cfg.FadeInSec <= 0 {
		cfg.FadeInSec = defaultFadeIn
	}
	if cfg.FadeOutSec <= 0 {
		cfg.FadeOutSec = defaultFadeOut
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}
	return &Builder{
		cfg:    cfg,
		deps:   deps,
		logger: observability.WithComponent(deps.Logger, "builder"),
		phase:  model.PhaseSongs,
	}, nil
}

// Phase reports the builder's current intent.
func (b *Builder) Phase() model.Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.phase
}

// LastPlayed returns the recent rotation history, oldest first.
func (b *Builder) LastPlayed() []catalog.Track {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]catalog.Track, len(b.lastPlayed))
	copy(out, b.lastPlayed)
	return out
}

// BuildNext produces the next automatic segment according to the
// current phase.
func (b *Builder) BuildNext(ctx context.Context) (*model.RenderedSegment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	phase := b.phase
	b.mu.Unlock()

	if phase == model.PhaseCommentary {
		return b.buildCommentary(ctx)
	}
	return b.buildSong(ctx)
}

// BuildManualCommentary voices caller-provided text as a pinned
// high-priority segment. The rotation phase is untouched.
func (b *Builder) BuildManualCommentary(ctx context.Context, text string) (*model.RenderedSegment, error) {
	return b.renderSpeech(ctx, text, model.SegmentSourceManual, manualCommentaryPriority, true)
}

// BuildManualTrack fetches an arbitrary URL through the track cache and
// prepares it like a rotation song, pinned above the automatic flow.
// The cache key is derived from the URL so repeats reuse the download.
func (b *Builder) BuildManualTrack(ctx context.Context, title, artist, url string) (*model.RenderedSegment, error) {
	track := catalog.Track{
		ID:     manualTrackID(url),
		Title:  title,
		Artist: artist,
		URL:    url,
	}

	src, err := b.deps.Fetcher.FetchTrackWAV(ctx, track)
	if err != nil {
		return nil, fmt.Errorf("fetching manual track: %w", err)
	}

	seg, err := b.fadeSong(ctx, track, src)
	if err != nil {
		return nil, err
	}
	if seg.DurationSec <= 0 {
		return nil, fmt.Errorf("manual track %q has no readable duration", title)
	}
	seg.Source = model.SegmentSourceManual
	seg.Priority = manualTrackPriority
	seg.Pinned = true
	return seg, nil
}

func (b *Builder) buildSong(ctx context.Context) (*model.RenderedSegment, error) {
	track, err := b.nextTrack()
	if err != nil {
		return nil, err
	}

	src, err := b.deps.Fetcher.FetchTrackWAV(ctx, track)
	if err != nil {
		return nil, fmt.Errorf("fetching %q: %w", track.Title, err)
	}

	seg, err := b.fadeSong(ctx, track, src)
	if err != nil {
		return nil, err
	}
	if seg.DurationSec <= 0 {
		// Catalog metadata is the last resort when probing fails.
		seg.DurationSec = float64(track.DurationSec)
	}
	if seg.DurationSec <= 0 {
		return nil, fmt.Errorf("track %q has no readable duration", track.Title)
	}

	b.mu.Lock()
	b.lastPlayed = append(b.lastPlayed, track)
	if len(b.lastPlayed) > lastPlayedSize {
		b.lastPlayed = b.lastPlayed[len(b.lastPlayed)-lastPlayedSize:]
	}
	b.sinceTalk++
	if b.sinceTalk >= b.cfg.CommentaryCadence {
		b.phase = model.PhaseCommentary
	}
	b.mu.Unlock()

	return seg, nil
}

// fadeSong applies the edge fades and probes the result.
func (b *Builder) fadeSong(ctx context.Context, track catalog.Track, src string) (*model.RenderedSegment, error) {
	out := b.workPath("song-faded-" + uuid.NewString() + ".wav")
	srcDur := b.deps.Prober.ProbeDuration(ctx, src)
	if err := b.deps.Shaper.EdgeFades(ctx, src, out, b.cfg.FadeInSec, b.cfg.FadeOutSec, srcDur); err != nil {
		return nil, fmt.Errorf("fading %q: %w", track.Title, err)
	}

	dur := b.deps.Prober.ProbeDuration(ctx, out)
	if dur <= 0 {
		dur = srcDur
	}

	return &model.RenderedSegment{
		ID:          model.NewSegmentID(),
		Kind:        model.SegmentKindSong,
		FilePath:    out,
		DurationSec: dur,
		Note:        trackNote(track),
		Source:      model.SegmentSourceAuto,
		Priority:    model.PriorityDefaultAuto,
		Channel:     model.ChannelMusic,
	}, nil
}

func (b *Builder) buildCommentary(ctx context.Context) (*model.RenderedSegment, error) {
	// The rotation moves on whatever happens here.
	defer b.resetPhase()

	text, err := b.deps.Writer.Generate(ctx, b.linkRequest())
	if err != nil {
		b.logger.Warn("host link generation failed, cutting a liner", "error", err)
		return b.buildLiner(ctx)
	}

	seg, err := b.renderSpeech(ctx, text, model.SegmentSourceAuto, model.PriorityDefaultAuto, false)
	if err != nil {
		b.logger.Warn("speech production failed, cutting a liner", "error", err)
		return b.buildLiner(ctx)
	}
	return seg, nil
}

// renderSpeech synthesizes text and runs it through the voice chain.
func (b *Builder) renderSpeech(ctx context.Context, text string, source model.SegmentSource, priority int, pinned bool) (*model.RenderedSegment, error) {
	raw := b.workPath("talk-raw-" + uuid.NewString() + ".wav")
	if err := b.deps.Speech.Synthesize(ctx, text, raw); err != nil {
		return nil, fmt.Errorf("synthesizing link: %w", err)
	}
	defer os.Remove(raw)

	out := b.workPath("talk-fx-" + uuid.NewString() + ".wav")
	if err := b.deps.Shaper.Voice(ctx, raw, out); err != nil {
		return nil, fmt.Errorf("voicing link: %w", err)
	}

	dur := b.deps.Prober.ProbeDuration(ctx, out)
	if dur <= 0 {
		return nil, fmt.Errorf("voiced link %s has no readable duration", filepath.Base(out))
	}

	return &model.RenderedSegment{
		ID:             model.NewSegmentID(),
		Kind:           model.SegmentKindCommentary,
		FilePath:       out,
		DurationSec:    dur,
		Note:           "host link",
		CommentaryText: text,
		Source:         source,
		Priority:       priority,
		Pinned:         pinned,
		Channel:        model.ChannelVoice,
	}, nil
}

// buildLiner keeps the show moving when the speech path fails: a random
// file from the liner directory, else generated silence.
func (b *Builder) buildLiner(ctx context.Context) (*model.RenderedSegment, error) {
	if path, dur, ok := b.pickLiner(ctx); ok {
		return &model.RenderedSegment{
			ID:          model.NewSegmentID(),
			Kind:        model.SegmentKindLiner,
			FilePath:    path,
			DurationSec: dur,
			Note:        "station liner",
			Source:      model.SegmentSourceAuto,
			Priority:    model.PriorityDefaultAuto,
			Channel:     model.ChannelJingle,
		}, nil
	}

	out := b.workPath("recover-" + uuid.NewString() + ".wav")
	if err := render.WriteSilenceWAV(out, recoverSilenceSec); err != nil {
		return nil, fmt.Errorf("writing recovery silence: %w", err)
	}
	return &model.RenderedSegment{
		ID:          model.NewSegmentID(),
		Kind:        model.SegmentKindLiner,
		FilePath:    out,
		DurationSec: recoverSilenceSec,
		Note:        "recovery silence",
		Source:      model.SegmentSourceAuto,
		Priority:    model.PriorityDefaultAuto,
		Channel:     model.ChannelJingle,
	}, nil
}

func (b *Builder) pickLiner(ctx context.Context) (string, float64, bool) {
	if b.cfg.LinerDir == "" {
		return "", 0, false
	}
	entries, err := os.ReadDir(b.cfg.LinerDir)
	if err != nil {
		return "", 0, false
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !linerExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(b.cfg.LinerDir, e.Name()))
	}
	if len(files) == 0 {
		return "", 0, false
	}

	b.mu.Lock()
	path := files[b.deps.Rand.Intn(len(files))]
	b.mu.Unlock()

	dur := b.deps.Prober.ProbeDuration(ctx, path)
	if dur <= 0 {
		return "", 0, false
	}
	return path, dur, true
}

// linkRequest snapshots the on-air context for the link writer.
func (b *Builder) linkRequest() commentary.Request {
	b.mu.Lock()
	defer b.mu.Unlock()

	recent := make([]catalog.Track, len(b.lastPlayed))
	copy(recent, b.lastPlayed)

	req := commentary.Request{
		StationName: b.cfg.StationName,
		Recent:      recent,
	}
	if b.pos < len(b.order) {
		next := b.order[b.pos]
		req.Upcoming = &next
	}
	return req
}

func (b *Builder) resetPhase() {
	b.mu.Lock()
	b.phase = model.PhaseSongs
	b.sinceTalk = 0
	b.mu.Unlock()
}

// nextTrack advances the rotation, reshuffling on exhaustion.
func (b *Builder) nextTrack() (catalog.Track, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pos >= len(b.order) {
		if err := b.reshuffleLocked(); err != nil {
			return catalog.Track{}, err
		}
	}
	track := b.order[b.pos]
	b.pos++
	return track, nil
}

// reshuffleLocked draws a fresh uniform permutation of the catalog. If
// the most recently played track would come up first again it trades
// places with a uniform pick from the rest.
func (b *Builder) reshuffleLocked() error {
	tracks := b.deps.Source.Tracks()
	if len(tracks) == 0 {
		return fmt.Errorf("%w: no tracks loaded", catalog.ErrCatalogInvalid)
	}

	order := make([]catalog.Track, len(tracks))
	for i, j := range b.deps.Rand.Perm(len(tracks)) {
		order[i] = tracks[j]
	}
	if len(order) > 1 && len(b.lastPlayed) > 0 {
		last := b.lastPlayed[len(b.lastPlayed)-1]
		if order[0].ID == last.ID {
			k := 1 + b.deps.Rand.Intn(len(order)-1)
			order[0], order[k] = order[k], order[0]
		}
	}
	b.order = order
	b.pos = 0
	return nil
}

func (b *Builder) workPath(name string) string {
	return filepath.Join(b.cfg.WorkDir, name)
}

func trackNote(t catalog.Track) string {
	if t.Artist == "" {
		return t.Title
	}
	return t.Title + " - " + t.Artist
}

// manualTrackID derives a stable cache key from the source URL.
func manualTrackID(url string) string {
	h := fnv.New32a()
	h.Write([]byte(url))
	return fmt.Sprintf("manual-%08x", h.Sum32())
}
