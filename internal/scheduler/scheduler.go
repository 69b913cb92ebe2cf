// Package scheduler places rendered segments on the two-deck output
// timeline. Music alternates decks with planned crossfades, spoken
// links ride the voice lane over the song tail, and the station ID
// stings underneath the voice.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/airwav/airwav/internal/model"
	"github.com/airwav/airwav/internal/observability"
)

// ErrSchedulerRebuild wraps failures while re-deriving the timeline.
var ErrSchedulerRebuild = errors.New("rebuilding timeline")

const (
	defaultLookaheadSec = 120.0

	musicRampFrom = 0.70
	musicRampTo   = 1.00
	musicRampSec  = 7.0

	voiceRampFrom = 0.65
	voiceRampTo   = 1.35
	voiceRampSec  = 3.5

	// Station ID duck target while the voice speaks over it.
	jingleDuckTo = 0.15
	// Jingles at or under this length are treated as absent.
	minStationIDSec = 0.05
	// The voice enters before the jingle tail by up to this much.
	voiceLeadMaxSec = 0.45
	voiceLeadFrac   = 0.4
	// Share of a spoken link a following song may start under.
	halfOverlapShare = 0.5
)

// DurationProber reports a media file's duration in seconds, negative
// when unknown.
type DurationProber interface {
	ProbeDuration(ctx context.Context, path string) float64
}

// QueueView exposes the pending queue for timeline snapshots.
type QueueView interface {
	Items() []model.QueueItem
}

// Config carries the scheduler knobs.
type Config struct {
	StationIDPath string  // optional jingle played under host links
	LookaheadSec  float64 // transition window exposed in snapshots

	// CarryOverOffset starts a song after a spoken link at the link
	// boundary, seeking past the head that would have played under the
	// voice, instead of overlapping it.
	CarryOverOffset bool
}

// placedMusic remembers the previous music clip for transition planning.
type placedMusic struct {
	segmentID string
	deck      model.DeckID
	startSec  float64
	endSec    float64
}

// Scheduler owns the planned timeline. The clock is injected as seconds
// since stream start; the schedule cursor never moves backwards.
type Scheduler struct {
	cfg    Config
	prober DurationProber
	queue  QueueView
	now    func() float64
	logger *slog.Logger

	mu          sync.Mutex
	cursor      float64
	nextDeck    model.DeckID
	clips       []model.ScheduledClip
	transitions []model.Transition

	lastKind          model.SegmentKind
	lastMusic         *placedMusic
	commentaryBetween bool

	lastCommentaryStart float64
	lastCommentaryDur   float64

	stationIDDur  float64
	stationProbed bool
}

// New returns an empty timeline. now may be nil, in which case a
// process-local monotonic clock is used.
func New(cfg Config, prober DurationProber, queue QueueView, now func() float64, logger *slog.Logger) *Scheduler {
	if cfg.LookaheadSec <= 0 {
		cfg.LookaheadSec = defaultLookaheadSec
	}
	if now == nil {
		start := time.Now()
		now = func() float64 { return time.Since(start).Seconds() }
	}
	return &Scheduler{
		cfg:      cfg,
		prober:   prober,
		queue:    queue,
		now:      now,
		logger:   observability.WithComponent(logger, "scheduler"),
		nextDeck: model.DeckA,
	}
}

// Cursor reports how far ahead the timeline is planned, in seconds
// since stream start.
func (s *Scheduler) Cursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Clips returns a copy of every clip still on the timeline.
func (s *Scheduler) Clips() []model.ScheduledClip {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ScheduledClip, len(s.clips))
	copy(out, s.clips)
	return out
}

// Transitions returns a copy of the planned crossfades.
func (s *Scheduler) Transitions() []model.Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Transition, len(s.transitions))
	copy(out, s.transitions)
	return out
}

// Lookahead reports the snapshot lookahead window in seconds.
func (s *Scheduler) Lookahead() float64 {
	return s.cfg.LookaheadSec
}

// Place expands a rendered segment into timeline clips and advances the
// schedule cursor past whatever it placed.
func (s *Scheduler) Place(ctx context.Context, seg model.RenderedSegment) []model.ScheduledClip {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	baseStart := math.Max(s.cursor, now)

	var placed []model.ScheduledClip
	switch seg.Kind {
	case model.SegmentKindCommentary:
		placed = s.placeCommentaryLocked(ctx, seg, baseStart)
	case model.SegmentKindSong:
		placed = append(placed, s.placeMusicLocked(seg, now, baseStart))
	default:
		placed = append(placed, s.placeLinerLocked(seg, baseStart))
	}
	s.lastKind = seg.Kind

	for _, clip := range placed {
		s.clips = append(s.clips, clip)
		if end := clip.EndAtSec(); end > s.cursor {
			s.cursor = end
		}
	}
	return placed
}

func (s *Scheduler) placeMusicLocked(seg model.RenderedSegment, now, baseStart float64) model.ScheduledClip {
	start := baseStart
	var srcOffset float64
	if s.lastKind == model.SegmentKindCommentary && s.lastCommentaryDur > 0 {
		// Tuck the song under the back half of the spoken link.
		start = math.Max(now, math.Min(baseStart, s.lastCommentaryStart+halfOverlapShare*s.lastCommentaryDur))
		if carried := baseStart - start; s.cfg.CarryOverOffset && carried > 0 && carried < seg.DurationSec {
			// The tucked head counts as already played; the song enters
			// at the link boundary seeked past it instead.
			srcOffset = carried
			start = baseStart
		}
	}

	deck := s.nextDeck
	s.nextDeck = otherDeck(deck)

	clip := model.ScheduledClip{
		SegmentID:       seg.ID,
		Channel:         model.ChannelMusic,
		FilePath:        seg.FilePath,
		StartAtSec:      start,
		SourceOffsetSec: srcOffset,
		DurationSec:     seg.DurationSec - srcOffset,
		Gain:            1,
		Ramp:            &model.GainRamp{From: musicRampFrom, To: musicRampTo, Seconds: musicRampSec},
		Deck:            deck,
	}

	if s.lastMusic != nil {
		s.planTransitionLocked(seg, clip)
	}
	s.lastMusic = &placedMusic{
		segmentID: seg.ID,
		deck:      deck,
		startSec:  start,
		endSec:    start + clip.DurationSec,
	}
	s.commentaryBetween = false
	return clip
}

// planTransitionLocked records the crossfade out of the previous music
// clip and writes the fade-out window back onto that clip.
func (s *Scheduler) planTransitionLocked(seg model.RenderedSegment, clip model.ScheduledClip) {
	prev := s.lastMusic
	window := transitionWindow(seg.Priority)
	if span := prev.endSec - prev.startSec; window > span {
		window = span
	}

	s.setFadeOutLocked(prev.segmentID, window)
	s.transitions = append(s.transitions, model.Transition{
		FromSegmentID: prev.segmentID,
		ToSegmentID:   seg.ID,
		FromDeck:      prev.deck,
		ToDeck:        clip.Deck,
		AtSec:         math.Max(prev.startSec, prev.endSec-window),
		WindowSec:     window,
		Curve:         transitionCurve(seg.Priority, s.commentaryBetween),
	})
}

func (s *Scheduler) placeCommentaryLocked(ctx context.Context, seg model.RenderedSegment, baseStart float64) []model.ScheduledClip {
	var placed []model.ScheduledClip

	voiceStart := baseStart
	if d := s.stationIDLocked(ctx); d > minStationIDSec {
		placed = append(placed, model.ScheduledClip{
			SegmentID:       seg.ID + "-id",
			ParentSegmentID: seg.ID,
			Channel:         model.ChannelJingle,
			FilePath:        s.cfg.StationIDPath,
			StartAtSec:      baseStart,
			DurationSec:     d,
			Gain:            1,
			Ramp:            &model.GainRamp{From: 1.0, To: jingleDuckTo, Seconds: d},
		})
		voiceStart = baseStart + math.Max(0, d-math.Min(voiceLeadMaxSec, voiceLeadFrac*d))
	}

	placed = append(placed, model.ScheduledClip{
		SegmentID:   seg.ID,
		Channel:     model.ChannelVoice,
		FilePath:    seg.FilePath,
		StartAtSec:  voiceStart,
		DurationSec: seg.DurationSec,
		Gain:        1,
		Ramp:        &model.GainRamp{From: voiceRampFrom, To: voiceRampTo, Seconds: voiceRampSec},
	})

	s.lastCommentaryStart = voiceStart
	s.lastCommentaryDur = seg.DurationSec
	s.commentaryBetween = true
	return placed
}

func (s *Scheduler) placeLinerLocked(seg model.RenderedSegment, baseStart float64) model.ScheduledClip {
	return model.ScheduledClip{
		SegmentID:   seg.ID,
		Channel:     model.ChannelJingle,
		FilePath:    seg.FilePath,
		StartAtSec:  baseStart,
		DurationSec: seg.DurationSec,
		Gain:        1,
	}
}

// stationIDLocked probes the configured jingle once and caches the
// result. An unusable file logs a warning and disables the sting.
func (s *Scheduler) stationIDLocked(ctx context.Context) float64 {
	if s.cfg.StationIDPath == "" {
		return 0
	}
	if !s.stationProbed {
		s.stationIDDur = s.prober.ProbeDuration(ctx, s.cfg.StationIDPath)
		s.stationProbed = true
		if s.stationIDDur <= minStationIDSec {
			s.logger.Warn("station id jingle unusable, skipping sting",
				slog.String("path", s.cfg.StationIDPath),
				slog.Float64("seconds", s.stationIDDur))
		}
	}
	return s.stationIDDur
}

func (s *Scheduler) setFadeOutLocked(segmentID string, fadeOut float64) {
	for i := len(s.clips) - 1; i >= 0; i-- {
		if s.clips[i].SegmentID == segmentID {
			s.clips[i].FadeOutSec = fadeOut
			return
		}
	}
}

// Snapshot returns the read-only view of the planned timeline.
func (s *Scheduler) Snapshot() model.TimelineSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Scheduler) snapshotLocked() model.TimelineSnapshot {
	now := s.now()

	decks := map[model.DeckID][]model.ScheduledClip{
		model.DeckA: {},
		model.DeckB: {},
	}
	var voiceLane []model.ScheduledClip
	for _, clip := range s.clips {
		if clip.Deck != "" {
			decks[clip.Deck] = append(decks[clip.Deck], clip)
			continue
		}
		voiceLane = append(voiceLane, clip)
	}

	var upcoming []model.Transition
	for _, tr := range s.transitions {
		if tr.AtSec+tr.WindowSec >= now && tr.AtSec <= now+s.cfg.LookaheadSec {
			upcoming = append(upcoming, tr)
		}
	}

	var queue []model.QueueItem
	if s.queue != nil {
		queue = s.queue.Items()
	}

	return model.TimelineSnapshot{
		CursorSec:    s.cursor,
		LookaheadSec: s.cfg.LookaheadSec,
		Decks:        decks,
		VoiceLane:    voiceLane,
		Transitions:  upcoming,
		Queue:        queue,
	}
}

// Rebuild re-probes the station ID, drops transitions whose clips are
// gone, and returns a fresh snapshot.
func (s *Scheduler) Rebuild(ctx context.Context) (model.TimelineSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.StationIDPath != "" {
		d := s.prober.ProbeDuration(ctx, s.cfg.StationIDPath)
		if d <= 0 {
			return model.TimelineSnapshot{}, fmt.Errorf("%w: station id %q not probeable", ErrSchedulerRebuild, s.cfg.StationIDPath)
		}
		s.stationIDDur = d
		s.stationProbed = true
	}

	s.compactTransitionsLocked()
	return s.snapshotLocked(), nil
}

// Prune drops clips that finished more than olderThanSec ago, plus any
// transitions orphaned by the removal, and reports how many clips went.
func (s *Scheduler) Prune(olderThanSec float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now() - olderThanSec
	kept := s.clips[:0]
	for _, clip := range s.clips {
		if clip.EndAtSec() >= cutoff {
			kept = append(kept, clip)
		}
	}
	pruned := len(s.clips) - len(kept)
	s.clips = kept
	if pruned > 0 {
		s.compactTransitionsLocked()
	}
	return pruned
}

func (s *Scheduler) compactTransitionsLocked() {
	alive := make(map[string]bool, len(s.clips))
	for _, clip := range s.clips {
		alive[clip.SegmentID] = true
	}
	kept := s.transitions[:0]
	for _, tr := range s.transitions {
		if alive[tr.FromSegmentID] && alive[tr.ToSegmentID] {
			kept = append(kept, tr)
		}
	}
	s.transitions = kept
}

func transitionWindow(priority int) float64 {
	switch {
	case priority >= 120:
		return 2.2
	case priority >= 80:
		return 2.8
	default:
		return 3.6
	}
}

func transitionCurve(priority int, commentaryAdjacent bool) model.TransitionCurve {
	switch {
	case commentaryAdjacent:
		return model.CurveLog
	case priority >= 100:
		return model.CurveExp
	default:
		return model.CurveTri
	}
}

func otherDeck(d model.DeckID) model.DeckID {
	if d == model.DeckA {
		return model.DeckB
	}
	return model.DeckA
}
