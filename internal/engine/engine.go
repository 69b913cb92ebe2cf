// Package engine runs the playout control loop. Each tick it syncs
// segment lifecycle against the clock, publishes meters and playhead
// state, builds ahead until the buffer target is met and hands finished
// segments to the output.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airwav/airwav/internal/builder"
	"github.com/airwav/airwav/internal/catalog"
	"github.com/airwav/airwav/internal/metrics"
	"github.com/airwav/airwav/internal/model"
	"github.com/airwav/airwav/internal/observability"
	"github.com/airwav/airwav/internal/queue"
	"github.com/airwav/airwav/internal/render"
	"github.com/airwav/airwav/internal/scheduler"
	"github.com/airwav/airwav/internal/sink"
	"github.com/airwav/airwav/internal/state"
)

// ErrSkipUnsupported is returned by SkipCurrent in timeline mode, where
// a pushed window mixes several clips and none can be cut alone.
var ErrSkipUnsupported = errors.New("skip not supported in timeline mode")

// errOutputBusy reports an Accept against an output still working on the
// previous segment.
var errOutputBusy = errors.New("output busy")

const (
	tickInterval = 250 * time.Millisecond

	// meterIntervalSec rate-limits meter publication.
	meterIntervalSec = 0.3

	// prunedAfterSec keeps finished segments visible briefly before
	// they are dropped from lifecycle tracking and the timeline.
	prunedAfterSec = 4.0

	// recoverySilenceSec of pinned silence is queued after a build
	// failure so the buffer keeps advancing.
	recoverySilenceSec = 2.0

	defaultWindowSec = 2.0

	maxBuildsTimeline = 4
	maxBuildsSegment  = 1
)

// SegmentBuilder produces rendered segments and tracks the rotation
// phase.
type SegmentBuilder interface {
	BuildNext(ctx context.Context) (*model.RenderedSegment, error)
	Phase() model.Phase
}

// StreamSink is the persistent RTMP publisher the output feeds.
type StreamSink interface {
	Start(ctx context.Context) error
	Stop()
	PushFile(ctx context.Context, path string) error
	AbortCurrent() bool
	Busy() bool
	Running() bool
	Events() <-chan sink.Event
}

// ChunkRenderer mixes scheduled clips into one PCM window on disk.
type ChunkRenderer interface {
	Render(ctx context.Context, clips []render.Clip, outPath string, master bool) error
}

// TrackSource lists the playable catalog.
type TrackSource interface {
	Tracks() []catalog.Track
}

// LifecycleEvent reports a segment starting or finishing on the wall
// clock, or an asynchronous playout failure.
type LifecycleEvent struct {
	Segment  model.RenderedSegment
	Finished bool
	Err      error
}

// Output is where rendered segments go once popped from the queue. The
// engine picks one implementation at start and never switches mid-run.
type Output interface {
	// Ready reports whether another segment can be accepted right now.
	Ready() bool
	// Accept takes ownership of a rendered segment.
	Accept(ctx context.Context, seg model.RenderedSegment) error
	// Advance moves playback bookkeeping to the current clock and
	// reports lifecycle crossings since the previous call.
	Advance(ctx context.Context) []LifecycleEvent
	// BufferedSec reports planned audio ahead of the playhead.
	BufferedSec() float64
	// ActiveClips lists the clips audible right now.
	ActiveClips() []model.ScheduledClip
	// ActiveTransition reports a crossfade in progress, if any.
	ActiveTransition() (model.Transition, bool)
	// Lookup resolves a segment accepted earlier and not yet pruned.
	Lookup(segmentID string) (model.RenderedSegment, bool)
	// SkipCurrent cuts the playing segment short where supported.
	SkipCurrent() (bool, error)
	// Close waits for in-flight output work to settle.
	Close()
}

// Config carries the engine knobs.
type Config struct {
	WorkDir         string
	TargetBufferSec float64
	MinBufferSec    float64
	TimelineMode    bool    // place on the two-deck timeline instead of pushing whole files
	MasterChunks    bool    // apply the mastering chain to window renders
	WindowSec       float64 // timeline render window length
}

// Deps are the engine's collaborators. Schedule and Renderer are only
// consulted in timeline mode.
type Deps struct {
	Builder  SegmentBuilder
	Queue    *queue.Queue
	Schedule *scheduler.Scheduler
	Renderer ChunkRenderer
	Sink     StreamSink
	State    *state.Store
	Metrics  *metrics.Metrics
	Catalog  TrackSource
	Now      func() float64 // seconds since stream start
	Logger   *slog.Logger
}

// Engine drives playout. Start spawns the control loop; every tick runs
// on one goroutine so the queue, scheduler and state never see competing
// engine writers.
type Engine struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	output Output
	now    func() float64

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lastMeterAt float64
}

// New wires an engine for the configured output mode.
func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Builder == nil || deps.Queue == nil || deps.Sink == nil ||
		deps.State == nil || deps.Metrics == nil || deps.Catalog == nil {
		return nil, errors.New("engine: builder, queue, sink, state, metrics and catalog are required")
	}
	if cfg.TargetBufferSec <= 0 {
		cfg.TargetBufferSec = 600
	}
	if cfg.WindowSec <= 0 {
		cfg.WindowSec = defaultWindowSec
	}

	e := &Engine{
		cfg:         cfg,
		deps:        deps,
		logger:      observability.WithComponent(deps.Logger, "engine"),
		now:         deps.Now,
		lastMeterAt: math.Inf(-1),
	}
	if e.now == nil {
		start := time.Now()
		e.now = func() float64 { return time.Since(start).Seconds() }
	}

	if cfg.TimelineMode {
		if deps.Schedule == nil || deps.Renderer == nil {
			return nil, errors.New("engine: timeline mode requires a scheduler and a renderer")
		}
		e.output = newTimelineOutput(cfg, deps.Schedule, deps.Renderer, deps.Sink, deps.Metrics, e.now, e.logger)
	} else {
		e.output = newSegmentOutput(deps.Sink, deps.Queue, e.now, e.logger)
	}
	return e, nil
}

// Start validates the catalog, brings the sink up and launches the
// control loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ctx != nil {
		return errors.New("engine already started")
	}
	if len(e.deps.Catalog.Tracks()) == 0 {
		return fmt.Errorf("%w: no playable tracks loaded", catalog.ErrCatalogInvalid)
	}
	if err := e.deps.Sink.Start(ctx); err != nil {
		return fmt.Errorf("starting sink: %w", err)
	}

	e.ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(2)
	go e.run(e.ctx)
	go e.pumpSinkEvents(e.ctx)

	e.deps.State.EngineStarted(time.Now())
	e.logger.Info("engine started",
		slog.Bool("timeline", e.cfg.TimelineMode),
		slog.Float64("target_buffer_sec", e.cfg.TargetBufferSec))
	return nil
}

// Stop halts the loop, tears the sink down and waits for in-flight
// output work. Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.ctx == nil {
		e.mu.Unlock()
		return
	}
	e.cancel()
	e.ctx, e.cancel = nil, nil
	e.mu.Unlock()

	e.wg.Wait()
	e.deps.Sink.Stop()
	e.output.Close()
	e.deps.State.SinkStopped()
	e.deps.State.EngineStopped()
	e.logger.Info("engine stopped")
}

// Running reports whether the control loop is live.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ctx != nil
}

// BufferedSec reports planned audio ahead of the playhead.
func (e *Engine) BufferedSec() float64 {
	return e.output.BufferedSec()
}

// SkipCurrent cuts the playing segment short. Only the per-segment
// output supports it.
func (e *Engine) SkipCurrent() (bool, error) {
	return e.output.SkipCurrent()
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		e.runTick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pumpSinkEvents forwards sink lifecycle onto the state bus; the sink
// never touches runtime state itself.
func (e *Engine) pumpSinkEvents(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.deps.Sink.Events():
			switch ev.Kind {
			case sink.EventStarted:
				if e.deps.State.Snapshot().Publisher.LastExitCode != nil {
					e.deps.Metrics.RecordPublisherRestart()
				}
				e.deps.State.SinkStarted(ev.RTMPURL)
			case sink.EventError:
				e.deps.State.SinkError(ev.Message, ev.ExitCode)
			}
		}
	}
}

// runTick is one pass of the control loop.
func (e *Engine) runTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	now := e.now()

	for _, ev := range e.output.Advance(ctx) {
		switch {
		case ev.Err != nil:
			e.logger.Error("playout failed", slog.Any("error", ev.Err))
			e.deps.State.RecordError(ev.Err.Error())
		case ev.Finished:
			e.deps.State.SegmentFinished(ev.Segment, e.output.BufferedSec())
		default:
			e.deps.State.SegmentStarted(ev.Segment, e.deps.Queue.Items())
			e.deps.Metrics.RecordSegmentPlayed(string(ev.Segment.Kind))
		}
	}

	if now-e.lastMeterAt >= meterIntervalSec {
		e.publishMeters(now)
		e.lastMeterAt = now
	}

	buffered := e.output.BufferedSec()
	e.deps.State.UpdatePlayhead(e.playheadUpdate(now, buffered))
	e.deps.Metrics.SetBufferedSeconds(buffered)
	e.deps.Metrics.SetQueueDepth(e.deps.Queue.Len())

	e.buildAhead(ctx)
	e.dispatch(ctx)
}

// buildAhead renders new segments until the buffer target is met or the
// per-tick cap is hit. A failed build queues recovery silence and gives
// up until the next tick.
func (e *Engine) buildAhead(ctx context.Context) {
	for builds := 0; builds < e.maxBuilds(); builds++ {
		if ctx.Err() != nil || e.output.BufferedSec() >= e.cfg.TargetBufferSec {
			return
		}

		seg, err := e.deps.Builder.BuildNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			e.logger.Error("segment build failed", slog.Any("error", err))
			e.deps.State.BuildFailure(err.Error())
			e.deps.Metrics.RecordBuildFailure()
			e.enqueueRecoverySilence()
			return
		}

		item := e.deps.Queue.Enqueue(*seg)
		e.deps.State.SegmentBuilt(*seg)
		e.deps.State.SegmentEnqueued(item, e.deps.Queue.Items())
		e.deps.State.SetPhase(e.deps.Builder.Phase())
		e.deps.Metrics.RecordSegmentBuilt(string(seg.Kind))
		e.dispatch(ctx)
	}
}

// dispatch drains the queue into the output for as long as it takes
// work.
func (e *Engine) dispatch(ctx context.Context) {
	for ctx.Err() == nil && e.output.Ready() {
		item, ok := e.deps.Queue.Pop()
		if !ok {
			return
		}
		if err := e.output.Accept(ctx, item.Segment); err != nil {
			e.logger.Warn("output refused segment",
				slog.String("segment_id", item.Segment.ID),
				slog.Any("error", err))
			e.deps.Queue.Enqueue(item.Segment)
			return
		}
		e.deps.State.QueueUpdated(e.deps.Queue.Items())
	}
}

// enqueueRecoverySilence keeps the buffer advancing after a build
// failure.
func (e *Engine) enqueueRecoverySilence() {
	path := filepath.Join(e.cfg.WorkDir, "engine-recovery-"+uuid.NewString()+".wav")
	if err := render.WriteSilenceWAV(path, recoverySilenceSec); err != nil {
		e.logger.Error("writing recovery silence", slog.Any("error", err))
		return
	}
	seg := model.RenderedSegment{
		ID:          model.NewSegmentID(),
		Kind:        model.SegmentKindLiner,
		FilePath:    path,
		DurationSec: recoverySilenceSec,
		Note:        "recovery silence",
		Source:      model.SegmentSourceAuto,
		Priority:    model.PriorityMax,
		Pinned:      true,
		Channel:     model.ChannelJingle,
	}
	item := e.deps.Queue.Enqueue(seg)
	e.deps.State.SegmentEnqueued(item, e.deps.Queue.Items())
}

func (e *Engine) maxBuilds() int {
	if e.cfg.TimelineMode {
		return maxBuildsTimeline
	}
	return maxBuildsSegment
}

func (e *Engine) publishMeters(now float64) {
	m := meterLevels(e.output.ActiveClips(), now)
	e.deps.State.UpdateMeters(m)
	e.deps.Metrics.SetMeterLevel("music", m.Music)
	e.deps.Metrics.SetMeterLevel("voice", m.Voice)
	e.deps.Metrics.SetMeterLevel("jingle", m.Jingle)
	e.deps.Metrics.SetMeterLevel("ads", m.Ads)
	e.deps.Metrics.SetMeterLevel("master", m.Master)
}

func (e *Engine) playheadUpdate(now, buffered float64) state.PlayheadUpdate {
	u := state.PlayheadUpdate{
		PlayheadSec: now,
		BufferedSec: buffered,
		Phase:       e.deps.Builder.Phase(),
	}
	if e.cfg.TimelineMode {
		u.LookaheadSec = e.deps.Schedule.Lookahead()
	}

	clips := e.output.ActiveClips()
	for _, c := range clips {
		switch {
		case c.Deck == model.DeckA || c.Deck == model.DeckB:
			ds := model.DeckState{
				SegmentID:    c.SegmentID,
				Title:        e.titleFor(c),
				PositionSec:  now - c.StartAtSec,
				RemainingSec: c.EndAtSec() - now,
				Active:       true,
			}
			if c.Deck == model.DeckA {
				u.DeckA = ds
			} else {
				u.DeckB = ds
			}
		case c.Channel == model.ChannelVoice:
			u.VoiceLane = model.VoiceLaneState{
				SegmentID:    c.SegmentID,
				RemainingSec: c.EndAtSec() - now,
				Active:       true,
			}
		}
	}

	tr, inWindow := e.output.ActiveTransition()
	u.Crossfader = crossfaderState(clips, tr, inWindow, now)
	u.Ducking = duckingState(clips, now)
	return u
}

func (e *Engine) titleFor(c model.ScheduledClip) string {
	id := c.SegmentID
	if c.ParentSegmentID != "" {
		id = c.ParentSegmentID
	}
	if seg, ok := e.output.Lookup(id); ok {
		return seg.Note
	}
	return ""
}

// crossfaderState maps an in-progress transition onto the -1..+1 blend
// position; outside a window the fader rests on the playing deck.
func crossfaderState(clips []model.ScheduledClip, tr model.Transition, inWindow bool, now float64) model.CrossfaderState {
	if inWindow && tr.WindowSec > 0 {
		p := clamp01((now - tr.AtSec) / tr.WindowSec)
		pos := -1 + 2*p
		if tr.ToDeck == model.DeckA {
			pos = 1 - 2*p
		}
		return model.CrossfaderState{Position: pos, Active: true, Curve: tr.Curve}
	}
	for _, c := range clips {
		if c.Channel != model.ChannelMusic {
			continue
		}
		if c.Deck == model.DeckA {
			return model.CrossfaderState{Position: -1}
		}
		if c.Deck == model.DeckB {
			return model.CrossfaderState{Position: 1}
		}
	}
	return model.CrossfaderState{}
}

// duckingState reports music or jingle pulled under an audible voice
// clip. Depth is how far the quietest bed sits below unity.
func duckingState(clips []model.ScheduledClip, now float64) model.DuckingState {
	voice := false
	bed := false
	minBed := 1.0
	for _, c := range clips {
		switch c.Channel {
		case model.ChannelVoice:
			if envelopeAt(c, now) > 0 {
				voice = true
			}
		case model.ChannelMusic, model.ChannelJingle:
			bed = true
			if lvl := clamp01(envelopeAt(c, now)); lvl < minBed {
				minBed = lvl
			}
		}
	}
	if !voice || !bed {
		return model.DuckingState{}
	}
	return model.DuckingState{Active: true, Depth: clamp01(1 - minBed)}
}

// meterLevels derives per-channel levels from the planned envelopes of
// the audible clips. Channels clamp to [0, 1]; the master is the
// root-sum-square capped at 1.
func meterLevels(clips []model.ScheduledClip, now float64) model.Meters {
	var m model.Meters
	for _, c := range clips {
		lvl := clamp01(envelopeAt(c, now))
		switch c.Channel {
		case model.ChannelMusic:
			m.Music = math.Max(m.Music, lvl)
		case model.ChannelVoice:
			m.Voice = math.Max(m.Voice, lvl)
		case model.ChannelJingle:
			m.Jingle = math.Max(m.Jingle, lvl)
		case model.ChannelAds:
			m.Ads = math.Max(m.Ads, lvl)
		}
	}
	m.Master = math.Min(1, math.Sqrt(m.Music*m.Music+m.Voice*m.Voice+m.Jingle*m.Jingle+m.Ads*m.Ads))
	return m
}

// envelopeAt returns the planned gain of a clip at absolute second t,
// zero outside the clip's span. A ramp replaces the base gain; edge
// fades multiply on top.
func envelopeAt(c model.ScheduledClip, t float64) float64 {
	if t < c.StartAtSec || t > c.EndAtSec() {
		return 0
	}
	rel := t - c.StartAtSec
	g := c.Gain
	if g == 0 {
		g = 1
	}
	if c.Ramp != nil {
		g = c.Ramp.At(rel)
	}
	if c.FadeInSec > 0 && rel < c.FadeInSec {
		g *= rel / c.FadeInSec
	}
	if c.FadeOutSec > 0 {
		if left := c.DurationSec - rel; left < c.FadeOutSec {
			g *= left / c.FadeOutSec
		}
	}
	return g
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

var _ SegmentBuilder = (*builder.Builder)(nil)
var _ StreamSink = (*sink.Sink)(nil)
