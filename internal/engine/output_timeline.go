package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/airwav/airwav/internal/metrics"
	"github.com/airwav/airwav/internal/model"
	"github.com/airwav/airwav/internal/render"
	"github.com/airwav/airwav/internal/scheduler"
	"github.com/airwav/airwav/internal/sink"
)

// horizonLagMaxSec is how far the rendered horizon may trail the clock
// before it jumps forward instead of rendering the gap.
const horizonLagMaxSec = 4.0

// timelineOutput places segments on the two-deck timeline and renders
// the plan into fixed windows, pushed into the sink at its pace.
type timelineOutput struct {
	sched    *scheduler.Scheduler
	renderer ChunkRenderer
	sink     StreamSink
	metrics  *metrics.Metrics
	now      func() float64
	logger   *slog.Logger

	workDir     string
	windowSec   float64
	master      bool
	minAheadSec float64

	rendering atomic.Bool
	wg        sync.WaitGroup

	mu      sync.Mutex
	horizon float64
	segs    map[string]*placedSegment
	errs    []error
}

// placedSegment tracks one accepted segment's clip span for lifecycle
// sync.
type placedSegment struct {
	seg      model.RenderedSegment
	startSec float64
	endSec   float64
	started  bool
	finished bool
}

var _ Output = (*timelineOutput)(nil)

func newTimelineOutput(cfg Config, sched *scheduler.Scheduler, r ChunkRenderer, s StreamSink, m *metrics.Metrics, now func() float64, logger *slog.Logger) *timelineOutput {
	return &timelineOutput{
		sched:       sched,
		renderer:    r,
		sink:        s,
		metrics:     m,
		now:         now,
		logger:      logger,
		workDir:     cfg.WorkDir,
		windowSec:   cfg.WindowSec,
		master:      cfg.MasterChunks,
		minAheadSec: cfg.MinBufferSec,
		segs:        make(map[string]*placedSegment),
	}
}

// Ready always holds: placing on the timeline never blocks.
func (o *timelineOutput) Ready() bool { return true }

// Accept expands the segment into clips on the planned timeline and
// begins tracking its span.
func (o *timelineOutput) Accept(ctx context.Context, seg model.RenderedSegment) error {
	placed := o.sched.Place(ctx, seg)
	if len(placed) == 0 {
		return fmt.Errorf("no clips placed for segment %s", seg.ID)
	}

	start, end := placed[0].StartAtSec, placed[0].EndAtSec()
	for _, c := range placed[1:] {
		start = math.Min(start, c.StartAtSec)
		end = math.Max(end, c.EndAtSec())
	}

	o.mu.Lock()
	o.segs[seg.ID] = &placedSegment{seg: seg, startSec: start, endSec: end}
	o.mu.Unlock()
	return nil
}

// Advance walks segment spans across the clock, reports crossings in
// start order, prunes spent clips and kicks the render loop.
func (o *timelineOutput) Advance(ctx context.Context) []LifecycleEvent {
	now := o.now()

	o.mu.Lock()
	tracked := make([]*placedSegment, 0, len(o.segs))
	for _, ps := range o.segs {
		tracked = append(tracked, ps)
	}
	sort.Slice(tracked, func(i, j int) bool { return tracked[i].startSec < tracked[j].startSec })

	var evs []LifecycleEvent
	for _, ps := range tracked {
		if !ps.started && now >= ps.startSec {
			ps.started = true
			evs = append(evs, LifecycleEvent{Segment: ps.seg})
		}
		if !ps.finished && now >= ps.endSec {
			ps.finished = true
			evs = append(evs, LifecycleEvent{Segment: ps.seg, Finished: true})
		}
		if ps.finished && now >= ps.endSec+prunedAfterSec {
			delete(o.segs, ps.seg.ID)
		}
	}
	for _, err := range o.errs {
		evs = append(evs, LifecycleEvent{Err: err})
	}
	o.errs = nil
	o.mu.Unlock()

	o.sched.Prune(prunedAfterSec)
	o.pump(ctx)
	return evs
}

// pump launches one render loop if none is in flight.
func (o *timelineOutput) pump(ctx context.Context) {
	if !o.rendering.CompareAndSwap(false, true) {
		return
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.rendering.Store(false)
		o.renderLoop(ctx)
	}()
}

// renderLoop renders due windows in order and pushes them into the
// sink, which paces delivery to real time. It returns once the plan is
// exhausted or the horizon is far enough ahead of the playhead.
func (o *timelineOutput) renderLoop(ctx context.Context) {
	for ctx.Err() == nil {
		now := o.now()
		cursor := o.sched.Cursor()

		o.mu.Lock()
		if o.horizon < now-horizonLagMaxSec {
			o.logger.Warn("render horizon behind playhead, jumping forward",
				slog.Float64("horizon", o.horizon),
				slog.Float64("now", now))
			o.horizon = now
		}
		from := o.horizon
		o.mu.Unlock()

		if from+o.windowSec > cursor {
			return
		}
		if o.minAheadSec > 0 && from-now >= o.minAheadSec {
			return
		}

		if err := o.renderWindow(ctx, from, from+o.windowSec); err != nil {
			if ctx.Err() != nil || errors.Is(err, sink.ErrAborted) || errors.Is(err, sink.ErrPublisherExited) {
				return
			}
			o.logger.Error("window render failed", slog.Any("error", err))
			o.mu.Lock()
			o.errs = append(o.errs, err)
			o.mu.Unlock()
			return
		}

		o.mu.Lock()
		o.horizon = from + o.windowSec
		o.mu.Unlock()
	}
}

// renderWindow mixes the clips overlapping [from, to) into one PCM file
// and streams it. Windows with no planned audio become silence.
func (o *timelineOutput) renderWindow(ctx context.Context, from, to float64) error {
	outPath := filepath.Join(o.workDir, "engine-chunk-"+uuid.NewString()+".wav")
	clips := windowClips(o.sched.Clips(), from, to)

	if len(clips) == 0 {
		if err := render.WriteSilenceWAV(outPath, to-from); err != nil {
			return fmt.Errorf("writing silence window: %w", err)
		}
	} else {
		started := time.Now()
		if err := o.renderer.Render(ctx, clips, outPath, o.master); err != nil {
			return fmt.Errorf("rendering window at %.1fs: %w", from, err)
		}
		o.metrics.ObserveChunkRender(time.Since(started).Seconds())
	}
	defer os.Remove(outPath)

	if err := o.sink.PushFile(ctx, outPath); err != nil {
		return fmt.Errorf("pushing window at %.1fs: %w", from, err)
	}
	return nil
}

// windowClips maps scheduled clips overlapping [from, to) onto render
// clips relative to the window start. Gain endpoints are read off each
// clip's envelope at the audible edges, so ramps and fades survive the
// cut into windows as per-window linear sweeps.
func windowClips(clips []model.ScheduledClip, from, to float64) []render.Clip {
	var out []render.Clip
	for _, c := range clips {
		if !c.Overlaps(from, to) {
			continue
		}
		audFrom := math.Max(from, c.StartAtSec)
		audTo := math.Min(to, c.EndAtSec())
		if audTo-audFrom <= 1e-9 {
			continue
		}
		out = append(out, render.Clip{
			Path:            c.FilePath,
			StartSec:        audFrom - from,
			SourceOffsetSec: c.SourceOffsetSec + (audFrom - c.StartAtSec),
			DurationSec:     audTo - audFrom,
			Ramp: &render.Ramp{
				From:    envelopeAt(c, audFrom),
				To:      envelopeAt(c, audTo),
				Seconds: audTo - audFrom,
			},
		})
	}
	return out
}

// BufferedSec is how far the planned cursor runs ahead of the clock.
func (o *timelineOutput) BufferedSec() float64 {
	if d := o.sched.Cursor() - o.now(); d > 0 {
		return d
	}
	return 0
}

func (o *timelineOutput) ActiveClips() []model.ScheduledClip {
	now := o.now()
	var out []model.ScheduledClip
	for _, c := range o.sched.Clips() {
		if c.StartAtSec <= now && now <= c.EndAtSec() {
			out = append(out, c)
		}
	}
	return out
}

func (o *timelineOutput) ActiveTransition() (model.Transition, bool) {
	now := o.now()
	for _, tr := range o.sched.Transitions() {
		if tr.AtSec <= now && now <= tr.AtSec+tr.WindowSec {
			return tr, true
		}
	}
	return model.Transition{}, false
}

func (o *timelineOutput) Lookup(segmentID string) (model.RenderedSegment, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ps, ok := o.segs[segmentID]
	if !ok {
		return model.RenderedSegment{}, false
	}
	return ps.seg, true
}

// SkipCurrent is unsupported here: a pushed window mixes several clips
// and none can be cut alone.
func (o *timelineOutput) SkipCurrent() (bool, error) {
	return false, ErrSkipUnsupported
}

func (o *timelineOutput) Close() {
	o.wg.Wait()
}
