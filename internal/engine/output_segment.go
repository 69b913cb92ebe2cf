package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/airwav/airwav/internal/model"
	"github.com/airwav/airwav/internal/queue"
	"github.com/airwav/airwav/internal/sink"
)

// segmentOutput streams whole rendered files into the sink one at a
// time, in queue order. The push runs on its own goroutine because the
// sink paces delivery to real time.
type segmentOutput struct {
	sink   StreamSink
	queue  *queue.Queue
	now    func() float64
	logger *slog.Logger

	mu       sync.Mutex
	inflight *inflightPush
	wg       sync.WaitGroup
}

// inflightPush tracks the segment currently streaming into the sink.
type inflightPush struct {
	seg       model.RenderedSegment
	startedAt float64
	started   bool
	done      bool
	err       error
}

var _ Output = (*segmentOutput)(nil)

func newSegmentOutput(s StreamSink, q *queue.Queue, now func() float64, logger *slog.Logger) *segmentOutput {
	return &segmentOutput{sink: s, queue: q, now: now, logger: logger}
}

func (o *segmentOutput) Ready() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inflight == nil && o.sink.Running()
}

func (o *segmentOutput) Accept(ctx context.Context, seg model.RenderedSegment) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inflight != nil {
		return errOutputBusy
	}
	push := &inflightPush{seg: seg, startedAt: o.now()}
	o.inflight = push
	o.wg.Add(1)
	go o.push(ctx, push)
	return nil
}

func (o *segmentOutput) push(ctx context.Context, p *inflightPush) {
	defer o.wg.Done()
	err := o.sink.PushFile(ctx, p.seg.FilePath)

	o.mu.Lock()
	p.done = true
	p.err = err
	o.mu.Unlock()
}

// Advance reports the start as soon as the push launched and the finish
// once the sink is done with the file. An abort still finishes the
// segment; a push failure surfaces alongside it.
func (o *segmentOutput) Advance(ctx context.Context) []LifecycleEvent {
	o.mu.Lock()
	defer o.mu.Unlock()

	p := o.inflight
	if p == nil {
		return nil
	}

	var evs []LifecycleEvent
	if !p.started {
		p.started = true
		evs = append(evs, LifecycleEvent{Segment: p.seg})
	}
	if p.done {
		o.inflight = nil
		switch {
		case p.err == nil || errors.Is(p.err, sink.ErrAborted):
			evs = append(evs, LifecycleEvent{Segment: p.seg, Finished: true})
		case errors.Is(p.err, context.Canceled):
		default:
			evs = append(evs,
				LifecycleEvent{Segment: p.seg, Err: fmt.Errorf("pushing %s: %w", filepath.Base(p.seg.FilePath), p.err)},
				LifecycleEvent{Segment: p.seg, Finished: true})
		}
	}
	return evs
}

// BufferedSec counts queued audio plus what remains of the in-flight
// push, paced against the clock.
func (o *segmentOutput) BufferedSec() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	sum := o.queue.DurationSum()
	if p := o.inflight; p != nil && !p.done {
		if left := p.seg.DurationSec - (o.now() - p.startedAt); left > 0 {
			sum += left
		}
	}
	return sum
}

// ActiveClips synthesizes one full-gain clip for the streaming segment
// so meters and deck state have something to show.
func (o *segmentOutput) ActiveClips() []model.ScheduledClip {
	o.mu.Lock()
	defer o.mu.Unlock()

	p := o.inflight
	if p == nil || p.done {
		return nil
	}
	clip := model.ScheduledClip{
		SegmentID:   p.seg.ID,
		Channel:     p.seg.Channel,
		FilePath:    p.seg.FilePath,
		StartAtSec:  p.startedAt,
		DurationSec: p.seg.DurationSec,
		Gain:        1,
	}
	if p.seg.Kind == model.SegmentKindSong {
		clip.Deck = model.DeckA
	}
	return []model.ScheduledClip{clip}
}

func (o *segmentOutput) ActiveTransition() (model.Transition, bool) {
	return model.Transition{}, false
}

func (o *segmentOutput) Lookup(segmentID string) (model.RenderedSegment, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if p := o.inflight; p != nil && p.seg.ID == segmentID {
		return p.seg, true
	}
	return model.RenderedSegment{}, false
}

// SkipCurrent aborts the in-flight push; the sink keeps running.
func (o *segmentOutput) SkipCurrent() (bool, error) {
	skipped := o.sink.AbortCurrent()
	if skipped {
		o.logger.Info("aborted in-flight push")
	}
	return skipped, nil
}

func (o *segmentOutput) Close() {
	o.wg.Wait()
}
