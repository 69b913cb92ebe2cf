package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/airwav/airwav/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct{ sec float64 }

func (c *fakeClock) now() float64 { return c.sec }

type probeFunc func(context.Context, string) float64

func (f probeFunc) ProbeDuration(ctx context.Context, path string) float64 { return f(ctx, path) }

type staticQueue []model.QueueItem

func (q staticQueue) Items() []model.QueueItem { return q }

func newTestScheduler(cfg Config, clock *fakeClock, probe probeFunc, queue QueueView) *Scheduler {
	if probe == nil {
		probe = func(context.Context, string) float64 { return -1 }
	}
	return New(cfg, probe, queue, clock.now, testLogger())
}

func song(id string, dur float64, priority int) model.RenderedSegment {
	return model.RenderedSegment{
		ID:          id,
		Kind:        model.SegmentKindSong,
		FilePath:    "/tmp/rj/" + id + ".wav",
		DurationSec: dur,
		Source:      model.SegmentSourceAuto,
		Priority:    priority,
	}
}

func commentarySeg(id string, dur float64) model.RenderedSegment {
	return model.RenderedSegment{
		ID:          id,
		Kind:        model.SegmentKindCommentary,
		FilePath:    "/tmp/rj/" + id + ".wav",
		DurationSec: dur,
		Source:      model.SegmentSourceAuto,
		Priority:    50,
	}
}

func TestStationIDPlacement(t *testing.T) {
	clock := &fakeClock{sec: 20.0}
	probe := probeFunc(func(_ context.Context, path string) float64 {
		require.Equal(t, "/station/id.wav", path)
		return 0.8
	})
	s := newTestScheduler(Config{StationIDPath: "/station/id.wav"}, clock, probe, nil)

	placed := s.Place(context.Background(), commentarySeg("c1", 10))
	require.Len(t, placed, 2)

	jingle := placed[0]
	require.Equal(t, model.ChannelJingle, jingle.Channel)
	require.Equal(t, "c1-id", jingle.SegmentID)
	require.Equal(t, "c1", jingle.ParentSegmentID)
	require.Equal(t, "/station/id.wav", jingle.FilePath)
	require.InDelta(t, 20.0, jingle.StartAtSec, 1e-9)
	require.InDelta(t, 0.8, jingle.DurationSec, 1e-9)
	require.NotNil(t, jingle.Ramp)
	require.InDelta(t, 1.0, jingle.Ramp.From, 1e-9)
	require.InDelta(t, 0.15, jingle.Ramp.To, 1e-9)
	require.InDelta(t, 0.8, jingle.Ramp.Seconds, 1e-9)

	voice := placed[1]
	require.Equal(t, model.ChannelVoice, voice.Channel)
	require.Equal(t, "c1", voice.SegmentID)
	require.InDelta(t, 20.48, voice.StartAtSec, 1e-9)
	require.InDelta(t, 10.0, voice.DurationSec, 1e-9)
	require.NotNil(t, voice.Ramp)
	require.InDelta(t, 0.65, voice.Ramp.From, 1e-9)
	require.InDelta(t, 1.35, voice.Ramp.To, 1e-9)
	require.InDelta(t, 3.5, voice.Ramp.Seconds, 1e-9)

	require.InDelta(t, 30.48, s.Cursor(), 1e-9)
}

func TestStationIDTooShortSkipsSting(t *testing.T) {
	clock := &fakeClock{}
	probe := probeFunc(func(context.Context, string) float64 { return 0.03 })
	s := newTestScheduler(Config{StationIDPath: "/station/id.wav"}, clock, probe, nil)

	placed := s.Place(context.Background(), commentarySeg("c1", 10))
	require.Len(t, placed, 1)
	require.Equal(t, model.ChannelVoice, placed[0].Channel)
	require.Zero(t, placed[0].StartAtSec)
}

func TestCommentaryWithoutStationID(t *testing.T) {
	clock := &fakeClock{}
	s := newTestScheduler(Config{}, clock, nil, nil)

	placed := s.Place(context.Background(), commentarySeg("c1", 10))
	require.Len(t, placed, 1)
	require.Equal(t, model.ChannelVoice, placed[0].Channel)
}

func TestDeckAlternationAndTransitions(t *testing.T) {
	clock := &fakeClock{}
	s := newTestScheduler(Config{LookaheadSec: 1e9}, clock, nil, nil)
	ctx := context.Background()

	wantDecks := []model.DeckID{model.DeckA, model.DeckB, model.DeckA, model.DeckB}
	for i, id := range []string{"s1", "s2", "s3", "s4"} {
		placed := s.Place(ctx, song(id, 180, 50))
		require.Len(t, placed, 1)
		clip := placed[0]
		require.Equal(t, model.ChannelMusic, clip.Channel)
		require.Equal(t, wantDecks[i], clip.Deck)
		require.InDelta(t, float64(i)*180, clip.StartAtSec, 1e-9)
		require.NotNil(t, clip.Ramp)
		require.InDelta(t, 0.70, clip.Ramp.From, 1e-9)
		require.InDelta(t, 1.00, clip.Ramp.To, 1e-9)
		require.InDelta(t, 7.0, clip.Ramp.Seconds, 1e-9)
	}

	snap := s.Snapshot()
	require.Len(t, snap.Transitions, 3)
	for i, tr := range snap.Transitions {
		require.InDelta(t, 3.6, tr.WindowSec, 1e-9, "transition %d", i)
		require.Equal(t, model.CurveTri, tr.Curve, "transition %d", i)
		require.InDelta(t, float64(i+1)*180-3.6, tr.AtSec, 1e-9, "transition %d", i)
		require.Equal(t, wantDecks[i], tr.FromDeck)
		require.Equal(t, wantDecks[i+1], tr.ToDeck)
	}

	// The planned fade-out lands on the outgoing clip.
	require.Len(t, snap.Decks[model.DeckA], 2)
	require.InDelta(t, 3.6, snap.Decks[model.DeckA][0].FadeOutSec, 1e-9)
	require.Len(t, snap.Decks[model.DeckB], 2)
	require.InDelta(t, 3.6, snap.Decks[model.DeckB][0].FadeOutSec, 1e-9)
	require.Zero(t, snap.Decks[model.DeckB][1].FadeOutSec)

	require.InDelta(t, 720, snap.CursorSec, 1e-9)
}

func TestTransitionWindowsAndCurves(t *testing.T) {
	tests := []struct {
		name       string
		priority   int
		wantWindow float64
		wantCurve  model.TransitionCurve
	}{
		{"auto", 50, 3.6, model.CurveTri},
		{"at eighty", 80, 2.8, model.CurveTri},
		{"manual request", 110, 2.8, model.CurveExp},
		{"pinned commentary priority", 120, 2.2, model.CurveExp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := &fakeClock{}
			s := newTestScheduler(Config{LookaheadSec: 1e9}, clock, nil, nil)
			ctx := context.Background()

			s.Place(ctx, song("first", 120, 50))
			s.Place(ctx, song("second", 120, tt.priority))

			snap := s.Snapshot()
			require.Len(t, snap.Transitions, 1)
			require.InDelta(t, tt.wantWindow, snap.Transitions[0].WindowSec, 1e-9)
			require.Equal(t, tt.wantCurve, snap.Transitions[0].Curve)
		})
	}
}

func TestSongAfterCommentaryOverlap(t *testing.T) {
	clock := &fakeClock{}
	s := newTestScheduler(Config{LookaheadSec: 1e9}, clock, nil, nil)
	ctx := context.Background()

	s.Place(ctx, song("s1", 100, 50))
	s.Place(ctx, commentarySeg("c1", 10))
	require.InDelta(t, 110, s.Cursor(), 1e-9)

	placed := s.Place(ctx, song("s2", 200, 50))
	// Halfway into the 10 s link that started at 100.
	require.InDelta(t, 105, placed[0].StartAtSec, 1e-9)
	require.InDelta(t, 305, s.Cursor(), 1e-9)

	// A crossfade separated by a spoken link takes the log curve.
	snap := s.Snapshot()
	require.Len(t, snap.Transitions, 1)
	require.Equal(t, model.CurveLog, snap.Transitions[0].Curve)
}

func TestCarryOverOffsetSeeksPastTuckedHead(t *testing.T) {
	clock := &fakeClock{}
	s := newTestScheduler(Config{CarryOverOffset: true}, clock, nil, nil)
	ctx := context.Background()

	s.Place(ctx, song("s1", 100, 50))
	s.Place(ctx, commentarySeg("c1", 10))

	placed := s.Place(ctx, song("s2", 200, 50))
	require.Len(t, placed, 1)
	clip := placed[0]

	// Instead of tucking under the link at 105, the song starts at the
	// link boundary with the tucked 5 s seeked past.
	require.InDelta(t, 110, clip.StartAtSec, 1e-9)
	require.InDelta(t, 5, clip.SourceOffsetSec, 1e-9)
	require.InDelta(t, 195, clip.DurationSec, 1e-9)

	// The stream timeline ends at the same instant either way.
	require.InDelta(t, 305, s.Cursor(), 1e-9)
}

func TestCarryOverOffsetSkipsShortSongs(t *testing.T) {
	clock := &fakeClock{}
	s := newTestScheduler(Config{CarryOverOffset: true}, clock, nil, nil)
	ctx := context.Background()

	s.Place(ctx, song("s1", 100, 50))
	s.Place(ctx, commentarySeg("c1", 10))

	// A clip shorter than the carried head keeps the plain tuck-under.
	placed := s.Place(ctx, song("s2", 4, 50))
	require.InDelta(t, 105, placed[0].StartAtSec, 1e-9)
	require.InDelta(t, 0, placed[0].SourceOffsetSec, 1e-9)
	require.InDelta(t, 4, placed[0].DurationSec, 1e-9)
}

func TestOverlapNeverStartsInThePast(t *testing.T) {
	clock := &fakeClock{}
	s := newTestScheduler(Config{}, clock, nil, nil)
	ctx := context.Background()

	s.Place(ctx, song("s1", 100, 50))
	s.Place(ctx, commentarySeg("c1", 10))

	// Playback has caught up past the halfway point of the link.
	clock.sec = 108
	placed := s.Place(ctx, song("s2", 200, 50))
	require.InDelta(t, 108, placed[0].StartAtSec, 1e-9)
}

func TestBaseStartFollowsClock(t *testing.T) {
	clock := &fakeClock{}
	s := newTestScheduler(Config{}, clock, nil, nil)
	ctx := context.Background()

	s.Place(ctx, song("s1", 30, 50))
	require.InDelta(t, 30, s.Cursor(), 1e-9)

	// The plan ran dry: now is past the cursor.
	clock.sec = 45
	placed := s.Place(ctx, song("s2", 30, 50))
	require.InDelta(t, 45, placed[0].StartAtSec, 1e-9)
	require.InDelta(t, 75, s.Cursor(), 1e-9)
}

func TestLinerRidesJingleChannel(t *testing.T) {
	clock := &fakeClock{}
	s := newTestScheduler(Config{}, clock, nil, nil)

	placed := s.Place(context.Background(), model.RenderedSegment{
		ID:          "l1",
		Kind:        model.SegmentKindLiner,
		FilePath:    "/tmp/rj/l1.wav",
		DurationSec: 3,
	})
	require.Len(t, placed, 1)
	require.Equal(t, model.ChannelJingle, placed[0].Channel)
	require.Nil(t, placed[0].Ramp)
	require.InDelta(t, 1.0, placed[0].Gain, 1e-9)
}

func TestLinerDoesNotTriggerSongOverlap(t *testing.T) {
	clock := &fakeClock{}
	s := newTestScheduler(Config{}, clock, nil, nil)
	ctx := context.Background()

	s.Place(ctx, song("s1", 100, 50))
	s.Place(ctx, commentarySeg("c1", 10))
	s.Place(ctx, model.RenderedSegment{ID: "l1", Kind: model.SegmentKindLiner, DurationSec: 3})

	// The liner broke the commentary adjacency, so the song starts at
	// the cursor rather than under the link.
	placed := s.Place(ctx, song("s2", 100, 50))
	require.InDelta(t, 113, placed[0].StartAtSec, 1e-9)
}

func TestPrune(t *testing.T) {
	clock := &fakeClock{}
	s := newTestScheduler(Config{LookaheadSec: 1e9}, clock, nil, nil)
	ctx := context.Background()

	s.Place(ctx, song("s1", 10, 50))
	s.Place(ctx, song("s2", 10, 50))
	s.Place(ctx, song("s3", 10, 50))
	require.Len(t, s.Clips(), 3)

	// s1 ended at 10, s2 at 20, s3 at 30; the cutoff lands at 14.
	clock.sec = 18
	require.Equal(t, 1, s.Prune(4))

	clips := s.Clips()
	require.Len(t, clips, 2)
	for _, c := range clips {
		require.NotEqual(t, "s1", c.SegmentID)
	}

	// The s1->s2 transition lost its outgoing clip.
	snap := s.Snapshot()
	require.Len(t, snap.Transitions, 1)
	require.Equal(t, "s2", snap.Transitions[0].FromSegmentID)

	clock.sec = 100
	require.Equal(t, 2, s.Prune(4))
	require.Empty(t, s.Clips())
	require.Zero(t, s.Prune(4))
}

func TestSnapshotLookaheadWindow(t *testing.T) {
	clock := &fakeClock{}
	s := newTestScheduler(Config{LookaheadSec: 100}, clock, nil, nil)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		s.Place(ctx, song(id, 60, 50))
	}

	// Transitions sit at 56.4 and 116.4; only the first is inside the
	// 100 s lookahead from t=0.
	snap := s.Snapshot()
	require.Len(t, snap.Transitions, 1)
	require.Equal(t, "s1", snap.Transitions[0].FromSegmentID)

	// At t=100 the first crossfade already finished at 60.
	clock.sec = 100
	snap = s.Snapshot()
	require.Len(t, snap.Transitions, 1)
	require.Equal(t, "s2", snap.Transitions[0].FromSegmentID)
}

func TestSnapshotCarriesQueue(t *testing.T) {
	clock := &fakeClock{}
	queued := staticQueue{
		{Segment: song("q1", 30, 50), Reason: model.ReasonAutoPriority},
	}
	s := newTestScheduler(Config{}, clock, nil, queued)

	snap := s.Snapshot()
	require.Len(t, snap.Queue, 1)
	require.Equal(t, "q1", snap.Queue[0].Segment.ID)
	require.Equal(t, model.ReasonAutoPriority, snap.Queue[0].Reason)
}

func TestRebuild(t *testing.T) {
	t.Run("unreadable station id", func(t *testing.T) {
		clock := &fakeClock{}
		probe := probeFunc(func(context.Context, string) float64 { return -1 })
		s := newTestScheduler(Config{StationIDPath: "/station/id.wav"}, clock, probe, nil)

		_, err := s.Rebuild(context.Background())
		require.ErrorIs(t, err, ErrSchedulerRebuild)
	})

	t.Run("re-probes and snapshots", func(t *testing.T) {
		clock := &fakeClock{}
		dur := 0.8
		probe := probeFunc(func(context.Context, string) float64 { return dur })
		s := newTestScheduler(Config{StationIDPath: "/station/id.wav"}, clock, probe, nil)
		ctx := context.Background()

		s.Place(ctx, commentarySeg("c1", 10))

		// The jingle file was replaced with a longer cut.
		dur = 1.6
		snap, err := s.Rebuild(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, snap.VoiceLane)

		placed := s.Place(ctx, commentarySeg("c2", 10))
		require.InDelta(t, 1.6, placed[0].DurationSec, 1e-9)
	})

	t.Run("no station id configured", func(t *testing.T) {
		clock := &fakeClock{}
		s := newTestScheduler(Config{}, clock, nil, nil)
		_, err := s.Rebuild(context.Background())
		require.NoError(t, err)
	})
}

func TestShortClipClampsTransitionWindow(t *testing.T) {
	clock := &fakeClock{}
	s := newTestScheduler(Config{LookaheadSec: 1e9}, clock, nil, nil)
	ctx := context.Background()

	s.Place(ctx, song("stinger", 2, 50))
	s.Place(ctx, song("s2", 120, 50))

	snap := s.Snapshot()
	require.Len(t, snap.Transitions, 1)
	require.InDelta(t, 2.0, snap.Transitions[0].WindowSec, 1e-9)
	require.InDelta(t, 0.0, snap.Transitions[0].AtSec, 1e-9)
}
