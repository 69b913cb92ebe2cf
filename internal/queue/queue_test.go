package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/airwav/airwav/internal/model"
)

// newTestQueue returns a queue whose clock advances one second per
// enqueue, so arrival-order assertions are deterministic.
func newTestQueue() *Queue {
	q := New()
	base := time.Unix(1700000000, 0)
	step := 0
	q.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}
	return q
}

func seg(id string, kind model.SegmentKind, source model.SegmentSource, priority int, pinned bool) model.RenderedSegment {
	return model.RenderedSegment{
		ID:          id,
		Kind:        kind,
		FilePath:    "/tmp/rj/" + id + ".wav",
		DurationSec: 30,
		Source:      source,
		Priority:    priority,
		Pinned:      pinned,
	}
}

func ids(items []model.QueueItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Segment.ID)
	}
	return out
}

func TestEnqueueDefaults(t *testing.T) {
	tests := []struct {
		name         string
		source       model.SegmentSource
		priority     int
		wantPriority int
	}{
		{"auto default", model.SegmentSourceAuto, 0, 50},
		{"manual default", model.SegmentSourceManual, 0, 100},
		{"explicit kept", model.SegmentSourceManual, 110, 110},
		{"clamped high", model.SegmentSourceAuto, 300, 200},
		{"clamped low", model.SegmentSourceAuto, -5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newTestQueue()
			item := q.Enqueue(seg("s1", model.SegmentKindSong, tt.source, tt.priority, false))
			require.Equal(t, tt.wantPriority, item.Segment.Priority)
		})
	}
}

func TestOrdering(t *testing.T) {
	q := newTestQueue()
	q.Enqueue(seg("auto-50", model.SegmentKindSong, model.SegmentSourceAuto, 50, false))
	q.Enqueue(seg("manual-100", model.SegmentKindSong, model.SegmentSourceManual, 100, false))
	q.Enqueue(seg("pinned-120", model.SegmentKindCommentary, model.SegmentSourceManual, 120, true))
	q.Enqueue(seg("pinned-90", model.SegmentKindSong, model.SegmentSourceManual, 90, true))

	require.Equal(t, []string{"pinned-120", "pinned-90", "manual-100", "auto-50"}, ids(q.Items()))
}

func TestOrderingSamePriorityKeepsArrival(t *testing.T) {
	q := newTestQueue()
	q.Enqueue(seg("first", model.SegmentKindSong, model.SegmentSourceAuto, 50, false))
	q.Enqueue(seg("second", model.SegmentKindSong, model.SegmentSourceAuto, 50, false))
	q.Enqueue(seg("third", model.SegmentKindSong, model.SegmentSourceAuto, 50, false))

	require.Equal(t, []string{"first", "second", "third"}, ids(q.Items()))
}

func TestArbitrationReasons(t *testing.T) {
	q := newTestQueue()
	pinnedManual := q.Enqueue(seg("a", model.SegmentKindCommentary, model.SegmentSourceManual, 120, true))
	manual := q.Enqueue(seg("b", model.SegmentKindSong, model.SegmentSourceManual, 100, false))
	auto := q.Enqueue(seg("c", model.SegmentKindSong, model.SegmentSourceAuto, 50, false))
	pinnedAuto := q.Enqueue(seg("d", model.SegmentKindSong, model.SegmentSourceAuto, 50, true))

	require.Equal(t, model.ReasonManualPinned, pinnedManual.Reason)
	require.Equal(t, model.ReasonManualPriority, manual.Reason)
	require.Equal(t, model.ReasonAutoPriority, auto.Reason)
	require.Equal(t, model.ReasonAutoPriority, pinnedAuto.Reason)
}

func TestUpdate(t *testing.T) {
	t.Run("priority change resorts", func(t *testing.T) {
		q := newTestQueue()
		q.Enqueue(seg("low", model.SegmentKindSong, model.SegmentSourceAuto, 50, false))
		q.Enqueue(seg("high", model.SegmentKindSong, model.SegmentSourceAuto, 60, false))
		require.Equal(t, []string{"high", "low"}, ids(q.Items()))

		p := 70
		require.NoError(t, q.Update("low", Patch{Priority: &p}))
		require.Equal(t, []string{"low", "high"}, ids(q.Items()))
	})

	t.Run("pin change updates reason", func(t *testing.T) {
		q := newTestQueue()
		q.Enqueue(seg("m", model.SegmentKindSong, model.SegmentSourceManual, 100, false))

		pin := true
		require.NoError(t, q.Update("m", Patch{Pinned: &pin}))
		items := q.Items()
		require.True(t, items[0].Segment.Pinned)
		require.Equal(t, model.ReasonManualPinned, items[0].Reason)
	})

	t.Run("patched priority clamped", func(t *testing.T) {
		q := newTestQueue()
		q.Enqueue(seg("m", model.SegmentKindSong, model.SegmentSourceManual, 100, false))

		p := 250
		require.NoError(t, q.Update("m", Patch{Priority: &p}))
		require.Equal(t, 200, q.Items()[0].Segment.Priority)
	})

	t.Run("empty patch leaves item alone", func(t *testing.T) {
		q := newTestQueue()
		q.Enqueue(seg("m", model.SegmentKindSong, model.SegmentSourceManual, 100, false))

		require.NoError(t, q.Update("m", Patch{}))
		item := q.Items()[0]
		require.Equal(t, 100, item.Segment.Priority)
		require.False(t, item.Segment.Pinned)
	})

	t.Run("unknown id", func(t *testing.T) {
		q := newTestQueue()
		p := 70
		require.ErrorIs(t, q.Update("ghost", Patch{Priority: &p}), ErrQueueMiss)
	})
}

func TestRemove(t *testing.T) {
	q := newTestQueue()
	q.Enqueue(seg("keep", model.SegmentKindSong, model.SegmentSourceAuto, 50, false))
	q.Enqueue(seg("drop", model.SegmentKindSong, model.SegmentSourceAuto, 50, false))

	require.True(t, q.Remove("drop"))
	require.False(t, q.Remove("drop"))
	require.Equal(t, []string{"keep"}, ids(q.Items()))
}

func TestHeadAndPop(t *testing.T) {
	q := newTestQueue()

	_, ok := q.Head()
	require.False(t, ok)
	_, ok = q.Pop()
	require.False(t, ok)

	q.Enqueue(seg("first", model.SegmentKindSong, model.SegmentSourceAuto, 50, false))
	q.Enqueue(seg("second", model.SegmentKindSong, model.SegmentSourceAuto, 50, false))

	head, ok := q.Head()
	require.True(t, ok)
	require.Equal(t, "first", head.Segment.ID)
	require.Equal(t, 2, q.Len())

	popped, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, "first", popped.Segment.ID)
	require.Equal(t, 1, q.Len())
}

func TestDurationSum(t *testing.T) {
	q := newTestQueue()
	require.Zero(t, q.DurationSum())

	a := seg("a", model.SegmentKindSong, model.SegmentSourceAuto, 50, false)
	a.DurationSec = 58.5
	b := seg("b", model.SegmentKindCommentary, model.SegmentSourceAuto, 50, false)
	b.DurationSec = 12.25
	q.Enqueue(a)
	q.Enqueue(b)

	require.InDelta(t, 70.75, q.DurationSum(), 1e-9)
}

func TestItemsReturnsCopy(t *testing.T) {
	q := newTestQueue()
	q.Enqueue(seg("a", model.SegmentKindSong, model.SegmentSourceAuto, 50, false))

	items := q.Items()
	items[0].Segment.ID = "mutated"
	require.Equal(t, "a", q.Items()[0].Segment.ID)
}

func TestConcurrentMutation(t *testing.T) {
	q := New()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				q.Enqueue(seg(model.NewSegmentID(), model.SegmentKindSong, model.SegmentSourceAuto, 0, false))
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 100, q.Len())
}
