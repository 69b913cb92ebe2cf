package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/airwav/airwav/internal/model"
)

// fakeTimeline serves a canned plan.
type fakeTimeline struct {
	snap       model.TimelineSnapshot
	rebuildErr error
	clips      []model.ScheduledClip
	rebuilds   int
}

func (f *fakeTimeline) Snapshot() model.TimelineSnapshot { return f.snap }

func (f *fakeTimeline) Rebuild(ctx context.Context) (model.TimelineSnapshot, error) {
	f.rebuilds++
	if f.rebuildErr != nil {
		return model.TimelineSnapshot{}, f.rebuildErr
	}
	return f.snap, nil
}

func (f *fakeTimeline) Clips() []model.ScheduledClip { return f.clips }

func TestTimelineSnapshot(t *testing.T) {
	ft := &fakeTimeline{snap: model.TimelineSnapshot{CursorSec: 12.5, LookaheadSec: 45}}
	h := NewTimelineHandler(ft)

	out, err := h.GetSnapshot(context.Background(), &TimelineSnapshotInput{})
	require.NoError(t, err)
	assert.Equal(t, 12.5, out.Body.CursorSec)
	assert.Equal(t, 45.0, out.Body.LookaheadSec)
}

func TestTimelineSnapshotInactive(t *testing.T) {
	h := NewTimelineHandler(nil)

	out, err := h.GetSnapshot(context.Background(), &TimelineSnapshotInput{})
	require.NoError(t, err)
	assert.Zero(t, out.Body.CursorSec)
	assert.Empty(t, out.Body.Decks)
}

func TestTimelineRebuild(t *testing.T) {
	ft := &fakeTimeline{snap: model.TimelineSnapshot{CursorSec: 30}}
	h := NewTimelineHandler(ft)

	out, err := h.Rebuild(context.Background(), &TimelineRebuildInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, ft.rebuilds)
	assert.Equal(t, 30.0, out.Body.CursorSec)
}

func TestTimelineRebuildInactive(t *testing.T) {
	h := NewTimelineHandler(nil)

	_, err := h.Rebuild(context.Background(), &TimelineRebuildInput{})
	requireStatus(t, err, http.StatusConflict)
}

func TestTimelineRebuildFailure(t *testing.T) {
	ft := &fakeTimeline{rebuildErr: errors.New("cursor raced the plan")}
	h := NewTimelineHandler(ft)

	_, err := h.Rebuild(context.Background(), &TimelineRebuildInput{})
	requireStatus(t, err, http.StatusInternalServerError)
}
