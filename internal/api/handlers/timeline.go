package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/airwav/airwav/internal/model"
)

// TimelineHandler serves the two-deck timeline plan.
type TimelineHandler struct {
	timeline Timeline
}

// NewTimelineHandler creates a timeline handler. timeline may be nil in
// per-segment mode; reads then return an empty plan and rebuilds fail.
func NewTimelineHandler(timeline Timeline) *TimelineHandler {
	return &TimelineHandler{timeline: timeline}
}

// TimelineSnapshotInput is the input for the timeline snapshot endpoint.
type TimelineSnapshotInput struct{}

// TimelineSnapshotOutput carries the current timeline plan.
type TimelineSnapshotOutput struct {
	Body model.TimelineSnapshot
}

// TimelineRebuildInput is the input for the rebuild endpoint.
type TimelineRebuildInput struct{}

// Register registers the timeline routes with the API.
func (h *TimelineHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getTimelineSnapshot",
		Method:      "GET",
		Path:        "/timeline/snapshot",
		Summary:     "Timeline snapshot",
		Description: "Returns the planned clips, transitions and deck assignments",
		Tags:        []string{"Timeline"},
	}, h.GetSnapshot)

	huma.Register(api, huma.Operation{
		OperationID: "rebuildTimeline",
		Method:      "POST",
		Path:        "/timeline/rebuild",
		Summary:     "Rebuild timeline",
		Description: "Re-derives deck assignments and transitions from the placed clips",
		Tags:        []string{"Timeline"},
	}, h.Rebuild)
}

// GetSnapshot returns the current timeline plan.
func (h *TimelineHandler) GetSnapshot(ctx context.Context, input *TimelineSnapshotInput) (*TimelineSnapshotOutput, error) {
	if h.timeline == nil {
		return &TimelineSnapshotOutput{Body: model.TimelineSnapshot{}}, nil
	}
	return &TimelineSnapshotOutput{Body: h.timeline.Snapshot()}, nil
}

// Rebuild re-derives the plan and returns the fresh snapshot.
func (h *TimelineHandler) Rebuild(ctx context.Context, input *TimelineRebuildInput) (*TimelineSnapshotOutput, error) {
	if h.timeline == nil {
		return nil, huma.Error409Conflict("timeline mode is not active")
	}
	snap, err := h.timeline.Rebuild(ctx)
	if err != nil {
		return nil, huma.Error500InternalServerError("rebuilding timeline", err)
	}
	return &TimelineSnapshotOutput{Body: snap}, nil
}
