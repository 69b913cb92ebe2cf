// Package handlers provides the dashboard API handlers for airwav.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/airwav/airwav/internal/builder"
	"github.com/airwav/airwav/internal/catalog"
	"github.com/airwav/airwav/internal/engine"
	"github.com/airwav/airwav/internal/model"
	"github.com/airwav/airwav/internal/scheduler"
)

// Engine is the playout control surface the transport endpoints drive.
type Engine interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
	SkipCurrent() (bool, error)
}

// SegmentFactory builds manual segments for the queue endpoints.
type SegmentFactory interface {
	BuildManualCommentary(ctx context.Context, text string) (*model.RenderedSegment, error)
	BuildManualTrack(ctx context.Context, title, artist, url string) (*model.RenderedSegment, error)
}

// RotationSource reports the builder's rotation position.
type RotationSource interface {
	Phase() model.Phase
	LastPlayed() []catalog.Track
}

// Timeline is the scheduler surface behind the timeline endpoints. It is
// nil when the engine runs in per-segment mode.
type Timeline interface {
	Snapshot() model.TimelineSnapshot
	Rebuild(ctx context.Context) (model.TimelineSnapshot, error)
	Clips() []model.ScheduledClip
}

var (
	_ Engine         = (*engine.Engine)(nil)
	_ SegmentFactory = (*builder.Builder)(nil)
	_ RotationSource = (*builder.Builder)(nil)
	_ Timeline       = (*scheduler.Scheduler)(nil)
)

// writeError writes the legacy error envelope on raw chi routes. Huma
// operations return RFC7807 errors instead.
func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": msg})
}
