package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/airwav/airwav/internal/model"
	"github.com/airwav/airwav/internal/queue"
	"github.com/airwav/airwav/internal/state"
)

// DashboardHandler serves the full dashboard snapshot and queue reads.
type DashboardHandler struct {
	store *state.Store
	queue *queue.Queue
}

// NewDashboardHandler creates a dashboard handler.
func NewDashboardHandler(store *state.Store, q *queue.Queue) *DashboardHandler {
	return &DashboardHandler{store: store, queue: q}
}

// SnapshotInput is the input for the snapshot endpoint.
type SnapshotInput struct{}

// SnapshotOutput carries the full dashboard snapshot.
type SnapshotOutput struct {
	Body model.DashboardSnapshot
}

// QueueInput is the input for the queue endpoint.
type QueueInput struct{}

// QueueOutput carries the arbitrated queue, head first.
type QueueOutput struct {
	Body []model.QueueItem
}

// Register registers the dashboard read routes with the API.
func (h *DashboardHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getDashboardSnapshot",
		Method:      "GET",
		Path:        "/dashboard/snapshot",
		Summary:     "Dashboard snapshot",
		Description: "Returns the complete runtime state in one document",
		Tags:        []string{"Dashboard"},
	}, h.GetSnapshot)

	huma.Register(api, huma.Operation{
		OperationID: "getDashboardQueue",
		Method:      "GET",
		Path:        "/dashboard/queue",
		Summary:     "Pending queue",
		Description: "Returns queued segments in play order with arbitration reasons",
		Tags:        []string{"Dashboard"},
	}, h.GetQueue)
}

// GetSnapshot returns the current dashboard snapshot.
func (h *DashboardHandler) GetSnapshot(ctx context.Context, input *SnapshotInput) (*SnapshotOutput, error) {
	return &SnapshotOutput{Body: h.store.Snapshot()}, nil
}

// GetQueue returns the queue in arbitration order.
func (h *DashboardHandler) GetQueue(ctx context.Context, input *QueueInput) (*QueueOutput, error) {
	items := h.queue.Items()
	if items == nil {
		items = []model.QueueItem{}
	}
	return &QueueOutput{Body: items}, nil
}
