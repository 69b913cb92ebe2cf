package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/danielgtaylor/huma/v2"

	"github.com/airwav/airwav/internal/metrics"
	"github.com/airwav/airwav/internal/model"
	"github.com/airwav/airwav/internal/queue"
	"github.com/airwav/airwav/internal/state"
)

// QueueHandler serves the manual enqueue and queue mutation endpoints.
type QueueHandler struct {
	store   *state.Store
	queue   *queue.Queue
	factory SegmentFactory
	metrics *metrics.Metrics
}

// NewQueueHandler creates a queue mutation handler.
func NewQueueHandler(store *state.Store, q *queue.Queue, factory SegmentFactory, m *metrics.Metrics) *QueueHandler {
	return &QueueHandler{store: store, queue: q, factory: factory, metrics: m}
}

// EnqueueCommentaryInput carries the text to synthesize.
type EnqueueCommentaryInput struct {
	Body struct {
		Text string `json:"text" minLength:"1" maxLength:"2000" doc:"Commentary text to synthesize"`
	}
}

// EnqueueTrackInput carries the manual track request.
type EnqueueTrackInput struct {
	Body struct {
		Title      string `json:"title" minLength:"1" doc:"Display title"`
		Artist     string `json:"artist,omitempty" doc:"Display artist"`
		YoutubeURL string `json:"youtube_url" minLength:"1" doc:"Source URL to fetch"`
	}
}

// EnqueueBody confirms an enqueued segment.
type EnqueueBody struct {
	OK   bool            `json:"ok"`
	Item model.QueueItem `json:"item"`
}

// EnqueueOutput is the output for the enqueue endpoints.
type EnqueueOutput struct {
	Body EnqueueBody
}

// RemoveInput names the queued segment to remove.
type RemoveInput struct {
	ID string `path:"id" doc:"Segment ID"`
}

// RemoveBody confirms a removal.
type RemoveBody struct {
	OK bool `json:"ok"`
}

// RemoveOutput is the output for the remove endpoint.
type RemoveOutput struct {
	Body RemoveBody
}

// UpdateInput patches a queued segment's arbitration fields.
type UpdateInput struct {
	ID   string `path:"id" doc:"Segment ID"`
	Body struct {
		Priority *int  `json:"priority,omitempty" doc:"New priority, clamped to [0,200]"`
		Pinned   *bool `json:"pinned,omitempty" doc:"Pin above automatic arbitration"`
	}
}

// UpdateBody returns the re-sorted queue after a patch.
type UpdateBody struct {
	OK    bool              `json:"ok"`
	Queue []model.QueueItem `json:"queue"`
}

// UpdateOutput is the output for the update endpoint.
type UpdateOutput struct {
	Body UpdateBody
}

// Register registers the queue mutation routes with the API.
func (h *QueueHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "enqueueCommentary",
		Method:      "POST",
		Path:        "/dashboard/queue/commentary",
		Summary:     "Enqueue manual commentary",
		Description: "Synthesizes the text and enqueues it pinned at priority 120",
		Tags:        []string{"Queue"},
	}, h.EnqueueCommentary)

	huma.Register(api, huma.Operation{
		OperationID: "enqueueTrack",
		Method:      "POST",
		Path:        "/dashboard/queue/track",
		Summary:     "Enqueue manual track",
		Description: "Fetches the source audio and enqueues it pinned at priority 110",
		Tags:        []string{"Queue"},
	}, h.EnqueueTrack)

	huma.Register(api, huma.Operation{
		OperationID: "removeQueued",
		Method:      "DELETE",
		Path:        "/dashboard/queue/{id}",
		Summary:     "Remove queued segment",
		Tags:        []string{"Queue"},
	}, h.Remove)

	huma.Register(api, huma.Operation{
		OperationID: "updateQueued",
		Method:      "PATCH",
		Path:        "/dashboard/queue/{id}",
		Summary:     "Update queued segment",
		Description: "Adjusts priority or pin and re-sorts the queue",
		Tags:        []string{"Queue"},
	}, h.Update)
}

// EnqueueCommentary synthesizes and enqueues a pinned manual commentary.
func (h *QueueHandler) EnqueueCommentary(ctx context.Context, input *EnqueueCommentaryInput) (*EnqueueOutput, error) {
	seg, err := h.factory.BuildManualCommentary(ctx, input.Body.Text)
	if err != nil {
		return nil, huma.Error500InternalServerError("building commentary", err)
	}
	return h.enqueue(*seg), nil
}

// EnqueueTrack fetches and enqueues a pinned manual song.
func (h *QueueHandler) EnqueueTrack(ctx context.Context, input *EnqueueTrackInput) (*EnqueueOutput, error) {
	seg, err := h.factory.BuildManualTrack(ctx, input.Body.Title, input.Body.Artist, input.Body.YoutubeURL)
	if err != nil {
		return nil, huma.Error500InternalServerError("fetching track", err)
	}
	return h.enqueue(*seg), nil
}

func (h *QueueHandler) enqueue(seg model.RenderedSegment) *EnqueueOutput {
	item := h.queue.Enqueue(seg)
	h.store.SegmentBuilt(seg)
	h.store.SegmentEnqueued(item, h.queue.Items())
	h.metrics.RecordSegmentBuilt(string(seg.Kind))
	return &EnqueueOutput{Body: EnqueueBody{OK: true, Item: item}}
}

// Remove deletes a queued segment.
func (h *QueueHandler) Remove(ctx context.Context, input *RemoveInput) (*RemoveOutput, error) {
	if !h.queue.Remove(input.ID) {
		return nil, huma.Error404NotFound(fmt.Sprintf("segment %s not in queue", input.ID))
	}
	h.store.SegmentRemoved(input.ID, h.queue.Items())
	return &RemoveOutput{Body: RemoveBody{OK: true}}, nil
}

// Update patches priority or pin on a queued segment.
func (h *QueueHandler) Update(ctx context.Context, input *UpdateInput) (*UpdateOutput, error) {
	patch := queue.Patch{Pinned: input.Body.Pinned}
	if input.Body.Priority != nil {
		clamped := model.ClampPriority(*input.Body.Priority)
		patch.Priority = &clamped
	}

	if err := h.queue.Update(input.ID, patch); err != nil {
		if errors.Is(err, queue.ErrQueueMiss) {
			return nil, huma.Error404NotFound(fmt.Sprintf("segment %s not in queue", input.ID))
		}
		return nil, huma.Error500InternalServerError("updating queue", err)
	}
	h.store.QueueUpdated(h.queue.Items())

	return &UpdateOutput{Body: UpdateBody{OK: true, Queue: h.queue.Items()}}, nil
}
