package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/go-chi/chi/v5"

	"github.com/airwav/airwav/internal/model"
	"github.com/airwav/airwav/internal/state"
)

// defaultHeartbeat is how often an idle event stream emits a comment so
// proxies keep the connection open.
const defaultHeartbeat = 15 * time.Second

// EventsHandler streams state bus events to the dashboard over SSE.
type EventsHandler struct {
	store             *state.Store
	heartbeatInterval time.Duration
}

// NewEventsHandler creates an SSE events handler.
func NewEventsHandler(store *state.Store) *EventsHandler {
	return &EventsHandler{
		store:             store,
		heartbeatInterval: defaultHeartbeat,
	}
}

// Register registers the SSE endpoint with Huma for OpenAPI schema
// generation. The actual handler is registered separately via
// RegisterChiRoutes, which takes precedence on the router.
func (h *EventsHandler) Register(api huma.API) {
	sse.Register(api, huma.Operation{
		OperationID: "dashboardEvents",
		Method:      "GET",
		Path:        "/dashboard/events",
		Summary:     "Subscribe to dashboard events",
		Description: "Server-Sent Events stream of state changes.\n\n" +
			"On connect a `snapshot` event carries the full dashboard state. " +
			"After that, each state change arrives as an event named after the " +
			"bus event (`segment.started`, `queue.updated`, ...) whose data is " +
			"the event envelope. Idle streams receive a `:heartbeat <unix_epoch>` " +
			"comment every 15 seconds.",
		Tags: []string{"Dashboard"},
	}, map[string]any{
		"snapshot":                 model.DashboardSnapshot{},
		model.EventSegmentEnqueued: model.Event{},
		model.EventSegmentStarted:  model.Event{},
		model.EventSegmentFinished: model.Event{},
		model.EventSegmentRemoved:  model.Event{},
		model.EventQueueUpdated:    model.Event{},
		model.EventStateUpdated:    model.Event{},
		model.EventMetersUpdated:   model.Event{},
		model.EventSinkStarted:     model.Event{},
		model.EventSinkStopped:     model.Event{},
		model.EventSinkError:       model.Event{},
		model.EventEngineStarted:   model.Event{},
		model.EventEngineStopped:   model.Event{},
		model.EventCatalogReloaded: model.Event{},
	}, func(ctx context.Context, input *struct{}, send sse.Sender) {
		// Placeholder for schema generation; RegisterChiRoutes serves
		// the real stream.
		<-ctx.Done()
	})
}

// RegisterChiRoutes registers the raw SSE handler on the chi router.
func (h *EventsHandler) RegisterChiRoutes(r chi.Router) {
	r.Get("/dashboard/events", h.handleStream)
}

func (h *EventsHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	sub, snap := h.store.Subscribe()
	defer h.store.Unsubscribe(sub.ID)

	// ResponseController gives reliable flushing with error reporting.
	// The server write timeout would cut the stream off.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()

	if err := writeSSEFrame(w, "snapshot", snap); err != nil {
		slog.Debug("sse snapshot write failed", "error", err)
		return
	}
	if err := rc.Flush(); err != nil {
		slog.Debug("sse snapshot flush failed", "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				slog.Debug("sse heartbeat flush failed, client likely disconnected", "error", err)
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := writeSSEFrame(w, ev.Event, ev); err != nil {
				slog.Debug("sse event write failed", "event", ev.Event, "error", err)
				return
			}
			if err := rc.Flush(); err != nil {
				slog.Debug("sse event flush failed, client likely disconnected", "error", err)
				return
			}
		}
	}
}

// writeSSEFrame writes one event in SSE wire format. The whole frame
// goes out in a single write for atomicity.
func writeSSEFrame(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", event, err)
	}
	frame := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))
	n, err := w.Write(frame)
	if err != nil {
		return err
	}
	if n < len(frame) {
		return fmt.Errorf("short write: wrote %d of %d bytes", n, len(frame))
	}
	return nil
}
