package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/go-chi/chi/v5"

	"github.com/airwav/airwav/internal/logs"
)

// LogsHandler serves the captured application logs to the dashboard.
type LogsHandler struct {
	service           *logs.Service
	heartbeatInterval time.Duration
}

// NewLogsHandler creates a logs handler.
func NewLogsHandler(service *logs.Service) *LogsHandler {
	return &LogsHandler{
		service:           service,
		heartbeatInterval: defaultHeartbeat,
	}
}

// RecentLogsInput is the input for the recent logs endpoint.
type RecentLogsInput struct {
	Limit int `query:"limit" default:"100" doc:"Maximum number of entries to return (1-1000)"`
}

// RecentLogsBody is the response body for recent logs.
type RecentLogsBody struct {
	Logs []logs.Entry `json:"logs"`
}

// RecentLogsOutput is the output for the recent logs endpoint.
type RecentLogsOutput struct {
	Body RecentLogsBody
}

// Register registers the logs routes with the API.
func (h *LogsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getRecentLogs",
		Method:      "GET",
		Path:        "/logs/recent",
		Summary:     "Get recent logs",
		Description: "Returns the most recent captured log entries, oldest first",
		Tags:        []string{"Logs"},
	}, h.GetRecent)

	sse.Register(api, huma.Operation{
		OperationID: "logsStream",
		Method:      "GET",
		Path:        "/logs/stream",
		Summary:     "Subscribe to log events",
		Description: "Server-Sent Events stream of captured log entries. " +
			"On connect the stream replays up to `initial` recent entries " +
			"(default 50) before going live. Idle streams receive a " +
			"`:heartbeat <unix_epoch>` comment every 15 seconds.",
		Tags: []string{"Logs"},
	}, map[string]any{
		"log": logs.Entry{},
	}, func(ctx context.Context, input *struct {
		Initial int `query:"initial" default:"50" minimum:"0" maximum:"500" doc:"Recent entries to send on connect"`
	}, send sse.Sender) {
		// Placeholder for schema generation; RegisterChiRoutes serves
		// the real stream.
		<-ctx.Done()
	})
}

// RegisterChiRoutes registers the raw SSE handler on the chi router.
func (h *LogsHandler) RegisterChiRoutes(r chi.Router) {
	r.Get("/logs/stream", h.handleStream)
}

// GetRecent returns the most recent captured log entries.
func (h *LogsHandler) GetRecent(ctx context.Context, input *RecentLogsInput) (*RecentLogsOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	entries := h.service.Recent(limit)
	if entries == nil {
		entries = []logs.Entry{}
	}
	return &RecentLogsOutput{Body: RecentLogsBody{Logs: entries}}, nil
}

func (h *LogsHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	initial := 50
	if v := r.URL.Query().Get("initial"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n <= 500 {
			initial = n
		}
	}

	// Subscribe cleans itself up when the request context ends.
	sub := h.service.Subscribe(r.Context())

	// The server write timeout would cut the stream off.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()

	fmt.Fprintf(w, ":connected\n\n")
	if err := rc.Flush(); err != nil {
		slog.Debug("log stream connect flush failed", "error", err)
		return
	}

	if initial > 0 {
		for _, entry := range h.service.Recent(initial) {
			if err := writeSSEFrame(w, "log", entry); err != nil {
				slog.Debug("log stream initial write failed", "error", err)
				return
			}
		}
		if err := rc.Flush(); err != nil {
			slog.Debug("log stream initial flush failed", "error", err)
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
			if err := rc.Flush(); err != nil {
				slog.Debug("log stream heartbeat flush failed, client likely disconnected", "error", err)
				return
			}
		case entry, ok := <-sub.Entries:
			if !ok {
				return
			}
			if err := writeSSEFrame(w, "log", entry); err != nil {
				slog.Debug("log stream write failed", "error", err)
				return
			}
			if err := rc.Flush(); err != nil {
				slog.Debug("log stream flush failed, client likely disconnected", "error", err)
				return
			}
		}
	}
}
