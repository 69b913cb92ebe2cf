package handlers

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/airwav/airwav/internal/model"
	"github.com/airwav/airwav/internal/state"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 512
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsEnvelope is one message on the dashboard WebSocket. Type is either
// "snapshot" (full state, sent on connect or when the client's last
// seen revision is too old to replay) or "event" (one bus event).
type wsEnvelope struct {
	Type     string                   `json:"type"`
	Revision uint64                   `json:"revision"`
	Event    *model.Event             `json:"event,omitempty"`
	Snapshot *model.DashboardSnapshot `json:"snapshot,omitempty"`
}

// WSHandler serves the dashboard WebSocket. Each connection gets its
// own state bus subscription; reconnecting clients pass their last
// seen revision and receive either a replay of the missed events or a
// fresh snapshot when the replay window no longer covers them.
type WSHandler struct {
	store *state.Store
}

// NewWSHandler creates a WebSocket handler.
func NewWSHandler(store *state.Store) *WSHandler {
	return &WSHandler{store: store}
}

// RegisterChiRoutes registers the WebSocket route.
func (h *WSHandler) RegisterChiRoutes(r chi.Router) {
	r.Get("/ws", h.handleWS)
}

func (h *WSHandler) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		slog.Debug("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub, snap := h.store.Subscribe()
	defer h.store.Unsubscribe(sub.ID)

	// Reader goroutine: consumes control frames, refreshes the read
	// deadline on pongs and unblocks the write loop on close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(wsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Catch-up. Replayed events and the live subscription can overlap,
	// so the write loop drops anything at or below lastSent.
	var lastSent uint64
	replayed, since, replayOK := h.replayFor(r)
	if replayOK {
		lastSent = since
		for i := range replayed {
			ev := replayed[i]
			if err := writeWSEnvelope(conn, wsEnvelope{Type: "event", Revision: ev.Revision, Event: &ev}); err != nil {
				return
			}
			lastSent = ev.Revision
		}
	} else {
		if err := writeWSEnvelope(conn, wsEnvelope{Type: "snapshot", Revision: snap.Revision, Snapshot: &snap}); err != nil {
			return
		}
		lastSent = snap.Revision
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Revision <= lastSent {
				continue
			}
			if err := writeWSEnvelope(conn, wsEnvelope{Type: "event", Revision: ev.Revision, Event: &ev}); err != nil {
				return
			}
			lastSent = ev.Revision
		}
	}
}

// replayFor returns the events missed since the client's last seen
// revision. ok is false when the client sent no usable revision or the
// replay buffer no longer reaches back that far.
func (h *WSHandler) replayFor(r *http.Request) (events []model.Event, since uint64, ok bool) {
	v := r.URL.Query().Get("lastRevision")
	if v == "" {
		return nil, 0, false
	}
	since, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return nil, 0, false
	}
	events, ok = h.store.ReplaySince(since)
	return events, since, ok
}

func writeWSEnvelope(conn *websocket.Conn, env wsEnvelope) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(env)
}
