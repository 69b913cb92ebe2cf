package handlers

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/airwav/airwav/internal/queue"
	"github.com/airwav/airwav/internal/state"
	"github.com/airwav/airwav/internal/storage"
)

// MediaHandler streams rendered segment audio to the dashboard for
// preview. Lookups by segment ID cover the live queue, the recent
// history and the placed timeline clips; lookups by path are confined
// to the configured media roots.
type MediaHandler struct {
	store    *state.Store
	queue    *queue.Queue
	timeline Timeline
	roots    *storage.MediaRoots
}

// NewMediaHandler creates a media handler. timeline may be nil when
// the timeline scheduler is not active.
func NewMediaHandler(store *state.Store, q *queue.Queue, timeline Timeline, roots *storage.MediaRoots) *MediaHandler {
	return &MediaHandler{store: store, queue: q, timeline: timeline, roots: roots}
}

// RegisterChiRoutes registers the raw file serving routes. These stay
// off the OpenAPI surface because they stream audio bytes.
func (h *MediaHandler) RegisterChiRoutes(r chi.Router) {
	r.Get("/dashboard/media/{segmentId}", h.ServeSegment)
	r.Head("/dashboard/media/{segmentId}", h.ServeSegment)
	r.Get("/dashboard/media-by-path", h.ServeByPath)
}

// ServeSegment serves the rendered audio for a known segment ID.
func (h *MediaHandler) ServeSegment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "segmentId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "segment id required")
		return
	}

	path := h.findSegmentPath(id)
	if path == "" {
		writeError(w, http.StatusNotFound, "segment not found")
		return
	}
	h.serveFile(w, r, path)
}

// ServeByPath serves a file referenced by absolute or root-relative
// path, for timeline clips whose segment has already left the state.
func (h *MediaHandler) ServeByPath(w http.ResponseWriter, r *http.Request) {
	requested := r.URL.Query().Get("path")
	if requested == "" {
		writeError(w, http.StatusBadRequest, "path query parameter required")
		return
	}

	resolved, err := h.roots.Resolve(requested)
	if err != nil {
		if errors.Is(err, storage.ErrOutsideRoot) {
			writeError(w, http.StatusForbidden, "path outside media roots")
			return
		}
		writeError(w, http.StatusInternalServerError, "resolving path")
		return
	}
	h.serveFile(w, r, resolved)
}

// findSegmentPath walks every place a live segment can be referenced.
// Timeline clips match on the clip ID or on the segment the clip was
// cut from.
func (h *MediaHandler) findSegmentPath(id string) string {
	snap := h.store.Snapshot()
	if np := snap.NowPlaying; np != nil && np.ID == id {
		return np.FilePath
	}
	for _, item := range snap.Queue {
		if item.Segment.ID == id {
			return item.Segment.FilePath
		}
	}
	for _, seg := range snap.RecentSegments {
		if seg.ID == id {
			return seg.FilePath
		}
	}
	for _, item := range h.queue.Items() {
		if item.Segment.ID == id {
			return item.Segment.FilePath
		}
	}
	if h.timeline != nil {
		for _, clip := range h.timeline.Clips() {
			if clip.SegmentID == id || clip.ParentSegmentID == id {
				return clip.FilePath
			}
		}
	}
	return ""
}

func (h *MediaHandler) serveFile(w http.ResponseWriter, r *http.Request, path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, "media file not found")
		return
	}
	w.Header().Set("Content-Type", contentTypeFor(path))
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, path)
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".m4a":
		return "audio/mp4"
	case ".ogg", ".opus":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
