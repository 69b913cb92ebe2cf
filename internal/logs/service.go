// Package logs captures structured log records in memory for the dashboard.
package logs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// DefaultMaxEntries is the maximum number of entries retained in memory.
	DefaultMaxEntries = 1000
	// DefaultBufferSize is the subscriber channel buffer size.
	DefaultBufferSize = 100
)

// Entry is a single captured log record.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Subscriber receives captured entries as they arrive.
type Subscriber struct {
	ID      string
	Entries chan Entry
	Done    chan struct{}
}

// Service retains recent log entries and fans them out to subscribers.
type Service struct {
	mu          sync.RWMutex
	entries     []Entry
	maxEntries  int
	subscribers map[string]*Subscriber
	total       int64
}

// New creates a capture service retaining DefaultMaxEntries entries.
func New() *Service {
	return &Service{
		entries:     make([]Entry, 0, DefaultMaxEntries),
		maxEntries:  DefaultMaxEntries,
		subscribers: make(map[string]*Subscriber),
	}
}

// WrapHandler wraps a slog.Handler so every record it handles is also
// captured by the service. The wrapped handler still writes to its own
// destination.
func (s *Service) WrapHandler(handler slog.Handler) slog.Handler {
	return &captureHandler{service: s, wrapped: handler}
}

// Add records an entry and broadcasts it to subscribers without blocking.
func (s *Service) Add(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = ulid.Make().String()
	}
	s.total++

	if len(s.entries) >= s.maxEntries {
		s.entries = s.entries[1:]
	}
	s.entries = append(s.entries, entry)

	for _, sub := range s.subscribers {
		select {
		case sub.Entries <- entry:
		default:
			// Subscriber buffer full, drop for this subscriber.
		}
	}
}

// Recent returns the most recent entries, newest last. A limit of zero or
// one exceeding the retained count returns everything retained.
func (s *Service) Recent(limit int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.entries) {
		limit = len(s.entries)
	}
	out := make([]Entry, limit)
	copy(out, s.entries[len(s.entries)-limit:])
	return out
}

// Subscribe registers a subscriber that is removed when ctx is done or its
// Done channel is closed.
func (s *Service) Subscribe(ctx context.Context) *Subscriber {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscriber{
		ID:      ulid.Make().String(),
		Entries: make(chan Entry, DefaultBufferSize),
		Done:    make(chan struct{}),
	}
	s.subscribers[sub.ID] = sub

	go func() {
		select {
		case <-ctx.Done():
		case <-sub.Done:
		}
		s.Unsubscribe(sub.ID)
	}()

	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Service) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subscribers[id]; ok {
		close(sub.Entries)
		delete(s.subscribers, id)
	}
}

// SubscriberCount returns the number of active subscribers.
func (s *Service) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Total returns the number of entries captured since startup, including
// entries already evicted from the ring.
func (s *Service) Total() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.total
}

// captureHandler tees records into the service before passing them through.
type captureHandler struct {
	service *Service
	wrapped slog.Handler
	attrs   []slog.Attr
}

func (h *captureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.wrapped.Enabled(ctx, level)
}

func (h *captureHandler) Handle(ctx context.Context, r slog.Record) error {
	entry := Entry{
		ID:        ulid.Make().String(),
		Timestamp: r.Time,
		Level:     levelString(r.Level),
		Message:   r.Message,
	}
	for _, a := range h.attrs {
		addAttr(&entry, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(&entry, a)
		return true
	})

	h.service.Add(entry)
	return h.wrapped.Handle(ctx, r)
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &captureHandler{
		service: h.service,
		wrapped: h.wrapped.WithAttrs(attrs),
		attrs:   merged,
	}
}

func (h *captureHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &captureHandler{
		service: h.service,
		wrapped: h.wrapped.WithGroup(name),
		attrs:   h.attrs,
	}
}

func addAttr(entry *Entry, attr slog.Attr) {
	switch attr.Key {
	case "component":
		if s, ok := attr.Value.Any().(string); ok {
			entry.Component = s
			return
		}
	case slog.TimeKey, slog.LevelKey, slog.MessageKey:
		return
	}
	if entry.Fields == nil {
		entry.Fields = make(map[string]any)
	}
	entry.Fields[attr.Key] = attr.Value.Any()
}

func levelString(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}
