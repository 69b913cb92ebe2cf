// Package state is the single authoritative runtime snapshot plus the
// event bus behind the dashboard's SSE and WebSocket feeds. Mutations are
// synchronous; every one stamps a monotone revision and fans a compact
// event out to subscribers, who receive copies and can replay missed
// events by revision after a reconnect.
package state

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/airwav/airwav/internal/model"
	"github.com/airwav/airwav/internal/observability"
)

const (
	eventRingSize  = 200
	recentRingSize = 50
	errorRingSize  = 50
	subscriberBuf  = 100

	// meterDeltaGate is the minimum L1 meter change, summed across
	// channels, that publishes a meters.updated event.
	meterDeltaGate = 0.02

	// stateUpdateInterval caps state.updated delivery per subscriber.
	stateUpdateInterval = 500 * time.Millisecond
)

// PlayheadUpdate is the per-tick observable output position published as
// the state.updated event payload.
type PlayheadUpdate struct {
	PlayheadSec  float64               `json:"playheadSec"`
	BufferedSec  float64               `json:"bufferedSec"`
	Phase        model.Phase           `json:"phase"`
	DeckA        model.DeckState       `json:"deckA"`
	DeckB        model.DeckState       `json:"deckB"`
	VoiceLane    model.VoiceLaneState  `json:"voiceLane"`
	Crossfader   model.CrossfaderState `json:"crossfader"`
	Ducking      model.DuckingState    `json:"ducking"`
	LookaheadSec float64               `json:"lookaheadSec"`
}

type segmentFinishedPayload struct {
	SegmentID   string            `json:"segmentId"`
	Kind        model.SegmentKind `json:"kind"`
	BufferedSec float64           `json:"bufferedSec"`
}

type segmentRemovedPayload struct {
	SegmentID string `json:"segmentId"`
}

type queueUpdatedPayload struct {
	Depth int               `json:"depth"`
	Items []model.QueueItem `json:"items"`
}

type sinkStartedPayload struct {
	RTMPURL string `json:"rtmpUrl"`
}

type sinkErrorPayload struct {
	Message  string `json:"message"`
	ExitCode int    `json:"exitCode"`
}

type catalogReloadedPayload struct {
	Tracks int `json:"tracks"`
}

type engineStartedPayload struct {
	StreamStart time.Time `json:"streamStart"`
}

type lastErrorPayload struct {
	LastError model.StreamError `json:"lastError"`
}

// Subscriber is one event-bus consumer. Events arrive on a buffered
// channel; when the buffer is full events are dropped rather than
// blocking the mutator.
type Subscriber struct {
	ID      string
	ch      chan model.Event
	limiter *rate.Limiter
}

// Events returns the subscriber's delivery channel. It is closed by
// Unsubscribe.
func (s *Subscriber) Events() <-chan model.Event { return s.ch }

// Store holds the authoritative runtime state.
type Store struct {
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	snap        model.DashboardSnapshot
	revision    uint64
	events      []model.Event
	lastMeters  model.Meters
	subscribers map[string]*Subscriber
}

// New returns an empty store.
func New(logger *slog.Logger) *Store {
	return &Store{
		logger:      observability.WithComponent(logger, "state"),
		now:         time.Now,
		snap:        model.DashboardSnapshot{Phase: model.PhaseSongs},
		subscribers: make(map[string]*Subscriber),
	}
}

// WithClock overrides the timestamp source. Returns the store for chaining.
func (s *Store) WithClock(now func() time.Time) *Store {
	if now != nil {
		s.now = now
	}
	return s
}

// Revision returns the latest stamped revision.
func (s *Store) Revision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() model.DashboardSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() model.DashboardSnapshot {
	snap := s.snap
	snap.Queue = append([]model.QueueItem(nil), s.snap.Queue...)
	snap.RecentSegments = append([]model.RenderedSegment(nil), s.snap.RecentSegments...)
	snap.RecentErrors = append([]model.StreamError(nil), s.snap.RecentErrors...)
	if s.snap.StreamStart != nil {
		v := *s.snap.StreamStart
		snap.StreamStart = &v
	}
	if s.snap.LastError != nil {
		v := *s.snap.LastError
		snap.LastError = &v
	}
	if s.snap.NowPlaying != nil {
		v := *s.snap.NowPlaying
		snap.NowPlaying = &v
	}
	if s.snap.Publisher.LastExitCode != nil {
		v := *s.snap.Publisher.LastExitCode
		snap.Publisher.LastExitCode = &v
	}
	return snap
}

// Subscribe registers an event consumer and returns it together with a
// first-connect snapshot taken at the same revision.
func (s *Store) Subscribe() (*Subscriber, model.DashboardSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscriber{
		ID:      ulid.Make().String(),
		ch:      make(chan model.Event, subscriberBuf),
		limiter: rate.NewLimiter(rate.Every(stateUpdateInterval), 1),
	}
	s.subscribers[sub.ID] = sub
	s.logger.Debug("subscriber added", slog.String("id", sub.ID))
	return sub, s.snapshotLocked()
}

// Unsubscribe removes a subscriber and closes its channel.
func (s *Store) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscribers[id]
	if !ok {
		return
	}
	delete(s.subscribers, id)
	close(sub.ch)
	s.logger.Debug("subscriber removed", slog.String("id", id))
}

// ReplaySince returns the retained events with revisions greater than rev.
// ok is false when the ring no longer reaches back that far, in which case
// the caller should send a fresh snapshot instead.
func (s *Store) ReplaySince(rev uint64) ([]model.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rev >= s.revision {
		return nil, true
	}
	if len(s.events) == 0 || s.events[0].Revision > rev+1 {
		return nil, false
	}
	var out []model.Event
	for _, ev := range s.events {
		if ev.Revision > rev {
			out = append(out, ev)
		}
	}
	return out, true
}

// publishLocked stamps, retains and fans out one event.
func (s *Store) publishLocked(name string, payload any) {
	s.revision++
	s.snap.Revision = s.revision
	ev := model.Event{TS: s.now(), Event: name, Revision: s.revision, Payload: payload}

	s.events = append(s.events, ev)
	if len(s.events) > eventRingSize {
		s.events = s.events[len(s.events)-eventRingSize:]
	}

	for _, sub := range s.subscribers {
		if name == model.EventStateUpdated && !sub.limiter.Allow() {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			s.logger.Debug("subscriber buffer full, dropping event",
				slog.String("id", sub.ID),
				slog.String("event", name))
		}
	}
}

func (s *Store) errorLocked(msg string) {
	se := model.StreamError{TS: s.now(), Message: msg}
	s.snap.LastError = &se
	s.snap.RecentErrors = append(s.snap.RecentErrors, se)
	if len(s.snap.RecentErrors) > errorRingSize {
		s.snap.RecentErrors = s.snap.RecentErrors[len(s.snap.RecentErrors)-errorRingSize:]
	}
	s.snap.Counters.Errors++
	s.publishLocked(model.EventStateUpdated, lastErrorPayload{LastError: se})
}

// EngineStarted marks the stream live.
func (s *Store) EngineStarted(start time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Running = true
	s.snap.StreamStart = &start
	s.snap.LastError = nil
	s.publishLocked(model.EventEngineStarted, engineStartedPayload{StreamStart: start})
}

// EngineStopped marks the stream down and clears the now-playing slot.
func (s *Store) EngineStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Running = false
	s.snap.NowPlaying = nil
	s.publishLocked(model.EventEngineStopped, nil)
}

// SetPhase records the builder's current phase.
func (s *Store) SetPhase(p model.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap.Phase == p {
		return
	}
	s.snap.Phase = p
	s.publishLocked(model.EventStateUpdated, struct {
		Phase model.Phase `json:"phase"`
	}{p})
}

// CatalogReloaded records a fresh track count.
func (s *Store) CatalogReloaded(tracks int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.TracksLoaded = tracks
	s.publishLocked(model.EventCatalogReloaded, catalogReloadedPayload{Tracks: tracks})
}

// SegmentBuilt counts a finished build.
func (s *Store) SegmentBuilt(seg model.RenderedSegment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Counters.SegmentsBuilt++
	switch seg.Kind {
	case model.SegmentKindCommentary:
		s.snap.Counters.Commentaries++
	case model.SegmentKindLiner:
		s.snap.Counters.Liners++
	}
}

// BuildFailure counts a failed build and surfaces it as the last error.
func (s *Store) BuildFailure(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Counters.BuildFailures++
	s.errorLocked(msg)
}

// RecordError surfaces a non-build runtime error.
func (s *Store) RecordError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errorLocked(msg)
}

// SegmentEnqueued publishes a freshly queued segment along with the new
// queue order.
func (s *Store) SegmentEnqueued(item model.QueueItem, queue []model.QueueItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Queue = queue
	s.publishLocked(model.EventSegmentEnqueued, item)
}

// QueueUpdated publishes a reorder, removal or patch of the queue.
func (s *Store) QueueUpdated(queue []model.QueueItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Queue = queue
	s.publishLocked(model.EventQueueUpdated, queueUpdatedPayload{Depth: len(queue), Items: queue})
}

// SegmentRemoved publishes a queue eviction.
func (s *Store) SegmentRemoved(segmentID string, queue []model.QueueItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Queue = queue
	s.publishLocked(model.EventSegmentRemoved, segmentRemovedPayload{SegmentID: segmentID})
}

// SegmentStarted moves a segment into the now-playing slot.
func (s *Store) SegmentStarted(seg model.RenderedSegment, queue []model.QueueItem) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.NowPlaying = &seg
	s.snap.Queue = queue
	s.snap.Counters.SegmentsPlayed++
	s.publishLocked(model.EventSegmentStarted, seg)
}

// SegmentFinished retires the now-playing segment into the recent ring.
func (s *Store) SegmentFinished(seg model.RenderedSegment, bufferedSec float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap.NowPlaying != nil && s.snap.NowPlaying.ID == seg.ID {
		s.snap.NowPlaying = nil
	}
	s.snap.RecentSegments = append(s.snap.RecentSegments, seg)
	if len(s.snap.RecentSegments) > recentRingSize {
		s.snap.RecentSegments = s.snap.RecentSegments[len(s.snap.RecentSegments)-recentRingSize:]
	}
	s.publishLocked(model.EventSegmentFinished, segmentFinishedPayload{
		SegmentID:   seg.ID,
		Kind:        seg.Kind,
		BufferedSec: bufferedSec,
	})
}

// SinkStarted marks the publisher connected. A start after a recorded
// exit counts as a reconnect.
func (s *Store) SinkStarted(rtmpURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap.Publisher.LastExitCode != nil {
		s.snap.Publisher.Reconnects++
	}
	s.snap.Publisher.Connected = true
	s.publishLocked(model.EventSinkStarted, sinkStartedPayload{RTMPURL: rtmpURL})
}

// SinkStopped marks the publisher cleanly down.
func (s *Store) SinkStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Publisher.Connected = false
	s.publishLocked(model.EventSinkStopped, nil)
}

// SinkError surfaces an unexpected publisher exit.
func (s *Store) SinkError(msg string, exitCode int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Publisher.Connected = false
	s.snap.Publisher.LastExitCode = &exitCode
	s.publishLocked(model.EventSinkError, sinkErrorPayload{Message: msg, ExitCode: exitCode})
	s.errorLocked(msg)
}

// PublisherStats records the latest ingest resource sample without
// emitting an event; the values ride the next state.updated.
func (s *Store) PublisherStats(cpuPercent float64, memoryRSS int64, lastLogLine string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Publisher.CPUPercent = cpuPercent
	s.snap.Publisher.MemoryRSS = memoryRSS
	if lastLogLine != "" {
		s.snap.Publisher.LastLogLine = lastLogLine
	}
}

// UpdateMeters stores the latest meter levels, publishing only when the
// summed channel delta clears the gate.
func (s *Store) UpdateMeters(m model.Meters) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Meters = m
	if l1Delta(s.lastMeters, m) <= meterDeltaGate {
		return
	}
	s.lastMeters = m
	s.publishLocked(model.EventMetersUpdated, m)
}

// UpdatePlayhead publishes the per-tick output position. Delivery is
// rate-limited per subscriber; the snapshot always carries the latest.
func (s *Store) UpdatePlayhead(u PlayheadUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.PlayheadSec = u.PlayheadSec
	s.snap.BufferedSec = u.BufferedSec
	s.snap.Phase = u.Phase
	s.snap.DeckA = u.DeckA
	s.snap.DeckB = u.DeckB
	s.snap.VoiceLane = u.VoiceLane
	s.snap.Crossfader = u.Crossfader
	s.snap.Ducking = u.Ducking
	s.snap.LookaheadSec = u.LookaheadSec
	s.publishLocked(model.EventStateUpdated, u)
}

func l1Delta(a, b model.Meters) float64 {
	return math.Abs(a.Music-b.Music) +
		math.Abs(a.Voice-b.Voice) +
		math.Abs(a.Jingle-b.Jingle) +
		math.Abs(a.Ads-b.Ads) +
		math.Abs(a.Master-b.Master)
}
