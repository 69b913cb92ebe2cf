package model

import "time"

// Event names published on the runtime state bus.
const (
	EventSegmentEnqueued = "segment.enqueued"
	EventSegmentStarted  = "segment.started"
	EventSegmentFinished = "segment.finished"
	EventSegmentRemoved  = "segment.removed"
	EventQueueUpdated    = "queue.updated"
	EventStateUpdated    = "state.updated"
	EventMetersUpdated   = "meters.updated"
	EventSinkStarted     = "sink.started"
	EventSinkStopped     = "sink.stopped"
	EventSinkError       = "sink.error"
	EventEngineStarted   = "engine.started"
	EventEngineStopped   = "engine.stopped"
	EventCatalogReloaded = "catalog.reloaded"
)

// Event is a compact state-change notification delivered to subscribers.
type Event struct {
	TS       time.Time `json:"ts"`
	Event    string    `json:"event"`
	Revision uint64    `json:"revision"`
	Payload  any       `json:"payload,omitempty"`
}
