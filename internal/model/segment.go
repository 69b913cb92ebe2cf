// Package model defines the shared domain types that flow between the
// builder, queue, scheduler, playout engine, sink, and API layers.
package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// SegmentKind classifies what a rendered segment contains.
type SegmentKind string

const (
	SegmentKindSong       SegmentKind = "song"
	SegmentKindCommentary SegmentKind = "commentary"
	SegmentKindLiner      SegmentKind = "liner"
)

// SegmentSource records who asked for a segment.
type SegmentSource string

const (
	SegmentSourceAuto   SegmentSource = "auto"
	SegmentSourceManual SegmentSource = "manual"
)

// Channel is the virtual output lane a clip plays on.
type Channel string

const (
	ChannelMusic  Channel = "music"
	ChannelVoice  Channel = "voice"
	ChannelJingle Channel = "jingle"
	ChannelAds    Channel = "ads"
)

// Phase is the segment builder's current intent.
type Phase string

const (
	PhaseSongs      Phase = "songs"
	PhaseCommentary Phase = "commentary"
)

// Priority bounds for queue arbitration.
const (
	PriorityMin           = 0
	PriorityMax           = 200
	PriorityDefaultAuto   = 50
	PriorityDefaultManual = 100
)

// NewSegmentID returns a new unique segment identifier.
func NewSegmentID() string {
	return ulid.Make().String()
}

// RenderedSegment is a produced audio file ready for playout.
type RenderedSegment struct {
	ID                string        `json:"id"`
	Kind              SegmentKind   `json:"kind"`
	FilePath          string        `json:"filePath"`
	DurationSec       float64       `json:"durationSec"`
	Note              string        `json:"note,omitempty"`
	CommentaryText    string        `json:"commentaryText,omitempty"`
	Source            SegmentSource `json:"source"`
	Priority          int           `json:"priority"`
	Pinned            bool          `json:"pinned"`
	Channel           Channel       `json:"channel,omitempty"`
	ScheduledStartSec *float64      `json:"scheduledStartSec,omitempty"`
}

// ClampPriority bounds a priority value to [PriorityMin, PriorityMax].
func ClampPriority(p int) int {
	if p < PriorityMin {
		return PriorityMin
	}
	if p > PriorityMax {
		return PriorityMax
	}
	return p
}

// ArbitrationReason explains why a queued item sits where it does.
type ArbitrationReason string

const (
	ReasonManualPinned   ArbitrationReason = "manual_pinned"
	ReasonManualPriority ArbitrationReason = "manual_priority"
	ReasonAutoPriority   ArbitrationReason = "auto_priority"
)

// ArbitrationReasonFor derives the observation tag for a segment.
func ArbitrationReasonFor(seg RenderedSegment) ArbitrationReason {
	switch {
	case seg.Pinned && seg.Source == SegmentSourceManual:
		return ReasonManualPinned
	case seg.Source == SegmentSourceManual:
		return ReasonManualPriority
	default:
		return ReasonAutoPriority
	}
}

// QueueItem is a rendered segment awaiting playout.
type QueueItem struct {
	Segment    RenderedSegment   `json:"segment"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
	Reason     ArbitrationReason `json:"reason"`
}
