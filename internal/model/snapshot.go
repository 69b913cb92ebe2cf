package model

import "time"

// StreamError is a timestamped error observation kept in the recent-errors ring.
type StreamError struct {
	TS      time.Time `json:"ts"`
	Message string    `json:"message"`
}

// PublisherHealth reports the RTMP ingest child's condition.
type PublisherHealth struct {
	Connected    bool    `json:"connected"`
	Reconnects   int     `json:"reconnects"`
	LastExitCode *int    `json:"lastExitCode"`
	LastLogLine  string  `json:"lastLogLine,omitempty"`
	CPUPercent   float64 `json:"cpuPercent,omitempty"`
	MemoryRSS    int64   `json:"memoryRss,omitempty"`
}

// Counters accumulates playout totals since start.
type Counters struct {
	SegmentsBuilt  int64 `json:"segmentsBuilt"`
	SegmentsPlayed int64 `json:"segmentsPlayed"`
	Commentaries   int64 `json:"commentaries"`
	Liners         int64 `json:"liners"`
	BuildFailures  int64 `json:"buildFailures"`
	Errors         int64 `json:"errors"`
}

// DeckState describes what one virtual deck is doing right now.
type DeckState struct {
	SegmentID    string  `json:"segmentId,omitempty"`
	Title        string  `json:"title,omitempty"`
	PositionSec  float64 `json:"positionSec"`
	RemainingSec float64 `json:"remainingSec"`
	Active       bool    `json:"active"`
}

// VoiceLaneState describes the voice-over overlay slot.
type VoiceLaneState struct {
	SegmentID    string  `json:"segmentId,omitempty"`
	RemainingSec float64 `json:"remainingSec"`
	Active       bool    `json:"active"`
}

// CrossfaderState reports the planned deck blend position.
// Position runs from -1 (fully deck A) to +1 (fully deck B).
type CrossfaderState struct {
	Position float64         `json:"position"`
	Active   bool            `json:"active"`
	Curve    TransitionCurve `json:"curve,omitempty"`
}

// DuckingState reports whether music is being pulled under a voice clip.
type DuckingState struct {
	Active bool    `json:"active"`
	Depth  float64 `json:"depth"`
}

// Meters carries per-channel envelope levels plus the master sum, all in [0, 1].
type Meters struct {
	Music  float64 `json:"music"`
	Voice  float64 `json:"voice"`
	Jingle float64 `json:"jingle"`
	Ads    float64 `json:"ads"`
	Master float64 `json:"master"`
}

// DashboardSnapshot is the full observable state of the broadcaster.
type DashboardSnapshot struct {
	Running        bool              `json:"running"`
	StreamStart    *time.Time        `json:"streamStart"`
	Phase          Phase             `json:"phase"`
	TracksLoaded   int               `json:"tracksLoaded"`
	BufferedSec    float64           `json:"bufferedSec"`
	LastError      *StreamError      `json:"lastError"`
	NowPlaying     *RenderedSegment  `json:"nowPlaying"`
	Queue          []QueueItem       `json:"queue"`
	RecentSegments []RenderedSegment `json:"recentSegments"`
	RecentErrors   []StreamError     `json:"recentErrors"`
	Publisher      PublisherHealth   `json:"publisher"`
	Counters       Counters          `json:"counters"`
	PlayheadSec    float64           `json:"playheadSec"`
	DeckA          DeckState         `json:"deckA"`
	DeckB          DeckState         `json:"deckB"`
	VoiceLane      VoiceLaneState    `json:"voiceLane"`
	Crossfader     CrossfaderState   `json:"crossfader"`
	Ducking        DuckingState      `json:"ducking"`
	LookaheadSec   float64           `json:"lookaheadSec"`
	Meters         Meters            `json:"meters"`
	Revision       uint64            `json:"revision"`
}
