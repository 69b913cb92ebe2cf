package model

// DeckID names one of the two virtual stereo slots used to plan crossfades.
type DeckID string

const (
	DeckA DeckID = "A"
	DeckB DeckID = "B"
)

// TransitionCurve shapes a planned crossfade.
type TransitionCurve string

const (
	CurveLog TransitionCurve = "log"
	CurveExp TransitionCurve = "exp"
	CurveTri TransitionCurve = "tri"
)

// GainRamp describes a linear gain change applied over the head of a clip.
type GainRamp struct {
	From    float64 `json:"from"`
	To      float64 `json:"to"`
	Seconds float64 `json:"seconds"`
}

// At evaluates the ramp at t seconds from the clip start. Before the ramp
// completes the value interpolates linearly; afterwards it holds To.
func (r GainRamp) At(t float64) float64 {
	if r.Seconds <= 0 {
		return r.To
	}
	if t <= 0 {
		return r.From
	}
	if t >= r.Seconds {
		return r.To
	}
	return r.From + (r.To-r.From)*(t/r.Seconds)
}

// ScheduledClip is a single atomic output element placed on the timeline.
// A single segment may expand into multiple clips; ParentSegmentID ties the
// expansion together.
type ScheduledClip struct {
	SegmentID       string   `json:"segmentId"`
	ParentSegmentID string   `json:"parentSegmentId,omitempty"`
	Channel         Channel  `json:"channel"`
	FilePath        string   `json:"filePath"`
	StartAtSec      float64  `json:"startAtSec"`
	SourceOffsetSec float64  `json:"sourceOffsetSec"`
	DurationSec     float64  `json:"durationSec"`
	Gain            float64  `json:"gain"`
	Ramp            *GainRamp `json:"ramp,omitempty"`
	FadeInSec       float64  `json:"fadeInSec,omitempty"`
	FadeOutSec      float64  `json:"fadeOutSec,omitempty"`
	Deck            DeckID   `json:"deck,omitempty"`
}

// EndAtSec is the timeline position where the clip stops sounding.
func (c ScheduledClip) EndAtSec() float64 {
	return c.StartAtSec + c.DurationSec
}

// Overlaps reports whether the clip is audible anywhere inside [from, to).
func (c ScheduledClip) Overlaps(from, to float64) bool {
	return c.StartAtSec < to && c.EndAtSec() > from
}

// Transition is a planned deck-to-deck crossfade between two adjacent
// music clips.
type Transition struct {
	FromSegmentID string          `json:"fromSegmentId"`
	ToSegmentID   string          `json:"toSegmentId"`
	FromDeck      DeckID          `json:"fromDeck"`
	ToDeck        DeckID          `json:"toDeck"`
	AtSec         float64         `json:"atSec"`
	WindowSec     float64         `json:"windowSec"`
	Curve         TransitionCurve `json:"curve"`
}

// TimelineSnapshot is the read-only view of the planned timeline.
type TimelineSnapshot struct {
	CursorSec    float64                    `json:"cursorSec"`
	LookaheadSec float64                    `json:"lookaheadSec"`
	Decks        map[DeckID][]ScheduledClip `json:"decks"`
	VoiceLane    []ScheduledClip            `json:"voiceLane"`
	Transitions  []Transition               `json:"transitions"`
	Queue        []QueueItem                `json:"queue"`
}
