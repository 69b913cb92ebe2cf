// Package queue holds rendered segments awaiting playout and keeps them
// in arbitration order.
package queue

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/airwav/airwav/internal/model"
)

// ErrQueueMiss is returned when a mutation names a segment id that is
// not queued.
var ErrQueueMiss = errors.New("segment not in queue")

// Patch adjusts arbitration fields on a queued segment. Nil fields are
// left untouched.
type Patch struct {
	Priority *int
	Pinned   *bool
}

// Queue is the arbitration buffer between the builder and the playout
// engine. The engine and the API mutate it from different goroutines,
// so every method takes the lock.
type Queue struct {
	mu    sync.Mutex
	items []model.QueueItem
	now   func() time.Time
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{now: time.Now}
}

// Enqueue adds a rendered segment, applying priority defaults (manual
// 100, auto 50) when the segment carries none, and returns the queued
// item with its arbitration reason.
func (q *Queue) Enqueue(seg model.RenderedSegment) model.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if seg.Priority == 0 {
		if seg.Source == model.SegmentSourceManual {
			seg.Priority = model.PriorityDefaultManual
		} else {
			seg.Priority = model.PriorityDefaultAuto
		}
	}
	seg.Priority = model.ClampPriority(seg.Priority)

	item := model.QueueItem{
		Segment:    seg,
		EnqueuedAt: q.now(),
		Reason:     model.ArbitrationReasonFor(seg),
	}
	q.items = append(q.items, item)
	q.sortLocked()
	return item
}

// Remove drops the segment with the given id, reporting whether it was
// queued.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if item.Segment.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Update applies a patch to a queued segment and re-sorts. Returns
// ErrQueueMiss when the id is not queued.
func (q *Queue) Update(id string, patch Patch) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.items {
		if q.items[i].Segment.ID != id {
			continue
		}
		if patch.Priority != nil {
			q.items[i].Segment.Priority = model.ClampPriority(*patch.Priority)
		}
		if patch.Pinned != nil {
			q.items[i].Segment.Pinned = *patch.Pinned
		}
		q.items[i].Reason = model.ArbitrationReasonFor(q.items[i].Segment)
		q.sortLocked()
		return nil
	}
	return ErrQueueMiss
}

// Head returns the next item to play without removing it.
func (q *Queue) Head() (model.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return model.QueueItem{}, false
	}
	return q.items[0], true
}

// Pop removes and returns the next item to play.
func (q *Queue) Pop() (model.QueueItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return model.QueueItem{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Items returns a snapshot of the queue in playout order.
func (q *Queue) Items() []model.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]model.QueueItem, len(q.items))
	copy(out, q.items)
	return out
}

// Len reports the number of queued segments.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// DurationSum reports the total queued audio in seconds.
func (q *Queue) DurationSum() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	var sum float64
	for _, item := range q.items {
		sum += item.Segment.DurationSec
	}
	return sum
}

// sortLocked orders by pinned, then priority, then arrival. Stable so
// equal keys keep their relative order.
func (q *Queue) sortLocked() {
	sort.SliceStable(q.items, func(i, j int) bool {
		a, b := q.items[i], q.items[j]
		if a.Segment.Pinned != b.Segment.Pinned {
			return a.Segment.Pinned
		}
		if a.Segment.Priority != b.Segment.Priority {
			return a.Segment.Priority > b.Segment.Priority
		}
		return a.EnqueuedAt.Before(b.EnqueuedAt)
	})
}
