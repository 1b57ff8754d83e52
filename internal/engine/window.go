package engine

import (
	"iter"
	"slices"
	"time"

	"authwatch/internal/model"
)

// Window holds the events whose timestamps fall within duration of the most
// recently pushed event. Events must be pushed in timestamp order.
type Window struct {
	duration time.Duration
	events   []model.FailureEvent
	head     int

	distinct func(model.FailureEvent) string
	counts   map[string]int
}

// NewWindow returns an empty window. When distinct is non-nil the window also
// tracks how many different distinct(ev) values it currently holds.
func NewWindow(duration time.Duration, distinct func(model.FailureEvent) string) *Window {
	if duration < 0 {
		duration = 0
	}
	w := &Window{
		duration: duration,
		events:   make([]model.FailureEvent, 0, 64),
		distinct: distinct,
	}
	if distinct != nil {
		w.counts = make(map[string]int)
	}
	return w
}

// Slide admits ev and evicts everything older than ev.Timestamp - duration.
func (w *Window) Slide(ev model.FailureEvent) {
	w.add(ev)
	w.evict(ev.Timestamp.Add(-w.duration))
}

func (w *Window) add(ev model.FailureEvent) {
	w.events = append(w.events, ev)
	if w.distinct != nil {
		w.counts[w.distinct(ev)]++
	}
}

func (w *Window) evict(cutoff time.Time) {
	for w.head < len(w.events) {
		ev := w.events[w.head]
		if !ev.Timestamp.Before(cutoff) {
			break
		}
		if w.distinct != nil {
			key := w.distinct(ev)
			if count := w.counts[key]; count <= 1 {
				delete(w.counts, key)
			} else {
				w.counts[key] = count - 1
			}
		}
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.events) {
		w.events = append([]model.FailureEvent{}, w.events[w.head:]...)
		w.head = 0
	}
}

// Events returns the live window contents, oldest first. The slice is
// capacity-capped and never written again, so it stays valid after further
// slides.
func (w *Window) Events() []model.FailureEvent {
	n := len(w.events)
	return w.events[w.head:n:n]
}

func (w *Window) Len() int {
	return len(w.events) - w.head
}

// Distinct returns the number of different keys in the window, or Len when
// the window was built without a distinct key.
func (w *Window) Distinct() int {
	if w.distinct == nil {
		return w.Len()
	}
	return len(w.counts)
}

// Rolling yields one snapshot per event in timestamp order. Snapshot i holds
// every event j already seen with ts[j] >= ts[i] - window, including event i.
// The input is sorted on a private copy; ties keep their input order.
func Rolling(events []model.FailureEvent, window time.Duration) iter.Seq[[]model.FailureEvent] {
	return func(yield func([]model.FailureEvent) bool) {
		w := NewWindow(window, nil)
		for _, ev := range sortedCopy(events) {
			w.Slide(ev)
			if !yield(w.Events()) {
				return
			}
		}
	}
}

func sortedCopy(events []model.FailureEvent) []model.FailureEvent {
	out := slices.Clone(events)
	slices.SortStableFunc(out, func(a, b model.FailureEvent) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out
}
