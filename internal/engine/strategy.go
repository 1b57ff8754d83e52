package engine

import (
	"slices"
	"time"

	"authwatch/internal/model"
)

// EmitPolicy decides how many findings a group may produce.
type EmitPolicy int

const (
	// EmitFirst stops a group at its first qualifying window.
	EmitFirst EmitPolicy = iota
	// EmitEvery reports every qualifying window.
	EmitEvery
)

// Strategy is the shared group-then-window detector. Each detection kind is a
// Strategy with its own grouping key and metric.
type Strategy struct {
	Kind model.Kind

	// GroupBy returns the group key for ev; false drops ev from this strategy.
	GroupBy func(ev model.FailureEvent) (string, bool)

	// Distinct switches the metric from raw window size to the number of
	// different Distinct(ev) values in the window.
	Distinct func(ev model.FailureEvent) string

	Threshold int
	Policy    EmitPolicy
}

// Detect groups events, slides a window over each group in timestamp order
// and emits a finding when the metric reaches Threshold.
//
// Under EmitFirst the qualifying window keeps absorbing later events for as
// long as its oldest event stays in range, so a burst that fits inside one
// window is reported once with its full size.
func (s Strategy) Detect(events []model.FailureEvent, window time.Duration) []model.Finding {
	var out []model.Finding
	for _, g := range groupEvents(sortedCopy(events), s.GroupBy) {
		w := NewWindow(window, s.Distinct)
		for i, ev := range g.events {
			w.Slide(ev)
			if w.Distinct() < s.Threshold {
				continue
			}
			if s.Policy == EmitEvery {
				out = append(out, newFinding(s.Kind, g.key, w.Distinct(), window, w.Events()))
				continue
			}
			snap := w.Events()
			oldest := snap[0].Timestamp
			for _, next := range g.events[i+1:] {
				if next.Timestamp.Sub(oldest) > window {
					break
				}
				w.Slide(next)
			}
			out = append(out, newFinding(s.Kind, g.key, w.Distinct(), window, w.Events()))
			break
		}
	}
	return out
}

type group struct {
	key    string
	events []model.FailureEvent
}

// groupEvents buckets sorted events by key, ordering groups by their first
// event so output is deterministic.
func groupEvents(sorted []model.FailureEvent, key func(model.FailureEvent) (string, bool)) []*group {
	index := make(map[string]*group)
	var groups []*group
	for _, ev := range sorted {
		k, ok := key(ev)
		if !ok {
			continue
		}
		g, exists := index[k]
		if !exists {
			g = &group{key: k}
			index[k] = g
			groups = append(groups, g)
		}
		g.events = append(g.events, ev)
	}
	return groups
}

func newFinding(kind model.Kind, key string, count int, window time.Duration, events []model.FailureEvent) model.Finding {
	return model.Finding{
		Kind:          kind,
		Key:           key,
		Count:         count,
		WindowMinutes: window.Minutes(),
		Sample:        sampleOf(events),
	}
}

// sampleOf copies the trailing model.MaxSample events.
func sampleOf(events []model.FailureEvent) []model.FailureEvent {
	start := max(len(events)-model.MaxSample, 0)
	return slices.Clone(events[start:])
}
