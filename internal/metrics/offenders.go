package metrics

import (
	"context"
	"slices"
	"sync"
	"time"

	"authwatch/internal/model"
)

// Offender aggregates the findings seen for one kind and key across scans.
type Offender struct {
	Kind      model.Kind `json:"kind"`
	Key       string     `json:"key"`
	Findings  int        `json:"findings"`
	MaxCount  int        `json:"max_count"`
	FirstSeen time.Time  `json:"first_seen"`
	LastSeen  time.Time  `json:"last_seen"`
}

type offenderKey struct {
	kind model.Kind
	key  string
}

// Offenders tracks repeat offenders in memory, evicting the least recently
// seen key once limit keys are held.
type Offenders struct {
	mu    sync.RWMutex
	byKey map[offenderKey]*Offender
	limit int
}

func NewOffenders(limit int) *Offenders {
	if limit <= 0 {
		limit = 5000
	}
	return &Offenders{byKey: make(map[offenderKey]*Offender), limit: limit}
}

func (o *Offenders) Name() string { return "offenders" }

func (o *Offenders) SaveScan(_ context.Context, scan model.Scan) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, f := range scan.Findings {
		k := offenderKey{kind: f.Kind, key: f.Key}
		off, ok := o.byKey[k]
		if !ok {
			off = &Offender{Kind: f.Kind, Key: f.Key, FirstSeen: scan.StartedAt}
			o.byKey[k] = off
		}
		off.Findings++
		off.MaxCount = max(off.MaxCount, f.Count)
		off.LastSeen = scan.StartedAt
		if len(o.byKey) > o.limit {
			o.evictOldest()
		}
	}
	return nil
}

// Top returns up to n offenders ordered by finding count, then recency.
func (o *Offenders) Top(n int) []Offender {
	o.mu.RLock()
	out := make([]Offender, 0, len(o.byKey))
	for _, off := range o.byKey {
		out = append(out, *off)
	}
	o.mu.RUnlock()
	slices.SortFunc(out, func(a, b Offender) int {
		if a.Findings != b.Findings {
			return b.Findings - a.Findings
		}
		if c := b.LastSeen.Compare(a.LastSeen); c != 0 {
			return c
		}
		if a.Kind != b.Kind {
			if a.Kind < b.Kind {
				return -1
			}
			return 1
		}
		if a.Key < b.Key {
			return -1
		}
		if a.Key > b.Key {
			return 1
		}
		return 0
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

func (o *Offenders) evictOldest() {
	var oldestKey offenderKey
	var oldest time.Time
	found := false
	for k, off := range o.byKey {
		if !found || off.LastSeen.Before(oldest) {
			oldestKey = k
			oldest = off.LastSeen
			found = true
		}
	}
	if found {
		delete(o.byKey, oldestKey)
	}
}

func (o *Offenders) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.byKey = make(map[offenderKey]*Offender)
}
