package findings

import (
	"context"
	"sync"
	"time"

	"authwatch/internal/model"
)

// Store keeps the most recent findings in memory for the API.
type Store struct {
	mu    sync.RWMutex
	buf   []model.ScanFinding
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Name() string { return "memory" }

// SaveScan appends every finding of scan, dropping the oldest past the limit.
func (s *Store) SaveScan(_ context.Context, scan model.Scan) error {
	for _, rec := range scan.Records() {
		s.Add(rec)
	}
	return nil
}

func (s *Store) Add(rec model.ScanFinding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, rec)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = rec
}

// List returns up to limit of the newest findings, oldest first.
func (s *Store) List(limit int) []model.ScanFinding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.ScanFinding, 0, limit)
	out = append(out, s.buf[len(s.buf)-limit:]...)
	return out
}

// Filter returns findings of the given kind (all kinds when empty) recorded
// at or after since.
func (s *Store) Filter(kind model.Kind, since time.Time) []model.ScanFinding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ScanFinding, 0)
	for _, rec := range s.buf {
		if kind != "" && rec.Kind != kind {
			continue
		}
		if rec.ScannedAt.Before(since) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
