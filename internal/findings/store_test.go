package findings

import (
	"context"
	"fmt"
	"testing"
	"time"

	"authwatch/internal/model"
)

func scanWith(id string, at time.Time, kinds ...model.Kind) model.Scan {
	scan := model.Scan{ID: id, StartedAt: at}
	for i, k := range kinds {
		scan.Findings = append(scan.Findings, model.Finding{Kind: k, Key: fmt.Sprintf("%s-%d", id, i), Count: 10})
	}
	return scan
}

func TestStoreRingLimit(t *testing.T) {
	s := NewStore(3)
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		_ = s.SaveScan(context.Background(), scanWith(fmt.Sprintf("s%d", i), now, model.KindBruteForce))
	}
	got := s.List(0)
	if len(got) != 3 {
		t.Fatalf("len=%d", len(got))
	}
	if got[0].ScanID != "s2" || got[2].ScanID != "s4" {
		t.Fatalf("unexpected window: %s..%s", got[0].ScanID, got[2].ScanID)
	}
	if last := s.List(1); len(last) != 1 || last[0].ScanID != "s4" {
		t.Fatalf("List(1) = %+v", last)
	}
}

func TestStoreFilter(t *testing.T) {
	s := NewStore(10)
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = s.SaveScan(context.Background(), scanWith("old", t0, model.KindBruteForce, model.KindCredentialSpray))
	_ = s.SaveScan(context.Background(), scanWith("new", t0.Add(time.Hour), model.KindBruteForce))

	if got := s.Filter(model.KindBruteForce, time.Time{}); len(got) != 2 {
		t.Fatalf("kind filter len=%d", len(got))
	}
	if got := s.Filter("", t0.Add(time.Minute)); len(got) != 1 || got[0].ScanID != "new" {
		t.Fatalf("since filter: %+v", got)
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("clear left %d", s.Len())
	}
}
