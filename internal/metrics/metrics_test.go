package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"authwatch/internal/model"
)

func TestRecorderObserveScan(t *testing.T) {
	r := NewRecorder()
	scan := model.Scan{
		ID:        "scan-1",
		StartedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Duration:  25 * time.Millisecond,
		Events:    40,
		Findings: []model.Finding{
			{Kind: model.KindBruteForce, Key: "203.0.113.9", Count: 15},
			{Kind: model.KindBruteForce, Key: "203.0.113.10", Count: 11},
			{Kind: model.KindCredentialSpray, Key: "admin", Count: 12},
		},
	}
	r.ObserveScan(scan)

	if got := testutil.ToFloat64(r.ScansTotal); got != 1 {
		t.Fatalf("scans=%v", got)
	}
	if got := testutil.ToFloat64(r.EventsScanned); got != 40 {
		t.Fatalf("events=%v", got)
	}
	if got := testutil.ToFloat64(r.Findings.WithLabelValues(string(model.KindBruteForce))); got != 2 {
		t.Fatalf("brute force findings=%v", got)
	}
	last, ok := r.Last()
	if !ok || last.ScanID != "scan-1" || last.Findings[model.KindCredentialSpray] != 1 {
		t.Fatalf("last=%+v ok=%v", last, ok)
	}
}

func TestRecorderCacheAndSinkCounters(t *testing.T) {
	r := NewRecorder()
	r.CacheResult("country", true)
	r.CacheResult("country", true)
	r.CacheResult("country", false)
	r.SinkError("kafka")

	if got := testutil.ToFloat64(r.LookupCache.WithLabelValues("country", "hit")); got != 2 {
		t.Fatalf("hits=%v", got)
	}
	if got := testutil.ToFloat64(r.LookupCache.WithLabelValues("country", "miss")); got != 1 {
		t.Fatalf("misses=%v", got)
	}
	if got := testutil.ToFloat64(r.SinkErrors.WithLabelValues("kafka")); got != 1 {
		t.Fatalf("sink errors=%v", got)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.ObserveScan(model.Scan{ID: "x"})
	r.CacheResult("asn", false)
	r.SinkError("sqlite")
	if _, ok := r.Last(); ok {
		t.Fatalf("nil recorder reported a scan")
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	r := NewRecorder()
	r.ObserveScan(model.Scan{ID: "s", Events: 3})
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "authwatch_scans_total 1") {
		t.Fatalf("metrics output missing counter:\n%s", rec.Body.String())
	}
}

func TestOffendersAggregateAndRank(t *testing.T) {
	o := NewOffenders(10)
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	scan := func(at time.Time, fs ...model.Finding) {
		if err := o.SaveScan(context.Background(), model.Scan{StartedAt: at, Findings: fs}); err != nil {
			t.Fatalf("save: %v", err)
		}
	}
	scan(t0, model.Finding{Kind: model.KindBruteForce, Key: "a", Count: 10})
	scan(t0.Add(time.Minute), model.Finding{Kind: model.KindBruteForce, Key: "a", Count: 14},
		model.Finding{Kind: model.KindCredentialSpray, Key: "root", Count: 12})

	top := o.Top(0)
	if len(top) != 2 {
		t.Fatalf("len=%d", len(top))
	}
	if top[0].Key != "a" || top[0].Findings != 2 || top[0].MaxCount != 14 {
		t.Fatalf("top[0]=%+v", top[0])
	}
	if !top[0].FirstSeen.Equal(t0) || !top[0].LastSeen.Equal(t0.Add(time.Minute)) {
		t.Fatalf("seen times: %+v", top[0])
	}
	if got := o.Top(1); len(got) != 1 {
		t.Fatalf("Top(1) len=%d", len(got))
	}
}

func TestOffendersEvictOldest(t *testing.T) {
	o := NewOffenders(2)
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, key := range []string{"old", "mid", "new"} {
		_ = o.SaveScan(context.Background(), model.Scan{
			StartedAt: t0.Add(time.Duration(i) * time.Minute),
			Findings:  []model.Finding{{Kind: model.KindBruteForce, Key: key, Count: 10}},
		})
	}
	top := o.Top(0)
	if len(top) != 2 {
		t.Fatalf("len=%d", len(top))
	}
	for _, off := range top {
		if off.Key == "old" {
			t.Fatalf("oldest offender survived eviction")
		}
	}
	o.Clear()
	if len(o.Top(0)) != 0 {
		t.Fatalf("clear left entries")
	}
}
