package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"authwatch/internal/model"
)

// Recorder owns a private registry so several engines (and tests) can run in
// one process without colliding on metric names.
type Recorder struct {
	registry *prometheus.Registry

	ScansTotal    prometheus.Counter
	EventsScanned prometheus.Counter
	Findings      *prometheus.CounterVec
	ScanDuration  prometheus.Histogram
	LookupCache   *prometheus.CounterVec
	SinkErrors    *prometheus.CounterVec

	mu   sync.RWMutex
	last Summary
}

// Summary describes the most recent scan.
type Summary struct {
	ScanID    string             `json:"scan_id"`
	StartedAt time.Time          `json:"started_at"`
	Duration  string             `json:"duration"`
	Events    int                `json:"events"`
	Findings  map[model.Kind]int `json:"findings"`
}

func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		ScansTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "authwatch_scans_total",
			Help: "Total number of detection scans run",
		}),
		EventsScanned: factory.NewCounter(prometheus.CounterOpts{
			Name: "authwatch_events_scanned_total",
			Help: "Total number of failure events fed to the engine",
		}),
		Findings: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authwatch_findings_total",
			Help: "Total number of findings emitted",
		}, []string{"kind"}),
		ScanDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "authwatch_scan_duration_seconds",
			Help:    "Duration of detection scans in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		LookupCache: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authwatch_lookup_cache_total",
			Help: "Enrichment cache lookups by resolver and result",
		}, []string{"resolver", "result"}),
		SinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authwatch_sink_errors_total",
			Help: "Failed deliveries of scan results to sinks",
		}, []string{"sink"}),
	}
}

// ObserveScan records a finished scan. Safe on a nil Recorder.
func (r *Recorder) ObserveScan(scan model.Scan) {
	if r == nil {
		return
	}
	r.ScansTotal.Inc()
	r.EventsScanned.Add(float64(scan.Events))
	r.ScanDuration.Observe(scan.Duration.Seconds())
	counts := scan.CountByKind()
	for kind, n := range counts {
		r.Findings.WithLabelValues(string(kind)).Add(float64(n))
	}
	r.mu.Lock()
	r.last = Summary{
		ScanID:    scan.ID,
		StartedAt: scan.StartedAt,
		Duration:  scan.Duration.String(),
		Events:    scan.Events,
		Findings:  counts,
	}
	r.mu.Unlock()
}

// CacheResult counts one enrichment cache hit or miss.
func (r *Recorder) CacheResult(resolver string, hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.LookupCache.WithLabelValues(resolver, result).Inc()
}

func (r *Recorder) SinkError(sink string) {
	if r == nil {
		return
	}
	r.SinkErrors.WithLabelValues(sink).Inc()
}

// Last returns the summary of the latest scan and whether one has run.
func (r *Recorder) Last() (Summary, bool) {
	if r == nil {
		return Summary{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last, r.last.ScanID != ""
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
