package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"authwatch/internal/config"
	"authwatch/internal/metrics"
	"authwatch/internal/model"
)

// Sink receives every completed scan. A failing sink never alters findings.
type Sink interface {
	SaveScan(ctx context.Context, scan model.Scan) error
}

// Resolvers bundles the optional lookup capabilities. A nil member disables
// the detectors that need it.
type Resolvers struct {
	Countries CountryResolver
	ASNs      ASNResolver
}

type Engine struct {
	logger    *slog.Logger
	recorder  *metrics.Recorder
	resolvers Resolvers
	sinks     []Sink
	state     atomic.Pointer[snapshot]
}

// snapshot is the configuration one scan runs under. UpdateConfig swaps it
// whole so a scan never mixes thresholds and windows from two configs.
type snapshot struct {
	cfg       *config.Config
	countries *CountryPolicy
	window    time.Duration
}

func NewEngine(cfg *config.Config, logger *slog.Logger, recorder *metrics.Recorder, resolvers Resolvers, sinks ...Sink) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine{
		logger:    logger,
		recorder:  recorder,
		resolvers: resolvers,
		sinks:     sinks,
	}
	e.UpdateConfig(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	window, err := cfg.Detection.WindowDuration()
	if err != nil {
		e.logger.Error("invalid detection window, using 0", "window", cfg.Detection.Window, "err", err)
	}
	snap := &snapshot{cfg: cfg, countries: buildCountryPolicy(cfg), window: window}
	if snap.countries.Active() && e.resolvers.Countries == nil {
		e.logger.Warn("country block configured without a country source; no country findings will be emitted",
			"allow", cfg.Detection.CountryBlock.Allow,
			"deny", cfg.Detection.CountryBlock.Deny,
		)
	}
	e.state.Store(snap)
}

func (e *Engine) snapshot() *snapshot {
	if s := e.state.Load(); s != nil {
		return s
	}
	cfg := config.DefaultConfig()
	window, _ := cfg.Detection.WindowDuration()
	return &snapshot{cfg: cfg, countries: buildCountryPolicy(cfg), window: window}
}

// Window reports the configured detection window.
func (e *Engine) Window() time.Duration {
	return e.snapshot().window
}

type detector func(events []model.FailureEvent, window time.Duration) []model.Finding

// detectors returns the enabled strategies in output order. Disabled slots
// stay nil so the order is fixed regardless of configuration.
func (e *Engine) detectors(s *snapshot) [4]detector {
	det := s.cfg.Detection
	policy := emitPolicy(det.EmitPolicy)
	var out [4]detector
	if det.BruteForce.Enabled {
		out[0] = BruteForce(det.BruteForce.Threshold, policy).Detect
	}
	if det.Spray.Enabled {
		out[1] = CredentialSpray(det.Spray.Threshold, policy).Detect
	}
	if p := s.countries; p.Active() && e.resolvers.Countries != nil {
		out[2] = CountryBlock{
			Policy:    p,
			Resolver:  e.resolvers.Countries,
			Windowed:  det.CountryBlock.Windowed,
			Threshold: det.CountryBlock.Threshold,
			Emit:      policy,
		}.Detect
	}
	if det.ASNBurst.Enabled && e.resolvers.ASNs != nil {
		out[3] = ASNBurst(det.ASNBurst.Threshold, policy, e.resolvers.ASNs).Detect
	}
	return out
}

// Detect runs every enabled strategy over events, one goroutine each, and
// concatenates the results as brute force, spray, country, ASN.
func (e *Engine) Detect(events []model.FailureEvent) []model.Finding {
	return e.detect(e.snapshot(), events)
}

func (e *Engine) detect(s *snapshot, events []model.FailureEvent) []model.Finding {
	if len(events) == 0 {
		return nil
	}
	window := s.window
	dets := e.detectors(s)

	var results [len(dets)][]model.Finding
	var wg sync.WaitGroup
	for i, d := range dets {
		if d == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = d(events, window)
		}()
	}
	wg.Wait()

	var out []model.Finding
	for _, r := range results {
		out = append(out, r...)
	}
	return out
}

// Scan runs Detect, records the outcome and hands it to every sink.
func (e *Engine) Scan(ctx context.Context, events []model.FailureEvent) model.Scan {
	snap := e.snapshot()
	started := time.Now().UTC()
	findings := e.detect(snap, events)
	scan := model.Scan{
		ID:        uuid.NewString(),
		StartedAt: started,
		Duration:  time.Since(started),
		Window:    snap.window,
		Events:    len(events),
		Findings:  findings,
	}
	e.recorder.ObserveScan(scan)

	for _, f := range findings {
		e.logger.Warn("finding detected",
			"scan_id", scan.ID,
			"kind", f.Kind,
			"key", f.Key,
			"count", f.Count,
			"window_minutes", f.WindowMinutes,
		)
	}
	e.logger.Info("scan complete",
		"scan_id", scan.ID,
		"events", scan.Events,
		"findings", len(findings),
		"duration", scan.Duration,
	)

	for _, s := range e.sinks {
		if err := s.SaveScan(ctx, scan); err != nil {
			e.recorder.SinkError(sinkName(s))
			e.logger.Error("sink failed", "sink", sinkName(s), "scan_id", scan.ID, "err", err)
		}
	}
	return scan
}

func emitPolicy(v string) EmitPolicy {
	if v == config.EmitEvery {
		return EmitEvery
	}
	return EmitFirst
}

type namedSink interface {
	Name() string
}

func sinkName(s Sink) string {
	if n, ok := s.(namedSink); ok {
		return n.Name()
	}
	return "unknown"
}
