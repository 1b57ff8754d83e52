package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"authwatch/internal/config"
	"authwatch/internal/findings"
	"authwatch/internal/ingest"
	"authwatch/internal/metrics"
	"authwatch/internal/model"
	"authwatch/internal/storage"
)

// Scanner runs detection over a parsed batch.
type Scanner interface {
	Scan(ctx context.Context, events []model.FailureEvent) model.Scan
	UpdateConfig(cfg *config.Config)
}

type Server struct {
	cfg       *config.Manager
	engine    Scanner
	findings  *findings.Store
	offenders *metrics.Offenders
	history   storage.Store
	recorder  *metrics.Recorder
	logger    *slog.Logger
	version   string
	started   time.Time
}

// Deps are the collaborators a Server reads from. History and Offenders may
// be nil.
type Deps struct {
	Config    *config.Manager
	Engine    Scanner
	Findings  *findings.Store
	Offenders *metrics.Offenders
	History   storage.Store
	Recorder  *metrics.Recorder
	Logger    *slog.Logger
	Version   string
}

type statusResponse struct {
	Status     string           `json:"status"`
	Time       string           `json:"time"`
	Uptime     string           `json:"uptime"`
	Version    string           `json:"version"`
	ConfigPath string           `json:"config_path"`
	Detection  detectionStatus  `json:"detection"`
	Sinks      sinkStatus       `json:"sinks"`
	Findings   int              `json:"findings_held"`
	LastScan   *metrics.Summary `json:"last_scan,omitempty"`
}

type detectionStatus struct {
	Window         string   `json:"window"`
	EmitPolicy     string   `json:"emit_policy"`
	BruteForce     int      `json:"brute_force_threshold"`
	Spray          int      `json:"spray_threshold"`
	ASNBurst       int      `json:"asn_burst_threshold"`
	AllowCountries []string `json:"allow_countries,omitempty"`
	DenyCountries  []string `json:"deny_countries,omitempty"`
}

type sinkStatus struct {
	Storage string `json:"storage,omitempty"`
	Kafka   bool   `json:"kafka"`
}

type scanResponse struct {
	Scan    model.Scan `json:"scan"`
	Records int        `json:"records"`
	Invalid int        `json:"invalid"`
}

func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		cfg:       deps.Config,
		engine:    deps.Engine,
		findings:  deps.Findings,
		offenders: deps.Offenders,
		history:   deps.History,
		recorder:  deps.Recorder,
		logger:    logger,
		version:   deps.Version,
		started:   time.Now(),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/scan", s.handleScan)
	mux.HandleFunc("/findings", s.handleFindings)
	mux.HandleFunc("/offenders", s.handleOffenders)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/admin/clear", s.handleClear)
	if s.recorder != nil {
		mux.Handle("/metrics", s.recorder.Handler())
	}
	return mux
}

// Start serves the API until ctx is cancelled. It returns nil when the API is
// disabled.
func Start(ctx context.Context, s *Server) *http.Server {
	if s == nil || s.cfg == nil {
		return nil
	}
	current := s.cfg.Get().API
	if !current.Enabled {
		s.logger.Info("api disabled")
		return nil
	}
	s.logger.Info("api enabled", "addr", current.Addr)

	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", "err", err)
		}
	}()
	return httpServer
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	platform, err := ingest.ParsePlatform(queryOr(r, "platform", string(ingest.PlatformEvents)))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	opts, err := ingest.OptionsFromConfig(cfg.Ingest)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	body := http.MaxBytesReader(w, r.Body, cfg.Ingest.MaxBodyBytes)
	res, err := ingest.Read(body, platform, opts, s.logger)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	scan := s.engine.Scan(r.Context(), res.Events)
	writeJSON(w, http.StatusOK, scanResponse{Scan: scan, Records: res.Records, Invalid: res.Invalid})
}

func (s *Server) handleFindings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	var list []model.ScanFinding
	if strings.EqualFold(q.Get("source"), "storage") {
		if s.history == nil {
			writeError(w, http.StatusNotFound, errors.New("storage is disabled"))
			return
		}
		if limit == 0 {
			limit = 100
		}
		rows, err := s.history.RecentFindings(r.Context(), limit)
		if err != nil {
			s.logger.Error("findings query failed", "store", s.history.Name(), "err", err)
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		list = rows
	} else {
		kind := model.Kind(strings.ToLower(q.Get("kind")))
		var since time.Time
		if v := q.Get("since"); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			since = ts
		}
		if kind == "" && since.IsZero() {
			list = s.findings.List(limit)
		} else {
			list = s.findings.Filter(kind, since)
			if limit > 0 && len(list) > limit {
				list = list[len(list)-limit:]
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"findings": list,
		"count":    len(list),
	})
}

func (s *Server) handleOffenders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.offenders == nil {
		writeJSON(w, http.StatusOK, map[string]any{"offenders": []metrics.Offender{}, "count": 0})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	top := s.offenders.Top(limit)
	writeJSON(w, http.StatusOK, map[string]any{
		"offenders": top,
		"count":     len(top),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	det := cfg.Detection
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Uptime:     time.Since(s.started).Truncate(time.Second).String(),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Detection: detectionStatus{
			Window:         det.Window,
			EmitPolicy:     det.EmitPolicy,
			BruteForce:     enabledThreshold(det.BruteForce),
			Spray:          enabledThreshold(det.Spray),
			ASNBurst:       enabledThreshold(det.ASNBurst),
			AllowCountries: det.CountryBlock.Allow,
			DenyCountries:  det.CountryBlock.Deny,
		},
		Sinks: sinkStatus{Kafka: cfg.Kafka.Enabled},
	}
	if s.history != nil {
		resp.Sinks.Storage = s.history.Name()
	}
	if s.findings != nil {
		resp.Findings = s.findings.Len()
	}
	if last, ok := s.recorder.Last(); ok {
		resp.LastScan = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Target string `json:"target"`
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if target == "" {
		target = "all"
	}
	switch target {
	case "all":
		s.clearFindings()
		s.clearOffenders()
	case "findings":
		s.clearFindings()
	case "offenders":
		s.clearOffenders()
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	s.logger.Info("in-memory state cleared", "target", target)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) clearFindings() {
	if s.findings != nil {
		s.findings.Clear()
	}
}

func (s *Server) clearOffenders() {
	if s.offenders != nil {
		s.offenders.Clear()
	}
}

func enabledThreshold(rule config.RuleConfig) int {
	if !rule.Enabled {
		return 0
	}
	return rule.Threshold
}

func queryOr(r *http.Request, key, fallback string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return fallback
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
