package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"authwatch/internal/config"
	"authwatch/internal/engine"
	"authwatch/internal/findings"
	"authwatch/internal/metrics"
	"authwatch/internal/model"
)

type fixture struct {
	server    *Server
	findings  *findings.Store
	offenders *metrics.Offenders
	recorder  *metrics.Recorder
}

func newFixture(t *testing.T, mutate func(*config.Config)) fixture {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}
	store := findings.NewStore(100)
	offenders := metrics.NewOffenders(100)
	recorder := metrics.NewRecorder()
	eng := engine.NewEngine(cfg, nil, recorder, engine.Resolvers{}, store, offenders)
	srv := New(Deps{
		Config:    config.NewStaticManager(cfg),
		Engine:    eng,
		Findings:  store,
		Offenders: offenders,
		Recorder:  recorder,
		Version:   "test",
	})
	return fixture{server: srv, findings: store, offenders: offenders, recorder: recorder}
}

func bruteForceBody(n int) string {
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `{"timestamp":%q,"ip":"203.0.113.5","username":"root"}`+"\n",
			base.Add(time.Duration(i)*20*time.Second).Format(time.RFC3339))
	}
	return b.String()
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestScanEndpoint(t *testing.T) {
	fx := newFixture(t, nil)
	h := fx.server.Handler()

	rec := do(t, h, http.MethodPost, "/scan?platform=events", bruteForceBody(15))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var resp scanResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Records != 15 || resp.Scan.Events != 15 {
		t.Fatalf("records=%d events=%d", resp.Records, resp.Scan.Events)
	}
	if len(resp.Scan.Findings) != 1 {
		t.Fatalf("findings=%d", len(resp.Scan.Findings))
	}
	f := resp.Scan.Findings[0]
	if f.Kind != model.KindBruteForce || f.Key != "203.0.113.5" || f.Count != 15 {
		t.Fatalf("finding=%+v", f)
	}
	if fx.findings.Len() != 1 {
		t.Fatalf("store len=%d", fx.findings.Len())
	}
	if top := fx.offenders.Top(0); len(top) != 1 || top[0].Key != "203.0.113.5" {
		t.Fatalf("offenders=%+v", top)
	}
}

func TestScanRejects(t *testing.T) {
	fx := newFixture(t, func(cfg *config.Config) { cfg.Ingest.MaxBodyBytes = 64 })
	h := fx.server.Handler()

	if rec := do(t, h, http.MethodGet, "/scan", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /scan status=%d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/scan?platform=solaris", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad platform status=%d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/scan?platform=linux", bruteForceBody(10)); rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body status=%d", rec.Code)
	}
}

func TestFindingsEndpoint(t *testing.T) {
	fx := newFixture(t, nil)
	h := fx.server.Handler()
	do(t, h, http.MethodPost, "/scan", bruteForceBody(12))
	do(t, h, http.MethodPost, "/scan", bruteForceBody(12))

	rec := do(t, h, http.MethodGet, "/findings?limit=1", "")
	var resp struct {
		Findings []model.ScanFinding `json:"findings"`
		Count    int                 `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Findings[0].Count != 12 {
		t.Fatalf("resp=%+v", resp)
	}

	rec = do(t, h, http.MethodGet, "/findings?kind=credential_spray", "")
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 0 {
		t.Fatalf("spray findings=%d", resp.Count)
	}

	if rec := do(t, h, http.MethodGet, "/findings?limit=x", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status=%d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/findings?source=storage", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("storage disabled status=%d", rec.Code)
	}
}

func TestStatusHealthAndMetrics(t *testing.T) {
	fx := newFixture(t, nil)
	h := fx.server.Handler()
	do(t, h, http.MethodPost, "/scan", bruteForceBody(15))

	rec := do(t, h, http.MethodGet, "/status", "")
	var status statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Version != "test" || status.Detection.Window != "5m" || status.Detection.BruteForce != 10 {
		t.Fatalf("status=%+v", status)
	}
	if status.LastScan == nil || status.LastScan.Events != 15 {
		t.Fatalf("last scan=%+v", status.LastScan)
	}

	if rec := do(t, h, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health status=%d", rec.Code)
	}
	rec = do(t, h, http.MethodGet, "/metrics", "")
	if !strings.Contains(rec.Body.String(), `authwatch_findings_total{kind="brute_force"} 1`) {
		t.Fatalf("metrics missing finding counter:\n%s", rec.Body.String())
	}
}

func TestAdminClear(t *testing.T) {
	fx := newFixture(t, nil)
	h := fx.server.Handler()
	do(t, h, http.MethodPost, "/scan", bruteForceBody(15))

	rec := do(t, h, http.MethodPost, "/admin/clear", `{"target":"findings"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status=%d", rec.Code)
	}
	if fx.findings.Len() != 0 {
		t.Fatalf("findings not cleared")
	}
	if len(fx.offenders.Top(0)) != 1 {
		t.Fatalf("offenders cleared too early")
	}
	do(t, h, http.MethodPost, "/admin/clear", "")
	if len(fx.offenders.Top(0)) != 0 {
		t.Fatalf("offenders not cleared")
	}
	if rec := do(t, h, http.MethodPost, "/admin/clear", `{"target":"everything"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown target status=%d", rec.Code)
	}
}


func TestAdminClearMalformedBody(t *testing.T) {
	fx := newFixture(t, nil)
	h := fx.server.Handler()
	do(t, h, http.MethodPost, "/scan", bruteForceBody(15))
	held := fx.findings.Len()
	if held == 0 {
		t.Fatalf("scan produced no findings")
	}

	rec := do(t, h, http.MethodPost, "/admin/clear", `{"target":"findings"`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body status=%d", rec.Code)
	}
	if fx.findings.Len() != held || len(fx.offenders.Top(0)) != 1 {
		t.Fatalf("state changed on a rejected request")
	}
	if rec := do(t, h, http.MethodPost, "/admin/clear", "  \n"); rec.Code != http.StatusOK {
		t.Fatalf("blank body status=%d", rec.Code)
	}
	if fx.findings.Len() != 0 || len(fx.offenders.Top(0)) != 0 {
		t.Fatalf("blank body should clear all")
	}
}
