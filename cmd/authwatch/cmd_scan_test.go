package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"authwatch/internal/config"
	"authwatch/internal/logging"
	"authwatch/internal/model"
)

func writeAuthLog(t *testing.T, failures int) string {
	t.Helper()
	var b strings.Builder
	for i := 0; i < failures; i++ {
		fmt.Fprintf(&b, "Mar  1 10:%02d:%02d host sshd[%d]: Failed password for root from 203.0.113.5 port 4%04d ssh2\n",
			(i*20)/60, (i*20)%60, 1000+i, i)
	}
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&b, "Mar  1 11:00:%02d host sshd[%d]: Failed password for invalid user admin from 198.51.100.%d port 5%04d ssh2\n",
			i, 2000+i, 10+i, i)
	}
	path := filepath.Join(t.TempDir(), "auth.log")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestParseScanArgsPlatformPosition(t *testing.T) {
	for _, args := range [][]string{
		{"linux", "--path", "auth.log", "--threshold", "5"},
		{"--path", "auth.log", "--threshold", "5", "LINUX"},
	} {
		platform, f, err := parseScanArgs(args)
		if err != nil {
			t.Fatalf("parse %v: %v", args, err)
		}
		if platform != "linux" || f.path != "auth.log" || f.threshold != 5 || !f.set["threshold"] {
			t.Fatalf("parse %v: platform=%s flags=%+v", args, platform, f)
		}
	}
	if _, _, err := parseScanArgs([]string{"--path", "auth.log"}); err == nil {
		t.Fatalf("expected missing platform error")
	}
}

func TestScanFlagsApply(t *testing.T) {
	_, f, err := parseScanArgs([]string{"linux", "--spray-threshold", "3", "--window", "10m",
		"--deny-country", "ru,cn", "--deny-country", "ir", "--asn-db", "ipasn.dat", "--store", "scans.db"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.Enrichment.Static = []config.StaticEntry{{Prefix: "198.51.100.0/24", Country: "RU"}}
	if err := f.apply(cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	det := cfg.Detection
	if det.Spray.Threshold != 3 || det.BruteForce.Threshold != 10 || det.Window != "10m" {
		t.Fatalf("detection=%+v", det)
	}
	if got := strings.Join(det.CountryBlock.Deny, ","); got != "RU,CN,IR" {
		t.Fatalf("deny=%s", got)
	}
	if cfg.Enrichment.ASNTable != "ipasn.dat" || !cfg.Storage.Enabled || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("enrichment/storage not applied: %+v %+v", cfg.Enrichment, cfg.Storage)
	}
	if cfg.API.Enabled {
		t.Fatalf("scan must not enable the api")
	}
}

func TestScanFlagsApplyCountryWithoutSource(t *testing.T) {
	_, f, err := parseScanArgs([]string{"linux", "--deny-country", "RU"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg := config.DefaultConfig()
	if err := f.apply(cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Enrichment.HasCountrySource() {
		t.Fatalf("unexpected country source")
	}
	if got := cfg.Detection.CountryBlock.Deny; len(got) != 1 || got[0] != "RU" {
		t.Fatalf("deny=%v", got)
	}
}

func TestStoreTarget(t *testing.T) {
	cases := []struct{ in, driver, dsn string }{
		{"postgres://u:p@db/authwatch", "postgres", "postgres://u:p@db/authwatch"},
		{"scans.db", "sqlite", "file:scans.db?_pragma=busy_timeout(5000)"},
		{"file:scans.db?mode=rwc", "sqlite", "file:scans.db?mode=rwc"},
	}
	for _, tc := range cases {
		driver, dsn := storeTarget(tc.in)
		if driver != tc.driver || dsn != tc.dsn {
			t.Fatalf("storeTarget(%q) = %s %s", tc.in, driver, dsn)
		}
	}
}

func TestRunScanLinux(t *testing.T) {
	logPath := writeAuthLog(t, 15)
	dir := t.TempDir()
	_, f, err := parseScanArgs([]string{"linux", "--path", logPath, "--year", "2025",
		"--csv", filepath.Join(dir, "findings.csv"), "--jsonl", filepath.Join(dir, "findings.jsonl")})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg := config.DefaultConfig()
	if err := f.apply(cfg); err != nil {
		t.Fatalf("apply: %v", err)
	}

	var out bytes.Buffer
	scan, err := runScan(context.Background(), cfg, "linux", f, &out, logging.Discard())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if scan.Events != 27 || len(scan.Findings) != 2 {
		t.Fatalf("events=%d findings=%+v", scan.Events, scan.Findings)
	}
	if scan.Findings[0].Kind != model.KindBruteForce || scan.Findings[0].Count != 15 {
		t.Fatalf("brute force finding=%+v", scan.Findings[0])
	}
	if scan.Findings[1].Kind != model.KindCredentialSpray || scan.Findings[1].Count != 12 {
		t.Fatalf("spray finding=%+v", scan.Findings[1])
	}
	if !strings.Contains(out.String(), "203.0.113.5") || !strings.Contains(out.String(), "2 findings") {
		t.Fatalf("table output:\n%s", out.String())
	}

	csvData, err := os.ReadFile(filepath.Join(dir, "findings.csv"))
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if !strings.HasPrefix(string(csvData), "kind,key,count,window_minutes\n") {
		t.Fatalf("csv=%s", csvData)
	}
	jsonl, err := os.ReadFile(filepath.Join(dir, "findings.jsonl"))
	if err != nil {
		t.Fatalf("read jsonl: %v", err)
	}
	if n := strings.Count(string(jsonl), "\n"); n != 2 {
		t.Fatalf("jsonl lines=%d", n)
	}
}

func TestRunScanRequiresPath(t *testing.T) {
	_, f, err := parseScanArgs([]string{"windows"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg := config.DefaultConfig()
	if _, err := runScan(context.Background(), cfg, "windows", f, &bytes.Buffer{}, logging.Discard()); err == nil {
		t.Fatalf("expected --path error")
	}
	if _, err := runScan(context.Background(), cfg, "solaris", f, &bytes.Buffer{}, logging.Discard()); err == nil {
		t.Fatalf("expected platform error")
	}
}

func TestExplain(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Detection.CountryBlock.Deny = []string{"RU"}
	var out bytes.Buffer
	if err := explain(&out, cfg, "test.yaml"); err != nil {
		t.Fatalf("explain: %v", err)
	}
	text := out.String()
	for _, want := range []string{"brute_force", "credential_spray", "skipped", "Denied countries:  RU", "Window:      5m"} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
}

func TestExplainWriteConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Detection.Window = "10m"
	cfg.Detection.BruteForce.Threshold = 7
	cfg.Detection.CountryBlock.Deny = []string{"RU"}
	path := filepath.Join(t.TempDir(), "authwatch.yaml")

	var out bytes.Buffer
	if err := writeConfig(&out, path, cfg); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(out.String(), path) {
		t.Fatalf("output does not name the file: %q", out.String())
	}
	loaded, err := config.Load(path)
	if err != nil {
		t.Fatalf("load written config: %v", err)
	}
	det := loaded.Detection
	if det.Window != "10m" || det.BruteForce.Threshold != 7 || len(det.CountryBlock.Deny) != 1 {
		t.Fatalf("round trip lost settings: %+v", det)
	}
	if err := writeConfig(&out, "", cfg); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestSuggest(t *testing.T) {
	cases := map[string]string{"sca": "scan", "serv": "serve", "explian": "", "scam": "scan", "zzz": ""}
	for in, want := range cases {
		if got := suggest(in); got != want {
			t.Fatalf("suggest(%q) = %q want %q", in, got, want)
		}
	}
}
