package report

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"authwatch/internal/model"
)

func sampleFindings() []model.Finding {
	base := time.Date(2025, 7, 25, 22, 34, 0, 0, time.UTC)
	var sample []model.FailureEvent
	for i := 0; i < 7; i++ {
		sample = append(sample, model.FailureEvent{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			IP:        "203.0.113.5",
			Username:  fmt.Sprintf("user%d", i),
			Origin:    model.OriginLinux,
		})
	}
	return []model.Finding{
		{Kind: model.KindBruteForce, Key: "203.0.113.5", Count: 15, WindowMinutes: 5, Sample: sample},
		{Kind: model.KindCredentialSpray, Key: "admin", Count: 12, WindowMinutes: 0.5, Sample: sample[:1]},
	}
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTable(&buf, sampleFindings()); err != nil {
		t.Fatalf("write: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"brute_force", "203.0.113.5", "[2025-07-25T22:34:00Z] user0@203.0.113.5", "0.5"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "user5@") {
		t.Fatalf("table shows more than %d sample lines", SampleLines)
	}
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	width := len([]rune(lines[0]))
	for i, l := range lines {
		if len([]rune(l)) != width {
			t.Fatalf("line %d misaligned: %q", i, l)
		}
	}
}

func TestWriteTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTable(&buf, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.String() != "No findings.\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleFindings()); err != nil {
		t.Fatalf("write: %v", err)
	}
	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("rows=%d", len(records))
	}
	if strings.Join(records[0], ",") != "kind,key,count,window_minutes" {
		t.Fatalf("header: %v", records[0])
	}
	if strings.Join(records[2], ",") != "credential_spray,admin,12,0.5" {
		t.Fatalf("row: %v", records[2])
	}
}

func TestWriteCSVEmptyKeepsHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
	if buf.String() != "kind,key,count,window_minutes\n" {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestWriteJSONLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "findings.jsonl")
	if err := WriteFile(path, sampleFindings(), WriteJSONL); err != nil {
		t.Fatalf("write: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var got []model.Finding
	for scanner.Scan() {
		var fnd model.Finding
		if err := json.Unmarshal(scanner.Bytes(), &fnd); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		got = append(got, fnd)
	}
	if len(got) != 2 || got[0].Key != "203.0.113.5" || len(got[0].Sample) != 7 {
		t.Fatalf("unexpected findings %+v", got)
	}
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	fw := &fakeWriter{}
	p := NewKafkaPublisherWithWriter(fw, nil)
	scan := model.Scan{ID: "scan-1", Findings: sampleFindings()}
	if err := p.SaveScan(context.Background(), scan); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fw.msgs) != 2 {
		t.Fatalf("messages=%d", len(fw.msgs))
	}
	m := fw.msgs[1]
	if string(m.Key) != "admin" {
		t.Fatalf("key=%s", m.Key)
	}
	headers := map[string]string{}
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}
	if headers["scan_id"] != "scan-1" || headers["kind"] != "credential_spray" {
		t.Fatalf("headers=%v", headers)
	}
	if err := p.SaveScan(context.Background(), model.Scan{ID: "empty"}); err != nil || len(fw.msgs) != 2 {
		t.Fatalf("empty scan should publish nothing")
	}
	fw.err = errors.New("broker down")
	if err := p.SaveScan(context.Background(), scan); err == nil {
		t.Fatalf("expected error")
	}
}
