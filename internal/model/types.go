package model

import "time"

type Origin string

const (
	OriginLinux   Origin = "linux"
	OriginWindows Origin = "windows"
	OriginImport  Origin = "import"
)

type Kind string

const (
	KindBruteForce      Kind = "brute_force"
	KindCredentialSpray Kind = "credential_spray"
	KindCountryBlock    Kind = "country_block"
	KindASNBurst        Kind = "asn_burst"
)

// MaxSample caps the number of events a Finding carries for review.
const MaxSample = 20

// FailureEvent is one normalized authentication failure. Detection code
// treats it as a value and never mutates it.
type FailureEvent struct {
	Timestamp time.Time `json:"timestamp"`
	IP        string    `json:"ip"`
	Username  string    `json:"username"`
	Origin    Origin    `json:"origin"`
	Raw       string    `json:"raw,omitempty"`
}

// Finding summarizes one detected anomaly. Sample is chronological with the
// most recent event last.
type Finding struct {
	Kind          Kind           `json:"kind"`
	Key           string         `json:"key"`
	Count         int            `json:"count"`
	WindowMinutes float64        `json:"window_minutes"`
	Sample        []FailureEvent `json:"sample"`
}

type Scan struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Window    time.Duration `json:"window"`
	Events    int           `json:"events"`
	Findings  []Finding     `json:"findings"`
}

// CountByKind tallies the scan's findings per kind.
func (s Scan) CountByKind() map[Kind]int {
	out := make(map[Kind]int, 4)
	for _, f := range s.Findings {
		out[f.Kind]++
	}
	return out
}

// ScanFinding is a finding together with the scan that produced it.
type ScanFinding struct {
	ScanID    string    `json:"scan_id"`
	ScannedAt time.Time `json:"scanned_at"`
	Finding
}

// Records flattens the scan into ScanFindings.
func (s Scan) Records() []ScanFinding {
	out := make([]ScanFinding, 0, len(s.Findings))
	for _, f := range s.Findings {
		out = append(out, ScanFinding{ScanID: s.ID, ScannedAt: s.StartedAt, Finding: f})
	}
	return out
}
