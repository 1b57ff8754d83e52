package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string           `json:"log_level" yaml:"log_level"`
	LogFormat  string           `json:"log_format" yaml:"log_format"`
	Ingest     IngestConfig     `json:"ingest" yaml:"ingest"`
	Detection  DetectionConfig  `json:"detection" yaml:"detection"`
	Enrichment EnrichmentConfig `json:"enrichment" yaml:"enrichment"`
	API        APIConfig        `json:"api" yaml:"api"`
	Storage    StorageConfig    `json:"storage" yaml:"storage"`
	Kafka      KafkaConfig      `json:"kafka" yaml:"kafka"`
	Findings   FindingsConfig   `json:"findings" yaml:"findings"`
}

type IngestConfig struct {
	Timezone string `json:"timezone" yaml:"timezone"`

	// Year fills in syslog timestamps that carry none; 0 means the current year.
	Year int `json:"year" yaml:"year"`

	// MaxBodyBytes bounds a single POST /scan batch.
	MaxBodyBytes int64 `json:"max_body_bytes" yaml:"max_body_bytes"`
}

type DetectionConfig struct {
	Window       string             `json:"window" yaml:"window"`
	EmitPolicy   string             `json:"emit_policy" yaml:"emit_policy"`
	BruteForce   RuleConfig         `json:"brute_force" yaml:"brute_force"`
	Spray        RuleConfig         `json:"spray" yaml:"spray"`
	ASNBurst     RuleConfig         `json:"asn_burst" yaml:"asn_burst"`
	CountryBlock CountryBlockConfig `json:"country_block" yaml:"country_block"`
}

type RuleConfig struct {
	Enabled   bool `json:"enabled" yaml:"enabled"`
	Threshold int  `json:"threshold" yaml:"threshold"`
}

type CountryBlockConfig struct {
	Allow []string `json:"allow" yaml:"allow"`
	Deny  []string `json:"deny" yaml:"deny"`

	// Windowed bounds flagged events by the detection window instead of
	// accumulating them over the whole batch.
	Windowed  bool `json:"windowed" yaml:"windowed"`
	Threshold int  `json:"threshold" yaml:"threshold"`
}

type EnrichmentConfig struct {
	GeoIPMMDB string        `json:"geoip_mmdb" yaml:"geoip_mmdb"`
	ASNMMDB   string        `json:"asn_mmdb" yaml:"asn_mmdb"`
	ASNTable  string        `json:"asn_table" yaml:"asn_table"` // pyasn style "prefix<TAB>asn" file
	CacheSize int           `json:"cache_size" yaml:"cache_size"`
	Static    []StaticEntry `json:"static" yaml:"static"`
}

// StaticEntry pins metadata for an address or CIDR ahead of any database.
type StaticEntry struct {
	Prefix  string `json:"prefix" yaml:"prefix"`
	Country string `json:"country" yaml:"country"`
	ASN     uint32 `json:"asn" yaml:"asn"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type KafkaConfig struct {
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
}

type FindingsConfig struct {
	StoreLimit int `json:"store_limit" yaml:"store_limit"`
}

const (
	EmitFirst = "first"
	EmitEvery = "every"
)

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		Ingest:    IngestConfig{Timezone: "UTC", MaxBodyBytes: 16 << 20},
		Detection: DetectionConfig{
			Window:     "5m",
			EmitPolicy: EmitFirst,
			BruteForce: RuleConfig{Enabled: true, Threshold: 10},
			Spray:      RuleConfig{Enabled: true, Threshold: 12},
			ASNBurst:   RuleConfig{Enabled: true, Threshold: 25},
			CountryBlock: CountryBlockConfig{
				Threshold: 1,
			},
		},
		Enrichment: EnrichmentConfig{CacheSize: 4096},
		API:        APIConfig{Enabled: true, Addr: ":8081"},
		Storage:    StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:authwatch.db?_pragma=busy_timeout(5000)"},
		Kafka:      KafkaConfig{Enabled: false, Topic: "authwatch.findings"},
		Findings:   FindingsConfig{StoreLimit: 1000},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg, err := Decode(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses YAML or JSON content over DefaultConfig, then validates it.
func Decode(content []byte) (*Config, error) {
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Detection.Window) == "" {
		cfg.Detection.Window = "5m"
	}
	if cfg.Detection.EmitPolicy == "" {
		cfg.Detection.EmitPolicy = EmitFirst
	}
	if cfg.Detection.CountryBlock.Threshold == 0 {
		cfg.Detection.CountryBlock.Threshold = 1
	}
	if cfg.Ingest.Timezone == "" {
		cfg.Ingest.Timezone = "UTC"
	}
	if cfg.Ingest.MaxBodyBytes <= 0 {
		cfg.Ingest.MaxBodyBytes = 16 << 20
	}
	if cfg.Enrichment.CacheSize < 0 {
		cfg.Enrichment.CacheSize = 0
	}
	if cfg.Findings.StoreLimit <= 0 {
		cfg.Findings.StoreLimit = 1000
	}
	cfg.Detection.CountryBlock.Allow = NormalizeCountries(cfg.Detection.CountryBlock.Allow)
	cfg.Detection.CountryBlock.Deny = NormalizeCountries(cfg.Detection.CountryBlock.Deny)
	cfg.Detection.EmitPolicy = strings.ToLower(strings.TrimSpace(cfg.Detection.EmitPolicy))
}

// Normalize re-applies defaults after flags were layered over a config.
func Normalize(cfg *Config) {
	applyDefaults(cfg)
}

// NormalizeCountries upper-cases, trims and de-duplicates ISO codes.
func NormalizeCountries(codes []string) []string {
	if len(codes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func Validate(cfg *Config) error {
	if _, err := ParseWindow(cfg.Detection.Window); err != nil {
		return fmt.Errorf("detection.window: %w", err)
	}
	switch cfg.Detection.EmitPolicy {
	case EmitFirst, EmitEvery:
	default:
		return fmt.Errorf("detection.emit_policy must be %q or %q, got %q", EmitFirst, EmitEvery, cfg.Detection.EmitPolicy)
	}
	rules := []struct {
		name string
		rule RuleConfig
	}{
		{"brute_force", cfg.Detection.BruteForce},
		{"spray", cfg.Detection.Spray},
		{"asn_burst", cfg.Detection.ASNBurst},
	}
	for _, r := range rules {
		if r.rule.Enabled && r.rule.Threshold < 1 {
			return fmt.Errorf("detection.%s.threshold must be >= 1", r.name)
		}
	}
	cb := cfg.Detection.CountryBlock
	if len(cb.Allow) > 0 || len(cb.Deny) > 0 {
		if cb.Threshold < 1 {
			return errors.New("detection.country_block.threshold must be >= 1")
		}
	}
	if _, err := time.LoadLocation(cfg.Ingest.Timezone); err != nil {
		return fmt.Errorf("ingest.timezone: %w", err)
	}
	for i, e := range cfg.Enrichment.Static {
		if strings.TrimSpace(e.Prefix) == "" {
			return fmt.Errorf("enrichment.static[%d].prefix required", i)
		}
	}
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("storage.driver %q unsupported", cfg.Storage.Driver)
		}
	}
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
			return errors.New("kafka requires brokers and topic")
		}
	}
	return nil
}

// WindowDuration returns the parsed detection window. Validate has already
// rejected unparsable values, so the error is only reachable on unvalidated
// configs.
func (d DetectionConfig) WindowDuration() (time.Duration, error) {
	return ParseWindow(d.Window)
}

func (e EnrichmentConfig) HasCountrySource() bool {
	if e.GeoIPMMDB != "" {
		return true
	}
	for _, s := range e.Static {
		if s.Country != "" {
			return true
		}
	}
	return false
}

func (e EnrichmentConfig) HasASNSource() bool {
	if e.ASNMMDB != "" || e.ASNTable != "" {
		return true
	}
	for _, s := range e.Static {
		if s.ASN != 0 {
			return true
		}
	}
	return false
}

type Manager struct {
	path    string
	cfg     atomic.Value
	modTime time.Time
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	info, err := os.Stat(path)
	if err == nil {
		m.modTime = info.ModTime()
	}
	return m, nil
}

// NewStaticManager serves a fixed config without a backing file.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	if m.path == "" {
		return m.Get(), nil
	}
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	if info, err := os.Stat(m.path); err == nil {
		m.modTime = info.ModTime()
	}
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().After(m.modTime), nil
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
