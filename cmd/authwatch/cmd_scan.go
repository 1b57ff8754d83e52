package main

// ---------------------------------------------------------------------------
// cmd_scan.go: one-shot detection over a collected log batch
// ---------------------------------------------------------------------------

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"authwatch/internal/config"
	"authwatch/internal/engine"
	"authwatch/internal/enrich"
	"authwatch/internal/ingest"
	"authwatch/internal/logging"
	"authwatch/internal/metrics"
	"authwatch/internal/model"
	"authwatch/internal/report"
	"authwatch/internal/storage"
)

// sourceKafka reads the batch from a topic instead of a file.
const sourceKafka = "kafka"

type scanFlags struct {
	configPath     string
	path           string
	window         string
	emit           string
	format         string
	csvPath        string
	jsonlPath      string
	geoipMMDB      string
	asnMMDB        string
	asnDB          string
	store          string
	timezone       string
	logLevel       string
	threshold      int
	sprayThreshold int
	asnThreshold   int
	year           int
	allow          listFlag
	deny           listFlag

	kafkaBrokers listFlag
	kafkaTopic   string
	kafkaGroup   string
	kafkaMax     int
	kafkaIdle    time.Duration
	publishTopic string

	set map[string]bool
}

func newScanFlagSet(f *scanFlags) *flag.FlagSet {
	fs := flag.NewFlagSet("scan", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "Config file (YAML or JSON)")
	fs.StringVar(&f.path, "path", "", "Log file to scan (- for stdin, .gz accepted)")
	fs.IntVar(&f.threshold, "threshold", 10, "Brute-force threshold: failures per IP within the window")
	fs.IntVar(&f.sprayThreshold, "spray-threshold", 12, "Spray threshold: distinct IPs per user within the window")
	fs.IntVar(&f.asnThreshold, "asn-threshold", 25, "ASN burst threshold: failures per AS within the window")
	fs.StringVar(&f.window, "window", "5m", "Detection window (ms, s, m, h, d suffix)")
	fs.StringVar(&f.emit, "emit", config.EmitFirst, "Emit policy: first or every")
	fs.StringVar(&f.format, "format", "table", "Output format: table, json")
	fs.StringVar(&f.csvPath, "csv", "", "Also write findings as CSV to this file")
	fs.StringVar(&f.jsonlPath, "jsonl", "", "Also write findings as JSON lines to this file")
	fs.StringVar(&f.geoipMMDB, "geoip-mmdb", "", "MaxMind Country or City database")
	fs.StringVar(&f.asnMMDB, "asn-mmdb", "", "MaxMind ASN database")
	fs.StringVar(&f.asnDB, "asn-db", "", "Prefix-to-ASN table (prefix<TAB>asn per line)")
	fs.Var(&f.allow, "allow-country", "Allowed ISO country code (repeatable or comma-separated)")
	fs.Var(&f.deny, "deny-country", "Denied ISO country code (repeatable or comma-separated)")
	fs.IntVar(&f.year, "year", 0, "Year for syslog timestamps without one (default current year)")
	fs.StringVar(&f.timezone, "timezone", "", "Zone for timestamps without an offset (default UTC)")
	fs.StringVar(&f.store, "store", "", "Persist the scan: sqlite file path or postgres:// DSN")
	fs.Var(&f.kafkaBrokers, "kafka-brokers", "Kafka brokers for the kafka source and for publishing")
	fs.StringVar(&f.kafkaTopic, "kafka-topic", "", "Topic to read events from (platform kafka)")
	fs.StringVar(&f.kafkaGroup, "kafka-group", "authwatch", "Consumer group for the kafka source")
	fs.IntVar(&f.kafkaMax, "kafka-max", 0, "Stop after this many messages (0 = until idle)")
	fs.DurationVar(&f.kafkaIdle, "kafka-idle", 5*time.Second, "Stop once no message arrives for this long")
	fs.StringVar(&f.publishTopic, "publish-topic", "", "Publish findings to this Kafka topic")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level override: debug, info, warn, error")
	return fs
}

// parseScanArgs accepts the platform before or after the flags.
func parseScanArgs(args []string) (string, *scanFlags, error) {
	f := &scanFlags{set: map[string]bool{}}
	fs := newScanFlagSet(f)
	fs.SetOutput(io.Discard)

	var platform string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		platform, args = args[0], args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}
	if platform == "" && fs.NArg() > 0 {
		platform = fs.Arg(0)
	}
	if platform == "" {
		return "", nil, errors.New("platform required: linux, windows, events or kafka")
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })
	return strings.ToLower(platform), f, nil
}

// apply layers explicitly set flags over cfg.
func (f *scanFlags) apply(cfg *config.Config) error {
	det := &cfg.Detection
	if f.set["threshold"] {
		det.BruteForce = config.RuleConfig{Enabled: f.threshold > 0, Threshold: f.threshold}
	}
	if f.set["spray-threshold"] {
		det.Spray = config.RuleConfig{Enabled: f.sprayThreshold > 0, Threshold: f.sprayThreshold}
	}
	if f.set["asn-threshold"] {
		det.ASNBurst = config.RuleConfig{Enabled: f.asnThreshold > 0, Threshold: f.asnThreshold}
	}
	if f.set["window"] {
		det.Window = f.window
	}
	if f.set["emit"] {
		det.EmitPolicy = f.emit
	}
	if len(f.allow) > 0 {
		det.CountryBlock.Allow = append(det.CountryBlock.Allow, f.allow...)
	}
	if len(f.deny) > 0 {
		det.CountryBlock.Deny = append(det.CountryBlock.Deny, f.deny...)
	}
	if f.geoipMMDB != "" {
		cfg.Enrichment.GeoIPMMDB = f.geoipMMDB
	}
	if f.asnMMDB != "" {
		cfg.Enrichment.ASNMMDB = f.asnMMDB
	}
	if f.asnDB != "" {
		cfg.Enrichment.ASNTable = f.asnDB
	}
	if f.year != 0 {
		cfg.Ingest.Year = f.year
	}
	if f.timezone != "" {
		cfg.Ingest.Timezone = f.timezone
	}
	if f.store != "" {
		cfg.Storage.Enabled = true
		cfg.Storage.Driver, cfg.Storage.DSN = storeTarget(f.store)
	}
	if f.publishTopic != "" {
		cfg.Kafka.Enabled = true
		cfg.Kafka.Topic = f.publishTopic
		if len(f.kafkaBrokers) > 0 {
			cfg.Kafka.Brokers = f.kafkaBrokers
		}
	}
	if f.logLevel != "" {
		cfg.LogLevel = f.logLevel
	}
	// The scan command never listens.
	cfg.API.Enabled = false
	config.Normalize(cfg)
	return config.Validate(cfg)
}

func storeTarget(v string) (driver, dsn string) {
	if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
		return "postgres", v
	}
	if strings.Contains(v, "?") {
		return "sqlite", v
	}
	return "sqlite", "file:" + strings.TrimPrefix(v, "file:") + "?_pragma=busy_timeout(5000)"
}

func cmdScan(args []string) {
	platform, flags, err := parseScanArgs(args)
	if errors.Is(err, flag.ErrHelp) {
		fs := newScanFlagSet(&scanFlags{})
		fmt.Fprintf(os.Stdout, "Usage: authwatch scan <linux|windows|events|kafka> --path FILE [flags]\n\n")
		fs.SetOutput(os.Stdout)
		fs.PrintDefaults()
		return
	}
	if err != nil {
		errorf("%v", err)
	}
	cfg, _, err := loadConfig(flags.configPath)
	if err != nil {
		errorf("loading config: %v", err)
	}
	if err := flags.apply(cfg); err != nil {
		errorf("%v", err)
	}
	if flags.set["asn-threshold"] && !cfg.Enrichment.HasASNSource() {
		warnf("--asn-threshold has no effect without --asn-mmdb or --asn-db")
	}
	if cb := cfg.Detection.CountryBlock; (len(cb.Allow) > 0 || len(cb.Deny) > 0) && !cfg.Enrichment.HasCountrySource() {
		warnf("country allow/deny lists have no effect without --geoip-mmdb")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if _, err := runScan(ctx, cfg, platform, flags, os.Stdout, logger); err != nil {
		errorf("%v", err)
	}
}

// runScan reads the batch, runs every enabled detector and renders the
// result to out.
func runScan(ctx context.Context, cfg *config.Config, platform string, flags *scanFlags, out io.Writer, logger *slog.Logger) (model.Scan, error) {
	opts, err := ingest.OptionsFromConfig(cfg.Ingest)
	if err != nil {
		return model.Scan{}, err
	}
	res, err := readBatch(ctx, platform, flags, opts, logger)
	if err != nil {
		return model.Scan{}, err
	}

	recorder := metrics.NewRecorder()
	set, err := enrich.Open(cfg.Enrichment, recorder, logger)
	if err != nil {
		return model.Scan{}, err
	}
	defer set.Close()

	sinks, closeSinks, err := openSinks(ctx, cfg, logger)
	if err != nil {
		return model.Scan{}, err
	}
	defer closeSinks()

	eng := engine.NewEngine(cfg, logger, recorder, set.Resolvers(), sinks...)
	scan := eng.Scan(ctx, res.Events)

	switch strings.ToLower(flags.format) {
	case "json":
		err = report.WriteJSON(out, scan)
	default:
		err = report.WriteTable(out, scan.Findings)
		if err == nil {
			_, err = fmt.Fprintf(out, "%d events (%d records, %d invalid), %d findings, window %s\n",
				scan.Events, res.Records, res.Invalid, len(scan.Findings), config.FormatWindow(scan.Window))
		}
	}
	if err != nil {
		return scan, err
	}
	if flags.csvPath != "" {
		if err := report.WriteFile(flags.csvPath, scan.Findings, report.WriteCSV); err != nil {
			return scan, fmt.Errorf("writing csv: %w", err)
		}
	}
	if flags.jsonlPath != "" {
		if err := report.WriteFile(flags.jsonlPath, scan.Findings, report.WriteJSONL); err != nil {
			return scan, fmt.Errorf("writing jsonl: %w", err)
		}
	}
	return scan, nil
}

func readBatch(ctx context.Context, platform string, flags *scanFlags, opts ingest.Options, logger *slog.Logger) (ingest.Result, error) {
	if platform == sourceKafka {
		return ingest.ReadKafka(ctx, ingest.KafkaSource{
			Brokers:     flags.kafkaBrokers,
			Topic:       flags.kafkaTopic,
			GroupID:     flags.kafkaGroup,
			MaxMessages: flags.kafkaMax,
			IdleTimeout: flags.kafkaIdle,
		}, opts, logger)
	}
	p, err := ingest.ParsePlatform(platform)
	if err != nil {
		return ingest.Result{}, err
	}
	if flags.path == "" {
		return ingest.Result{}, errors.New("--path required (use - for stdin)")
	}
	return ingest.ReadFile(flags.path, p, opts, logger)
}

// openSinks builds the configured persistent sinks. The returned func closes
// them all.
func openSinks(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]engine.Sink, func(), error) {
	var sinks []engine.Sink
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("close failed", "err", err)
			}
		}
	}

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, closeAll, err
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			_ = store.Close()
			return nil, closeAll, fmt.Errorf("storage init: %w", err)
		}
		sinks = append(sinks, store)
		closers = append(closers, store)
		logger.Info("storage enabled", "driver", store.Name())
	}
	if cfg.Kafka.Enabled {
		pub := report.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		sinks = append(sinks, pub)
		closers = append(closers, pub)
		logger.Info("kafka publishing enabled", "topic", cfg.Kafka.Topic)
	}
	return sinks, closeAll, nil
}
