package ingest

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"authwatch/internal/config"
	"authwatch/internal/model"
	"authwatch/internal/normalize"
)

type Platform string

const (
	PlatformLinux   Platform = "linux"
	PlatformWindows Platform = "windows"
	PlatformEvents  Platform = "events"
)

func ParsePlatform(v string) (Platform, error) {
	switch p := Platform(strings.ToLower(strings.TrimSpace(v))); p {
	case PlatformLinux, PlatformWindows, PlatformEvents:
		return p, nil
	case "json", "csv", "import":
		return PlatformEvents, nil
	}
	return "", fmt.Errorf("unknown platform %q (want linux, windows or events)", v)
}

// Options controls timestamp interpretation for every platform.
type Options struct {
	Location *time.Location
	Year     int
}

func OptionsFromConfig(cfg config.IngestConfig) (Options, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return Options{}, fmt.Errorf("ingest.timezone: %w", err)
	}
	return Options{Location: loc, Year: cfg.Year}, nil
}

func (o Options) normalize(origin model.Origin) normalize.Options {
	return normalize.Options{Location: o.Location, Year: o.Year, Origin: origin}
}

// Result is a parsed batch. Records counts the units read (lines, XML events
// or JSON objects), Invalid those recognized but rejected.
type Result struct {
	Events  []model.FailureEvent
	Records int
	Invalid int
}

func (r *Result) add(fields *normalize.EventFields, opts normalize.Options, logger *slog.Logger) {
	ev, err := normalize.Normalize(*fields, opts)
	if err != nil {
		r.Invalid++
		logger.Warn("dropping event", "err", err, "raw", truncate(fields.Raw, 200))
		return
	}
	r.Events = append(r.Events, ev)
}

// Read parses a complete batch from r.
func Read(r io.Reader, platform Platform, opts Options, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var (
		res Result
		err error
	)
	switch platform {
	case PlatformLinux:
		res, err = readLines(r, func(line string, res *Result) {
			if fields, ok := ParseAuthLine(line); ok {
				res.add(&fields, opts.normalize(model.OriginLinux), logger)
			}
		})
	case PlatformWindows:
		res, err = readWindows(r, opts, logger)
	case PlatformEvents:
		res, err = readEvents(r, opts, logger)
	default:
		return Result{}, fmt.Errorf("unknown platform %q", platform)
	}
	if err != nil {
		return res, err
	}
	logger.Info("batch parsed",
		"platform", platform,
		"records", res.Records,
		"events", len(res.Events),
		"invalid", res.Invalid,
	)
	return res, nil
}

func readLines(r io.Reader, handle func(line string, res *Result)) (Result, error) {
	var res Result
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 8192), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		res.Records++
		handle(line, &res)
	}
	if err := scanner.Err(); err != nil {
		return res, fmt.Errorf("read: %w", err)
	}
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
