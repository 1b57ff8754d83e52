package normalize

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"authwatch/internal/model"
)

// Missing stands in for an address or principal a log record did not carry.
const Missing = "-"

type EventFields struct {
	Timestamp string
	IP        string
	Username  string
	Origin    string
	Raw       string
}

// Options controls how raw field values are interpreted.
type Options struct {
	Location *time.Location
	// Year fills in timestamps that carry none; 0 means the current year.
	Year   int
	Origin model.Origin
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

func Normalize(fields EventFields, opts Options) (model.FailureEvent, error) {
	if strings.TrimSpace(fields.Timestamp) == "" {
		return model.FailureEvent{}, errors.New("missing timestamp")
	}
	ts, err := ParseTimestamp(fields.Timestamp, opts.location(), opts.Year)
	if err != nil {
		return model.FailureEvent{}, fmt.Errorf("parse timestamp: %w", err)
	}
	origin := opts.Origin
	if fields.Origin != "" {
		origin = ParseOrigin(fields.Origin, origin)
	}
	if origin == "" {
		origin = model.OriginImport
	}
	return model.FailureEvent{
		Timestamp: ts.UTC(),
		IP:        NormalizeIP(fields.IP),
		Username:  NormalizeUser(fields.Username),
		Origin:    origin,
		Raw:       fields.Raw,
	}, nil
}

func ParseOrigin(value string, fallback model.Origin) model.Origin {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "linux", "sshd", "auth.log", "authlog":
		return model.OriginLinux
	case "windows", "win", "evtx", "security":
		return model.OriginWindows
	case "import", "events", "json", "csv":
		return model.OriginImport
	}
	return fallback
}

// NormalizeIP trims v, strips brackets and unmaps IPv4-mapped IPv6
// addresses. Values that are not addresses are kept as given.
func NormalizeIP(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimSuffix(strings.TrimPrefix(v, "["), "]")
	if v == "" {
		return Missing
	}
	addr, err := netip.ParseAddr(v)
	if err != nil {
		return v
	}
	return addr.Unmap().String()
}

func NormalizeUser(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return Missing
	}
	return v
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05.0000000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
}

// syslogLayouts carry no year.
var syslogLayouts = []string{
	"Jan 2 15:04:05",
	"Jan 2 15:04:05.000000",
}

// ParseTimestamp accepts RFC3339 and common variants, unix seconds or
// milliseconds, and classic syslog stamps. Values without a zone are read in
// loc; syslog stamps get year, or the current year in loc when year is 0.
func ParseTimestamp(value string, loc *time.Location, year int) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if loc == nil {
		loc = time.UTC
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	compact := strings.Join(strings.Fields(value), " ")
	for _, layout := range syslogLayouts {
		t, err := time.ParseInLocation(layout, compact, loc)
		if err != nil {
			continue
		}
		if year == 0 {
			year = time.Now().In(loc).Year()
		}
		return time.Date(year, t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
