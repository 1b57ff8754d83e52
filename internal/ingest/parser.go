package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"authwatch/internal/model"
	"authwatch/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+\-Z]+)`)
	reKV        = regexp.MustCompile(`(?i)([a-zA-Z_]+)=([^\s]+)`)
)

var (
	timestampKeys = []string{"timestamp", "time", "ts", "when", "@timestamp"}
	ipKeys        = []string{"ip", "source_ip", "src_ip", "address", "rhost", "ip_address"}
	userKeys      = []string{"username", "user", "principal", "account", "target_user"}
	originKeys    = []string{"origin", "source", "platform"}
)

var errNoFields = errors.New("no event fields found")

// Parser handles the normalized event formats: one JSON object per line,
// CSV with a header row, or "timestamp key=value ..." text.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

// ParseLine returns nil fields and a nil error for blank lines and CSV
// headers.
func (p *Parser) ParseLine(line string) (*normalize.EventFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		fields, err := ParseJSONBytes([]byte(trim))
		if err != nil {
			return nil, err
		}
		if fields.Raw == "" {
			fields.Raw = trim
		}
		return fields, nil
	}
	if strings.Contains(trim, ",") {
		fields, err := p.csv.Parse(trim)
		if err == nil {
			if fields == nil {
				return nil, nil
			}
			fields.Raw = trim
			return fields, nil
		}
	}
	fields, err := parsePlain(trim)
	if err != nil {
		return nil, err
	}
	fields.Raw = trim
	return fields, nil
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

func parsePlain(line string) (*normalize.EventFields, error) {
	fields := &normalize.EventFields{}
	ts, _ := extractTimestamp(line)

	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		kv[strings.ToLower(match[1])] = match[2]
	}
	fields.Timestamp = firstNonEmpty(kv, timestampKeys...)
	if fields.Timestamp == "" {
		fields.Timestamp = ts
	}
	fields.IP = firstNonEmpty(kv, ipKeys...)
	fields.Username = firstNonEmpty(kv, userKeys...)
	fields.Origin = firstNonEmpty(kv, originKeys...)
	if fields.IP == "" && fields.Username == "" {
		return nil, errNoFields
	}
	return fields, nil
}

func extractTimestamp(line string) (string, string) {
	m := reTimestamp.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		ts := strings.TrimSpace(line[m[2]:m[3]])
		rest := strings.TrimSpace(line[m[3]:])
		return ts, rest
	}
	return "", line
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

// Parse reads one CSV record. Without a header the columns are taken as
// timestamp, ip, username, origin.
func (p *CSVParser) Parse(line string) (*normalize.EventFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	fields := &normalize.EventFields{}
	if p.header != nil {
		for i, name := range p.header {
			if i >= len(record) {
				break
			}
			assignField(fields, name, record[i])
		}
		return fields, nil
	}
	cols := []*string{&fields.Timestamp, &fields.IP, &fields.Username, &fields.Origin}
	for i, dst := range cols {
		if i < len(record) {
			*dst = strings.TrimSpace(record[i])
		}
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		name := strings.ToLower(strings.TrimSpace(v))
		if slices.Contains(timestampKeys, name) || slices.Contains(ipKeys, name) || slices.Contains(userKeys, name) {
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func assignField(fields *normalize.EventFields, name string, value string) {
	value = strings.TrimSpace(value)
	switch {
	case slices.Contains(timestampKeys, name):
		fields.Timestamp = value
	case slices.Contains(ipKeys, name):
		fields.IP = value
	case slices.Contains(userKeys, name):
		fields.Username = value
	case slices.Contains(originKeys, name):
		fields.Origin = value
	}
}

// readEvents parses normalized events: a JSON array when the input starts
// with '[', one record per line otherwise.
func readEvents(r io.Reader, opts Options, logger *slog.Logger) (Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, err
	}
	norm := opts.normalize(model.OriginImport)
	trim := bytes.TrimSpace(data)
	if len(trim) > 0 && trim[0] == '[' {
		list, err := ParseJSONArray(trim)
		if err != nil {
			return Result{}, err
		}
		res := Result{Records: len(list)}
		for _, fields := range list {
			res.add(fields, norm, logger)
		}
		return res, nil
	}
	parser := NewParser()
	return readLines(bytes.NewReader(data), func(line string, res *Result) {
		fields, err := parser.ParseLine(line)
		if err != nil {
			res.Invalid++
			logger.Warn("unparsable event line", "err", err, "raw", truncate(line, 200))
			return
		}
		if fields == nil {
			res.Records--
			return
		}
		res.add(fields, norm, logger)
	})
}
