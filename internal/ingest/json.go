package ingest

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"authwatch/internal/normalize"
)

func ParseJSONBytes(data []byte) (*normalize.EventFields, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

// ParseJSONArray decodes a JSON array of event objects.
func ParseJSONArray(data []byte) ([]*normalize.EventFields, error) {
	var list []map[string]any
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	out := make([]*normalize.EventFields, 0, len(list))
	for _, obj := range list {
		out = append(out, ParseJSONMap(obj))
	}
	return out, nil
}

func ParseJSONMap(obj map[string]any) *normalize.EventFields {
	values := make(map[string]string, len(obj))
	for key, val := range obj {
		if val == nil {
			continue
		}
		values[strings.ToLower(key)] = jsonScalar(val)
	}
	fields := &normalize.EventFields{}
	fields.Timestamp = firstNonEmpty(values, timestampKeys...)
	fields.IP = firstNonEmpty(values, ipKeys...)
	fields.Username = firstNonEmpty(values, userKeys...)
	fields.Origin = firstNonEmpty(values, originKeys...)
	fields.Raw = firstNonEmpty(values, "raw", "message", "msg")
	return fields
}

// jsonScalar renders numbers without exponent so unix timestamps survive.
func jsonScalar(v any) string {
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(v)
}
