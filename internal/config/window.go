package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidWindow is wrapped by every ParseWindow failure.
var ErrInvalidWindow = errors.New("invalid window")

// windowUnits is checked in order; "ms" must precede "m" and "s".
var windowUnits = []struct {
	suffix string
	unit   time.Duration
}{
	{"ms", time.Millisecond},
	{"s", time.Second},
	{"m", time.Minute},
	{"h", time.Hour},
	{"d", 24 * time.Hour},
}

// ParseWindow parses an integer amount followed by one of the suffixes
// ms, s, m, h or d ("5m", "30s", "1h", "2d").
func ParseWindow(s string) (time.Duration, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, u := range windowUnits {
		if !strings.HasSuffix(v, u.suffix) {
			continue
		}
		amount := strings.TrimSpace(strings.TrimSuffix(v, u.suffix))
		n, err := strconv.ParseInt(amount, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q: bad amount", ErrInvalidWindow, s)
		}
		if n < 0 {
			return 0, fmt.Errorf("%w: %q: negative duration", ErrInvalidWindow, s)
		}
		if n > math.MaxInt64/int64(u.unit) {
			return 0, fmt.Errorf("%w: %q: window too large", ErrInvalidWindow, s)
		}
		return time.Duration(n) * u.unit, nil
	}
	return 0, fmt.Errorf("%w: unsupported window format: %q", ErrInvalidWindow, s)
}

// FormatWindow renders d with the largest suffix that divides it evenly.
func FormatWindow(d time.Duration) string {
	for i := len(windowUnits) - 1; i >= 0; i-- {
		u := windowUnits[i]
		if d != 0 && d%u.unit == 0 {
			return strconv.FormatInt(int64(d/u.unit), 10) + u.suffix
		}
	}
	return strconv.FormatInt(d.Milliseconds(), 10) + "ms"
}
