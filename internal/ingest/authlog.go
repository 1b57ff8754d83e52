package ingest

import (
	"regexp"
	"strings"

	"authwatch/internal/normalize"
)

var (
	reSSHFailure = regexp.MustCompile(`\bsshd(?:\[\d+\])?:\s+Failed (?:password|publickey|keyboard-interactive/pam|none) for (?:invalid user )?(\S+) from ([0-9A-Fa-f:.]+)`)
	reISOPrefix  = regexp.MustCompile(`^\s*(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?)`)
	reSyslogTS   = regexp.MustCompile(`^\s*([A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})`)
)

// ParseAuthLine recognizes an sshd authentication failure in an auth.log or
// secure line. Both the classic syslog stamp and the RFC3339 stamp of
// high-precision rsyslog templates are accepted.
func ParseAuthLine(line string) (normalize.EventFields, bool) {
	m := reSSHFailure.FindStringSubmatch(line)
	if m == nil {
		return normalize.EventFields{}, false
	}
	ts := ""
	if tm := reISOPrefix.FindStringSubmatch(line); tm != nil {
		ts = tm[1]
	} else if tm := reSyslogTS.FindStringSubmatch(line); tm != nil {
		ts = tm[1]
	}
	return normalize.EventFields{
		Timestamp: ts,
		IP:        strings.TrimRight(m[2], "."),
		Username:  m[1],
		Origin:    "linux",
		Raw:       line,
	}, true
}
