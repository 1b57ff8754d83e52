package enrich

import (
	"fmt"
	"strings"

	"authwatch/internal/config"
)

// Static is an in-memory table of operator-pinned prefixes. It answers
// before any database, so it also serves as an override.
type Static struct {
	countries *prefixIndex[string]
	asns      *prefixIndex[uint32]
}

func NewStatic(entries []config.StaticEntry) (*Static, error) {
	s := &Static{
		countries: newPrefixIndex[string](),
		asns:      newPrefixIndex[uint32](),
	}
	for i, e := range entries {
		prefix, err := parsePrefix(e.Prefix)
		if err != nil {
			return nil, fmt.Errorf("static entry %d: %w", i, err)
		}
		if code := strings.ToUpper(strings.TrimSpace(e.Country)); code != "" {
			s.countries.insert(prefix, code)
		}
		if e.ASN != 0 {
			s.asns.insert(prefix, e.ASN)
		}
	}
	return s, nil
}

func (s *Static) Country(ip string) (string, bool) {
	return s.countries.lookup(ip)
}

func (s *Static) ASN(ip string) (uint32, bool) {
	return s.asns.lookup(ip)
}

func (s *Static) HasCountries() bool { return s.countries.len() > 0 }

func (s *Static) HasASNs() bool { return s.asns.len() > 0 }
