package engine

import (
	"strings"

	"authwatch/internal/config"
)

// CountryPolicy holds the normalized allow and deny sets.
type CountryPolicy struct {
	Allow map[string]struct{}
	Deny  map[string]struct{}
}

func NewCountryPolicy(allow, deny []string) *CountryPolicy {
	return &CountryPolicy{
		Allow: buildCountrySet(allow),
		Deny:  buildCountrySet(deny),
	}
}

func buildCountryPolicy(cfg *config.Config) *CountryPolicy {
	cb := cfg.Detection.CountryBlock
	return NewCountryPolicy(cb.Allow, cb.Deny)
}

func buildCountrySet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		code := normalizeCountry(v)
		if code == "" {
			continue
		}
		set[code] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

func (p *CountryPolicy) Active() bool {
	return p != nil && (len(p.Allow) > 0 || len(p.Deny) > 0)
}

// Flagged reports whether a resolved country violates the policy. Both sets
// may be active together; a denied country is flagged even if allowed.
func (p *CountryPolicy) Flagged(code string) bool {
	if p == nil {
		return false
	}
	code = normalizeCountry(code)
	if code == "" {
		return false
	}
	if _, ok := p.Deny[code]; ok {
		return true
	}
	if len(p.Allow) > 0 {
		_, ok := p.Allow[code]
		return !ok
	}
	return false
}

func normalizeCountry(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
