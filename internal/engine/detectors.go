package engine

import (
	"strconv"
	"time"

	"authwatch/internal/model"
)

// CountryResolver maps an address to an ISO country code. Implementations
// report unknown addresses with ok == false and must be safe for concurrent
// use.
type CountryResolver interface {
	Country(ip string) (code string, ok bool)
}

// ASNResolver maps an address to its autonomous system number, with the same
// contract as CountryResolver.
type ASNResolver interface {
	ASN(ip string) (asn uint32, ok bool)
}

type CountryFunc func(ip string) (string, bool)

func (f CountryFunc) Country(ip string) (string, bool) { return f(ip) }

type ASNFunc func(ip string) (uint32, bool)

func (f ASNFunc) ASN(ip string) (uint32, bool) { return f(ip) }

func byIP(ev model.FailureEvent) string { return ev.IP }

func BruteForce(threshold int, policy EmitPolicy) Strategy {
	return Strategy{
		Kind:      model.KindBruteForce,
		GroupBy:   func(ev model.FailureEvent) (string, bool) { return ev.IP, true },
		Threshold: threshold,
		Policy:    policy,
	}
}

// CredentialSpray counts distinct source addresses per username.
func CredentialSpray(threshold int, policy EmitPolicy) Strategy {
	return Strategy{
		Kind:      model.KindCredentialSpray,
		GroupBy:   func(ev model.FailureEvent) (string, bool) { return ev.Username, true },
		Distinct:  byIP,
		Threshold: threshold,
		Policy:    policy,
	}
}

func ASNBurst(threshold int, policy EmitPolicy, asns ASNResolver) Strategy {
	return Strategy{
		Kind: model.KindASNBurst,
		GroupBy: func(ev model.FailureEvent) (string, bool) {
			asn, ok := asns.ASN(ev.IP)
			if !ok {
				return "", false
			}
			return strconv.FormatUint(uint64(asn), 10), true
		},
		Threshold: threshold,
		Policy:    policy,
	}
}

// CountryBlock flags failures from denied countries, or from any country
// outside a non-empty allow set.
type CountryBlock struct {
	Policy    *CountryPolicy
	Resolver  CountryResolver
	Windowed  bool
	Threshold int
	Emit      EmitPolicy
}

func (c CountryBlock) flaggedCountry(ev model.FailureEvent) (string, bool) {
	code, ok := c.Resolver.Country(ev.IP)
	if !ok || code == "" {
		return "", false
	}
	if !c.Policy.Flagged(code) {
		return "", false
	}
	return normalizeCountry(code), true
}

// Detect emits nothing unless an allow or deny set is configured. In batch
// mode every flagged event of a country is counted, whatever its timestamp.
func (c CountryBlock) Detect(events []model.FailureEvent, window time.Duration) []model.Finding {
	if !c.Policy.Active() || c.Resolver == nil {
		return nil
	}
	if c.Windowed {
		return Strategy{
			Kind:      model.KindCountryBlock,
			GroupBy:   c.flaggedCountry,
			Threshold: c.Threshold,
			Policy:    c.Emit,
		}.Detect(events, window)
	}
	groups := groupEvents(sortedCopy(events), c.flaggedCountry)
	out := make([]model.Finding, 0, len(groups))
	for _, g := range groups {
		out = append(out, newFinding(model.KindCountryBlock, g.key, len(g.events), window, g.events))
	}
	return out
}
