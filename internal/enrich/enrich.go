package enrich

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"authwatch/internal/config"
	"authwatch/internal/engine"
)

// Set holds the resolvers built from configuration and the resources behind
// them.
type Set struct {
	countries engine.CountryResolver
	asns      engine.ASNResolver
	closers   []io.Closer
}

// countryChain asks each resolver in turn; the first answer wins.
type countryChain []engine.CountryResolver

func (c countryChain) Country(ip string) (string, bool) {
	for _, r := range c {
		if code, ok := r.Country(ip); ok {
			return code, true
		}
	}
	return "", false
}

type asnChain []engine.ASNResolver

func (c asnChain) ASN(ip string) (uint32, bool) {
	for _, r := range c {
		if asn, ok := r.ASN(ip); ok {
			return asn, true
		}
	}
	return 0, false
}

// Open builds resolvers in priority order: static entries, then MaxMind
// databases, then the prefix table. Lookups are cached when CacheSize > 0.
func Open(cfg config.EnrichmentConfig, observer CacheObserver, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Set{}
	var countries countryChain
	var asns asnChain

	if len(cfg.Static) > 0 {
		static, err := NewStatic(cfg.Static)
		if err != nil {
			return nil, err
		}
		if static.HasCountries() {
			countries = append(countries, static)
		}
		if static.HasASNs() {
			asns = append(asns, static)
		}
	}
	if cfg.GeoIPMMDB != "" {
		db, err := OpenMMDB(cfg.GeoIPMMDB)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("geoip mmdb: %w", err)
		}
		s.closers = append(s.closers, db)
		countries = append(countries, db)
		logger.Info("geoip database loaded", "path", cfg.GeoIPMMDB, "type", db.DatabaseType())
	}
	if cfg.ASNMMDB != "" {
		db, err := OpenMMDB(cfg.ASNMMDB)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("asn mmdb: %w", err)
		}
		s.closers = append(s.closers, db)
		asns = append(asns, db)
		logger.Info("asn database loaded", "path", cfg.ASNMMDB, "type", db.DatabaseType())
	}
	if cfg.ASNTable != "" {
		table, err := OpenPrefixTable(cfg.ASNTable)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("asn table: %w", err)
		}
		asns = append(asns, table)
		logger.Info("asn prefix table loaded", "path", cfg.ASNTable, "prefixes", table.Len())
	}

	if len(countries) > 0 {
		s.countries = countries
		if cfg.CacheSize > 0 {
			cached, err := NewCachedCountry(countries, cfg.CacheSize, observer)
			if err != nil {
				_ = s.Close()
				return nil, err
			}
			s.countries = cached
		}
	}
	if len(asns) > 0 {
		s.asns = asns
		if cfg.CacheSize > 0 {
			cached, err := NewCachedASN(asns, cfg.CacheSize, observer)
			if err != nil {
				_ = s.Close()
				return nil, err
			}
			s.asns = cached
		}
	}
	return s, nil
}

// Countries returns nil when no country source is configured.
func (s *Set) Countries() engine.CountryResolver {
	if s == nil {
		return nil
	}
	return s.countries
}

// ASNs returns nil when no ASN source is configured.
func (s *Set) ASNs() engine.ASNResolver {
	if s == nil {
		return nil
	}
	return s.asns
}

func (s *Set) Resolvers() engine.Resolvers {
	return engine.Resolvers{Countries: s.Countries(), ASNs: s.ASNs()}
}

func (s *Set) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}
