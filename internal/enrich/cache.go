package enrich

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"authwatch/internal/engine"
)

// CacheObserver is told about every cache lookup.
type CacheObserver interface {
	CacheResult(resolver string, hit bool)
}

type countryEntry struct {
	code string
	ok   bool
}

type asnEntry struct {
	asn uint32
	ok  bool
}

// CachedCountry memoizes a CountryResolver, misses included. A batch
// usually repeats a small set of addresses many times.
type CachedCountry struct {
	inner    engine.CountryResolver
	cache    *lru.Cache[string, countryEntry]
	observer CacheObserver
}

func NewCachedCountry(inner engine.CountryResolver, size int, observer CacheObserver) (*CachedCountry, error) {
	cache, err := lru.New[string, countryEntry](size)
	if err != nil {
		return nil, err
	}
	return &CachedCountry{inner: inner, cache: cache, observer: observer}, nil
}

func (c *CachedCountry) Country(ip string) (string, bool) {
	if e, ok := c.cache.Get(ip); ok {
		c.observe(true)
		return e.code, e.ok
	}
	c.observe(false)
	code, ok := c.inner.Country(ip)
	c.cache.Add(ip, countryEntry{code: code, ok: ok})
	return code, ok
}

func (c *CachedCountry) observe(hit bool) {
	if c.observer != nil {
		c.observer.CacheResult("country", hit)
	}
}

func (c *CachedCountry) Len() int { return c.cache.Len() }

type CachedASN struct {
	inner    engine.ASNResolver
	cache    *lru.Cache[string, asnEntry]
	observer CacheObserver
}

func NewCachedASN(inner engine.ASNResolver, size int, observer CacheObserver) (*CachedASN, error) {
	cache, err := lru.New[string, asnEntry](size)
	if err != nil {
		return nil, err
	}
	return &CachedASN{inner: inner, cache: cache, observer: observer}, nil
}

func (c *CachedASN) ASN(ip string) (uint32, bool) {
	if e, ok := c.cache.Get(ip); ok {
		c.observe(true)
		return e.asn, e.ok
	}
	c.observe(false)
	asn, ok := c.inner.ASN(ip)
	c.cache.Add(ip, asnEntry{asn: asn, ok: ok})
	return asn, ok
}

func (c *CachedASN) observe(hit bool) {
	if c.observer != nil {
		c.observer.CacheResult("asn", hit)
	}
}

func (c *CachedASN) Len() int { return c.cache.Len() }
