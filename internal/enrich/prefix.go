package enrich

import (
	"net/netip"
	"slices"
	"strings"
)

// prefixIndex answers longest-prefix-match queries. IPv4 and IPv6 prefixes
// of equal length share a bucket; netip.Prefix keeps them apart. The index is
// read-only once built, so concurrent lookups need no locking.
type prefixIndex[V any] struct {
	byLen   map[int]map[netip.Prefix]V
	lengths []int // descending
}

func newPrefixIndex[V any]() *prefixIndex[V] {
	return &prefixIndex[V]{byLen: make(map[int]map[netip.Prefix]V)}
}

func (x *prefixIndex[V]) insert(p netip.Prefix, v V) {
	p = p.Masked()
	bits := p.Bits()
	m, ok := x.byLen[bits]
	if !ok {
		m = make(map[netip.Prefix]V)
		x.byLen[bits] = m
		x.lengths = append(x.lengths, bits)
		slices.SortFunc(x.lengths, func(a, b int) int { return b - a })
	}
	m[p] = v
}

func (x *prefixIndex[V]) lookup(ip string) (V, bool) {
	var zero V
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return zero, false
	}
	addr = addr.Unmap()
	for _, bits := range x.lengths {
		if bits > addr.BitLen() {
			continue
		}
		p, err := addr.Prefix(bits)
		if err != nil {
			continue
		}
		if v, ok := x.byLen[bits][p]; ok {
			return v, true
		}
	}
	return zero, false
}

func (x *prefixIndex[V]) len() int {
	n := 0
	for _, m := range x.byLen {
		n += len(m)
	}
	return n
}

// parsePrefix accepts a CIDR or a bare address.
func parsePrefix(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
