package enrich

import (
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"
)

// MMDB wraps a MaxMind database. Country works on Country and City
// editions, ASN on the ASN edition. The reader is safe for concurrent use.
type MMDB struct {
	path   string
	reader *geoip2.Reader
}

func OpenMMDB(path string) (*MMDB, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &MMDB{path: path, reader: reader}, nil
}

func (m *MMDB) Country(ip string) (string, bool) {
	addr := parseIP(ip)
	if addr == nil {
		return "", false
	}
	rec, err := m.reader.Country(addr)
	if err != nil || rec.Country.IsoCode == "" {
		return "", false
	}
	return strings.ToUpper(rec.Country.IsoCode), true
}

func (m *MMDB) ASN(ip string) (uint32, bool) {
	addr := parseIP(ip)
	if addr == nil {
		return 0, false
	}
	rec, err := m.reader.ASN(addr)
	if err != nil || rec.AutonomousSystemNumber == 0 {
		return 0, false
	}
	return uint32(rec.AutonomousSystemNumber), true
}

func (m *MMDB) DatabaseType() string {
	return m.reader.Metadata().DatabaseType
}

func (m *MMDB) Close() error {
	return m.reader.Close()
}

func parseIP(ip string) net.IP {
	return net.ParseIP(strings.TrimSpace(ip))
}
