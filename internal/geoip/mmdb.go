package geoip

import (
	"net"

	"github.com/oschwald/geoip2-golang"
)

// MMDB adapts a MaxMind GeoLite2-City database to the Database interface
// expected by CachedResolver. geoip2-golang is listed only in the
// manifests under other_examples/ (grimm-is-flywall, sakin-go,
// aicli-web) rather than exercised by any pack repo's own code, so this
// wrapper follows the library's own documented usage rather than a
// pack-grounded file.
type MMDB struct {
	reader *geoip2.Reader
}

// OpenMMDB opens a GeoLite2-City .mmdb file at path.
func OpenMMDB(path string) (*MMDB, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &MMDB{reader: reader}, nil
}

// Close releases the underlying mmap'd database file.
func (m *MMDB) Close() error {
	return m.reader.Close()
}

// City implements Database.
func (m *MMDB) City(ip net.IP) (country, city string, lat, lon float64, ok bool) {
	rec, err := m.reader.City(ip)
	if err != nil || rec == nil {
		return "", "", 0, 0, false
	}
	country = rec.Country.IsoCode
	if name, found := rec.City.Names["en"]; found {
		city = name
	}
	lat = rec.Location.Latitude
	lon = rec.Location.Longitude
	if country == "" && city == "" && lat == 0 && lon == 0 {
		return "", "", 0, 0, false
	}
	return country, city, lat, lon, true
}
