// Package geoip resolves a peer IP to a coarse geographic location. It is
// an injectable capability (spec §4.3/§9 Open Question: GeoIP resolution):
// the pipeline never requires it to be configured, and a session that
// cannot be resolved simply carries a nil GeoLocation.
//
// Grounded on original_source/services/analytics_worker/geoip_helper.py:
// private-IP short-circuit, "database not found disables lookup rather
// than erroring" behavior, and the field set returned per address. Backed
// in Go by an LRU cache (hashicorp/golang-lru/v2) in front of the database
// reader, since the Python original has no cache and honeypot traffic
// repeatedly hits the same small set of scanner IPs.
package geoip

import (
	"net"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/honeynet/telemetry-pipeline/internal/model"
)

// Resolver looks up the geographic location of a peer IP. Implementations
// must be safe for concurrent use.
type Resolver interface {
	Lookup(ip string) (*model.GeoLocation, bool)
}

// NoOp always reports no location. It is the default resolver when no
// GeoIP database is configured (spec §9).
type NoOp struct{}

func (NoOp) Lookup(string) (*model.GeoLocation, bool) { return nil, false }

// Database is an mmdb-style lookup source. Concrete readers (e.g. a
// MaxMind GeoLite2 reader) implement this without this package needing to
// import the reader library directly.
type Database interface {
	City(ip net.IP) (country, city string, lat, lon float64, ok bool)
}

// CachedResolver wraps a Database with an LRU cache, so repeated lookups
// of the same scanner/bot IP within a process lifetime don't re-hit the
// underlying reader (spec §5: cache capacity >= 10,000 entries).
type CachedResolver struct {
	db    Database
	cache *lru.Cache[string, *model.GeoLocation]
}

// DefaultCacheSize is the minimum LRU capacity required by spec §5.
const DefaultCacheSize = 10000

// NewCachedResolver builds a CachedResolver over db with capacity entries.
// capacity is clamped up to DefaultCacheSize if smaller.
func NewCachedResolver(db Database, capacity int) (*CachedResolver, error) {
	if capacity < DefaultCacheSize {
		capacity = DefaultCacheSize
	}
	c, err := lru.New[string, *model.GeoLocation](capacity)
	if err != nil {
		return nil, err
	}
	return &CachedResolver{db: db, cache: c}, nil
}

// Lookup returns the cached or freshly-resolved location for ip. Private,
// loopback, and unparsable addresses are never looked up (spec: mirrors
// geoip_helper.py's is_private_ip short-circuit) and never cached.
func (r *CachedResolver) Lookup(ip string) (*model.GeoLocation, bool) {
	if ip == "" || ip == "0.0.0.0" {
		return nil, false
	}
	parsed := net.ParseIP(ip)
	if parsed == nil || isPrivate(parsed) {
		return nil, false
	}

	if loc, ok := r.cache.Get(ip); ok {
		return loc, loc != nil
	}

	country, city, lat, lon, ok := r.db.City(parsed)
	if !ok {
		r.cache.Add(ip, nil)
		return nil, false
	}
	loc := &model.GeoLocation{Country: country, City: city, Latitude: lat, Longitude: lon}
	r.cache.Add(ip, loc)
	return loc, true
}

// isPrivate reports whether ip is a private, loopback, or link-local
// address, per geoip_helper.py's private-range table.
func isPrivate(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
		return true
	}
	s := ip.String()
	return strings.HasPrefix(s, "fe80:") || s == "::1"
}
