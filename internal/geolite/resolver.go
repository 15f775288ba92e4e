// Package geolite resolves country codes for IPs from a local MaxMind
// database. The database is optional; a nil resolver resolves everything to
// the empty string so merges proceed without geo data.
package geolite

import (
	"fmt"
	"net"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/oschwald/geoip2-golang"
)

type Resolver struct {
	mu sync.Mutex
	db *geoip2.Reader
}

// Open loads the MaxMind country database at path.
func Open(path string) (*Resolver, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geolite: open database: %w", err)
	}
	return &Resolver{db: db}, nil
}

// OpenOptional returns nil (not an error) when no path is configured or the
// database cannot be read, logging the degradation.
func OpenOptional(path string) *Resolver {
	if path == "" {
		return nil
	}
	resolver, err := Open(path)
	if err != nil {
		log.Warn("GeoLite database unavailable, country backfill disabled", "path", path, "error", err)
		return nil
	}
	return resolver
}

// CountryCode returns the ISO country code for the IP, or "" when unknown.
func (r *Resolver) CountryCode(ip string) string {
	if r == nil || r.db == nil {
		return ""
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, err := r.db.Country(parsed)
	if err != nil || record == nil {
		return ""
	}
	return record.Country.IsoCode
}

func (r *Resolver) Close() {
	if r == nil || r.db == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = r.db.Close()
	r.db = nil
}
