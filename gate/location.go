package gate

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

var (
	// ErrGeoIPNotConfigured is returned when no GeoIP database path is set.
	ErrGeoIPNotConfigured = errors.New("gate: GeoIP database not configured")

	// ErrInvalidIP is returned when an IP address cannot be parsed.
	ErrInvalidIP = errors.New("gate: invalid IP address")

	// ErrGeoIPLookupFailed is returned when the GeoIP lookup fails.
	ErrGeoIPLookupFailed = errors.New("gate: GeoIP lookup failed")
)

const earthRadiusKM = 6371.0

// DefaultNewLocationKM is the distance beyond which a login counts as coming from a new place.
const DefaultNewLocationKM = 500.0

// Location is where a login came from.
type Location struct {
	IP        string  `json:"ip"`
	City      string  `json:"city,omitempty"`
	Country   string  `json:"country,omitempty"`
	Latitude  float64 `json:"latitude,omitempty"`
	Longitude float64 `json:"longitude,omitempty"`
}

func (l Location) hasCoordinates() bool {
	return l.Latitude != 0 || l.Longitude != 0
}

// Locator resolves an IP address to a Location.
type Locator interface {
	Locate(ip string) Location
}

// GeoIPReader resolves locations from a MaxMind GeoLite2-City database.
type GeoIPReader struct {
	db *geoip2.Reader
}

// NewGeoIPReader opens the database at dbPath.
func NewGeoIPReader(dbPath string) (*GeoIPReader, error) {
	if dbPath == "" {
		return nil, ErrGeoIPNotConfigured
	}

	db, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("gate: failed to open GeoIP database: %w", err)
	}
	return &GeoIPReader{db: db}, nil
}

// Lookup returns the location of ip.
func (r *GeoIPReader) Lookup(ip string) (*Location, error) {
	if r == nil || r.db == nil {
		return nil, ErrGeoIPNotConfigured
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidIP, ip)
	}

	city, err := r.db.City(parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeoIPLookupFailed, err)
	}

	return &Location{
		IP:        ip,
		City:      englishName(city.City.Names),
		Country:   englishName(city.Country.Names),
		Latitude:  city.Location.Latitude,
		Longitude: city.Location.Longitude,
	}, nil
}

// Locate implements Locator. Private addresses and failed lookups yield a
// Location holding only the IP.
func (r *GeoIPReader) Locate(ip string) Location {
	if IsPrivateIP(ip) {
		return Location{IP: ip}
	}
	loc, err := r.Lookup(ip)
	if err != nil {
		return Location{IP: ip}
	}
	return *loc
}

// Close closes the database.
func (r *GeoIPReader) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// englishName prefers the English name and falls back to any available one.
func englishName(names map[string]string) string {
	if name, ok := names["en"]; ok {
		return name
	}
	for _, name := range names {
		return name
	}
	return ""
}

// HaversineDistance returns the great-circle distance in kilometers between two coordinates.
func HaversineDistance(lat1, lng1, lat2, lng2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)

	return earthRadiusKM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// IsNewLocation reports whether curr is more than thresholdKM from prev.
// Without coordinates on either side it compares city and country.
func IsNewLocation(prev, curr Location, thresholdKM float64) bool {
	if !prev.hasCoordinates() || !curr.hasCoordinates() {
		return prev.City != curr.City || prev.Country != curr.Country
	}
	return HaversineDistance(prev.Latitude, prev.Longitude, curr.Latitude, curr.Longitude) > thresholdKM
}

// LoginTracker remembers where each principal last logged in from and logs
// an alert when a login comes from somewhere new.
type LoginTracker struct {
	locator     Locator
	thresholdKM float64
	log         *slog.Logger

	mu   sync.Mutex
	last map[string]Location
}

// NewLoginTracker creates a tracker. A non-positive threshold uses DefaultNewLocationKM.
func NewLoginTracker(locator Locator, thresholdKM float64, logger *slog.Logger) *LoginTracker {
	if thresholdKM <= 0 {
		thresholdKM = DefaultNewLocationKM
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LoginTracker{
		locator:     locator,
		thresholdKM: thresholdKM,
		log:         logger,
		last:        make(map[string]Location),
	}
}

// Observe records a login by principal from c and reports whether it came
// from a new location. The first login of a principal is never new.
func (t *LoginTracker) Observe(principal string, c Client) (Location, bool) {
	loc := t.locator.Locate(c.IP)

	t.mu.Lock()
	prev, seen := t.last[principal]
	t.last[principal] = loc
	t.mu.Unlock()

	if !seen || !IsNewLocation(prev, loc, t.thresholdKM) {
		return loc, false
	}

	attrs := []any{
		"principal", principal,
		"ip", loc.IP,
		"city", loc.City,
		"country", loc.Country,
		"previous_city", prev.City,
		"previous_country", prev.Country,
		"browser", c.Browser,
		"os", c.OS,
	}
	if prev.hasCoordinates() && loc.hasCoordinates() {
		attrs = append(attrs, "distance_km", math.Round(HaversineDistance(prev.Latitude, prev.Longitude, loc.Latitude, loc.Longitude)))
	}
	t.log.Warn("login from new location", attrs...)
	return loc, true
}
