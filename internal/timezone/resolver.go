// Package timezone maps zone identifiers to concrete *time.Location values.
// IANA identifiers resolve directly; legacy Windows zone names are mapped to
// their IANA equivalents; anything unresolvable falls back to UTC with a
// logged warning so a misconfigured instance keeps monitoring.
package timezone

import (
	"log/slog"
	"sync"
	"time"
)

// Resolver resolves zone identifiers with caching. The zero value is not
// usable; construct with NewResolver.
type Resolver struct {
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]*time.Location
}

// NewResolver returns a Resolver that logs fallback warnings to logger.
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{
		logger: logger,
		cache:  make(map[string]*time.Location),
	}
}

// Resolve maps id to a *time.Location:
//
//  1. direct lookup (IANA identifiers),
//  2. legacy Windows display name mapped to its IANA equivalent,
//  3. fallback to UTC with a warning.
//
// Resolve never fails; a monitoring instance with a bad zone id keeps
// running on UTC.
func (r *Resolver) Resolve(id string) *time.Location {
	if id == "" || id == "UTC" {
		return time.UTC
	}

	r.mu.Lock()
	if loc, ok := r.cache[id]; ok {
		r.mu.Unlock()
		return loc
	}
	r.mu.Unlock()

	loc, err := time.LoadLocation(id)
	if err != nil {
		if iana, ok := windowsToIANA[id]; ok {
			loc, err = time.LoadLocation(iana)
		}
	}
	if err != nil || loc == nil {
		r.logger.Warn("unresolvable time zone, falling back to UTC",
			slog.String("zone_id", id))
		loc = time.UTC
	}

	r.mu.Lock()
	r.cache[id] = loc
	r.mu.Unlock()
	return loc
}

// ToLocal converts a UTC instant to wall-clock time in loc.
func ToLocal(utc time.Time, loc *time.Location) time.Time {
	return utc.In(loc)
}

// ToUTC interprets wall as unspecified-kind wall-clock time in loc and
// returns the corresponding UTC instant.
func ToUTC(wall time.Time, loc *time.Location) time.Time {
	return time.Date(wall.Year(), wall.Month(), wall.Day(),
		wall.Hour(), wall.Minute(), wall.Second(), wall.Nanosecond(), loc).UTC()
}
