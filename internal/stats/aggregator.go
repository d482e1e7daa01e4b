// Package stats keeps the live, in-memory view of visitor activity.
package stats

import (
	"strings"
	"sync"
	"sync/atomic"

	"example.com/backstage/contacts/internal/events"
	"example.com/backstage/contacts/internal/geo"
)

// Country buckets for locations that do not name a country
const (
	CountryLocal   = "Local"
	CountryUnknown = "Unknown"
)

// Aggregator counts active sessions, distinct countries and total views.
// All methods are safe for concurrent use; counters only move when the
// underlying set actually changed.
type Aggregator struct {
	activeViewers atomic.Int64
	countries     atomic.Int64
	totalViews    atomic.Int64

	sessions      sync.Map // sessionID -> country
	seenCountries sync.Map // country -> struct{}
}

// NewAggregator returns an aggregator with every counter at zero
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// RecordSession registers a session start seen from location
func (a *Aggregator) RecordSession(sessionID, location string) events.LiveStats {
	country := ExtractCountry(location)
	if _, loaded := a.seenCountries.LoadOrStore(country, struct{}{}); !loaded {
		a.countries.Add(1)
	}
	if _, loaded := a.sessions.LoadOrStore(sessionID, country); !loaded {
		a.activeViewers.Add(1)
	}
	a.totalViews.Add(1)
	return a.Snapshot()
}

// EndSession removes a session. The bool reports whether it was active.
func (a *Aggregator) EndSession(sessionID string) (events.LiveStats, bool) {
	if _, removed := a.sessions.LoadAndDelete(sessionID); !removed {
		return a.Snapshot(), false
	}
	a.activeViewers.Add(-1)
	return a.Snapshot(), true
}

// Snapshot reads the three counters
func (a *Aggregator) Snapshot() events.LiveStats {
	return events.LiveStats{
		ActiveViewers: a.activeViewers.Load(),
		Countries:     a.countries.Load(),
		TotalViews:    a.totalViews.Load(),
	}
}

// Reset clears all state
func (a *Aggregator) Reset() {
	a.sessions.Range(func(k, _ any) bool {
		a.sessions.Delete(k)
		return true
	})
	a.seenCountries.Range(func(k, _ any) bool {
		a.seenCountries.Delete(k)
		return true
	})
	a.activeViewers.Store(0)
	a.countries.Store(0)
	a.totalViews.Store(0)
}

// ExtractCountry reduces a free-form location to a country bucket
func ExtractCountry(location string) string {
	trimmed := strings.TrimSpace(location)
	if strings.EqualFold(trimmed, geo.LocalDevelopment) {
		return CountryLocal
	}
	if trimmed == "" {
		return CountryUnknown
	}
	if i := strings.LastIndex(trimmed, ","); i >= 0 {
		country := strings.TrimSpace(trimmed[i+1:])
		if country == "" {
			return CountryUnknown
		}
		return country
	}
	return trimmed
}
