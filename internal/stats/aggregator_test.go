package stats

import (
	"fmt"
	"sync"
	"testing"

	"example.com/backstage/contacts/internal/events"

	"github.com/stretchr/testify/assert"
)

func TestExtractCountry(t *testing.T) {
	tests := map[string]string{
		"Local Development":   CountryLocal,
		" local development":  CountryLocal,
		"Localville, Canada":  "Canada",
		"":                    CountryUnknown,
		"   ":                 CountryUnknown,
		"Paris, France":       "France",
		"Lyon, Rhône,France ": "France",
		"Somewhere,  ":        CountryUnknown,
		"  Germany ":          "Germany",
	}
	for in, want := range tests {
		assert.Equal(t, want, ExtractCountry(in), "location %q", in)
	}
}

func TestRecordSessionDedupsCountries(t *testing.T) {
	a := NewAggregator()

	a.RecordSession("s1", "Paris, France")
	a.RecordSession("s2", "Lyon, France")
	got := a.RecordSession("s3", "Berlin, Germany")

	assert.Equal(t, events.LiveStats{ActiveViewers: 3, Countries: 2, TotalViews: 3}, got)
}

func TestRecordSessionTwiceCountsOneViewer(t *testing.T) {
	a := NewAggregator()

	a.RecordSession("s1", "Paris, France")
	got := a.RecordSession("s1", "Paris, France")

	assert.Equal(t, int64(1), got.ActiveViewers)
	assert.Equal(t, int64(2), got.TotalViews)
}

func TestEndSession(t *testing.T) {
	a := NewAggregator()
	a.RecordSession("s1", "Paris, France")

	got, removed := a.EndSession("s1")
	assert.True(t, removed)
	assert.Equal(t, int64(0), got.ActiveViewers)
	assert.Equal(t, int64(1), got.Countries, "countries are never forgotten")

	got, removed = a.EndSession("s1")
	assert.False(t, removed)
	assert.Equal(t, int64(0), got.ActiveViewers, "a second end must not go negative")

	_, removed = a.EndSession("never-seen")
	assert.False(t, removed)
}

func TestConcurrentSessions(t *testing.T) {
	a := NewAggregator()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		id := fmt.Sprintf("s%d", i)
		country := fmt.Sprintf("City, C%d", i%5)
		go func() {
			defer wg.Done()
			a.RecordSession(id, country)
		}()
		go func() {
			defer wg.Done()
			a.RecordSession(id, country)
		}()
	}
	wg.Wait()

	snap := a.Snapshot()
	assert.Equal(t, int64(100), snap.ActiveViewers)
	assert.Equal(t, int64(5), snap.Countries)
	assert.Equal(t, int64(200), snap.TotalViews)

	for i := 0; i < 100; i++ {
		wg.Add(2)
		id := fmt.Sprintf("s%d", i)
		go func() {
			defer wg.Done()
			a.EndSession(id)
		}()
		go func() {
			defer wg.Done()
			a.EndSession(id)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(0), a.Snapshot().ActiveViewers)
}

func TestReset(t *testing.T) {
	a := NewAggregator()
	a.RecordSession("s1", "Paris, France")
	a.Reset()

	assert.Equal(t, events.LiveStats{}, a.Snapshot())
	got := a.RecordSession("s1", "Paris, France")
	assert.Equal(t, events.LiveStats{ActiveViewers: 1, Countries: 1, TotalViews: 1}, got)
}
