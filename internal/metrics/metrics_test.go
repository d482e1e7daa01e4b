package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCountersAreConcurrencySafe(t *testing.T) {
	m := NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter(ContactsSubmitted)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), m.Counter(ContactsSubmitted))
	assert.Equal(t, int64(0), m.Counter("unknown"))
}

func TestTimerTracksMinMax(t *testing.T) {
	m := NewMetrics()
	m.RecordTimer(PublishLatency, 20*time.Millisecond)
	m.RecordTimer(PublishLatency, 5*time.Millisecond)
	m.RecordTimer(PublishLatency, 50*time.Millisecond)

	got := m.GetTimers()[PublishLatency]
	assert.Equal(t, int64(3), got.Count)
	assert.Equal(t, int64(5), got.MinTimeMs)
	assert.Equal(t, int64(50), got.MaxTimeMs)
	assert.InDelta(t, 25.0, got.AverageTimeMs, 0.01)
}

func TestErrorRate(t *testing.T) {
	m := NewMetrics()
	m.RecordResult(HandleErrors, nil)
	m.RecordResult(HandleErrors, nil)
	m.RecordResult(HandleErrors, nil)
	m.RecordResult(HandleErrors, errors.New("boom"))

	got := m.GetErrorRates()[HandleErrors]
	assert.Equal(t, int64(4), got.Total)
	assert.Equal(t, int64(1), got.Errors)
	assert.InDelta(t, 25.0, got.ErrorRate, 0.01)
}

func TestHealthy(t *testing.T) {
	m := NewMetrics()
	assert.True(t, m.Healthy())

	m.SetHealth("database", true)
	m.SetHealth("redis", false)
	assert.False(t, m.Healthy())

	m.SetHealth("redis", true)
	assert.True(t, m.Healthy())
	assert.Equal(t, map[string]bool{"database": true, "redis": true}, m.GetHealthChecks())
}
