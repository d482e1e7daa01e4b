package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Metric names recorded by the pipeline
const (
	ContactsSubmitted   = "contacts_submitted"
	ContactsProcessed   = "contacts_processed"
	ContactsDuplicate   = "contacts_duplicate_deliveries"
	ContactsRepublished = "contacts_republished"
	UrgentNotifications = "notifications_urgent"
	StandardNotices     = "notifications_standard"
	VisitorSessions     = "visitor_sessions"
	PageViews           = "page_views"
	StatsBroadcasts     = "stats_broadcasts"

	ActiveViewers  = "active_viewers"
	PublishBacklog = "publish_backlog"

	PublishLatency = "publish_latency"
	HandleLatency  = "handle_latency"
	HTTPLatency    = "http_latency"

	PublishErrors = "publish"
	HandleErrors  = "handle"
	HTTPErrors    = "http"

	SettledComplete   = "settled_complete"
	SettledAbandon    = "settled_abandon"
	SettledDeadLetter = "settled_dead_letter"
)

// TimerMetric captures timing information
type TimerMetric struct {
	Count         int64   `json:"count"`
	TotalTimeMs   int64   `json:"total_time_ms"`
	AverageTimeMs float64 `json:"average_time_ms"`
	MinTimeMs     int64   `json:"min_time_ms"`
	MaxTimeMs     int64   `json:"max_time_ms"`
}

// ErrorRateMetric captures error rates
type ErrorRateMetric struct {
	Total     int64   `json:"total"`
	Errors    int64   `json:"errors"`
	ErrorRate float64 `json:"error_rate"`
}

type timer struct {
	count   atomic.Int64
	totalMs atomic.Int64
	minMs   atomic.Int64
	maxMs   atomic.Int64
}

type errorRate struct {
	total  atomic.Int64
	errors atomic.Int64
}

// Metrics is an in-process collector. Every series is created on first use
// and updated lock-free afterwards.
type Metrics struct {
	counters     sync.Map // string -> *atomic.Int64
	gauges       sync.Map // string -> *atomic.Int64
	timers       sync.Map // string -> *timer
	errorRates   sync.Map // string -> *errorRate
	healthChecks sync.Map // string -> *atomic.Bool
	startTime    time.Time
}

// NewMetrics creates a new metrics collector
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

var (
	defaultOnce sync.Once
	defaultM    *Metrics
)

// Default returns the process-wide collector
func Default() *Metrics {
	defaultOnce.Do(func() { defaultM = NewMetrics() })
	return defaultM
}

func int64Cell(m *sync.Map, name string) *atomic.Int64 {
	if v, ok := m.Load(name); ok {
		return v.(*atomic.Int64)
	}
	v, _ := m.LoadOrStore(name, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// IncrementCounter increments a counter by 1
func (m *Metrics) IncrementCounter(name string) {
	m.IncrementCounterBy(name, 1)
}

// IncrementCounterBy increments a counter by the specified value
func (m *Metrics) IncrementCounterBy(name string, value int64) {
	int64Cell(&m.counters, name).Add(value)
}

// SetGauge sets a gauge to a specific value
func (m *Metrics) SetGauge(name string, value int64) {
	int64Cell(&m.gauges, name).Store(value)
}

// RecordTimer records a timing measurement
func (m *Metrics) RecordTimer(name string, d time.Duration) {
	v, ok := m.timers.Load(name)
	if !ok {
		t := &timer{}
		t.minMs.Store(math.MaxInt64)
		v, _ = m.timers.LoadOrStore(name, t)
	}
	t := v.(*timer)
	ms := d.Milliseconds()

	t.count.Add(1)
	t.totalMs.Add(ms)
	for {
		cur := t.minMs.Load()
		if ms >= cur || t.minMs.CompareAndSwap(cur, ms) {
			break
		}
	}
	for {
		cur := t.maxMs.Load()
		if ms <= cur || t.maxMs.CompareAndSwap(cur, ms) {
			break
		}
	}
}

// RecordResult records one outcome for error rate tracking
func (m *Metrics) RecordResult(name string, err error) {
	v, _ := m.errorRates.LoadOrStore(name, &errorRate{})
	er := v.(*errorRate)
	er.total.Add(1)
	if err != nil {
		er.errors.Add(1)
	}
}

// SetHealth sets the health status of a component
func (m *Metrics) SetHealth(component string, healthy bool) {
	v, _ := m.healthChecks.LoadOrStore(component, new(atomic.Bool))
	v.(*atomic.Bool).Store(healthy)
}

// Counter returns the current value of a counter
func (m *Metrics) Counter(name string) int64 {
	if v, ok := m.counters.Load(name); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// GetCounters returns all counters
func (m *Metrics) GetCounters() map[string]int64 {
	return snapshotInt64(&m.counters)
}

// GetGauges returns all gauges
func (m *Metrics) GetGauges() map[string]int64 {
	return snapshotInt64(&m.gauges)
}

func snapshotInt64(src *sync.Map) map[string]int64 {
	out := make(map[string]int64)
	src.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return out
}

// GetTimers returns all timers
func (m *Metrics) GetTimers() map[string]TimerMetric {
	out := make(map[string]TimerMetric)
	m.timers.Range(func(k, v any) bool {
		t := v.(*timer)
		count := t.count.Load()
		total := t.totalMs.Load()

		var avg float64
		if count > 0 {
			avg = float64(total) / float64(count)
		}
		out[k.(string)] = TimerMetric{
			Count:         count,
			TotalTimeMs:   total,
			AverageTimeMs: avg,
			MinTimeMs:     t.minMs.Load(),
			MaxTimeMs:     t.maxMs.Load(),
		}
		return true
	})
	return out
}

// GetErrorRates returns all error rates as percentages
func (m *Metrics) GetErrorRates() map[string]ErrorRateMetric {
	out := make(map[string]ErrorRateMetric)
	m.errorRates.Range(func(k, v any) bool {
		er := v.(*errorRate)
		total := er.total.Load()
		errs := er.errors.Load()

		var rate float64
		if total > 0 {
			rate = float64(errs) / float64(total) * 100.0
		}
		out[k.(string)] = ErrorRateMetric{Total: total, Errors: errs, ErrorRate: rate}
		return true
	})
	return out
}

// GetHealthChecks returns all health checks
func (m *Metrics) GetHealthChecks() map[string]bool {
	out := make(map[string]bool)
	m.healthChecks.Range(func(k, v any) bool {
		out[k.(string)] = v.(*atomic.Bool).Load()
		return true
	})
	return out
}

// Healthy reports whether every registered component is healthy
func (m *Metrics) Healthy() bool {
	healthy := true
	m.healthChecks.Range(func(_, v any) bool {
		healthy = v.(*atomic.Bool).Load()
		return healthy
	})
	return healthy
}

// GetUptimeSeconds returns the service uptime in seconds
func (m *Metrics) GetUptimeSeconds() int64 {
	return int64(time.Since(m.startTime).Seconds())
}

// GetAllMetrics returns all metrics in a structured format
func (m *Metrics) GetAllMetrics() map[string]interface{} {
	return map[string]interface{}{
		"uptime_seconds": m.GetUptimeSeconds(),
		"counters":       m.GetCounters(),
		"gauges":         m.GetGauges(),
		"timers":         m.GetTimers(),
		"error_rates":    m.GetErrorRates(),
		"health_checks":  m.GetHealthChecks(),
	}
}
