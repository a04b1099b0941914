// Package metrics defines the typed counters and gauges Sentinel components
// emit, and the Sink they emit them through.
package metrics

import (
	"sort"
	"sync"
)

// Counter names a monotonically increasing count.
type Counter string

// Gauge names a point-in-time value.
type Gauge string

const (
	SubmissionsAccepted  Counter = "submissions_accepted"
	SubmissionsRejected  Counter = "submissions_rejected"
	AnalysesCompleted    Counter = "analyses_completed"
	AnalysesFailed       Counter = "analyses_failed"
	ProviderTimeouts     Counter = "provider_timeouts"
	ProviderFailures     Counter = "provider_failures"
	SubmissionsFlagged   Counter = "submissions_flagged"
	ModerationEnrolled   Counter = "moderation_enrolled"
	ModerationResolved   Counter = "moderation_resolved"
	AccountsFlagged      Counter = "accounts_flagged"
	NotificationsSent    Counter = "notifications_sent"
	NotificationsRetried Counter = "notifications_retried"
	NotificationsFailed  Counter = "notifications_failed"
)

const (
	ModerationPending    Gauge = "moderation_pending"
	NotificationsBacklog Gauge = "notifications_backlog"
)

// Sink receives metric updates. Implementations must be safe for concurrent use.
type Sink interface {
	Inc(c Counter, delta int64)
	Set(g Gauge, value float64)
}

// Nop discards every update.
type Nop struct{}

func (Nop) Inc(Counter, int64) {}
func (Nop) Set(Gauge, float64) {}

// OrNop returns sink, or Nop when sink is nil.
func OrNop(sink Sink) Sink {
	if sink == nil {
		return Nop{}
	}
	return sink
}

// Memory keeps metric values in process for the status API and tests.
type Memory struct {
	mu       sync.Mutex
	counters map[Counter]int64
	gauges   map[Gauge]float64
}

// NewMemory returns an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{counters: map[Counter]int64{}, gauges: map[Gauge]float64{}}
}

func (m *Memory) Inc(c Counter, delta int64) {
	m.mu.Lock()
	m.counters[c] += delta
	m.mu.Unlock()
}

func (m *Memory) Set(g Gauge, value float64) {
	m.mu.Lock()
	m.gauges[g] = value
	m.mu.Unlock()
}

// Count returns the current value of a counter.
func (m *Memory) Count(c Counter) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[c]
}

// Value returns the current value of a gauge.
func (m *Memory) Value(g Gauge) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[g]
}

// Sample is one named metric value.
type Sample struct {
	Name  string  `json:"name"`
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

// Snapshot returns every recorded metric sorted by name.
func (m *Memory) Snapshot() []Sample {
	m.mu.Lock()
	samples := make([]Sample, 0, len(m.counters)+len(m.gauges))
	for name, value := range m.counters {
		samples = append(samples, Sample{Name: string(name), Type: "counter", Value: float64(value)})
	}
	for name, value := range m.gauges {
		samples = append(samples, Sample{Name: string(name), Type: "gauge", Value: value})
	}
	m.mu.Unlock()
	sort.Slice(samples, func(i, j int) bool { return samples[i].Name < samples[j].Name })
	return samples
}
