package observability

import (
	"sync"
	"time"

	"adlift/internal/saga"
)

type EventSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

type SagaSnapshot struct {
	Started       int64            `json:"started"`
	Completed     int64            `json:"completed"`
	Failed        map[string]int64 `json:"failed,omitempty"`
	Compensations map[string]int64 `json:"compensations,omitempty"`
}

type Snapshot struct {
	UptimeSec       int64                    `json:"uptime_sec"`
	TotalEvents     int64                    `json:"total_events"`
	TotalErrors     int64                    `json:"total_errors"`
	InFlight        int64                    `json:"in_flight"`
	DeadLettered    int64                    `json:"dead_lettered"`
	RateLimitWaits  int64                    `json:"rate_limit_waits"`
	RateLimitWaitMs int64                    `json:"rate_limit_wait_ms"`
	Sagas           SagaSnapshot             `json:"sagas"`
	Lifecycle       *LifecycleSnapshot       `json:"lifecycle,omitempty"`
	Events          map[string]EventSnapshot `json:"events"`
}

type eventStats struct {
	count        int64
	errors       int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

type sagaStats struct {
	started       int64
	completed     int64
	failed        map[string]int64
	compensations map[string]int64
}

// Metrics tracks per-event handling latency plus saga lifecycle
// counters. All methods are nil-safe so callers can leave metrics
// unset.
type Metrics struct {
	mu             sync.Mutex
	start          time.Time
	events         map[string]*eventStats
	sagas          sagaStats
	deadLettered   int64
	rateLimitWaits int64
	rateLimitWait  time.Duration
	lifecycle      lifecycleStats
}

type CallSpan struct {
	metrics *Metrics
	event   string
	start   time.Time
}

type lifecycleStats struct {
	shutdownAt time.Time
	inflight   int64
}

type LifecycleSnapshot struct {
	ShutdownAt         time.Time `json:"shutdown_at"`
	InFlightAtShutdown int64     `json:"inflight_at_shutdown"`
}

func NewMetrics() *Metrics {
	return &Metrics{
		start:  time.Now(),
		events: make(map[string]*eventStats),
		sagas: sagaStats{
			failed:        make(map[string]int64),
			compensations: make(map[string]int64),
		},
	}
}

// Start opens a span for one routed event.
func (m *Metrics) Start(eventType string) *CallSpan {
	if m == nil {
		return &CallSpan{}
	}
	m.mu.Lock()
	stats := m.ensureEvent(eventType)
	stats.inFlight++
	m.mu.Unlock()
	return &CallSpan{
		metrics: m,
		event:   eventType,
		start:   time.Now(),
	}
}

func (s *CallSpan) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	dur := time.Since(s.start)
	s.metrics.finish(s.event, dur, err != nil)
}

// SagaStarted counts a new saga instance.
func (m *Metrics) SagaStarted() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.sagas.started++
	m.mu.Unlock()
}

// SagaCompleted counts a successfully completed saga.
func (m *Metrics) SagaCompleted() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.sagas.completed++
	m.mu.Unlock()
}

// SagaFailed counts a saga reaching the given failure terminal state.
func (m *Metrics) SagaFailed(terminal saga.State) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.sagas.failed[string(terminal)]++
	m.mu.Unlock()
}

// CompensationDispatched counts one compensating command by type.
func (m *Metrics) CompensationDispatched(command string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.sagas.compensations[command]++
	m.mu.Unlock()
}

// MarkDeadLettered counts a message moved to the dead-letter stream.
func (m *Metrics) MarkDeadLettered() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.deadLettered++
	m.mu.Unlock()
}

func (m *Metrics) AddRateLimitWait(d time.Duration) {
	if m == nil || d <= 0 {
		return
	}
	m.mu.Lock()
	m.rateLimitWaits++
	m.rateLimitWait += d
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		UptimeSec:       int64(now.Sub(m.start).Seconds()),
		Events:          make(map[string]EventSnapshot),
		DeadLettered:    m.deadLettered,
		RateLimitWaits:  m.rateLimitWaits,
		RateLimitWaitMs: int64(m.rateLimitWait / time.Millisecond),
		Sagas: SagaSnapshot{
			Started:   m.sagas.started,
			Completed: m.sagas.completed,
		},
	}

	if len(m.sagas.failed) > 0 {
		snap.Sagas.Failed = make(map[string]int64, len(m.sagas.failed))
		for state, n := range m.sagas.failed {
			snap.Sagas.Failed[state] = n
		}
	}
	if len(m.sagas.compensations) > 0 {
		snap.Sagas.Compensations = make(map[string]int64, len(m.sagas.compensations))
		for command, n := range m.sagas.compensations {
			snap.Sagas.Compensations[command] = n
		}
	}

	for event, stats := range m.events {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.count)
		}
		snap.Events[event] = EventSnapshot{
			Count:         stats.count,
			Errors:        stats.errors,
			InFlight:      stats.inFlight,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
		snap.TotalEvents += stats.count
		snap.TotalErrors += stats.errors
		snap.InFlight += stats.inFlight
	}

	if !m.lifecycle.shutdownAt.IsZero() {
		snap.Lifecycle = &LifecycleSnapshot{
			ShutdownAt:         m.lifecycle.shutdownAt,
			InFlightAtShutdown: m.lifecycle.inflight,
		}
	}

	return snap
}

func (m *Metrics) ensureEvent(eventType string) *eventStats {
	stats, ok := m.events[eventType]
	if !ok {
		stats = &eventStats{}
		m.events[eventType] = stats
	}
	return stats
}

func (m *Metrics) finish(eventType string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureEvent(eventType)
	stats.inFlight--
	stats.count++
	if failed {
		stats.errors++
	}
	stats.totalLatency += dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
	stats.lastLatency = dur
	m.mu.Unlock()
}

func (m *Metrics) MarkShutdown(inflight int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.lifecycle.shutdownAt = time.Now()
	m.lifecycle.inflight = inflight
	m.mu.Unlock()
}
