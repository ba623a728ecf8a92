package middleware

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// In-process counters for the dispatch pipeline. Exposed as a snapshot on the
// health endpoint.
// ══════════════════════════════════════════════════════════════════════════════

// Metrics collects dispatch counters and per-handler timings.
type Metrics struct {
	startedAt time.Time

	updatesDispatched atomic.Int64
	updatesUnhandled  atomic.Int64
	errorsDispatched  atomic.Int64
	fetchFailures     atomic.Int64

	// Per-handler metrics
	handlers sync.Map // map[string]*HandlerMetrics
}

// HandlerMetrics holds metrics for a single handler.
type HandlerMetrics struct {
	Name string

	Invocations atomic.Int64
	Failures    atomic.Int64
	Panics      atomic.Int64

	// Timing metrics (in nanoseconds).
	TotalDuration atomic.Int64
	MaxDuration   atomic.Int64

	// Last invocation time.
	LastInvoked atomic.Value // time.Time
}

// NewMetrics creates an empty metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{startedAt: time.Now()}
}

// ObserveUpdate records one update pass and whether any handler consumed it.
func (m *Metrics) ObserveUpdate(consumed bool) {
	m.updatesDispatched.Add(1)
	if !consumed {
		m.updatesUnhandled.Add(1)
	}
}

// ObserveError records one error envelope pass.
func (m *Metrics) ObserveError() {
	m.errorsDispatched.Add(1)
}

// ObserveFetchFailure records a failed fetch by the poller.
func (m *Metrics) ObserveFetchFailure() {
	m.fetchFailures.Add(1)
}

// ObserveInvocation records one handler invocation.
func (m *Metrics) ObserveInvocation(handler string, d time.Duration, err error, panicked bool) {
	hm := m.handlerMetrics(handler)

	hm.Invocations.Add(1)
	if err != nil {
		hm.Failures.Add(1)
	}
	if panicked {
		hm.Panics.Add(1)
	}

	nanos := d.Nanoseconds()
	hm.TotalDuration.Add(nanos)
	for {
		current := hm.MaxDuration.Load()
		if current >= nanos {
			break
		}
		if hm.MaxDuration.CompareAndSwap(current, nanos) {
			break
		}
	}

	hm.LastInvoked.Store(time.Now())
}

// handlerMetrics returns metrics for a handler, creating if needed.
func (m *Metrics) handlerMetrics(name string) *HandlerMetrics {
	if val, ok := m.handlers.Load(name); ok {
		return val.(*HandlerMetrics)
	}
	actual, _ := m.handlers.LoadOrStore(name, &HandlerMetrics{Name: name})
	return actual.(*HandlerMetrics)
}

// ══════════════════════════════════════════════════════════════════════════════
// METRICS SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Timestamp         time.Time         `json:"timestamp"`
	Uptime            string            `json:"uptime"`
	UpdatesDispatched int64             `json:"updates_dispatched"`
	UpdatesUnhandled  int64             `json:"updates_unhandled"`
	ErrorsDispatched  int64             `json:"errors_dispatched"`
	FetchFailures     int64             `json:"fetch_failures"`
	Handlers          []HandlerSnapshot `json:"handlers"`
}

// HandlerSnapshot represents metrics for a single handler.
type HandlerSnapshot struct {
	Name        string        `json:"name"`
	Invocations int64         `json:"invocations"`
	Failures    int64         `json:"failures"`
	Panics      int64         `json:"panics"`
	AvgDuration time.Duration `json:"avg_duration_ns"`
	MaxDuration time.Duration `json:"max_duration_ns"`
	LastInvoked time.Time     `json:"last_invoked"`
}

// Snapshot returns the current metrics. Handlers are sorted by name.
func (m *Metrics) Snapshot() Snapshot {
	now := time.Now()
	snap := Snapshot{
		Timestamp:         now,
		Uptime:            now.Sub(m.startedAt).Round(time.Second).String(),
		UpdatesDispatched: m.updatesDispatched.Load(),
		UpdatesUnhandled:  m.updatesUnhandled.Load(),
		ErrorsDispatched:  m.errorsDispatched.Load(),
		FetchFailures:     m.fetchFailures.Load(),
	}

	m.handlers.Range(func(_, value any) bool {
		hm := value.(*HandlerMetrics)
		hs := HandlerSnapshot{
			Name:        hm.Name,
			Invocations: hm.Invocations.Load(),
			Failures:    hm.Failures.Load(),
			Panics:      hm.Panics.Load(),
			MaxDuration: time.Duration(hm.MaxDuration.Load()),
		}
		if hs.Invocations > 0 {
			hs.AvgDuration = time.Duration(hm.TotalDuration.Load() / hs.Invocations)
		}
		if t, ok := hm.LastInvoked.Load().(time.Time); ok {
			hs.LastInvoked = t
		}
		snap.Handlers = append(snap.Handlers, hs)
		return true
	})

	sort.Slice(snap.Handlers, func(i, j int) bool {
		return snap.Handlers[i].Name < snap.Handlers[j].Name
	})

	return snap
}
