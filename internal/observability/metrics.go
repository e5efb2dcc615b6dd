package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	syncCount    map[string]int64
	lastDrain    time.Time
	lastResync   time.Time
}

// MetricsSnapshot is a copy of the counters for reporting.
type MetricsSnapshot struct {
	Requests   map[string]int64 `json:"requests"`
	Errors     map[string]int64 `json:"errors"`
	Sync       map[string]int64 `json:"sync"`
	LastDrain  *time.Time       `json:"last_drain,omitempty"`
	LastResync *time.Time       `json:"last_resync,omitempty"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		syncCount:    make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordDrain adds the outcome of one journal drain pass.
func (m *Metrics) RecordDrain(delivered, merged, dropped, kept int, at time.Time) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncCount["drain.passes"]++
	m.syncCount["drain.delivered"] += int64(delivered)
	m.syncCount["drain.merged"] += int64(merged)
	m.syncCount["drain.dropped"] += int64(dropped)
	m.syncCount["drain.kept"] += int64(kept)
	m.lastDrain = at
}

// RecordResync counts one reconciliation pass triggered by reason.
func (m *Metrics) RecordResync(reason string, at time.Time) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncCount["resync."+reason]++
	m.lastResync = at
}

// RecordConnectivity counts online/offline transitions.
func (m *Metrics) RecordConnectivity(online bool) {
	if m == nil {
		return
	}
	key := "connectivity.offline"
	if online {
		key = "connectivity.online"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncCount[key]++
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := MetricsSnapshot{
		Requests: copyCounts(m.requestCount),
		Errors:   copyCounts(m.errorCount),
		Sync:     copyCounts(m.syncCount),
	}
	if !m.lastDrain.IsZero() {
		at := m.lastDrain
		out.LastDrain = &at
	}
	if !m.lastResync.IsZero() {
		at := m.lastResync
		out.LastResync = &at
	}
	return out
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
