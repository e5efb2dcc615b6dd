package observability

import (
	"testing"
	"time"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.RecordRequest("/queues/:dept", "GET", 200, time.Millisecond)
	m.RecordRequest("/queues/:dept", "GET", 200, time.Millisecond)
	m.RecordError("/tickets", "POST", "ONLINE_REQUIRED")
	at := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	m.RecordDrain(2, 1, 0, 3, at)
	m.RecordResync("reconnect", at)
	m.RecordConnectivity(false)

	snap := m.Snapshot()
	if got := snap.Requests["/queues/:dept|GET|200"]; got != 2 {
		t.Fatalf("requests=%d, want 2", got)
	}
	if got := snap.Errors["/tickets|POST|ONLINE_REQUIRED"]; got != 1 {
		t.Fatalf("errors=%d, want 1", got)
	}
	if snap.Sync["drain.delivered"] != 2 || snap.Sync["drain.kept"] != 3 || snap.Sync["resync.reconnect"] != 1 {
		t.Fatalf("sync=%v", snap.Sync)
	}
	if snap.LastDrain == nil || !snap.LastDrain.Equal(at) {
		t.Fatalf("LastDrain=%v", snap.LastDrain)
	}

	snap.Sync["drain.kept"] = 99
	if m.Snapshot().Sync["drain.kept"] != 3 {
		t.Fatal("snapshot shares maps with the live counters")
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordRequest("/", "GET", 200, 0)
	m.RecordDrain(1, 0, 0, 0, time.Now())
	m.RecordConnectivity(true)
}
