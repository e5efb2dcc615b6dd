package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lyanjo/fila-service/internal/observability"
)

// Pinger checks whether the ledger answers.
type Pinger func(ctx context.Context) error

// ConnectivityMonitor tracks whether the ledger is reachable and notifies
// listeners on every transition. It starts offline until the first check.
type ConnectivityMonitor struct {
	ping    Pinger
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics

	online    atomic.Bool
	mu        sync.Mutex
	listeners []func(ctx context.Context, online bool)
}

// NewConnectivityMonitor builds a monitor.
func NewConnectivityMonitor(ping Pinger, timeout time.Duration, logger *zap.Logger, metrics *observability.Metrics) *ConnectivityMonitor {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectivityMonitor{ping: ping, timeout: timeout, logger: logger, metrics: metrics}
}

// Online reports the last observed state.
func (m *ConnectivityMonitor) Online() bool {
	return m.online.Load()
}

// OnChange registers fn for state transitions.
func (m *ConnectivityMonitor) OnChange(fn func(ctx context.Context, online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// Check pings once and returns the resulting state.
func (m *ConnectivityMonitor) Check(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.ping(pingCtx)
	cancel()
	online := err == nil
	if m.online.Swap(online) == online {
		return online
	}
	if online {
		m.logger.Info("ledger reachable")
	} else {
		m.logger.Warn("ledger unreachable", zap.Error(err))
	}
	m.metrics.RecordConnectivity(online)

	m.mu.Lock()
	listeners := append([]func(context.Context, bool){}, m.listeners...)
	m.mu.Unlock()
	for _, fn := range listeners {
		fn(ctx, online)
	}
	return online
}
