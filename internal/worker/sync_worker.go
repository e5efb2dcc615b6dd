package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lyanjo/fila-service/internal/observability"
	"github.com/lyanjo/fila-service/internal/reconcile"
	"github.com/lyanjo/fila-service/internal/scheduler"
	"github.com/lyanjo/fila-service/internal/service"
)

const (
	taskConnectivity = "connectivity"
	taskDrain        = "journal-drain"
)

// SyncDependencies bundles what the background sync needs.
type SyncDependencies struct {
	Scheduler            *scheduler.Scheduler
	Monitor              *ConnectivityMonitor
	Journal              *service.JournalService
	Runner               *reconcile.Runner
	Display              *service.DisplayService
	Metrics              *observability.Metrics
	ConnectivityInterval time.Duration
	DrainInterval        time.Duration
	Now                  func() time.Time
	Logger               *zap.Logger
}

// SyncWorker drives the journal drain, connectivity probing and ledger
// reconciliation in the background.
type SyncWorker struct {
	deps SyncDependencies
}

// StartSyncWorker registers display handlers and starts the background loops.
// Everything stops when ctx is cancelled.
func StartSyncWorker(ctx context.Context, deps SyncDependencies) *SyncWorker {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	w := &SyncWorker{deps: deps}
	if deps.Display != nil {
		deps.Display.RegisterHandlers()
	}

	deps.Monitor.OnChange(func(ctx context.Context, online bool) {
		if !online {
			return
		}
		w.Drain(ctx)
		w.Resync(ctx, "reconnect")
	})
	deps.Scheduler.Start(taskConnectivity, deps.ConnectivityInterval, func(ctx context.Context) {
		deps.Monitor.Check(ctx)
	})
	deps.Scheduler.Start(taskDrain, deps.DrainInterval, func(ctx context.Context) {
		if deps.Monitor.Online() {
			w.Drain(ctx)
		}
	})
	if deps.Runner != nil {
		go deps.Runner.Run(ctx)
	}
	return w
}

// Drain runs one journal pass and records its outcome.
func (w *SyncWorker) Drain(ctx context.Context) (service.DrainReport, error) {
	report, err := w.deps.Journal.Drain(ctx)
	if report.Skipped {
		return report, err
	}
	w.deps.Metrics.RecordDrain(report.Delivered, report.Merged, report.Dropped, report.Kept, w.deps.Now())
	if err != nil && ctx.Err() == nil {
		w.deps.Logger.Warn("journal drain interrupted", zap.Error(err), zap.Int("kept", report.Kept))
	}
	return report, err
}

// Resync runs a full reconciliation pass.
func (w *SyncWorker) Resync(ctx context.Context, reason string) {
	if w.deps.Runner == nil {
		return
	}
	if w.deps.Runner.Resync(ctx) {
		w.deps.Metrics.RecordResync(reason, w.deps.Now())
	}
}

// Stop halts the scheduled loops.
func (w *SyncWorker) Stop() {
	w.deps.Scheduler.Stop(taskConnectivity)
	w.deps.Scheduler.Stop(taskDrain)
}
