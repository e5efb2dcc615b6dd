package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lyanjo/fila-service/internal/scheduler"
)

// PollFunc refreshes one department. keep is checked after the ledger reads;
// when it reports false the snapshot is dropped.
type PollFunc func(ctx context.Context, department string, keep func() bool) error

// DeptPoller runs a short refresh cycle for the department whose operator
// screen is open. At most one department is polled at a time.
type DeptPoller struct {
	sched  *scheduler.Scheduler
	poll   PollFunc
	every  time.Duration
	logger *zap.Logger

	mu      sync.Mutex
	current string
	paused  map[string]bool
}

// NewDeptPoller builds a controller refreshing through poller every interval.
func NewDeptPoller(sched *scheduler.Scheduler, poller *Poller, every time.Duration, logger *zap.Logger) *DeptPoller {
	return newDeptPoller(sched, poller.pollDepartment, every, logger)
}

func newDeptPoller(sched *scheduler.Scheduler, poll PollFunc, every time.Duration, logger *zap.Logger) *DeptPoller {
	if every <= 0 {
		every = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeptPoller{sched: sched, poll: poll, every: every, logger: logger, paused: map[string]bool{}}
}

func pollKey(department string) string {
	return "dept:" + department
}

// Open starts polling department and stops any other department's cycle.
func (d *DeptPoller) Open(department string) {
	if department == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openLocked(department)
}

func (d *DeptPoller) openLocked(department string) {
	if d.current != "" && d.current != department {
		d.sched.Stop(pollKey(d.current))
	}
	d.current = department
	delete(d.paused, department)
	key := pollKey(department)
	if d.sched.Resume(key) {
		return
	}
	d.sched.Start(key, d.every, func(ctx context.Context) {
		keep := func() bool { return !d.Paused(department) }
		if err := d.poll(ctx, department, keep); err != nil && ctx.Err() == nil {
			d.logger.Debug("department poll failed", zap.String("department", department), zap.Error(err))
		}
	})
}

// Close stops polling department. A refresh already running completes.
func (d *DeptPoller) Close(department string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sched.Stop(pollKey(department))
	if d.current == department {
		d.current = ""
	}
}

// Pause suspends polling for department. The department is marked paused
// even when it was not being polled. A refresh already running completes
// but its result is dropped.
func (d *DeptPoller) Pause(department string) {
	if department == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sched.Pause(pollKey(department))
	d.paused[department] = true
}

// Resume restarts polling for a paused department. It does nothing unless
// the department was paused.
func (d *DeptPoller) Resume(department string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.paused[department] {
		return false
	}
	d.openLocked(department)
	return true
}

// Active returns the department being polled, or "".
func (d *DeptPoller) Active() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == "" || !d.sched.Running(pollKey(d.current)) {
		return ""
	}
	return d.current
}

// Paused reports whether department is paused.
func (d *DeptPoller) Paused(department string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused[department]
}
