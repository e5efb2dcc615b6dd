package reconcile

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Runner keeps the store fresh: it polls often while the change feed is
// down and falls back to a slow safety-net poll while the feed is live.
type Runner struct {
	feed     *Feed
	poller   *Poller
	fallback time.Duration
	safety   time.Duration
	logger   *zap.Logger

	polling atomic.Bool
	lastErr atomic.Value
}

// RunnerOptions tunes a Runner.
type RunnerOptions struct {
	FallbackInterval time.Duration
	SafetyInterval   time.Duration
	Logger           *zap.Logger
}

// NewRunner builds a runner. feed may be nil to run in poll mode only.
func NewRunner(feed *Feed, poller *Poller, opts RunnerOptions) *Runner {
	if opts.FallbackInterval <= 0 {
		opts.FallbackInterval = 3 * time.Second
	}
	if opts.SafetyInterval < opts.FallbackInterval {
		opts.SafetyInterval = opts.FallbackInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Runner{
		feed:     feed,
		poller:   poller,
		fallback: opts.FallbackInterval,
		safety:   opts.SafetyInterval,
		logger:   opts.Logger,
	}
}

// Mode names the active strategy.
func (r *Runner) Mode() string {
	if r.feed != nil && r.feed.Available() {
		return "push"
	}
	return "poll"
}

// Run blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	if r.feed != nil {
		go r.feed.Run(ctx)
	}
	r.Resync(ctx)
	last := time.Now()
	ticker := time.NewTicker(r.fallback)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		every := r.fallback
		if r.Mode() == "push" {
			every = r.safety
		}
		if time.Since(last) < every {
			continue
		}
		r.Resync(ctx)
		last = time.Now()
	}
}

// Resync runs a full poll unless one is already in flight. It reports
// whether a pass ran.
func (r *Runner) Resync(ctx context.Context) bool {
	if !r.polling.CompareAndSwap(false, true) {
		return false
	}
	defer r.polling.Store(false)
	if err := r.poller.PollAll(ctx); err != nil {
		if ctx.Err() == nil {
			r.logger.Debug("resync failed", zap.String("mode", r.Mode()), zap.Error(err))
		}
		r.lastErr.Store(err.Error())
		return true
	}
	r.lastErr.Store("")
	return true
}

// LastError returns the message of the last failed pass, or "".
func (r *Runner) LastError() string {
	s, _ := r.lastErr.Load().(string)
	return s
}
