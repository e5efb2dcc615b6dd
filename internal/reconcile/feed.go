package reconcile

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lyanjo/fila-service/internal/repository"
)

// Listener delivers change notifications published on channel until ctx is
// cancelled or the subscription breaks. ready is called once the
// subscription is in place.
type Listener interface {
	Listen(ctx context.Context, channel string, ready func(), handle func(payload []byte)) error
}

// PgListener subscribes with LISTEN on a dedicated pool connection.
type PgListener struct {
	pool *pgxpool.Pool
}

// NewPgListener returns a listener over pool. A nil pool always fails with
// repository.ErrLedgerUnavailable.
func NewPgListener(pool *pgxpool.Pool) *PgListener {
	return &PgListener{pool: pool}
}

func (l *PgListener) Listen(ctx context.Context, channel string, ready func(), handle func(payload []byte)) error {
	if l.pool == nil {
		return repository.ErrLedgerUnavailable
	}
	pooled, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	// the connection keeps its LISTEN state, so it never goes back to the pool
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return err
	}
	ready()
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		handle([]byte(n.Payload))
	}
}

// FeedOptions tunes a Feed.
type FeedOptions struct {
	Channel    string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// OnConnect runs in its own goroutine after every (re)subscription.
	OnConnect func(ctx context.Context)
	Logger    *zap.Logger
}

// Feed applies pushed ledger changes to the store.
type Feed struct {
	listener  Listener
	applier   *Applier
	opts      FeedOptions
	available atomic.Bool
	received  atomic.Int64
}

// NewFeed builds a feed.
func NewFeed(listener Listener, applier *Applier, opts FeedOptions) *Feed {
	if opts.Channel == "" {
		opts.Channel = "fila_changes"
	}
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Feed{listener: listener, applier: applier, opts: opts}
}

// Available reports whether the subscription is currently live.
func (f *Feed) Available() bool {
	return f.available.Load()
}

// Received returns how many notifications were handled.
func (f *Feed) Received() int64 {
	return f.received.Load()
}

// Run subscribes and resubscribes with exponential backoff until ctx ends.
func (f *Feed) Run(ctx context.Context) {
	backoff := f.opts.MinBackoff
	for {
		err := f.listener.Listen(ctx, f.opts.Channel, func() {
			f.available.Store(true)
			backoff = f.opts.MinBackoff
			f.opts.Logger.Info("change feed subscribed", zap.String("channel", f.opts.Channel))
			if f.opts.OnConnect != nil {
				go f.opts.OnConnect(ctx)
			}
		}, func(payload []byte) {
			f.Handle(ctx, payload)
		})
		f.available.Store(false)
		if ctx.Err() != nil {
			return
		}
		f.opts.Logger.Warn("change feed unavailable", zap.Error(err), zap.Duration("retry_in", backoff))
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > f.opts.MaxBackoff {
			backoff = f.opts.MaxBackoff
		}
	}
}

// Handle decodes and applies one notification payload.
func (f *Feed) Handle(ctx context.Context, payload []byte) {
	f.received.Add(1)
	ch, err := DecodeChange(payload)
	if err != nil {
		f.opts.Logger.Warn("dropping malformed change", zap.Error(err))
		return
	}
	switch {
	case ch.Ticket != nil:
		if _, err := f.applier.ApplyTicket(ctx, ch.Op, *ch.Ticket); err != nil {
			f.opts.Logger.Error("apply ticket change failed",
				zap.String("op", string(ch.Op)), zap.String("ticket_code", ch.Ticket.Code), zap.Error(err))
		}
	case ch.User != nil:
		if err := f.applier.ApplyUser(ch.Op, *ch.User); err != nil {
			f.opts.Logger.Error("apply user change failed", zap.String("op", string(ch.Op)), zap.Error(err))
		}
	default:
		f.opts.Logger.Debug("ignoring change", zap.String("table", ch.Table))
	}
}

