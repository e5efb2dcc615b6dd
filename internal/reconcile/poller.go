package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lyanjo/fila-service/internal/domain"
	"github.com/lyanjo/fila-service/internal/store"
)

// TicketSource is the slice of the ticket ledger the poller reads.
type TicketSource interface {
	ListWaiting(ctx context.Context, department string) ([]domain.Ticket, error)
	ListServing(ctx context.Context, department string) ([]domain.Ticket, error)
	ListChangedSince(ctx context.Context, since time.Time, afterID string, limit int) ([]domain.Ticket, error)
	CountCreated(ctx context.Context, day string) (int, error)
}

// UserSource lists operator accounts.
type UserSource interface {
	List(ctx context.Context) ([]domain.User, error)
}

const catchUpLimit = 500

// Poller refreshes the store from ledger snapshots.
type Poller struct {
	tickets  TicketSource
	users    UserSource
	applier  *Applier
	store    *store.Store
	location *time.Location
	now      func() time.Time
	logger   *zap.Logger

	pageSize int

	mu      sync.Mutex
	since   time.Time
	afterID string
}

// PollerDependencies groups the collaborators of a Poller.
type PollerDependencies struct {
	Tickets  TicketSource
	Users    UserSource
	Applier  *Applier
	Store    *store.Store
	Location *time.Location
	Now      func() time.Time
	Logger   *zap.Logger
}

// NewPoller builds a poller.
func NewPoller(deps PollerDependencies) *Poller {
	p := &Poller{
		tickets:  deps.Tickets,
		users:    deps.Users,
		applier:  deps.Applier,
		store:    deps.Store,
		location: deps.Location,
		now:      deps.Now,
		logger:   deps.Logger,
		pageSize: catchUpLimit,
	}
	if p.location == nil {
		p.location = time.Local
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// PollDepartment replaces the waiting and serving views of one department.
func (p *Poller) PollDepartment(ctx context.Context, department string) error {
	return p.pollDepartment(ctx, department, nil)
}

// pollDepartment reads a snapshot and applies it unless keep, when set,
// reports false once the reads are done.
func (p *Poller) pollDepartment(ctx context.Context, department string, keep func() bool) error {
	mark := p.store.Mark()
	waiting, err := p.tickets.ListWaiting(ctx, department)
	if err != nil {
		return err
	}
	serving, err := p.tickets.ListServing(ctx, department)
	if err != nil {
		return err
	}
	if keep != nil && !keep() {
		p.logger.Debug("snapshot dropped", zap.String("department", department))
		return nil
	}
	return p.applier.ApplySnapshot(ctx, department, mark, waiting, serving)
}

// PollAll refreshes every queue, replays tickets changed since the last
// pass, and refreshes today's count and the operator accounts.
func (p *Poller) PollAll(ctx context.Context) error {
	now := p.now()
	if err := p.catchUp(ctx, now); err != nil {
		return err
	}
	if err := p.PollDepartment(ctx, ""); err != nil {
		return err
	}
	day := domain.ServiceDay(now, p.location)
	count, err := p.tickets.CountCreated(ctx, day)
	if err != nil {
		return err
	}
	if err := p.store.SyncDailyCount(day, count); err != nil {
		return err
	}
	if p.users == nil {
		return nil
	}
	users, err := p.users.List(ctx)
	if err != nil {
		return err
	}
	return p.applier.ApplyUsers(users)
}

// catchUp applies tickets that moved since the previous pass, so calls and
// closings made elsewhere show up in the local history. Pages are read
// until a short one comes back.
func (p *Poller) catchUp(ctx context.Context, now time.Time) error {
	p.mu.Lock()
	since, afterID := p.since, p.afterID
	p.mu.Unlock()
	if since.IsZero() {
		since, _ = domain.DayBounds(now, p.location)
		afterID = ""
	}
	from := since
	applied := 0
	for {
		page, err := p.tickets.ListChangedSince(ctx, since, afterID, p.pageSize)
		if err != nil {
			return err
		}
		for _, t := range page {
			if t.State != domain.TicketStateWaiting {
				if _, err := p.applier.ApplyTicket(ctx, domain.ChangeUpdate, t); err != nil {
					return err
				}
			}
			if t.UpdatedAt != nil {
				since, afterID = *t.UpdatedAt, t.ID
			}
		}
		applied += len(page)
		p.mu.Lock()
		p.since, p.afterID = since, afterID
		p.mu.Unlock()
		if len(page) < p.pageSize {
			break
		}
	}
	if applied > 0 {
		p.logger.Debug("caught up ticket changes", zap.Int("count", applied), zap.Time("since", from))
	}
	return nil
}
