package reconcile

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lyanjo/fila-service/internal/domain"
	"github.com/lyanjo/fila-service/internal/store"
)

// PreferentialSource resolves preferential flags for citizen documents.
type PreferentialSource interface {
	PreferentialByDocuments(ctx context.Context, documents []string) (map[string]bool, error)
}

// Applier is the single place where remote ticket and user data is merged
// into the local store, whether it arrives from the feed or from a poll.
type Applier struct {
	store    *store.Store
	citizens PreferentialSource
	now      func() time.Time
	logger   *zap.Logger
}

// NewApplier builds an applier. citizens may be nil, in which case only the
// local citizen cache is used to enrich preferential flags.
func NewApplier(st *store.Store, citizens PreferentialSource, now func() time.Time, logger *zap.Logger) *Applier {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Applier{store: st, citizens: citizens, now: now, logger: logger}
}

// ApplyTicket merges one ticket change and reports whether the store changed.
func (a *Applier) ApplyTicket(ctx context.Context, op domain.ChangeOp, t domain.Ticket) (bool, error) {
	if op != domain.ChangeDelete && t.State == domain.TicketStateWaiting {
		t = a.enrich(ctx, []domain.Ticket{t})[0]
	}
	return a.store.ApplyTicketChange(op, t, a.now())
}

// ApplyUser merges one user change into the cached operator accounts.
func (a *Applier) ApplyUser(op domain.ChangeOp, u domain.User) error {
	if u.Email == "" {
		return nil
	}
	if op == domain.ChangeDelete {
		return a.store.RemoveUser(u.Email)
	}
	return a.store.PutUser("", u)
}

// ApplyUsers replaces the cached view of every listed user.
func (a *Applier) ApplyUsers(users []domain.User) error {
	for _, u := range users {
		if err := a.ApplyUser(domain.ChangeUpdate, u); err != nil {
			return err
		}
	}
	return nil
}

// ApplySnapshot replaces the waiting and serving views of department, or of
// every department when department is empty. mark must be taken before the
// snapshot was read.
func (a *Applier) ApplySnapshot(ctx context.Context, department string, mark store.Mark, waiting, serving []domain.Ticket) error {
	waiting = a.enrich(ctx, waiting)
	if err := a.store.ReplaceWaiting(department, waiting, mark); err != nil {
		return err
	}
	return a.store.ReplaceServing(department, serving, mark, a.now())
}

// enrich marks tickets preferential when their citizen is, preferring the
// local cache and asking the ledger for the rest.
func (a *Applier) enrich(ctx context.Context, tickets []domain.Ticket) []domain.Ticket {
	var missing []string
	seen := map[string]struct{}{}
	for i, t := range tickets {
		if t.Preferential || t.CitizenDocument == "" {
			continue
		}
		doc := domain.NormalizeDocument(t.CitizenDocument)
		if c, ok := a.store.Citizen(doc); ok {
			tickets[i].Preferential = c.Preferential
			continue
		}
		if _, ok := seen[doc]; !ok {
			seen[doc] = struct{}{}
			missing = append(missing, doc)
		}
	}
	if len(missing) == 0 || a.citizens == nil {
		return tickets
	}
	flags, err := a.citizens.PreferentialByDocuments(ctx, missing)
	if err != nil {
		a.logger.Debug("preferential lookup failed", zap.Error(err))
		return tickets
	}
	for i, t := range tickets {
		if !t.Preferential && flags[domain.NormalizeDocument(t.CitizenDocument)] {
			tickets[i].Preferential = true
		}
	}
	return tickets
}
