package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lyanjo/fila-service/internal/domain"
	"github.com/lyanjo/fila-service/internal/journal"
	"github.com/lyanjo/fila-service/internal/repository"
	"github.com/lyanjo/fila-service/internal/store"
)

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeMerged
	outcomeDropped
)

// DrainReport summarizes one pass over the journal.
type DrainReport struct {
	Delivered int  `json:"delivered"`
	Merged    int  `json:"merged"`
	Dropped   int  `json:"dropped"`
	Kept      int  `json:"kept"`
	Skipped   bool `json:"skipped,omitempty"`
}

// JournalService replays journaled writes against the ledger.
type JournalService struct {
	store    *store.Store
	tickets  repository.TicketRepository
	citizens repository.CitizenRepository
	users    repository.UserRepository
	now      func() time.Time
	logger   *zap.Logger
	running  atomic.Bool
}

// JournalDependencies bundles collaborators of the journal service.
type JournalDependencies struct {
	Store    *store.Store
	Tickets  repository.TicketRepository
	Citizens repository.CitizenRepository
	Users    repository.UserRepository
	Now      func() time.Time
	Logger   *zap.Logger
}

// NewJournalService wires the service.
func NewJournalService(deps JournalDependencies) *JournalService {
	j := &JournalService{
		store:    deps.Store,
		tickets:  deps.Tickets,
		citizens: deps.Citizens,
		users:    deps.Users,
		now:      deps.Now,
		logger:   deps.Logger,
	}
	if j.now == nil {
		j.now = time.Now
	}
	if j.logger == nil {
		j.logger = zap.NewNop()
	}
	return j
}

// Drain makes one pass over the journal in order. Delivered and merged
// entries are removed as they succeed. A failed entry stays queued and holds
// back later entries for the same entity; a connectivity failure ends the
// pass. Overlapping calls return immediately with Skipped set.
func (j *JournalService) Drain(ctx context.Context) (DrainReport, error) {
	if !j.running.CompareAndSwap(false, true) {
		return DrainReport{Skipped: true}, nil
	}
	defer j.running.Store(false)

	var report DrainReport
	entries := j.store.Journal()
	if len(entries) == 0 {
		return report, nil
	}

	blocked := map[string]bool{}
	failures := map[string]string{}
	var firstErr error
	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			report.Kept += len(entries) - i
			firstErr = err
			break
		}
		key := journal.NaturalKey(entry.Op)
		if blocked[key] {
			report.Kept++
			continue
		}

		result, err := j.replay(ctx, entry.Op)
		if err != nil {
			blocked[key] = true
			failures[entry.ID] = err.Error()
			report.Kept++
			j.logger.Warn("journal entry kept",
				zap.String("entry_id", entry.ID),
				zap.String("op", string(entry.Op.Type())),
				zap.Int("attempts", entry.Attempts+1),
				zap.Error(err))
			if repository.IsConnectivity(err) {
				report.Kept += len(entries) - i - 1
				firstErr = err
				break
			}
			continue
		}

		switch result {
		case outcomeDelivered:
			report.Delivered++
		case outcomeMerged:
			report.Merged++
		case outcomeDropped:
			report.Dropped++
		}
		if err := j.store.RemoveJournal(entry.ID); err != nil {
			j.logger.Error("persist journal", zap.Error(err))
		}
	}

	if err := j.store.RecordAttempts(failures); err != nil {
		j.logger.Error("persist journal attempts", zap.Error(err))
	}
	if report.Delivered+report.Merged+report.Dropped > 0 || report.Kept > 0 {
		j.logger.Info("journal drained",
			zap.Int("delivered", report.Delivered),
			zap.Int("merged", report.Merged),
			zap.Int("dropped", report.Dropped),
			zap.Int("kept", report.Kept))
	}
	return report, firstErr
}

// Pending returns the number of queued entries.
func (j *JournalService) Pending() int {
	return j.store.JournalLen()
}

func (j *JournalService) replay(ctx context.Context, op journal.Operation) (outcome, error) {
	switch o := op.(type) {
	case journal.CreateTicket:
		return j.createTicket(ctx, o)
	case journal.UpdateTicket:
		return j.updateTicket(ctx, o)
	case journal.CreateCitizen:
		return j.createCitizen(ctx, o)
	case journal.CreateUser:
		return j.createUser(ctx, o)
	case journal.UpdateUser:
		_, result, err := deliverUserUpdate(ctx, j.users, j.store, j.logger, o.Email, o.Changes)
		return result, err
	}
	return 0, fmt.Errorf("unsupported journal operation %T", op)
}

func (j *JournalService) createTicket(ctx context.Context, op journal.CreateTicket) (outcome, error) {
	t := op.Ticket
	err := j.tickets.Create(ctx, &t)
	if err == nil {
		return outcomeDelivered, j.attach(t.Key(), t.ID)
	}
	if repository.Classify(err).Kind != repository.KindConflict {
		return 0, err
	}
	existing, gerr := j.tickets.GetByCode(ctx, t.Key())
	if gerr != nil {
		return 0, gerr
	}
	if !existing.SameVisit(t) {
		return 0, fmt.Errorf("%w: %s held by department %s", errCodeTaken, t.Code, existing.Department)
	}
	return outcomeMerged, j.attach(t.Key(), existing.ID)
}

func (j *JournalService) attach(key domain.TicketKey, id string) error {
	if err := j.store.AttachTicketID(key, id); err != nil {
		j.logger.Error("persist ticket id", zap.Error(err))
	}
	return nil
}

func (j *JournalService) updateTicket(ctx context.Context, op journal.UpdateTicket) (outcome, error) {
	id := op.RemoteID
	if id == "" {
		if local, ok := j.store.FindTicket(op.Key); ok && local.ID != "" {
			id = local.ID
		}
	}
	if id == "" {
		existing, err := j.tickets.GetByCode(ctx, op.Key)
		if repository.IsNotFound(err) {
			return outcomeDropped, nil
		}
		if err != nil {
			return 0, err
		}
		if existing.Department != op.Key.Department {
			return 0, fmt.Errorf("%w: %s held by department %s", errCodeTaken, op.Key.Code, existing.Department)
		}
		id = existing.ID
	}
	err := j.tickets.UpdateProgress(ctx, id, op.State, op.StartedAt)
	if repository.IsNotFound(err) {
		return outcomeDropped, nil
	}
	if err != nil {
		return 0, err
	}
	return outcomeDelivered, nil
}

func (j *JournalService) createCitizen(ctx context.Context, op journal.CreateCitizen) (outcome, error) {
	c := op.Citizen
	err := j.citizens.Upsert(ctx, &c)
	result := outcomeDelivered
	if err != nil {
		if repository.Classify(err).Kind != repository.KindConflict {
			return 0, err
		}
		existing, gerr := j.citizens.GetByDocument(ctx, c.Document)
		if gerr != nil {
			return 0, gerr
		}
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		result = outcomeMerged
	}
	if err := j.store.PutCitizen(c); err != nil {
		j.logger.Error("persist citizen", zap.Error(err))
	}
	return result, nil
}

func (j *JournalService) createUser(ctx context.Context, op journal.CreateUser) (outcome, error) {
	u := op.User
	err := upsertUser(ctx, j.users, &u)
	result := outcomeDelivered
	if err != nil {
		if repository.Classify(err).Kind != repository.KindConflict {
			return 0, err
		}
		existing, gerr := j.users.GetByEmail(ctx, u.Email)
		if gerr != nil {
			return 0, gerr
		}
		u.ID = existing.ID
		result = outcomeMerged
	}
	cacheUser(j.store, j.logger, "", u)
	return result, nil
}

const passwordHashColumn = "password_hash"

// upsertUser writes u, retrying once with an empty credential when the
// ledger rejects a missing password hash.
func upsertUser(ctx context.Context, users repository.UserRepository, u *domain.User) error {
	err := users.Upsert(ctx, u)
	if c := repository.Classify(err); c.Kind == repository.KindConstraint && c.Column == passwordHashColumn {
		empty := ""
		u.PasswordHash = &empty
		err = users.Upsert(ctx, u)
	}
	return err
}

// deliverUserUpdate applies changes to the account known as email, creating
// the account when the ledger does not have it.
func deliverUserUpdate(ctx context.Context, users repository.UserRepository, st *store.Store, logger *zap.Logger, email string, changes domain.UserChanges) (*domain.User, outcome, error) {
	updated, err := users.Update(ctx, email, changes)
	switch {
	case err == nil:
		cacheUser(st, logger, email, *updated)
		return updated, outcomeDelivered, nil
	case !repository.IsNotFound(err):
		return nil, 0, err
	}

	base, ok := st.User(email)
	if !ok {
		base = domain.User{Email: email, Active: true}
	}
	base.ID = ""
	created := changes.Apply(base)
	if err := upsertUser(ctx, users, &created); err != nil {
		return nil, 0, err
	}
	cacheUser(st, logger, email, created)
	return &created, outcomeMerged, nil
}

func cacheUser(st *store.Store, logger *zap.Logger, previousEmail string, u domain.User) {
	if err := st.PutUser(previousEmail, u); err != nil {
		logger.Error("persist user", zap.Error(err))
	}
}
