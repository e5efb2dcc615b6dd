package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lyanjo/fila-service/internal/domain"
	"github.com/lyanjo/fila-service/internal/events"
	"github.com/lyanjo/fila-service/internal/journal"
	"github.com/lyanjo/fila-service/internal/repository"
	"github.com/lyanjo/fila-service/internal/store"
	apperrors "github.com/lyanjo/fila-service/pkg/util/errorutil"
)

const maxIssueAttempts = 3

// QueueService coordinates issuing and calling tickets.
type QueueService struct {
	registry     *domain.Registry
	store        *store.Store
	tickets      repository.TicketRepository
	sequencer    *Sequencer
	dispatcher   *PriorityDispatcher
	events       events.Dispatcher
	connectivity Connectivity
	location     *time.Location
	now          func() time.Time
	closeRetries int
	closeBackoff time.Duration
	logger       *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// QueueDependencies bundles collaborators of the queue service.
type QueueDependencies struct {
	Registry     *domain.Registry
	Store        *store.Store
	Tickets      repository.TicketRepository
	Sequencer    *Sequencer
	Dispatcher   *PriorityDispatcher
	Events       events.Dispatcher
	Connectivity Connectivity
	Location     *time.Location
	Now          func() time.Time
	CloseRetries int
	CloseBackoff time.Duration
	Logger       *zap.Logger
}

// IssueTicketInput describes a reception request for a ticket.
type IssueTicketInput struct {
	Department      string
	CitizenName     string
	CitizenDocument string
	Preferential    *bool
}

// IssueResult is the outcome of issuing a ticket. Pending means the ledger
// write was journaled for later delivery.
type IssueResult struct {
	Ticket  domain.Ticket
	Pending bool
}

// ServeResult is the outcome of calling the next ticket.
type ServeResult struct {
	Closed  *domain.Ticket
	Serving *domain.Ticket
	Pending bool
}

// QueueView is one department's queue.
type QueueView struct {
	Department domain.Department
	Waiting    []domain.Ticket
	Serving    *domain.Ticket
}

// Overview is the whole terminal state shown to operators.
type Overview struct {
	Queues      []QueueView
	History     []domain.HistoryEntry
	DailyCount  int
	PendingSync int
	Online      bool
}

// NewQueueService wires the service.
func NewQueueService(deps QueueDependencies) *QueueService {
	s := &QueueService{
		registry:     deps.Registry,
		store:        deps.Store,
		tickets:      deps.Tickets,
		sequencer:    deps.Sequencer,
		dispatcher:   deps.Dispatcher,
		events:       deps.Events,
		connectivity: deps.Connectivity,
		location:     deps.Location,
		now:          deps.Now,
		closeRetries: deps.CloseRetries,
		closeBackoff: deps.CloseBackoff,
		logger:       deps.Logger,
		locks:        map[string]*sync.Mutex{},
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.location == nil {
		s.location = time.Local
	}
	if s.connectivity == nil {
		s.connectivity = alwaysOnline{}
	}
	if s.dispatcher == nil {
		s.dispatcher = NewPriorityDispatcher()
	}
	if s.closeRetries <= 0 {
		s.closeRetries = 1
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

func (s *QueueService) lockFor(department string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[department]
	if !ok {
		l = &sync.Mutex{}
		s.locks[department] = l
	}
	return l
}

// IssueTicket numbers a new ticket and appends it to the department queue.
// Numbering needs the ledger; the insert itself falls back to the journal.
func (s *QueueService) IssueTicket(ctx context.Context, in IssueTicketInput) (*IssueResult, error) {
	name := strings.TrimSpace(in.CitizenName)
	doc := domain.NormalizeDocument(in.CitizenDocument)
	if name == "" || doc == "" {
		return nil, apperrors.NewValidationError("citizen name and document are required", nil)
	}
	dept, ok := s.registry.Resolve(in.Department)
	if !ok {
		return nil, ErrUnknownDepartment
	}
	if !s.connectivity.Online() {
		return nil, ErrOnlineOnly
	}
	release := s.store.Hold(dept.Code)
	defer release()

	preferential := false
	if in.Preferential != nil {
		preferential = *in.Preferential
	} else if c, ok := s.store.Citizen(doc); ok {
		preferential = c.Preferential
	}

	var (
		ticket  domain.Ticket
		pending bool
	)
	for attempt := 1; ; attempt++ {
		seq, err := s.sequencer.Next(ctx, dept.Code)
		if err != nil {
			return nil, err
		}
		ticket = domain.Ticket{
			LocalID:         uuid.NewString(),
			Department:      dept.Code,
			Code:            seq.Code,
			ServiceDay:      seq.Day,
			CitizenName:     name,
			CitizenDocument: doc,
			Preferential:    preferential,
			State:           domain.TicketStateWaiting,
			CreatedAt:       s.now(),
		}
		err = s.tickets.Create(ctx, &ticket)
		if err == nil {
			break
		}
		if repository.Classify(err).Kind == repository.KindConflict && attempt < maxIssueAttempts {
			s.logger.Warn("ticket code already taken, renumbering", zap.String("ticket_code", ticket.Code))
			continue
		}
		if repository.Classify(err).Kind == repository.KindConflict {
			return nil, apperrors.NewConflict("could not allocate a free ticket number", map[string]any{"ticket_code": ticket.Code})
		}
		s.logger.Warn("ledger insert failed, journaling ticket", zap.String("ticket_code", ticket.Code), zap.Error(err))
		if _, jerr := s.store.AppendJournal(journal.CreateTicket{Ticket: ticket}, s.now()); jerr != nil {
			s.logger.Error("persist journal entry", zap.Error(jerr))
		}
		pending = true
		break
	}

	if _, err := s.store.Enqueue(ticket); err != nil {
		s.logger.Error("persist issued ticket", zap.Error(err))
	}
	if _, err := s.store.IncrementDailyCount(ticket.ServiceDay); err != nil {
		s.logger.Error("persist daily count", zap.Error(err))
	}
	s.publish(ctx, events.EventTicketIssued, dept, ticket, pending)
	return &IssueResult{Ticket: ticket, Pending: pending}, nil
}

// ServeNext closes the ticket in service, if any, and calls the next one.
// Closing needs the ledger: when it cannot be recorded nothing changes. With
// nobody waiting it returns ErrEmptyQueue, naming the closed ticket if any.
func (s *QueueService) ServeNext(ctx context.Context, department string) (*ServeResult, error) {
	dept, ok := s.registry.Resolve(department)
	if !ok {
		return nil, ErrUnknownDepartment
	}
	lock := s.lockFor(dept.Code)
	lock.Lock()
	defer lock.Unlock()
	release := s.store.Hold(dept.Code)
	defer release()

	result := &ServeResult{}
	if cur, ok := s.store.Serving(dept.Code); ok {
		closed, err := s.closeServing(ctx, dept, cur)
		if err != nil {
			return nil, err
		}
		result.Closed = &closed
	}

	var streak int
	started, err := s.store.StartServing(dept.Code, s.now(), func(waiting []domain.Ticket) int {
		var idx int
		idx, streak = s.dispatcher.Pick(dept.Code, waiting)
		return idx
	})
	switch {
	case errors.Is(err, store.ErrQueueEmpty):
		details := map[string]any{"department": dept.Code}
		if result.Closed != nil {
			details["closed"] = result.Closed.Code
		}
		return nil, ErrEmptyQueue.WithDetails(details)
	case errors.Is(err, store.ErrAlreadyServing):
		return nil, apperrors.NewConflict("department already serving a ticket", map[string]any{"department": dept.Code})
	case err != nil:
		s.logger.Error("persist serving ticket", zap.Error(err))
	}
	s.dispatcher.Commit(dept.Code, streak)

	result.Serving = &started
	result.Pending = s.openRemote(ctx, started)
	s.publish(ctx, events.EventTicketCalled, dept, started, result.Pending)
	return result, nil
}

// CloseTicket ends the service of department's current ticket.
func (s *QueueService) CloseTicket(ctx context.Context, department string) (*domain.Ticket, error) {
	dept, ok := s.registry.Resolve(department)
	if !ok {
		return nil, ErrUnknownDepartment
	}
	lock := s.lockFor(dept.Code)
	lock.Lock()
	defer lock.Unlock()
	release := s.store.Hold(dept.Code)
	defer release()

	cur, ok := s.store.Serving(dept.Code)
	if !ok {
		return nil, ErrNoServing
	}
	closed, err := s.closeServing(ctx, dept, cur)
	if err != nil {
		return nil, err
	}
	return &closed, nil
}

// Recall announces department's current ticket again.
func (s *QueueService) Recall(ctx context.Context, department string) (*domain.Ticket, error) {
	dept, ok := s.registry.Resolve(department)
	if !ok {
		return nil, ErrUnknownDepartment
	}
	cur, ok := s.store.Serving(dept.Code)
	if !ok {
		return nil, ErrNoServing
	}
	s.publish(ctx, events.EventTicketRecalled, dept, cur, false)
	return &cur, nil
}

// Queue returns one department's queue.
func (s *QueueService) Queue(department string) (*QueueView, error) {
	dept, ok := s.registry.Resolve(department)
	if !ok {
		return nil, ErrUnknownDepartment
	}
	view := s.viewOf(dept)
	return &view, nil
}

// Overview returns every department's queue plus history and sync status.
func (s *QueueService) Overview() Overview {
	depts := s.registry.All()
	out := Overview{
		Queues:      make([]QueueView, 0, len(depts)),
		History:     s.store.History(),
		DailyCount:  s.DailyCount(),
		PendingSync: s.store.JournalLen(),
		Online:      s.connectivity.Online(),
	}
	for _, d := range depts {
		out.Queues = append(out.Queues, s.viewOf(d))
	}
	return out
}

// DailyCount returns how many tickets were issued today.
func (s *QueueService) DailyCount() int {
	return s.store.DailyCount(domain.ServiceDay(s.now(), s.location))
}

func (s *QueueService) viewOf(dept domain.Department) QueueView {
	view := QueueView{Department: dept, Waiting: s.store.Waiting(dept.Code)}
	if cur, ok := s.store.Serving(dept.Code); ok {
		view.Serving = &cur
	}
	return view
}

func (s *QueueService) closeServing(ctx context.Context, dept domain.Department, cur domain.Ticket) (domain.Ticket, error) {
	if !s.connectivity.Online() {
		return domain.Ticket{}, ErrOnlineOnly
	}
	var err error
	for attempt := 0; attempt < s.closeRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return domain.Ticket{}, ErrOnlineOnly.Wrap(ctx.Err())
			case <-time.After(s.closeBackoff * time.Duration(attempt)):
			}
		}
		if err = s.finishRemote(ctx, cur); err == nil {
			break
		}
		s.logger.Warn("close ticket in ledger failed",
			zap.String("ticket_code", cur.Code), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	if err != nil {
		return domain.Ticket{}, ErrOnlineOnly.Wrap(err)
	}

	closed, _, perr := s.store.FinishServing(dept.Code, s.now())
	if perr != nil {
		s.logger.Error("persist closed ticket", zap.Error(perr))
	}
	key := cur.Key()
	if _, perr := s.store.DropJournal(func(e journal.Entry) bool {
		op, ok := e.Op.(journal.UpdateTicket)
		return ok && op.Key == key
	}); perr != nil {
		s.logger.Error("persist journal", zap.Error(perr))
	}
	s.publish(ctx, events.EventTicketClosed, dept, closed, false)
	return closed, nil
}

// finishRemote marks cur done in the ledger, inserting it first when its
// creation never reached the ledger.
func (s *QueueService) finishRemote(ctx context.Context, cur domain.Ticket) error {
	id := cur.ID
	if id == "" {
		existing, err := s.tickets.GetByCode(ctx, cur.Key())
		switch {
		case err == nil && !existing.SameVisit(cur):
			return fmt.Errorf("%w: %s held by department %s", errCodeTaken, cur.Code, existing.Department)
		case err == nil:
			id = existing.ID
		case repository.IsNotFound(err):
			done := cur
			done.State = domain.TicketStateDone
			if err := s.tickets.Create(ctx, &done); err != nil {
				return err
			}
			s.forgetCreate(cur.Key(), done.ID)
			return nil
		default:
			return err
		}
		s.forgetCreate(cur.Key(), id)
	}
	err := s.tickets.UpdateProgress(ctx, id, domain.TicketStateDone, cur.StartedAt)
	if repository.IsNotFound(err) {
		s.logger.Warn("ticket missing from ledger on close", zap.String("ticket_code", cur.Code))
		return nil
	}
	return err
}

func (s *QueueService) forgetCreate(key domain.TicketKey, id string) {
	if err := s.store.AttachTicketID(key, id); err != nil {
		s.logger.Error("persist ticket id", zap.Error(err))
	}
	if _, err := s.store.DropJournal(func(e journal.Entry) bool {
		op, ok := e.Op.(journal.CreateTicket)
		return ok && op.Ticket.Key() == key
	}); err != nil {
		s.logger.Error("persist journal", zap.Error(err))
	}
}

// openRemote records that t is in service. It reports whether the write was
// journaled instead of delivered.
func (s *QueueService) openRemote(ctx context.Context, t domain.Ticket) bool {
	op := journal.UpdateTicket{RemoteID: t.ID, Key: t.Key(), State: domain.TicketStateServing, StartedAt: t.StartedAt}
	if t.ID != "" && s.connectivity.Online() {
		err := s.tickets.UpdateProgress(ctx, t.ID, domain.TicketStateServing, t.StartedAt)
		if err == nil {
			return false
		}
		if repository.IsNotFound(err) {
			s.logger.Warn("ticket missing from ledger on call", zap.String("ticket_code", t.Code))
			return false
		}
		s.logger.Warn("ledger update failed, journaling call", zap.String("ticket_code", t.Code), zap.Error(err))
	}
	if _, err := s.store.AppendJournal(op, s.now()); err != nil {
		s.logger.Error("persist journal entry", zap.Error(err))
	}
	return true
}

func (s *QueueService) publish(ctx context.Context, kind events.EventType, dept domain.Department, t domain.Ticket, pending bool) {
	if s.events == nil {
		return
	}
	_ = s.events.Publish(ctx, events.Event{
		ID:         uuid.NewString(),
		Type:       kind,
		Department: dept.Code,
		Room:       dept.Room,
		TicketCode: t.Code,
		Timestamp:  s.now(),
		Payload:    events.PayloadFor(t, pending),
	})
}
