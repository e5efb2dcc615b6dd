package service

import (
	"testing"
	"time"

	"github.com/lyanjo/fila-service/internal/domain"
	"github.com/lyanjo/fila-service/internal/store"
)

type harness struct {
	clock    *fakeClock
	conn     *fakeConn
	tickets  *fakeTickets
	citizens *fakeCitizens
	users    *fakeUsers
	store    *store.Store
	seq      *Sequencer
	queue    *QueueService
	journal  *JournalService
}

func newHarness(t *testing.T, counter Counter) *harness {
	t.Helper()
	h := &harness{
		clock:    &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
		conn:     &fakeConn{online: true},
		tickets:  newFakeTickets(),
		citizens: &fakeCitizens{rows: map[string]domain.Citizen{}},
		users:    newFakeUsers(),
		store:    newTestStore(t),
	}
	registry := domain.DefaultRegistry()
	h.seq = NewSequencer(SequencerDependencies{
		Registry: registry,
		Counter:  counter,
		Tickets:  h.tickets,
		Store:    h.store,
		Location: time.UTC,
		Now:      h.clock.Now,
	})
	h.queue = NewQueueService(QueueDependencies{
		Registry:     registry,
		Store:        h.store,
		Tickets:      h.tickets,
		Sequencer:    h.seq,
		Connectivity: h.conn,
		Location:     time.UTC,
		Now:          h.clock.Now,
		CloseRetries: 2,
	})
	h.journal = NewJournalService(JournalDependencies{
		Store:    h.store,
		Tickets:  h.tickets,
		Citizens: h.citizens,
		Users:    h.users,
		Now:      h.clock.Now,
	})
	return h
}

func (h *harness) issue(t *testing.T, dept, name string, preferential bool) domain.Ticket {
	t.Helper()
	res, err := h.queue.IssueTicket(t.Context(), IssueTicketInput{
		Department:      dept,
		CitizenName:     name,
		CitizenDocument: name + "-doc",
		Preferential:    &preferential,
	})
	if err != nil {
		t.Fatalf("IssueTicket(%s): %v", name, err)
	}
	return res.Ticket
}
