package service

import (
	"testing"
	"time"

	"github.com/lyanjo/fila-service/internal/domain"
	"github.com/lyanjo/fila-service/internal/journal"
)

func appendOp(t *testing.T, h *harness, op journal.Operation) {
	t.Helper()
	if _, err := h.store.AppendJournal(op, h.clock.Now()); err != nil {
		t.Fatal(err)
	}
}

func TestDrainMergesConflictingCreate(t *testing.T) {
	h := newHarness(t, nil)
	ticket := domain.Ticket{Department: "6", Code: "S06-001", ServiceDay: "2024-05-01", CitizenName: "Ana", State: domain.TicketStateWaiting}
	if _, err := h.store.Enqueue(ticket); err != nil {
		t.Fatal(err)
	}
	appendOp(t, h, journal.CreateTicket{Ticket: ticket})
	h.tickets.rows["t-remote"] = domain.Ticket{ID: "t-remote", Department: "6", Code: "S06-001", ServiceDay: "2024-05-01"}

	report, err := h.journal.Drain(t.Context())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if report.Merged != 1 || report.Kept != 0 {
		t.Fatalf("report=%+v", report)
	}
	if got := h.store.Waiting("6"); len(got) != 1 || got[0].ID != "t-remote" {
		t.Fatalf("local ticket not linked: %+v", got)
	}
	if h.store.JournalLen() != 0 {
		t.Fatal("merged entry should leave the journal")
	}
}

func TestDrainKeepsOrderPerEntity(t *testing.T) {
	h := newHarness(t, nil)
	started := h.clock.Now()
	ticket := domain.Ticket{Department: "6", Code: "S06-002", ServiceDay: "2024-05-01", State: domain.TicketStateWaiting}
	appendOp(t, h, journal.CreateTicket{Ticket: ticket})
	appendOp(t, h, journal.UpdateTicket{Key: ticket.Key(), State: domain.TicketStateServing, StartedAt: &started})
	appendOp(t, h, journal.CreateCitizen{Citizen: domain.Citizen{Name: "Ana", Document: "1"}})

	h.tickets.createErr = []error{errValidation{}}
	report, err := h.journal.Drain(t.Context())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if report.Delivered != 1 || report.Kept != 2 {
		t.Fatalf("report=%+v", report)
	}
	entries := h.store.Journal()
	if len(entries) != 2 || entries[0].Attempts != 1 || entries[1].Attempts != 0 {
		t.Fatalf("entries=%+v", entries)
	}
	if len(h.tickets.updates) != 0 {
		t.Fatal("update must wait for its create")
	}

	report, err = h.journal.Drain(t.Context())
	if err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	if report.Delivered != 2 || h.store.JournalLen() != 0 {
		t.Fatalf("report=%+v, journal=%d", report, h.store.JournalLen())
	}
	if st := h.tickets.state("S06-002"); st != domain.TicketStateServing {
		t.Fatalf("ledger state=%s, want SERVING", st)
	}
}

type errValidation struct{}

func (errValidation) Error() string { return "check constraint" }

func TestDrainStopsOnConnectivity(t *testing.T) {
	h := newHarness(t, nil)
	appendOp(t, h, journal.CreateCitizen{Citizen: domain.Citizen{Name: "Ana", Document: "1"}})
	appendOp(t, h, journal.CreateCitizen{Citizen: domain.Citizen{Name: "Bia", Document: "2"}})
	h.citizens.err = errOffline

	report, err := h.journal.Drain(t.Context())
	if err == nil {
		t.Fatal("expected connectivity error")
	}
	if report.Kept != 2 || h.store.JournalLen() != 2 {
		t.Fatalf("report=%+v", report)
	}
}

func TestDrainUpdateForMissingTicketIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	appendOp(t, h, journal.UpdateTicket{
		Key:   domain.TicketKey{Department: "1", Code: "S01-009", ServiceDay: "2024-05-01"},
		State: domain.TicketStateDone,
	})
	report, err := h.journal.Drain(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if report.Dropped != 1 || h.store.JournalLen() != 0 {
		t.Fatalf("report=%+v", report)
	}
}

func TestDrainUpdateUserCreatesMissingAccount(t *testing.T) {
	h := newHarness(t, nil)
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	appendOp(t, h, journal.UpdateUser{Email: "ana@fila.local", Changes: domain.UserChanges{LastLogin: &now}})

	report, err := h.journal.Drain(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if report.Merged != 1 {
		t.Fatalf("report=%+v", report)
	}
	u, ok := h.users.rows["ana@fila.local"]
	if !ok {
		t.Fatal("account not created")
	}
	if u.PasswordHash == nil || *u.PasswordHash != "" {
		t.Fatal("missing credential should be repaired with an empty hash")
	}
	if h.users.upsertCall != 2 {
		t.Fatalf("upsert called %d times, want 2", h.users.upsertCall)
	}
}

func TestDrainSkipsWhenAlreadyRunning(t *testing.T) {
	h := newHarness(t, nil)
	h.journal.running.Store(true)
	report, err := h.journal.Drain(t.Context())
	if err != nil || !report.Skipped {
		t.Fatalf("report=%+v err=%v", report, err)
	}
}

func TestDrainKeepsCreateWhoseCodeBelongsToAnotherDepartment(t *testing.T) {
	h := newHarness(t, nil)
	ticket := domain.Ticket{Department: "6", Code: "S06-004", ServiceDay: "2024-05-01", CitizenDocument: "111", State: domain.TicketStateWaiting}
	appendOp(t, h, journal.CreateTicket{Ticket: ticket})
	h.tickets.rows["t-60"] = domain.Ticket{ID: "t-60", Department: "60", Code: "S06-004", ServiceDay: "2024-05-01", CitizenDocument: "222"}

	report, err := h.journal.Drain(t.Context())
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if report.Merged != 0 || report.Kept != 1 {
		t.Fatalf("report=%+v, want the entry kept", report)
	}
	if e := h.store.Journal(); len(e) != 1 || e[0].LastError == "" {
		t.Fatalf("journal=%+v", e)
	}
}
