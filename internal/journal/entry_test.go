package journal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/lyanjo/fila-service/internal/domain"
)

func TestEntryEnvelopeKeepsVariant(t *testing.T) {
	started := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	entry := NewEntry(UpdateTicket{
		Key:       domain.TicketKey{Department: "6", Code: "S06-001", ServiceDay: "2024-05-01"},
		State:     domain.TicketStateServing,
		StartedAt: &started,
	}, started)
	entry.Attempts = 2
	entry.LastError = "dial tcp: timeout"

	raw, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var tagged map[string]any
	if err := json.Unmarshal(raw, &tagged); err != nil {
		t.Fatal(err)
	}
	if tagged["type"] != string(OpUpdateTicket) {
		t.Fatalf("type tag=%v, want %s", tagged["type"], OpUpdateTicket)
	}

	var decoded Entry
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	op, ok := decoded.Op.(UpdateTicket)
	if !ok {
		t.Fatalf("decoded op is %T, want UpdateTicket", decoded.Op)
	}
	if op.Key.Code != "S06-001" || op.State != domain.TicketStateServing || op.StartedAt == nil || !op.StartedAt.Equal(started) {
		t.Fatalf("unexpected op %+v", op)
	}
	if decoded.ID != entry.ID || decoded.Attempts != 2 || decoded.LastError != entry.LastError {
		t.Fatalf("bookkeeping lost: %+v", decoded)
	}
}

func TestEntryRejectsUnknownType(t *testing.T) {
	var e Entry
	err := json.Unmarshal([]byte(`{"id":"x","type":"delete-everything","payload":{}}`), &e)
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
}

func TestNaturalKey(t *testing.T) {
	ticket := domain.Ticket{Department: "6", Code: "S06-001", ServiceDay: "2024-05-01"}
	create := NaturalKey(CreateTicket{Ticket: ticket})
	update := NaturalKey(UpdateTicket{Key: ticket.Key()})
	if create != update {
		t.Fatalf("create key %q != update key %q", create, update)
	}
	if NaturalKey(CreateUser{User: domain.User{Email: "a@b"}}) != NaturalKey(UpdateUser{Email: "a@b"}) {
		t.Fatal("user operations should share a key")
	}
	if NaturalKey(CreateCitizen{Citizen: domain.Citizen{Document: "1"}}) == NaturalKey(CreateUser{User: domain.User{Email: "1"}}) {
		t.Fatal("keys of different entities collide")
	}
}
