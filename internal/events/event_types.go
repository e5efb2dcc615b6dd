package events

import (
	"time"

	"github.com/lyanjo/fila-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketIssued   EventType = "ticket.issued"
	EventTicketCalled   EventType = "ticket.called"
	EventTicketClosed   EventType = "ticket.closed"
	EventTicketRecalled EventType = "ticket.recalled"
)

// Event represents a queue event emitted by services.
type Event struct {
	ID         string      `json:"id"`
	Type       EventType   `json:"type"`
	Department string      `json:"department"`
	Room       string      `json:"room"`
	TicketCode string      `json:"ticket_code"`
	Timestamp  time.Time   `json:"timestamp"`
	Payload    interface{} `json:"payload,omitempty"`
}

// TicketPayload describes the ticket an event refers to.
type TicketPayload struct {
	CitizenName  string `json:"citizen_name"`
	Preferential bool   `json:"preferential"`
	Pending      bool   `json:"pending"`
}

// PayloadFor builds the payload for ticket t.
func PayloadFor(t domain.Ticket, pending bool) TicketPayload {
	return TicketPayload{CitizenName: t.CitizenName, Preferential: t.Preferential, Pending: pending}
}
