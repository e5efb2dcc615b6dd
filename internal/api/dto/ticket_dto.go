package dto

import (
	"time"

	"github.com/lyanjo/fila-service/internal/domain"
)

// IssueTicketRequest payload for POST /tickets.
type IssueTicketRequest struct {
	Department      string `json:"department"`
	CitizenName     string `json:"citizen_name"`
	CitizenDocument string `json:"citizen_document"`
	Preferential    *bool  `json:"preferential"`
}

// TicketResponse describes one ticket.
type TicketResponse struct {
	ID              string             `json:"id,omitempty"`
	LocalID         string             `json:"local_id,omitempty"`
	Department      string             `json:"department"`
	Code            string             `json:"ticket_code"`
	ServiceDay      string             `json:"service_day"`
	CitizenName     string             `json:"citizen_name"`
	CitizenDocument string             `json:"citizen_document,omitempty"`
	Preferential    bool               `json:"preferential"`
	State           domain.TicketState `json:"state"`
	CreatedAt       time.Time          `json:"created_at"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	Synced          bool               `json:"synced"`
}

// IssueTicketResponse is returned after issuing.
type IssueTicketResponse struct {
	Ticket     TicketResponse `json:"ticket"`
	Pending    bool           `json:"pending"`
	DailyCount int            `json:"daily_count"`
}

// ServeResponse is returned after calling the next ticket.
type ServeResponse struct {
	Closed  *TicketResponse `json:"closed,omitempty"`
	Serving *TicketResponse `json:"serving"`
	Pending bool            `json:"pending"`
}

// QueueResponse is one department's queue.
type QueueResponse struct {
	Department string           `json:"department"`
	Name       string           `json:"name"`
	Room       string           `json:"room"`
	Waiting    []TicketResponse `json:"waiting"`
	Serving    *TicketResponse  `json:"serving"`
}

// HistoryResponse is one called ticket.
type HistoryResponse struct {
	TicketID     string     `json:"ticket_id,omitempty"`
	Code         string     `json:"ticket_code"`
	Department   string     `json:"department"`
	CitizenName  string     `json:"citizen_name"`
	Preferential bool       `json:"preferential"`
	CalledAt     time.Time  `json:"called_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// OverviewResponse is the operator dashboard.
type OverviewResponse struct {
	Queues      []QueueResponse   `json:"queues"`
	History     []HistoryResponse `json:"history"`
	DailyCount  int               `json:"daily_count"`
	PendingSync int               `json:"pending_sync"`
	Online      bool              `json:"online"`
}

// DisplayCall is one announcement on the public panel.
type DisplayCall struct {
	Type       string    `json:"type"`
	Department string    `json:"department"`
	Room       string    `json:"room"`
	TicketCode string    `json:"ticket_code"`
	At         time.Time `json:"at"`
}

// DisplayResponse is the unauthenticated panel snapshot.
type DisplayResponse struct {
	Serving []DisplayServing `json:"serving"`
	Recent  []DisplayCall    `json:"recent"`
}

// DisplayServing is the ticket currently called in a room.
type DisplayServing struct {
	Department string `json:"department"`
	Name       string `json:"name"`
	Room       string `json:"room"`
	TicketCode string `json:"ticket_code"`
}

// PollStateResponse reports the department poll controller.
type PollStateResponse struct {
	Department string `json:"department"`
	Active     string `json:"active"`
	Paused     bool   `json:"paused"`
}
