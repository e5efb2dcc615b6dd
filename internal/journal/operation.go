// Package journal defines the durable outbox of ledger writes that could not
// be delivered when they happened.
package journal

import (
	"time"

	"github.com/lyanjo/fila-service/internal/domain"
)

// OpType tags the operation variants in their persisted form.
type OpType string

const (
	OpCreateTicket  OpType = "create-ticket"
	OpCreateCitizen OpType = "create-citizen"
	OpCreateUser    OpType = "create-user"
	OpUpdateTicket  OpType = "update-ticket"
	OpUpdateUser    OpType = "update-user"
)

// Operation is a pending ledger write. The set of variants is closed.
type Operation interface {
	Type() OpType
	isOperation()
}

// CreateTicket inserts an issued ticket.
type CreateTicket struct {
	Ticket domain.Ticket `json:"ticket"`
}

// CreateCitizen upserts a citizen by document.
type CreateCitizen struct {
	Citizen domain.Citizen `json:"citizen"`
}

// CreateUser upserts a staff account by email.
type CreateUser struct {
	User domain.User `json:"user"`
}

// UpdateTicket moves a ticket to State. RemoteID may be empty when the ticket
// was issued offline; the natural key resolves it at replay time.
type UpdateTicket struct {
	RemoteID  string             `json:"remote_id,omitempty"`
	Key       domain.TicketKey   `json:"key"`
	State     domain.TicketState `json:"state"`
	StartedAt *time.Time         `json:"started_at,omitempty"`
}

// UpdateUser applies Changes to the account known as Email when it was queued.
type UpdateUser struct {
	Email   string             `json:"email"`
	Changes domain.UserChanges `json:"changes"`
}

func (CreateTicket) Type() OpType  { return OpCreateTicket }
func (CreateCitizen) Type() OpType { return OpCreateCitizen }
func (CreateUser) Type() OpType    { return OpCreateUser }
func (UpdateTicket) Type() OpType  { return OpUpdateTicket }
func (UpdateUser) Type() OpType    { return OpUpdateUser }

func (CreateTicket) isOperation()  {}
func (CreateCitizen) isOperation() {}
func (CreateUser) isOperation()    {}
func (UpdateTicket) isOperation()  {}
func (UpdateUser) isOperation()    {}

// NaturalKey is the entity an operation writes to. Operations sharing a key
// must reach the ledger in journal order.
func NaturalKey(op Operation) string {
	switch o := op.(type) {
	case CreateTicket:
		return "ticket:" + o.Ticket.Key().String()
	case UpdateTicket:
		return "ticket:" + o.Key.String()
	case CreateCitizen:
		return "citizen:" + o.Citizen.Document
	case CreateUser:
		return "user:" + o.User.Email
	case UpdateUser:
		return "user:" + o.Email
	}
	return ""
}
