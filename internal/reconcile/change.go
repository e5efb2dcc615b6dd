// Package reconcile keeps the local projection in step with the remote
// ledger, either from its change feed or by polling snapshots.
package reconcile

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lyanjo/fila-service/internal/domain"
)

const (
	tableTickets = "tickets"
	tableUsers   = "users"
)

// Change is one decoded ledger notification.
type Change struct {
	Table  string
	Op     domain.ChangeOp
	Ticket *domain.Ticket
	User   *domain.User
}

type notification struct {
	Table  string          `json:"table"`
	Op     string          `json:"op"`
	Record json.RawMessage `json:"record"`
}

type ticketRecord struct {
	ID              string     `json:"id"`
	Department      string     `json:"department"`
	TicketCode      string     `json:"ticket_code"`
	ServiceDay      string     `json:"service_day"`
	CitizenName     string     `json:"citizen_name"`
	CitizenDocument string     `json:"citizen_document"`
	Preferential    bool       `json:"preferential"`
	Completed       *bool      `json:"completed"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at"`
	UpdatedAt       *time.Time `json:"updated_at"`
}

type userRecord struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	Active    bool       `json:"active"`
	LastLogin *time.Time `json:"last_login"`
	CreatedAt time.Time  `json:"created_at"`
}

// DecodeChange parses a change-feed payload. Tables other than tickets and
// users decode to a Change with neither Ticket nor User set.
func DecodeChange(payload []byte) (Change, error) {
	var n notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}
	op := domain.ChangeOp(strings.ToUpper(n.Op))
	switch op {
	case domain.ChangeInsert, domain.ChangeUpdate, domain.ChangeDelete:
	default:
		return Change{}, fmt.Errorf("decode change: unknown op %q", n.Op)
	}
	ch := Change{Table: n.Table, Op: op}
	switch n.Table {
	case tableTickets:
		var r ticketRecord
		if err := json.Unmarshal(n.Record, &r); err != nil {
			return Change{}, fmt.Errorf("decode ticket change: %w", err)
		}
		t := domain.Ticket{
			ID:              r.ID,
			Department:      r.Department,
			Code:            r.TicketCode,
			ServiceDay:      r.ServiceDay,
			CitizenName:     r.CitizenName,
			CitizenDocument: r.CitizenDocument,
			Preferential:    r.Preferential,
			State:           domain.StateFromCompleted(r.Completed),
			CreatedAt:       r.CreatedAt,
			StartedAt:       r.StartedAt,
			UpdatedAt:       r.UpdatedAt,
		}
		ch.Ticket = &t
	case tableUsers:
		var r userRecord
		if err := json.Unmarshal(n.Record, &r); err != nil {
			return Change{}, fmt.Errorf("decode user change: %w", err)
		}
		ch.User = &domain.User{
			ID:        r.ID,
			Email:     strings.ToLower(r.Email),
			Role:      domain.Role(r.Role),
			Active:    r.Active,
			LastLogin: r.LastLogin,
			CreatedAt: r.CreatedAt,
		}
	}
	return ch, nil
}
