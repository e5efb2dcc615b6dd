package domain

import (
	"strings"
	"time"
)

// TicketState enumerates the lifecycle of a walk-in ticket.
type TicketState string

const (
	TicketStateWaiting TicketState = "WAITING"
	TicketStateServing TicketState = "SERVING"
	TicketStateDone    TicketState = "DONE"
)

// ServiceDayLayout is the calendar-day key used for counters and natural keys.
const ServiceDayLayout = "2006-01-02"

// Ticket is a numbered place in a department queue.
//
// ID is the ledger-assigned identifier and stays empty until the ticket has
// been persisted remotely. LocalID is assigned at issuance and never changes.
type Ticket struct {
	ID              string      `json:"id,omitempty"`
	LocalID         string      `json:"local_id,omitempty"`
	Department      string      `json:"department"`
	Code            string      `json:"ticket_code"`
	ServiceDay      string      `json:"service_day"`
	CitizenName     string      `json:"citizen_name"`
	CitizenDocument string      `json:"citizen_document"`
	Preferential    bool        `json:"preferential"`
	State           TicketState `json:"state"`
	CreatedAt       time.Time   `json:"created_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	UpdatedAt       *time.Time  `json:"updated_at,omitempty"`
}

// TicketKey is the natural key of a ticket in the ledger.
type TicketKey struct {
	Department string
	Code       string
	ServiceDay string
}

func (k TicketKey) String() string {
	return k.Department + "/" + k.Code + "/" + k.ServiceDay
}

// LedgerKey is what the ledger keeps unique. Codes carry the room, so
// departments aliased to one room share it.
func (k TicketKey) LedgerKey() string {
	return strings.ToUpper(k.Code) + "/" + k.ServiceDay
}

// SameVisit reports whether two rows sharing a ledger key were issued to the
// same department and citizen.
func (t Ticket) SameVisit(other Ticket) bool {
	return t.Department == other.Department && t.CitizenDocument == other.CitizenDocument
}

// Key returns the ticket's natural key.
func (t Ticket) Key() TicketKey {
	return TicketKey{Department: t.Department, Code: t.Code, ServiceDay: t.ServiceDay}
}

// Matches reports whether both values describe the same ticket. Remote ids win
// when both sides carry one; otherwise the code and service day decide.
func (t Ticket) Matches(other Ticket) bool {
	if t.ID != "" && other.ID != "" {
		return t.ID == other.ID
	}
	if t.LocalID != "" && t.LocalID == other.LocalID {
		return true
	}
	if !strings.EqualFold(t.Code, other.Code) {
		return false
	}
	return t.ServiceDay == "" || other.ServiceDay == "" || t.ServiceDay == other.ServiceDay
}

// StateFromCompleted maps the ledger's tri-state completion column onto a state.
// NULL means waiting, false means in service and true means done.
func StateFromCompleted(completed *bool) TicketState {
	switch {
	case completed == nil:
		return TicketStateWaiting
	case *completed:
		return TicketStateDone
	default:
		return TicketStateServing
	}
}

// Completed is the inverse of StateFromCompleted.
func (s TicketState) Completed() *bool {
	var v bool
	switch s {
	case TicketStateServing:
		v = false
	case TicketStateDone:
		v = true
	default:
		return nil
	}
	return &v
}

// Valid reports whether s is a known state.
func (s TicketState) Valid() bool {
	switch s {
	case TicketStateWaiting, TicketStateServing, TicketStateDone:
		return true
	}
	return false
}

// ServiceDay returns the calendar-day key of t in loc.
func ServiceDay(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(ServiceDayLayout)
}

// DayBounds returns the [start, end) interval of the calendar day containing t in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// HistoryEntry records a ticket that was called to a counter.
type HistoryEntry struct {
	TicketID        string     `json:"ticket_id,omitempty"`
	Code            string     `json:"ticket_code"`
	Department      string     `json:"department"`
	ServiceDay      string     `json:"service_day"`
	CitizenName     string     `json:"citizen_name"`
	CitizenDocument string     `json:"citizen_document"`
	Preferential    bool       `json:"preferential"`
	CalledAt        time.Time  `json:"called_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// HistoryFor builds a history entry for a ticket called at calledAt.
func HistoryFor(t Ticket, calledAt time.Time) HistoryEntry {
	return HistoryEntry{
		TicketID:        t.ID,
		Code:            t.Code,
		Department:      t.Department,
		ServiceDay:      t.ServiceDay,
		CitizenName:     t.CitizenName,
		CitizenDocument: t.CitizenDocument,
		Preferential:    t.Preferential,
		CalledAt:        calledAt,
	}
}

// Refers reports whether the entry belongs to ticket t.
func (h HistoryEntry) Refers(t Ticket) bool {
	if h.TicketID != "" && t.ID != "" {
		return h.TicketID == t.ID
	}
	return h.Department == t.Department && strings.EqualFold(h.Code, t.Code) &&
		(h.ServiceDay == "" || t.ServiceDay == "" || h.ServiceDay == t.ServiceDay)
}

// ChangeOp classifies a change-feed event.
type ChangeOp string

const (
	ChangeInsert ChangeOp = "INSERT"
	ChangeUpdate ChangeOp = "UPDATE"
	ChangeDelete ChangeOp = "DELETE"
)
