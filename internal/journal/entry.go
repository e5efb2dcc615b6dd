package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one queued operation plus its delivery bookkeeping.
type Entry struct {
	ID         string
	Op         Operation
	EnqueuedAt time.Time
	Attempts   int
	LastError  string
}

// NewEntry wraps op in a fresh entry.
func NewEntry(op Operation, now time.Time) Entry {
	return Entry{ID: uuid.NewString(), Op: op, EnqueuedAt: now}
}

type envelope struct {
	ID         string          `json:"id"`
	Type       OpType          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Op == nil {
		return nil, fmt.Errorf("journal entry %s has no operation", e.ID)
	}
	payload, err := json.Marshal(e.Op)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		ID:         e.ID,
		Type:       e.Op.Type(),
		Payload:    payload,
		EnqueuedAt: e.EnqueuedAt,
		Attempts:   e.Attempts,
		LastError:  e.LastError,
	})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	op, err := decodeOperation(env.Type, env.Payload)
	if err != nil {
		return fmt.Errorf("journal entry %s: %w", env.ID, err)
	}
	*e = Entry{
		ID:         env.ID,
		Op:         op,
		EnqueuedAt: env.EnqueuedAt,
		Attempts:   env.Attempts,
		LastError:  env.LastError,
	}
	return nil
}

func decodeOperation(t OpType, payload json.RawMessage) (Operation, error) {
	var op Operation
	switch t {
	case OpCreateTicket:
		op = &CreateTicket{}
	case OpCreateCitizen:
		op = &CreateCitizen{}
	case OpCreateUser:
		op = &CreateUser{}
	case OpUpdateTicket:
		op = &UpdateTicket{}
	case OpUpdateUser:
		op = &UpdateUser{}
	default:
		return nil, fmt.Errorf("unknown operation type %q", t)
	}
	if err := json.Unmarshal(payload, op); err != nil {
		return nil, err
	}
	return deref(op), nil
}

func deref(op Operation) Operation {
	switch o := op.(type) {
	case *CreateTicket:
		return *o
	case *CreateCitizen:
		return *o
	case *CreateUser:
		return *o
	case *UpdateTicket:
		return *o
	case *UpdateUser:
		return *o
	}
	return op
}
