package store

import (
	"sort"
	"time"

	"github.com/lyanjo/fila-service/internal/domain"
	"github.com/lyanjo/fila-service/internal/journal"
)

// State is the persisted local projection of the queues.
type State struct {
	Queues      map[string][]domain.Ticket `json:"queues"`
	Serving     map[string]domain.Ticket   `json:"serving"`
	History     []domain.HistoryEntry      `json:"history"`
	Journal     []journal.Entry            `json:"journal"`
	DailyCounts map[string]int             `json:"daily_counts"`
	Counters    map[string]int             `json:"counters"`
	Citizens    map[string]domain.Citizen  `json:"citizens"`
	Users       map[string]domain.User     `json:"users"`
}

func newState() State {
	var s State
	s.ensure()
	return s
}

func (s *State) ensure() {
	if s.Queues == nil {
		s.Queues = map[string][]domain.Ticket{}
	}
	if s.Serving == nil {
		s.Serving = map[string]domain.Ticket{}
	}
	if s.DailyCounts == nil {
		s.DailyCounts = map[string]int{}
	}
	if s.Counters == nil {
		s.Counters = map[string]int{}
	}
	if s.Citizens == nil {
		s.Citizens = map[string]domain.Citizen{}
	}
	if s.Users == nil {
		s.Users = map[string]domain.User{}
	}
}

func (s State) clone() State {
	out := State{
		Queues:      make(map[string][]domain.Ticket, len(s.Queues)),
		Serving:     make(map[string]domain.Ticket, len(s.Serving)),
		History:     append([]domain.HistoryEntry(nil), s.History...),
		Journal:     append([]journal.Entry(nil), s.Journal...),
		DailyCounts: make(map[string]int, len(s.DailyCounts)),
		Counters:    make(map[string]int, len(s.Counters)),
		Citizens:    make(map[string]domain.Citizen, len(s.Citizens)),
		Users:       make(map[string]domain.User, len(s.Users)),
	}
	for k, v := range s.Queues {
		out.Queues[k] = append([]domain.Ticket(nil), v...)
	}
	for k, v := range s.Serving {
		out.Serving[k] = v
	}
	for k, v := range s.DailyCounts {
		out.DailyCounts[k] = v
	}
	for k, v := range s.Counters {
		out.Counters[k] = v
	}
	for k, v := range s.Citizens {
		out.Citizens[k] = v
	}
	for k, v := range s.Users {
		out.Users[k] = v
	}
	return out
}

// locateWaiting finds t in any department queue.
func (s *State) locateWaiting(t domain.Ticket) (string, int) {
	if q, ok := s.Queues[t.Department]; ok {
		for i, w := range q {
			if w.Matches(t) {
				return t.Department, i
			}
		}
	}
	for dept, q := range s.Queues {
		if dept == t.Department {
			continue
		}
		for i, w := range q {
			if w.Matches(t) {
				return dept, i
			}
		}
	}
	return "", -1
}

func (s *State) removeWaiting(t domain.Ticket) (domain.Ticket, bool) {
	dept, idx := s.locateWaiting(t)
	if idx < 0 {
		return domain.Ticket{}, false
	}
	q := s.Queues[dept]
	removed := q[idx]
	s.Queues[dept] = append(q[:idx:idx], q[idx+1:]...)
	return removed, true
}

func (s *State) insertWaiting(t domain.Ticket) {
	q := append(s.Queues[t.Department], t)
	sortByCreation(q)
	s.Queues[t.Department] = q
}

func (s *State) historyIndex(t domain.Ticket) int {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Refers(t) {
			return i
		}
	}
	return -1
}

func (s *State) pendingFor(key domain.TicketKey) bool {
	want := journal.NaturalKey(journal.UpdateTicket{Key: key})
	for _, e := range s.Journal {
		if journal.NaturalKey(e.Op) == want {
			return true
		}
	}
	return false
}

func sortByCreation(q []domain.Ticket) {
	sort.SliceStable(q, func(i, j int) bool {
		return q[i].CreatedAt.Before(q[j].CreatedAt)
	})
}

func mergeTicket(local, remote domain.Ticket) domain.Ticket {
	merged := remote
	if merged.LocalID == "" {
		merged.LocalID = local.LocalID
	}
	if merged.ID == "" {
		merged.ID = local.ID
	}
	merged.Preferential = remote.Preferential || local.Preferential
	if merged.CitizenName == "" {
		merged.CitizenName = local.CitizenName
	}
	if merged.StartedAt == nil {
		merged.StartedAt = local.StartedAt
	}
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = local.CreatedAt
	}
	return merged
}

func sameTicket(a, b domain.Ticket) bool {
	return a.ID == b.ID && a.LocalID == b.LocalID && a.Department == b.Department &&
		a.Code == b.Code && a.ServiceDay == b.ServiceDay && a.CitizenName == b.CitizenName &&
		a.CitizenDocument == b.CitizenDocument && a.Preferential == b.Preferential &&
		a.State == b.State && a.CreatedAt.Equal(b.CreatedAt) &&
		sameInstant(a.StartedAt, b.StartedAt) && sameInstant(a.UpdatedAt, b.UpdatedAt)
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func counterKey(room, day string) string {
	return room + "|" + day
}
