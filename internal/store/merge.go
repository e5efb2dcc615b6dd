package store

import (
	"time"

	"github.com/lyanjo/fila-service/internal/domain"
)

// ApplyTicketChange merges one remote ticket change into the projection.
// Applying the same change twice leaves the state unchanged. It reports
// whether anything changed.
func (s *Store) ApplyTicketChange(op domain.ChangeOp, t domain.Ticket, now time.Time) (bool, error) {
	changed := false
	err := s.mutate(func(st *State) (bool, error) {
		changed = st.applyTicket(op, t, now)
		if changed {
			s.touchLocked(t.Department)
		}
		return changed, nil
	})
	return changed, err
}

func (st *State) applyTicket(op domain.ChangeOp, t domain.Ticket, now time.Time) bool {
	if op == domain.ChangeDelete {
		_, removed := st.removeWaiting(t)
		if cur, ok := st.Serving[t.Department]; ok && cur.Matches(t) {
			delete(st.Serving, t.Department)
			removed = true
		}
		return removed
	}
	switch t.State {
	case domain.TicketStateServing:
		return st.applyServing(t, now)
	case domain.TicketStateDone:
		return st.applyDone(t, now)
	default:
		return st.applyWaiting(op, t)
	}
}

func (st *State) applyWaiting(op domain.ChangeOp, t domain.Ticket) bool {
	if dept, idx := st.locateWaiting(t); idx >= 0 {
		local := st.Queues[dept][idx]
		if op == domain.ChangeInsert {
			if local.ID == "" && t.ID != "" {
				st.Queues[dept][idx].ID = t.ID
				return true
			}
			return false
		}
		merged := mergeTicket(local, t)
		if sameTicket(merged, local) {
			return false
		}
		st.Queues[dept][idx] = merged
		return true
	}
	if cur, ok := st.Serving[t.Department]; ok && cur.Matches(t) {
		return false
	}
	if st.historyIndex(t) >= 0 {
		return false
	}
	st.insertWaiting(t)
	return true
}

func (st *State) applyServing(t domain.Ticket, now time.Time) bool {
	local, wasWaiting := st.removeWaiting(t)
	if cur, ok := st.Serving[t.Department]; ok && cur.Matches(t) {
		merged := mergeTicket(cur, t)
		if sameTicket(merged, cur) && !wasWaiting {
			return false
		}
		st.Serving[t.Department] = merged
		return true
	}
	if i := st.historyIndex(t); i >= 0 && st.History[i].EndedAt != nil {
		return wasWaiting
	}
	if wasWaiting {
		t = mergeTicket(local, t)
	}
	if cur, ok := st.Serving[t.Department]; ok {
		st.endHistory(cur, now)
	}
	st.Serving[t.Department] = t
	if st.historyIndex(t) < 0 {
		calledAt := now
		if t.StartedAt != nil {
			calledAt = *t.StartedAt
		}
		st.History = append(st.History, domain.HistoryFor(t, calledAt))
	}
	return true
}

func (st *State) applyDone(t domain.Ticket, now time.Time) bool {
	_, changed := st.removeWaiting(t)
	if cur, ok := st.Serving[t.Department]; ok && cur.Matches(t) {
		delete(st.Serving, t.Department)
		t = mergeTicket(cur, t)
		changed = true
	}
	ended := now
	if t.UpdatedAt != nil {
		ended = *t.UpdatedAt
	}
	if i := st.historyIndex(t); i >= 0 {
		if st.History[i].EndedAt != nil {
			return changed
		}
		st.History[i].EndedAt = &ended
		if st.History[i].TicketID == "" {
			st.History[i].TicketID = t.ID
		}
		return true
	}
	if !changed {
		return false
	}
	st.endHistory(t, ended)
	return true
}

// ReplaceWaiting swaps the waiting queues for a fresh ledger snapshot. With an
// empty department every queue is replaced. Tickets not yet written to the
// ledger and tickets already called locally are kept as they are. Departments
// that changed since mark, or have a ledger write in flight, are skipped.
func (s *Store) ReplaceWaiting(department string, remote []domain.Ticket, mark Mark) error {
	return s.mutate(func(st *State) (bool, error) {
		byDept := map[string][]domain.Ticket{}
		for _, t := range remote {
			if department != "" && t.Department != department {
				continue
			}
			byDept[t.Department] = append(byDept[t.Department], t)
		}
		scope := map[string]struct{}{}
		if department != "" {
			scope[department] = struct{}{}
		} else {
			for d := range st.Queues {
				scope[d] = struct{}{}
			}
			for d := range byDept {
				scope[d] = struct{}{}
			}
		}
		for dept := range scope {
			if !s.settledLocked(mark, dept) {
				continue
			}
			local := st.Queues[dept]
			next := make([]domain.Ticket, 0, len(byDept[dept])+len(local))
			for _, r := range byDept[dept] {
				if cur, ok := st.Serving[dept]; ok && cur.Matches(r) {
					continue
				}
				if st.historyIndex(r) >= 0 {
					continue
				}
				for _, l := range local {
					if l.Matches(r) {
						r = mergeTicket(l, r)
						break
					}
				}
				next = append(next, r)
			}
			for _, l := range local {
				if l.ID != "" {
					continue
				}
				known := false
				for _, n := range next {
					if n.Matches(l) {
						known = true
						break
					}
				}
				if !known {
					next = append(next, l)
				}
			}
			sortByCreation(next)
			if len(next) == 0 {
				delete(st.Queues, dept)
				continue
			}
			st.Queues[dept] = next
		}
		return true, nil
	})
}

// ReplaceServing reconciles the in-service tickets with a ledger snapshot for
// department, or for every department when department is empty. A local
// ticket whose opening is still journaled survives a snapshot that lacks it,
// and departments that moved since mark are left as they are.
func (s *Store) ReplaceServing(department string, remote []domain.Ticket, mark Mark, now time.Time) error {
	return s.mutate(func(st *State) (bool, error) {
		latest := map[string]domain.Ticket{}
		for _, t := range remote {
			if department != "" && t.Department != department {
				continue
			}
			prev, ok := latest[t.Department]
			if !ok || startedAfter(t, prev) {
				latest[t.Department] = t
			}
		}
		scope := map[string]struct{}{}
		if department != "" {
			scope[department] = struct{}{}
		} else {
			for d := range st.Serving {
				scope[d] = struct{}{}
			}
			for d := range latest {
				scope[d] = struct{}{}
			}
		}
		changed := false
		for dept := range scope {
			if !s.settledLocked(mark, dept) {
				continue
			}
			if r, ok := latest[dept]; ok {
				if st.applyServing(r, now) {
					changed = true
				}
				continue
			}
			cur, ok := st.Serving[dept]
			if !ok || cur.ID == "" || st.pendingFor(cur.Key()) {
				continue
			}
			delete(st.Serving, dept)
			st.endHistory(cur, now)
			changed = true
		}
		return changed, nil
	})
}

func startedAfter(a, b domain.Ticket) bool {
	if a.StartedAt == nil {
		return false
	}
	if b.StartedAt == nil {
		return true
	}
	return a.StartedAt.After(*b.StartedAt)
}

// RemoveUser drops a cached user.
func (s *Store) RemoveUser(email string) error {
	return s.mutate(func(st *State) (bool, error) {
		if _, ok := st.Users[email]; !ok {
			return false, nil
		}
		delete(st.Users, email)
		return true, nil
	})
}
