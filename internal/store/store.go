// Package store holds the terminal's local projection of the queues and the
// offline journal, persisted after every mutation.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lyanjo/fila-service/internal/domain"
	"github.com/lyanjo/fila-service/internal/journal"
)

var (
	// ErrQueueEmpty is returned when a department has nobody waiting.
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrAlreadyServing is returned when a department already has a ticket in service.
	ErrAlreadyServing = errors.New("department already serving a ticket")
)

// Persister stores the serialized state durably.
type Persister interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// Options tunes a Store.
type Options struct {
	HistoryLimit int
	Logger       *zap.Logger
}

// Store is the single owner of local queue state. All methods are safe for
// concurrent use and each mutation is written through to the Persister
// before it returns.
type Store struct {
	mu           sync.Mutex
	state        State
	persister    Persister
	historyLimit int
	logger       *zap.Logger

	// versions and holds are per department and never persisted.
	versions map[string]uint64
	holds    map[string]int
}

// Mark records the per-department change versions at one instant. A ledger
// snapshot read after taking a Mark only replaces departments that did not
// change locally in between.
type Mark map[string]uint64

// Open loads the persisted state, starting empty when nothing was saved.
func Open(p Persister, opts Options) (*Store, error) {
	if p == nil {
		return nil, errors.New("store persister is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = 200
	}
	s := &Store{
		persister:    p,
		historyLimit: limit,
		logger:       logger,
		state:        newState(),
		versions:     map[string]uint64{},
		holds:        map[string]int{},
	}
	raw, err := p.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if len(raw) > 0 {
		var st State
		if err := json.Unmarshal(raw, &st); err != nil {
			return nil, fmt.Errorf("decode state: %w", err)
		}
		st.ensure()
		s.state = st
	}
	return s, nil
}

func (s *Store) mutate(fn func(st *State) (bool, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed, err := fn(&s.state)
	if err != nil || !changed {
		return err
	}
	s.trimHistory()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	raw, err := json.Marshal(s.state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := s.persister.Save(raw); err != nil {
		s.logger.Error("persist local state", zap.Error(err))
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

func (s *Store) trimHistory() {
	if over := len(s.state.History) - s.historyLimit; over > 0 {
		s.state.History = append([]domain.HistoryEntry(nil), s.state.History[over:]...)
	}
}

// touchLocked records a local change to department. s.mu must be held.
func (s *Store) touchLocked(department string) {
	s.versions[department]++
}

// Mark captures the current department versions.
func (s *Store) Mark() Mark {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := make(Mark, len(s.versions))
	for d, v := range s.versions {
		m[d] = v
	}
	return m
}

// Hold marks a ledger write for department as in flight. Snapshots leave the
// department alone until the returned release is called.
func (s *Store) Hold(department string) (release func()) {
	s.mu.Lock()
	s.holds[department]++
	s.touchLocked(department)
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.holds[department]--; s.holds[department] <= 0 {
				delete(s.holds, department)
			}
			s.touchLocked(department)
		})
	}
}

// settledLocked reports whether department is unchanged since mark and has
// no ledger write in flight. A nil mark always settles. s.mu must be held.
func (s *Store) settledLocked(mark Mark, department string) bool {
	if mark == nil {
		return true
	}
	return s.holds[department] == 0 && s.versions[department] == mark[department]
}

// Snapshot returns a deep copy of the whole state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Waiting returns the waiting tickets of department in queue order.
func (s *Store) Waiting(department string) []domain.Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Ticket(nil), s.state.Queues[department]...)
}

// Serving returns the ticket currently in service at department.
func (s *Store) Serving(department string) (domain.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.state.Serving[department]
	return t, ok
}

// History returns the called tickets, oldest first.
func (s *Store) History() []domain.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.HistoryEntry(nil), s.state.History...)
}

// FindTicket looks a ticket up by natural key among waiting and serving tickets.
func (s *Store) FindTicket(key domain.TicketKey) (domain.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lookup := domain.Ticket{Department: key.Department, Code: key.Code, ServiceDay: key.ServiceDay}
	if cur, ok := s.state.Serving[key.Department]; ok && cur.Matches(lookup) {
		return cur, true
	}
	if dept, idx := s.state.locateWaiting(lookup); idx >= 0 {
		return s.state.Queues[dept][idx], true
	}
	return domain.Ticket{}, false
}

// Enqueue appends a freshly issued ticket. It reports false when the ticket
// is already known.
func (s *Store) Enqueue(t domain.Ticket) (bool, error) {
	added := false
	err := s.mutate(func(st *State) (bool, error) {
		if _, idx := st.locateWaiting(t); idx >= 0 {
			return false, nil
		}
		if cur, ok := st.Serving[t.Department]; ok && cur.Matches(t) {
			return false, nil
		}
		st.insertWaiting(t)
		s.touchLocked(t.Department)
		added = true
		return true, nil
	})
	return added, err
}

// StartServing removes the ticket chosen by pick from department's queue and
// puts it in service. pick receives the queue in order and returns an index.
func (s *Store) StartServing(department string, now time.Time, pick func([]domain.Ticket) int) (domain.Ticket, error) {
	var started domain.Ticket
	err := s.mutate(func(st *State) (bool, error) {
		if _, busy := st.Serving[department]; busy {
			return false, ErrAlreadyServing
		}
		q := st.Queues[department]
		if len(q) == 0 {
			return false, ErrQueueEmpty
		}
		idx := pick(append([]domain.Ticket(nil), q...))
		if idx < 0 || idx >= len(q) {
			idx = 0
		}
		started = q[idx]
		st.Queues[department] = append(q[:idx:idx], q[idx+1:]...)
		at := now
		started.State = domain.TicketStateServing
		started.StartedAt = &at
		st.Serving[department] = started
		st.History = append(st.History, domain.HistoryFor(started, now))
		s.touchLocked(department)
		return true, nil
	})
	return started, err
}

// FinishServing takes department's ticket out of service and stamps its
// history entry.
func (s *Store) FinishServing(department string, now time.Time) (domain.Ticket, bool, error) {
	var finished domain.Ticket
	var ok bool
	err := s.mutate(func(st *State) (bool, error) {
		finished, ok = st.Serving[department]
		if !ok {
			return false, nil
		}
		delete(st.Serving, department)
		finished.State = domain.TicketStateDone
		st.endHistory(finished, now)
		s.touchLocked(department)
		return true, nil
	})
	return finished, ok, err
}

func (st *State) endHistory(t domain.Ticket, now time.Time) {
	at := now
	if i := st.historyIndex(t); i >= 0 {
		if st.History[i].EndedAt == nil {
			st.History[i].EndedAt = &at
		}
		if st.History[i].TicketID == "" {
			st.History[i].TicketID = t.ID
		}
		return
	}
	calledAt := now
	if t.StartedAt != nil {
		calledAt = *t.StartedAt
	}
	entry := domain.HistoryFor(t, calledAt)
	entry.EndedAt = &at
	st.History = append(st.History, entry)
}

// AttachTicketID records the ledger id of a ticket known by natural key.
func (s *Store) AttachTicketID(key domain.TicketKey, id string) error {
	return s.mutate(func(st *State) (bool, error) {
		lookup := domain.Ticket{Department: key.Department, Code: key.Code, ServiceDay: key.ServiceDay}
		changed := false
		if dept, idx := st.locateWaiting(lookup); idx >= 0 && st.Queues[dept][idx].ID == "" {
			st.Queues[dept][idx].ID = id
			changed = true
		}
		if cur, ok := st.Serving[key.Department]; ok && cur.ID == "" && cur.Matches(lookup) {
			cur.ID = id
			st.Serving[key.Department] = cur
			changed = true
		}
		if i := st.historyIndex(lookup); i >= 0 && st.History[i].TicketID == "" {
			st.History[i].TicketID = id
			changed = true
		}
		if changed {
			s.touchLocked(key.Department)
		}
		return changed, nil
	})
}

// AppendJournal durably queues op.
func (s *Store) AppendJournal(op journal.Operation, now time.Time) (journal.Entry, error) {
	entry := journal.NewEntry(op, now)
	err := s.mutate(func(st *State) (bool, error) {
		st.Journal = append(st.Journal, entry)
		return true, nil
	})
	return entry, err
}

// Journal returns the queued entries in order.
func (s *Store) Journal() []journal.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]journal.Entry(nil), s.state.Journal...)
}

// JournalLen returns the number of queued entries.
func (s *Store) JournalLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.Journal)
}

// RemoveJournal drops entries by id.
func (s *Store) RemoveJournal(ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	_, err := s.dropJournal(func(e journal.Entry) bool {
		_, ok := drop[e.ID]
		return ok
	})
	return err
}

// DropJournal removes every entry matching pred and returns how many went.
func (s *Store) DropJournal(pred func(journal.Entry) bool) (int, error) {
	return s.dropJournal(pred)
}

func (s *Store) dropJournal(pred func(journal.Entry) bool) (int, error) {
	removed := 0
	err := s.mutate(func(st *State) (bool, error) {
		kept := st.Journal[:0:0]
		for _, e := range st.Journal {
			if pred(e) {
				removed++
				continue
			}
			kept = append(kept, e)
		}
		st.Journal = kept
		return removed > 0, nil
	})
	return removed, err
}

// RecordAttempts bumps the attempt counter of entries that stayed queued.
func (s *Store) RecordAttempts(failures map[string]string) error {
	if len(failures) == 0 {
		return nil
	}
	return s.mutate(func(st *State) (bool, error) {
		for i := range st.Journal {
			if msg, ok := failures[st.Journal[i].ID]; ok {
				st.Journal[i].Attempts++
				st.Journal[i].LastError = msg
			}
		}
		return true, nil
	})
}

// Counter returns the last sequence issued for room on day.
func (s *Store) Counter(room, day string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Counters[counterKey(room, day)]
}

// SetCounter stores the last sequence for room on day. Counters of other
// days are discarded.
func (s *Store) SetCounter(room, day string, n int) error {
	return s.mutate(func(st *State) (bool, error) {
		suffix := "|" + day
		for k := range st.Counters {
			if !strings.HasSuffix(k, suffix) {
				delete(st.Counters, k)
			}
		}
		st.Counters[counterKey(room, day)] = n
		return true, nil
	})
}

// DailyCount returns tickets issued on day.
func (s *Store) DailyCount(day string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.DailyCounts[day]
}

// IncrementDailyCount counts one more ticket on day.
func (s *Store) IncrementDailyCount(day string) (int, error) {
	var n int
	err := s.mutate(func(st *State) (bool, error) {
		resetCounts(st, day)
		st.DailyCounts[day]++
		n = st.DailyCounts[day]
		return true, nil
	})
	return n, err
}

// SyncDailyCount replaces the count for day with the ledger's count plus the
// tickets still waiting in the journal.
func (s *Store) SyncDailyCount(day string, remote int) error {
	return s.mutate(func(st *State) (bool, error) {
		pending := 0
		for _, e := range st.Journal {
			if op, ok := e.Op.(journal.CreateTicket); ok && op.Ticket.ServiceDay == day {
				pending++
			}
		}
		resetCounts(st, day)
		n := remote + pending
		if st.DailyCounts[day] == n {
			return false, nil
		}
		st.DailyCounts[day] = n
		return true, nil
	})
}

func resetCounts(st *State, day string) {
	for k := range st.DailyCounts {
		if k != day {
			delete(st.DailyCounts, k)
		}
	}
}

// PutCitizen caches a citizen by document.
func (s *Store) PutCitizen(c domain.Citizen) error {
	return s.mutate(func(st *State) (bool, error) {
		if prev, ok := st.Citizens[c.Document]; ok && c.ID == "" {
			c.ID = prev.ID
		}
		st.Citizens[c.Document] = c
		return true, nil
	})
}

// Citizen returns a cached citizen.
func (s *Store) Citizen(document string) (domain.Citizen, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.Citizens[document]
	return c, ok
}

// SearchCitizens matches cached citizens by name fragment or document prefix,
// sorted by name.
func (s *Store) SearchCitizens(query string, limit int) []domain.Citizen {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(strings.TrimSpace(query))
	doc := domain.NormalizeDocument(query)
	var out []domain.Citizen
	for _, c := range s.state.Citizens {
		if q == "" || strings.Contains(strings.ToLower(c.Name), q) || (doc != "" && strings.HasPrefix(c.Document, doc)) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// PutUser caches a user, keyed by email. A previous entry under
// previousEmail is replaced.
func (s *Store) PutUser(previousEmail string, u domain.User) error {
	return s.mutate(func(st *State) (bool, error) {
		if previousEmail != "" && previousEmail != u.Email {
			if prev, ok := st.Users[previousEmail]; ok {
				if u.ID == "" {
					u.ID = prev.ID
				}
				if u.PasswordHash == nil {
					u.PasswordHash = prev.PasswordHash
				}
				delete(st.Users, previousEmail)
			}
		}
		if prev, ok := st.Users[u.Email]; ok {
			if u.ID == "" {
				u.ID = prev.ID
			}
			if u.PasswordHash == nil {
				u.PasswordHash = prev.PasswordHash
			}
		}
		st.Users[u.Email] = u
		return true, nil
	})
}

// User returns a cached user.
func (s *Store) User(email string) (domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.state.Users[email]
	return u, ok
}

// Users returns cached users sorted by email.
func (s *Store) Users() []domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.User, 0, len(s.state.Users))
	for _, u := range s.state.Users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out
}
