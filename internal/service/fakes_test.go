package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lyanjo/fila-service/internal/domain"
	"github.com/lyanjo/fila-service/internal/repository"
	"github.com/lyanjo/fila-service/internal/store"
)

var errOffline = fmt.Errorf("dial ledger: %w", repository.ErrLedgerUnavailable)

type memPersister struct {
	mu   sync.Mutex
	data []byte
	fail error
}

func (m *memPersister) Load() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...), nil
}

func (m *memPersister) Save(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.data = append([]byte(nil), data...)
	return nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(&memPersister{}, store.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

type fakeConn struct{ online bool }

func (f *fakeConn) Online() bool { return f.online }

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

type fakeTickets struct {
	mu        sync.Mutex
	rows      map[string]domain.Ticket
	seq       int
	err       error
	createErr []error
	updateErr []error
	updates   []string
	// beforeUpdate runs ahead of every UpdateProgress, outside the lock.
	beforeUpdate func()
}

func newFakeTickets() *fakeTickets {
	return &fakeTickets{rows: map[string]domain.Ticket{}}
}

func (f *fakeTickets) Create(_ context.Context, t *domain.Ticket) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if len(f.createErr) > 0 {
		err := f.createErr[0]
		f.createErr = f.createErr[1:]
		if err != nil {
			return err
		}
	}
	for _, row := range f.rows {
		if row.Key().LedgerKey() == t.Key().LedgerKey() {
			return &pgconn.PgError{Code: "23505"}
		}
	}
	f.seq++
	t.ID = fmt.Sprintf("t-%d", f.seq)
	f.rows[t.ID] = *t
	return nil
}

func (f *fakeTickets) UpdateProgress(_ context.Context, id string, state domain.TicketState, startedAt *time.Time) error {
	if f.beforeUpdate != nil {
		f.beforeUpdate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if len(f.updateErr) > 0 {
		err := f.updateErr[0]
		f.updateErr = f.updateErr[1:]
		if err != nil {
			return err
		}
	}
	row, ok := f.rows[id]
	if !ok {
		return pgx.ErrNoRows
	}
	row.State = state
	if startedAt != nil {
		row.StartedAt = startedAt
	}
	f.rows[id] = row
	f.updates = append(f.updates, id+":"+string(state))
	return nil
}

func (f *fakeTickets) GetByCode(_ context.Context, key domain.TicketKey) (*domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, row := range f.rows {
		if row.Key().LedgerKey() == key.LedgerKey() {
			r := row
			return &r, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeTickets) MaxSequence(_ context.Context, prefix, day string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	highest := 0
	for _, row := range f.rows {
		if row.ServiceDay != day {
			continue
		}
		if n, ok := domain.ParseTicketSequence(row.Code, prefix); ok && n > highest {
			highest = n
		}
	}
	return highest, nil
}

func (f *fakeTickets) list(state domain.TicketState, department string) []domain.Ticket {
	var out []domain.Ticket
	for _, row := range f.rows {
		if row.State == state && (department == "" || row.Department == department) {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (f *fakeTickets) ListWaiting(_ context.Context, department string) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.list(domain.TicketStateWaiting, department), nil
}

func (f *fakeTickets) ListServing(_ context.Context, department string) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.list(domain.TicketStateServing, department), nil
}

func (f *fakeTickets) ListChangedSince(context.Context, time.Time, string, int) ([]domain.Ticket, error) {
	return nil, nil
}

func (f *fakeTickets) CountCreated(_ context.Context, day string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, row := range f.rows {
		if row.ServiceDay == day {
			n++
		}
	}
	return n, nil
}

func (f *fakeTickets) put(row domain.Ticket) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[row.ID] = row
}

func (f *fakeTickets) servingIn(department string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, row := range f.list(domain.TicketStateServing, department) {
		out = append(out, row.Code)
	}
	return out
}

func (f *fakeTickets) state(code string) domain.TicketState {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.Code == code {
			return row.State
		}
	}
	return ""
}

type fakeCitizens struct {
	rows map[string]domain.Citizen
	err  error
}

func (f *fakeCitizens) Upsert(_ context.Context, c *domain.Citizen) error {
	if f.err != nil {
		return f.err
	}
	if prev, ok := f.rows[c.Document]; ok {
		c.ID = prev.ID
	} else {
		c.ID = "c-" + c.Document
	}
	f.rows[c.Document] = *c
	return nil
}

func (f *fakeCitizens) GetByDocument(_ context.Context, doc string) (*domain.Citizen, error) {
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.rows[doc]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &c, nil
}

func (f *fakeCitizens) Search(context.Context, string, int) ([]domain.Citizen, error) {
	if f.err != nil {
		return nil, f.err
	}
	return nil, nil
}

func (f *fakeCitizens) PreferentialByDocuments(_ context.Context, docs []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, d := range docs {
		if c, ok := f.rows[d]; ok {
			out[d] = c.Preferential
		}
	}
	return out, nil
}

type fakeUsers struct {
	rows       map[string]domain.User
	err        error
	upsertCall int
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{rows: map[string]domain.User{}}
}

func (f *fakeUsers) Upsert(_ context.Context, u *domain.User) error {
	f.upsertCall++
	if f.err != nil {
		return f.err
	}
	if u.PasswordHash == nil {
		return &pgconn.PgError{Code: "23502", ColumnName: "password_hash"}
	}
	if prev, ok := f.rows[u.Email]; ok {
		u.ID = prev.ID
	} else {
		u.ID = "u-" + u.Email
	}
	f.rows[u.Email] = *u
	return nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.rows[email]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &u, nil
}

func (f *fakeUsers) Update(_ context.Context, email string, changes domain.UserChanges) (*domain.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.rows[email]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	u = changes.Apply(u)
	delete(f.rows, email)
	f.rows[u.Email] = u
	return &u, nil
}

func (f *fakeUsers) List(context.Context) ([]domain.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.User, 0, len(f.rows))
	for _, u := range f.rows {
		out = append(out, u)
	}
	return out, nil
}

type fakeCounter struct {
	values map[string]int
	err    error
	seeds  int
}

func (f *fakeCounter) Next(ctx context.Context, room, day string, seed repository.SeedFunc) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	key := room + day
	if _, ok := f.values[key]; !ok {
		f.seeds++
		base, _ := seed(ctx)
		f.values[key] = base
	}
	f.values[key]++
	return f.values[key], nil
}
