package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lyanjo/fila-service/internal/domain"
	"github.com/lyanjo/fila-service/internal/journal"
	"github.com/lyanjo/fila-service/internal/scheduler"
	"github.com/lyanjo/fila-service/internal/store"
)

type memPersister struct {
	mu   sync.Mutex
	data []byte
}

func (m *memPersister) Load() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...), nil
}

func (m *memPersister) Save(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	return nil
}

var now = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return now }

func newStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(&memPersister{}, store.Options{})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return st
}

type fakeCitizens struct {
	flags map[string]bool
	calls int
}

func (f *fakeCitizens) PreferentialByDocuments(_ context.Context, docs []string) (map[string]bool, error) {
	f.calls++
	out := map[string]bool{}
	for _, d := range docs {
		if f.flags[d] {
			out[d] = true
		}
	}
	return out, nil
}

type fakeSource struct {
	mu      sync.Mutex
	waiting []domain.Ticket
	serving []domain.Ticket
	changed []domain.Ticket
	count   int
	users   []domain.User
	err     error
	since   []time.Time
}

func filter(in []domain.Ticket, dept string) []domain.Ticket {
	var out []domain.Ticket
	for _, t := range in {
		if dept == "" || t.Department == dept {
			out = append(out, t)
		}
	}
	return out
}

func (f *fakeSource) ListWaiting(_ context.Context, dept string) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filter(f.waiting, dept), f.err
}

func (f *fakeSource) ListServing(_ context.Context, dept string) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return filter(f.serving, dept), f.err
}

func (f *fakeSource) ListChangedSince(_ context.Context, since time.Time, afterID string, limit int) ([]domain.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = append(f.since, since)
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Ticket
	for _, t := range f.changed {
		at := *t.UpdatedAt
		if at.Before(since) || (at.Equal(since) && t.ID <= afterID) {
			continue
		}
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) CountCreated(context.Context, string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count, f.err
}

func (f *fakeSource) List(context.Context) ([]domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users, f.err
}

func waiting(id, dept, code string, minute int) domain.Ticket {
	return domain.Ticket{
		ID:         id,
		Department: dept,
		Code:       code,
		ServiceDay: "2026-10-19",
		State:      domain.TicketStateWaiting,
		CreatedAt:  now.Add(time.Duration(minute-60) * time.Minute),
	}
}

func TestDecodeChange(t *testing.T) {
	payload := `{"table":"tickets","op":"UPDATE","record":{"id":"a1","department":"60","ticket_code":"S06-004",
		"service_day":"2026-10-19","citizen_name":"Ana","citizen_document":"123","preferential":true,
		"completed":false,"created_at":"2026-10-19T11:00:00.123456+00:00","started_at":"2026-10-19T11:30:00+00:00",
		"updated_at":"2026-10-19T11:30:00+00:00"}}`
	ch, err := DecodeChange([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeChange: %v", err)
	}
	if ch.Op != domain.ChangeUpdate || ch.Ticket == nil {
		t.Fatalf("DecodeChange=%+v", ch)
	}
	tk := ch.Ticket
	if tk.State != domain.TicketStateServing || tk.Department != "60" || tk.Code != "S06-004" || !tk.Preferential || tk.StartedAt == nil {
		t.Fatalf("ticket=%+v", tk)
	}

	ch, err = DecodeChange([]byte(`{"table":"users","op":"delete","record":{"id":"u1","email":"Op@X.org","role":"6","active":true}}`))
	if err != nil {
		t.Fatalf("DecodeChange(user): %v", err)
	}
	if ch.Op != domain.ChangeDelete || ch.User == nil || ch.User.Email != "op@x.org" {
		t.Fatalf("DecodeChange(user)=%+v", ch)
	}

	for _, bad := range []string{`nope`, `{"table":"tickets","op":"TRUNCATE","record":{}}`} {
		if _, err := DecodeChange([]byte(bad)); err == nil {
			t.Fatalf("DecodeChange(%q) expected error", bad)
		}
	}
}

func TestApplierEnrichesPreferential(t *testing.T) {
	st := newStore(t)
	if err := st.PutCitizen(domain.Citizen{Document: "111", Preferential: true}); err != nil {
		t.Fatalf("PutCitizen: %v", err)
	}
	citizens := &fakeCitizens{flags: map[string]bool{"222": true}}
	a := NewApplier(st, citizens, fixedNow, zap.NewNop())

	cached := waiting("a", "1", "S01-001", 1)
	cached.CitizenDocument = "111"
	remote := waiting("b", "1", "S01-002", 2)
	remote.CitizenDocument = "222.-"
	plain := waiting("c", "1", "S01-003", 3)
	plain.CitizenDocument = "333"

	if err := a.ApplySnapshot(t.Context(), "1", nil, []domain.Ticket{cached, remote, plain}, nil); err != nil {
		t.Fatalf("ApplySnapshot: %v", err)
	}
	got := st.Waiting("1")
	want := []bool{true, true, false}
	if len(got) != len(want) {
		t.Fatalf("Waiting(1)=%+v", got)
	}
	for i := range want {
		if got[i].Preferential != want[i] {
			t.Fatalf("Waiting(1)[%d].Preferential=%v, want %v", i, got[i].Preferential, want[i])
		}
	}
	if citizens.calls != 1 {
		t.Fatalf("ledger lookups=%d, want 1", citizens.calls)
	}
}

func TestFeedHandleAppliesEventsOnce(t *testing.T) {
	st := newStore(t)
	f := NewFeed(nil, NewApplier(st, nil, fixedNow, nil), FeedOptions{})
	insert := []byte(`{"table":"tickets","op":"INSERT","record":{"id":"t1","department":"3","ticket_code":"S03-001",
		"service_day":"2026-10-19","completed":null,"created_at":"2026-10-19T10:00:00Z"}}`)
	f.Handle(t.Context(), insert)
	f.Handle(t.Context(), insert)
	if got := st.Waiting("3"); len(got) != 1 || got[0].ID != "t1" {
		t.Fatalf("Waiting(3)=%+v", got)
	}

	f.Handle(t.Context(), []byte(`{"table":"tickets","op":"UPDATE","record":{"id":"t1","department":"3","ticket_code":"S03-001",
		"service_day":"2026-10-19","completed":true,"created_at":"2026-10-19T10:00:00Z"}}`))
	if len(st.Waiting("3")) != 0 {
		t.Fatal("completed ticket still waiting")
	}
	// an update for a ticket already gone is a no-op
	f.Handle(t.Context(), []byte(`{"table":"tickets","op":"UPDATE","record":{"id":"t1","department":"3","ticket_code":"S03-001",
		"service_day":"2026-10-19","completed":null,"created_at":"2026-10-19T10:00:00Z"}}`))
	if len(st.Waiting("3")) != 0 {
		t.Fatal("stale update resurrected ticket")
	}

	f.Handle(t.Context(), []byte(`{"table":"users","op":"INSERT","record":{"id":"u1","email":"op@x.org","role":"3","active":true}}`))
	if _, ok := st.User("op@x.org"); !ok {
		t.Fatal("user insert not cached")
	}
	f.Handle(t.Context(), []byte(`garbage`))
	if f.Received() != 6 {
		t.Fatalf("Received=%d, want 6", f.Received())
	}
}

type scriptedListener struct {
	calls  atomic.Int32
	events chan []byte
}

func (l *scriptedListener) Listen(ctx context.Context, _ string, ready func(), handle func([]byte)) error {
	if l.calls.Add(1) == 1 {
		return errors.New("connection refused")
	}
	ready()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p := <-l.events:
			handle(p)
		}
	}
}

func TestFeedReconnectsAndReportsAvailability(t *testing.T) {
	st := newStore(t)
	l := &scriptedListener{events: make(chan []byte)}
	connected := make(chan struct{}, 1)
	f := NewFeed(l, NewApplier(st, nil, fixedNow, nil), FeedOptions{
		MinBackoff: time.Millisecond,
		MaxBackoff: 5 * time.Millisecond,
		OnConnect:  func(context.Context) { connected <- struct{}{} },
	})
	if f.Available() {
		t.Fatal("feed available before subscribing")
	}
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		f.Run(ctx)
		close(done)
	}()
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("feed never resubscribed")
	}
	if !f.Available() {
		t.Fatal("feed not available after subscribing")
	}
	l.events <- []byte(`{"table":"tickets","op":"INSERT","record":{"id":"t9","department":"9","ticket_code":"S09-001",
		"service_day":"2026-10-19","created_at":"2026-10-19T10:00:00Z"}}`)
	cancel()
	<-done
	if f.Available() {
		t.Fatal("feed still available after shutdown")
	}
	if got := st.Waiting("9"); len(got) != 1 {
		t.Fatalf("Waiting(9)=%+v", got)
	}
}

func newPoller(st *store.Store, src *fakeSource) *Poller {
	return NewPoller(PollerDependencies{
		Tickets:  src,
		Users:    src,
		Applier:  NewApplier(st, nil, fixedNow, nil),
		Store:    st,
		Location: time.UTC,
		Now:      fixedNow,
	})
}

func TestPollAllRefreshesEverything(t *testing.T) {
	st := newStore(t)
	if _, err := st.Enqueue(waiting("", "2", "S02-005", 5)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := st.Enqueue(waiting("gone", "2", "S02-001", 1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := st.AppendJournal(journal.CreateTicket{Ticket: waiting("", "2", "S02-005", 5)}, now); err != nil {
		t.Fatalf("AppendJournal: %v", err)
	}
	started := now.Add(-time.Minute)
	serving := waiting("s1", "4", "S04-002", 2)
	serving.State = domain.TicketStateServing
	serving.StartedAt = &started
	src := &fakeSource{
		waiting: []domain.Ticket{waiting("w1", "2", "S02-003", 3)},
		serving: []domain.Ticket{serving},
		count:   7,
		users:   []domain.User{{ID: "u1", Email: "adm@x.org", Role: domain.RoleAdmin, Active: true}},
	}
	p := newPoller(st, src)
	if err := p.PollAll(t.Context()); err != nil {
		t.Fatalf("PollAll: %v", err)
	}

	got := st.Waiting("2")
	if len(got) != 2 || got[0].Code != "S02-003" || got[1].Code != "S02-005" {
		t.Fatalf("Waiting(2)=%+v, want S02-003 then the unsynced S02-005", got)
	}
	if cur, ok := st.Serving("4"); !ok || cur.ID != "s1" {
		t.Fatalf("Serving(4)=%+v,%v", cur, ok)
	}
	if got := st.DailyCount("2026-10-19"); got != 8 {
		t.Fatalf("DailyCount=%d, want 8", got)
	}
	if _, ok := st.User("adm@x.org"); !ok {
		t.Fatal("users not refreshed")
	}
	wantSince := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	if len(src.since) != 1 || !src.since[0].Equal(wantSince) {
		t.Fatalf("catch-up since=%v, want %v", src.since, wantSince)
	}
}

func TestPollCatchUpAdvancesWatermark(t *testing.T) {
	st := newStore(t)
	if _, err := st.Enqueue(waiting("d1", "5", "S05-001", 1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := st.StartServing("5", now, func([]domain.Ticket) int { return 0 }); err != nil {
		t.Fatalf("StartServing: %v", err)
	}
	updated := now.Add(-time.Minute)
	done := waiting("d1", "5", "S05-001", 1)
	done.State = domain.TicketStateDone
	done.UpdatedAt = &updated
	src := &fakeSource{changed: []domain.Ticket{done}}
	p := newPoller(st, src)
	for i := 0; i < 2; i++ {
		if err := p.PollAll(t.Context()); err != nil {
			t.Fatalf("PollAll: %v", err)
		}
	}
	if _, ok := st.Serving("5"); ok {
		t.Fatal("ticket closed elsewhere still in service")
	}
	h := st.History()
	if len(h) != 1 || h[0].EndedAt == nil || !h[0].EndedAt.Equal(updated) {
		t.Fatalf("History=%+v", h)
	}
	if len(src.since) != 2 || !src.since[1].Equal(updated) {
		t.Fatalf("since=%v, want second pass from %v", src.since, updated)
	}
}

func TestPollCatchUpPagesThroughSharedTimestamp(t *testing.T) {
	st := newStore(t)
	updated := now.Add(-time.Minute)
	var changed []domain.Ticket
	for i := 1; i <= 5; i++ {
		dept := string(rune('0' + i))
		w := waiting("d"+dept, dept, "S0"+dept+"-001", i)
		if _, err := st.Enqueue(w); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		if _, err := st.StartServing(dept, now, func([]domain.Ticket) int { return 0 }); err != nil {
			t.Fatalf("StartServing: %v", err)
		}
		w.State = domain.TicketStateDone
		w.UpdatedAt = &updated
		changed = append(changed, w)
	}
	src := &fakeSource{changed: changed}
	p := newPoller(st, src)
	p.pageSize = 2
	if err := p.PollAll(t.Context()); err != nil {
		t.Fatalf("PollAll: %v", err)
	}

	h := st.History()
	if len(h) != 5 {
		t.Fatalf("History=%+v", h)
	}
	for _, e := range h {
		if e.EndedAt == nil || !e.EndedAt.Equal(updated) {
			t.Fatalf("ticket %s not closed by catch-up: %+v", e.Code, e)
		}
	}
	if len(src.since) != 3 {
		t.Fatalf("pages read=%d, want 3", len(src.since))
	}
	if p.afterID != "d5" || !p.since.Equal(updated) {
		t.Fatalf("cursor=(%v,%q), want (%v,d5)", p.since, p.afterID, updated)
	}
}

func TestRunnerResyncReportsErrors(t *testing.T) {
	st := newStore(t)
	src := &fakeSource{err: errors.New("ledger down")}
	r := NewRunner(nil, newPoller(st, src), RunnerOptions{})
	if !r.Resync(t.Context()) {
		t.Fatal("Resync did not run")
	}
	if r.LastError() != "ledger down" {
		t.Fatalf("LastError=%q", r.LastError())
	}
	if r.Mode() != "poll" {
		t.Fatalf("Mode=%q, want poll", r.Mode())
	}
	src.mu.Lock()
	src.err = nil
	src.mu.Unlock()
	r.Resync(t.Context())
	if r.LastError() != "" {
		t.Fatalf("LastError after recovery=%q", r.LastError())
	}
}

type pollRecorder struct {
	mu    sync.Mutex
	calls map[string]int
}

func (p *pollRecorder) poll(_ context.Context, dept string, _ func() bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[dept]++
	return nil
}

func (p *pollRecorder) count(dept string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[dept]
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDeptPollerOpenSwitchesDepartment(t *testing.T) {
	sched := scheduler.New(t.Context(), zap.NewNop())
	defer sched.StopAll()
	rec := &pollRecorder{calls: map[string]int{}}
	d := newDeptPoller(sched, rec.poll, 5*time.Millisecond, nil)

	d.Open("1")
	eventually(t, func() bool { return rec.count("1") > 0 })
	d.Open("6")
	if d.Active() != "6" || sched.Running(pollKey("1")) {
		t.Fatalf("Active=%q running(1)=%v", d.Active(), sched.Running(pollKey("1")))
	}
	d.Close("6")
	if d.Active() != "" {
		t.Fatalf("Active after Close=%q", d.Active())
	}
}

func TestDeptPollerPauseResume(t *testing.T) {
	sched := scheduler.New(t.Context(), zap.NewNop())
	defer sched.StopAll()
	rec := &pollRecorder{calls: map[string]int{}}
	d := newDeptPoller(sched, rec.poll, 5*time.Millisecond, nil)

	if d.Resume("2") {
		t.Fatal("Resume of a department never paused should do nothing")
	}
	if d.Active() != "" {
		t.Fatal("Resume started polling")
	}

	d.Pause("7")
	d.Pause("7")
	if !d.Paused("7") {
		t.Fatal("Pause of an idle department should still mark it paused")
	}

	d.Open("2")
	eventually(t, func() bool { return rec.count("2") > 0 })
	d.Pause("2")
	if d.Active() != "" || !d.Paused("2") || !sched.Paused(pollKey("2")) {
		t.Fatalf("after Pause Active=%q Paused=%v", d.Active(), d.Paused("2"))
	}
	time.Sleep(5 * time.Millisecond)
	frozen := rec.count("2")
	time.Sleep(25 * time.Millisecond)
	if rec.count("2") != frozen {
		t.Fatal("paused department kept polling")
	}
	if !d.Resume("2") || d.Active() != "2" || d.Paused("2") {
		t.Fatalf("Resume failed: Active=%q Paused=%v", d.Active(), d.Paused("2"))
	}
	eventually(t, func() bool { return rec.count("2") > frozen })
}

func TestDeptPollerPauseLetsRunningRefreshFinish(t *testing.T) {
	sched := scheduler.New(t.Context(), zap.NewNop())
	defer sched.StopAll()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	type outcome struct {
		ctxErr error
		kept   bool
	}
	results := make(chan outcome, 4)
	var first atomic.Bool
	poll := func(ctx context.Context, _ string, keep func() bool) error {
		if first.CompareAndSwap(false, true) {
			started <- struct{}{}
			<-release
		}
		select {
		case results <- outcome{ctxErr: ctx.Err(), kept: keep()}:
		default:
		}
		return nil
	}
	d := newDeptPoller(sched, poll, 5*time.Millisecond, nil)

	d.Open("6")
	<-started
	d.Pause("6")
	close(release)
	got := <-results
	if got.ctxErr != nil {
		t.Fatalf("refresh running at Pause saw cancelled context: %v", got.ctxErr)
	}
	if got.kept {
		t.Fatal("snapshot read across Pause should be dropped")
	}

	if !d.Resume("6") {
		t.Fatal("Resume returned false")
	}
	got = <-results
	if !got.kept {
		t.Fatal("snapshot after Resume should be applied")
	}
}

func TestPollDepartmentDropsSnapshotWhenNotKept(t *testing.T) {
	st := newStore(t)
	src := &fakeSource{waiting: []domain.Ticket{waiting("w1", "3", "S03-001", 1)}}
	p := newPoller(st, src)

	if err := p.pollDepartment(t.Context(), "3", func() bool { return false }); err != nil {
		t.Fatalf("pollDepartment: %v", err)
	}
	if got := st.Waiting("3"); len(got) != 0 {
		t.Fatalf("dropped snapshot applied: %+v", got)
	}
	if err := p.PollDepartment(t.Context(), "3"); err != nil {
		t.Fatalf("PollDepartment: %v", err)
	}
	if got := st.Waiting("3"); len(got) != 1 {
		t.Fatalf("Waiting(3)=%+v", got)
	}
}
