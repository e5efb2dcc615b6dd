package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lyanjo/fila-service/internal/domain"
	"github.com/lyanjo/fila-service/internal/repository"
	"github.com/lyanjo/fila-service/internal/store"
)

// Counter hands out shared daily sequences.
type Counter interface {
	Next(ctx context.Context, room, day string, seed repository.SeedFunc) (int, error)
}

// Sequence is one allocated ticket number.
type Sequence struct {
	Department domain.Department
	Number     int
	Day        string
	Code       string
}

// Sequencer allocates ticket numbers per room and calendar day.
//
// With a shared counter configured every number comes from it and a failed
// call fails issuance. Without one, numbers continue from the local counter,
// which is primed from the ledger's highest code of the day on first use.
type Sequencer struct {
	mu       sync.Mutex
	registry *domain.Registry
	counter  Counter
	tickets  repository.TicketRepository
	store    *store.Store
	location *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

// SequencerDependencies bundles collaborators of the sequencer.
type SequencerDependencies struct {
	Registry *domain.Registry
	Counter  Counter
	Tickets  repository.TicketRepository
	Store    *store.Store
	Location *time.Location
	Now      func() time.Time
	Logger   *zap.Logger
}

// NewSequencer builds a sequencer. Counter may be nil.
func NewSequencer(deps SequencerDependencies) *Sequencer {
	s := &Sequencer{
		registry: deps.Registry,
		counter:  deps.Counter,
		tickets:  deps.Tickets,
		store:    deps.Store,
		location: deps.Location,
		now:      deps.Now,
		logger:   deps.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.location == nil {
		s.location = time.Local
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Next allocates the next number for department's room today.
func (s *Sequencer) Next(ctx context.Context, department string) (Sequence, error) {
	dept, ok := s.registry.Resolve(department)
	if !ok {
		return Sequence{}, ErrUnknownDepartment
	}
	day := domain.ServiceDay(s.now(), s.location)

	s.mu.Lock()
	defer s.mu.Unlock()

	local := s.store.Counter(dept.Room, day)
	var n int
	if s.counter != nil {
		shared, err := s.counter.Next(ctx, dept.Room, day, func(ctx context.Context) (int, error) {
			remote, err := s.remoteMax(ctx, dept.Room, day)
			if remote < local {
				remote = local
			}
			return remote, err
		})
		if err != nil {
			return Sequence{}, ErrOnlineOnly.Wrap(err)
		}
		n = shared
		if n <= local {
			s.logger.Warn("shared counter behind local counter",
				zap.String("room", dept.Room), zap.Int("shared", shared), zap.Int("local", local))
			n = local + 1
		}
	} else {
		base := local
		if base == 0 {
			remote, err := s.remoteMax(ctx, dept.Room, day)
			if err != nil {
				s.logger.Warn("prime local ticket counter", zap.String("room", dept.Room), zap.Error(err))
			}
			base = remote
		}
		n = base + 1
	}

	if err := s.store.SetCounter(dept.Room, day, n); err != nil {
		s.logger.Warn("persist ticket counter", zap.Error(err))
	}
	return Sequence{Department: dept, Number: n, Day: day, Code: domain.FormatTicketCode(dept.Room, n)}, nil
}

func (s *Sequencer) remoteMax(ctx context.Context, room, day string) (int, error) {
	if s.tickets == nil {
		return 0, nil
	}
	return s.tickets.MaxSequence(ctx, domain.RoomPrefix(room), day)
}
