package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lyanjo/fila-service/internal/domain"
	"github.com/lyanjo/fila-service/internal/journal"
	"github.com/lyanjo/fila-service/internal/repository"
	"github.com/lyanjo/fila-service/internal/store"
	apperrors "github.com/lyanjo/fila-service/pkg/util/errorutil"
)

const citizenSearchLimit = 10

// CitizenService registers and looks up citizens.
type CitizenService struct {
	citizens repository.CitizenRepository
	store    *store.Store
	now      func() time.Time
	logger   *zap.Logger
}

// CitizenInput carries the reception form.
type CitizenInput struct {
	Name         string
	Document     string
	Preferential bool
	Phone        string
	PostalCode   string
	Street       string
	Number       string
	District     string
	City         string
}

// NewCitizenService wires the service.
func NewCitizenService(citizens repository.CitizenRepository, st *store.Store, now func() time.Time, logger *zap.Logger) *CitizenService {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CitizenService{citizens: citizens, store: st, now: now, logger: logger}
}

// Register creates or updates the citizen identified by document. When the
// ledger write fails the citizen is journaled and pending is true.
func (s *CitizenService) Register(ctx context.Context, in CitizenInput) (*domain.Citizen, bool, error) {
	c := domain.Citizen{
		Name:         strings.TrimSpace(in.Name),
		Document:     domain.NormalizeDocument(in.Document),
		Preferential: in.Preferential,
		Phone:        strings.TrimSpace(in.Phone),
		PostalCode:   domain.NormalizePostalCode(in.PostalCode),
		Street:       strings.TrimSpace(in.Street),
		Number:       strings.TrimSpace(in.Number),
		District:     strings.TrimSpace(in.District),
		City:         strings.TrimSpace(in.City),
		CreatedAt:    s.now(),
	}
	if c.Name == "" || c.Document == "" {
		return nil, false, apperrors.NewValidationError("name and document are required", nil)
	}
	if prev, ok := s.store.Citizen(c.Document); ok {
		c.ID = prev.ID
		c.CreatedAt = prev.CreatedAt
	}

	err := s.citizens.Upsert(ctx, &c)
	if repository.Classify(err).Kind == repository.KindConflict {
		existing, gerr := s.citizens.GetByDocument(ctx, c.Document)
		if gerr == nil {
			c.ID = existing.ID
			c.CreatedAt = existing.CreatedAt
		}
		err = gerr
	}
	if err != nil {
		s.logger.Warn("ledger write failed, journaling citizen", zap.String("document", c.Document), zap.Error(err))
		if _, jerr := s.store.AppendJournal(journal.CreateCitizen{Citizen: c}, s.now()); jerr != nil {
			s.logger.Error("persist journal entry", zap.Error(jerr))
		}
		s.cache(c)
		return &c, true, nil
	}
	s.cache(c)
	return &c, false, nil
}

func (s *CitizenService) cache(c domain.Citizen) {
	if err := s.store.PutCitizen(c); err != nil {
		s.logger.Error("persist citizen", zap.Error(err))
	}
}

// Get returns a citizen by document, preferring the ledger.
func (s *CitizenService) Get(ctx context.Context, document string) (*domain.Citizen, error) {
	doc := domain.NormalizeDocument(document)
	c, err := s.citizens.GetByDocument(ctx, doc)
	if err == nil {
		s.cache(*c)
		return c, nil
	}
	if cached, ok := s.store.Citizen(doc); ok {
		return &cached, nil
	}
	if repository.IsNotFound(err) || repository.IsConnectivity(err) {
		return nil, apperrors.NewNotFound("citizen", map[string]any{"document": doc})
	}
	return nil, err
}

// Search finds up to ten citizens by name or document, falling back to the
// local cache when the ledger cannot answer.
func (s *CitizenService) Search(ctx context.Context, term string) ([]domain.Citizen, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []domain.Citizen{}, nil
	}
	found, err := s.citizens.Search(ctx, term, citizenSearchLimit)
	if err != nil {
		s.logger.Debug("citizen search falling back to cache", zap.Error(err))
		return s.store.SearchCitizens(term, citizenSearchLimit), nil
	}
	for _, c := range found {
		s.cache(c)
	}
	return found, nil
}
