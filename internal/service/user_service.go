package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lyanjo/fila-service/internal/auth"
	"github.com/lyanjo/fila-service/internal/domain"
	"github.com/lyanjo/fila-service/internal/journal"
	"github.com/lyanjo/fila-service/internal/repository"
	"github.com/lyanjo/fila-service/internal/store"
	apperrors "github.com/lyanjo/fila-service/pkg/util/errorutil"
)

// UserService manages staff accounts.
type UserService struct {
	users      repository.UserRepository
	store      *store.Store
	registry   *domain.Registry
	bcryptCost int
	now        func() time.Time
	logger     *zap.Logger
}

// UserDependencies bundles collaborators of the user service.
type UserDependencies struct {
	Users      repository.UserRepository
	Store      *store.Store
	Registry   *domain.Registry
	BcryptCost int
	Now        func() time.Time
	Logger     *zap.Logger
}

// CreateUserInput describes a new account.
type CreateUserInput struct {
	Email    string
	Password string
	Role     domain.Role
	Active   bool
}

// UpdateUserInput is a partial account update. Nil fields are left as they are.
type UpdateUserInput struct {
	Email    *string
	Password *string
	Role     *domain.Role
	Active   *bool
}

// NewUserService wires the service.
func NewUserService(deps UserDependencies) *UserService {
	s := &UserService{
		users:      deps.Users,
		store:      deps.Store,
		registry:   deps.Registry,
		bcryptCost: deps.BcryptCost,
		now:        deps.Now,
		logger:     deps.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.bcryptCost == 0 {
		s.bcryptCost = 12
	}
	return s
}

func (s *UserService) validRole(role domain.Role) bool {
	if role == domain.RoleAdmin || role == domain.RoleReception {
		return true
	}
	_, ok := s.registry.Resolve(string(role))
	return ok
}

// CreateUser creates or replaces an account by email.
func (s *UserService) CreateUser(ctx context.Context, in CreateUserInput) (*domain.User, bool, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		return nil, false, apperrors.NewValidationError("email and password are required", nil)
	}
	if !s.validRole(in.Role) {
		return nil, false, apperrors.NewValidationError("unknown role", map[string]any{"role": in.Role})
	}
	hash, err := auth.HashPassword(in.Password, s.bcryptCost)
	if err != nil {
		return nil, false, err
	}
	u := domain.User{Email: email, PasswordHash: &hash, Role: in.Role, Active: in.Active, CreatedAt: s.now()}

	err = upsertUser(ctx, s.users, &u)
	if err != nil {
		if repository.Classify(err).Kind == repository.KindConflict {
			return nil, false, apperrors.NewConflict("user already exists", map[string]any{"email": email})
		}
		s.logger.Warn("ledger write failed, journaling user", zap.String("email", email), zap.Error(err))
		if _, jerr := s.store.AppendJournal(journal.CreateUser{User: u}, s.now()); jerr != nil {
			s.logger.Error("persist journal entry", zap.Error(jerr))
		}
		cacheUser(s.store, s.logger, "", u)
		return &u, true, nil
	}
	cacheUser(s.store, s.logger, "", u)
	return &u, false, nil
}

// UpdateUser changes the account known as email.
func (s *UserService) UpdateUser(ctx context.Context, email string, in UpdateUserInput) (*domain.User, bool, error) {
	changes := domain.UserChanges{Role: in.Role, Active: in.Active}
	if in.Email != nil {
		next := strings.ToLower(strings.TrimSpace(*in.Email))
		if next == "" {
			return nil, false, apperrors.NewValidationError("email cannot be empty", nil)
		}
		changes.Email = &next
	}
	if in.Role != nil && !s.validRole(*in.Role) {
		return nil, false, apperrors.NewValidationError("unknown role", map[string]any{"role": *in.Role})
	}
	if in.Password != nil {
		if *in.Password == "" {
			return nil, false, apperrors.NewValidationError("password cannot be empty", nil)
		}
		hash, err := auth.HashPassword(*in.Password, s.bcryptCost)
		if err != nil {
			return nil, false, err
		}
		changes.PasswordHash = &hash
	}
	if changes.Empty() {
		return nil, false, apperrors.NewValidationError("no changes given", nil)
	}
	return s.apply(ctx, strings.ToLower(strings.TrimSpace(email)), changes)
}

// RecordLastLogin stamps the account's last login.
func (s *UserService) RecordLastLogin(ctx context.Context, email string, at time.Time) error {
	_, _, err := s.apply(ctx, email, domain.UserChanges{LastLogin: &at})
	return err
}

func (s *UserService) apply(ctx context.Context, email string, changes domain.UserChanges) (*domain.User, bool, error) {
	updated, _, err := deliverUserUpdate(ctx, s.users, s.store, s.logger, email, changes)
	if err == nil {
		return updated, false, nil
	}
	if repository.Classify(err).Kind == repository.KindConflict {
		return nil, false, apperrors.NewConflict("email already in use", map[string]any{"email": email})
	}
	s.logger.Warn("ledger write failed, journaling user update", zap.String("email", email), zap.Error(err))
	if _, jerr := s.store.AppendJournal(journal.UpdateUser{Email: email, Changes: changes}, s.now()); jerr != nil {
		s.logger.Error("persist journal entry", zap.Error(jerr))
	}
	base, ok := s.store.User(email)
	if !ok {
		base = domain.User{Email: email, Active: true}
	}
	local := changes.Apply(base)
	cacheUser(s.store, s.logger, email, local)
	return &local, true, nil
}

// List returns every account, from the ledger when reachable.
func (s *UserService) List(ctx context.Context) ([]domain.User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		if repository.IsConnectivity(err) {
			return s.store.Users(), nil
		}
		return nil, err
	}
	for _, u := range users {
		cacheUser(s.store, s.logger, "", u)
	}
	return users, nil
}

// EnsureAdmin creates an active admin account when no account exists at all,
// so a fresh terminal can be logged into. It reports whether one was made.
func (s *UserService) EnsureAdmin(ctx context.Context, email, password string) (bool, error) {
	if email == "" || password == "" {
		return false, nil
	}
	users, err := s.List(ctx)
	if err != nil {
		return false, err
	}
	if len(users) > 0 {
		return false, nil
	}
	_, _, err = s.CreateUser(ctx, CreateUserInput{Email: email, Password: password, Role: domain.RoleAdmin, Active: true})
	if err != nil {
		return false, err
	}
	s.logger.Info("bootstrap admin created", zap.String("email", email))
	return true, nil
}
