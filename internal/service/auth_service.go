package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lyanjo/fila-service/internal/auth"
	"github.com/lyanjo/fila-service/internal/domain"
	"github.com/lyanjo/fila-service/internal/repository"
	"github.com/lyanjo/fila-service/internal/store"
)

// AuthService coordinates staff login.
type AuthService struct {
	users    repository.UserRepository
	store    *store.Store
	accounts *UserService
	tokenMgr *auth.TokenManager
	now      func() time.Time
	logger   *zap.Logger
}

// AuthDependencies encapsulates collaborators of the auth service.
type AuthDependencies struct {
	Users    repository.UserRepository
	Store    *store.Store
	Accounts *UserService
	Tokens   *auth.TokenManager
	Now      func() time.Time
	Logger   *zap.Logger
}

// LoginResult carries the issued token.
type LoginResult struct {
	User      domain.User
	Token     string
	ExpiresAt time.Time
}

// NewAuthService builds the service.
func NewAuthService(deps AuthDependencies) *AuthService {
	s := &AuthService{
		users:    deps.Users,
		store:    deps.Store,
		accounts: deps.Accounts,
		tokenMgr: deps.Tokens,
		now:      deps.Now,
		logger:   deps.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// TokenManager exposes the token manager for middleware wiring.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

// Login verifies credentials against the ledger, or against the cached
// account when the ledger is unreachable, and records the login.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	var user domain.User
	remote, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		user = *remote
		cacheUser(s.store, s.logger, "", user)
	case repository.IsNotFound(err):
		return nil, ErrInvalidCredentials
	case repository.IsConnectivity(err):
		cached, ok := s.store.User(email)
		if !ok {
			return nil, ErrInvalidCredentials
		}
		s.logger.Info("ledger unreachable, using cached account", zap.String("email", email))
		user = cached
	default:
		return nil, err
	}

	if !user.Active {
		return nil, ErrInactiveUser
	}
	if user.PasswordHash == nil || *user.PasswordHash == "" || auth.ComparePassword(*user.PasswordHash, password) != nil {
		return nil, ErrInvalidCredentials
	}

	token, exp, err := s.tokenMgr.GenerateToken(user)
	if err != nil {
		return nil, err
	}
	if s.accounts != nil {
		if err := s.accounts.RecordLastLogin(ctx, email, s.now()); err != nil {
			s.logger.Warn("record last login", zap.String("email", email), zap.Error(err))
		}
	}
	return &LoginResult{User: user, Token: token, ExpiresAt: exp}, nil
}
