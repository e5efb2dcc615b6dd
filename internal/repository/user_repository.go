package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lyanjo/fila-service/internal/domain"
)

// UserRepository defines ledger access for staff accounts.
type UserRepository interface {
	Upsert(ctx context.Context, user *domain.User) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, email string, changes domain.UserChanges) (*domain.User, error)
	List(ctx context.Context) ([]domain.User, error)
}

type userRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a Postgres-backed implementation.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepository{pool: pool}
}

const userColumns = `id, email, password_hash, role, active, last_login, created_at`

// Upsert writes the user keyed by email. An empty password hash never
// replaces a stored one.
func (r *userRepository) Upsert(ctx context.Context, user *domain.User) error {
	if r.pool == nil {
		return ErrLedgerUnavailable
	}
	const query = `
        INSERT INTO users (email, password_hash, role, active, last_login, created_at)
        VALUES ($1,$2,$3,$4,$5,$6)
        ON CONFLICT (email) DO UPDATE SET
            password_hash=CASE WHEN EXCLUDED.password_hash = '' THEN users.password_hash ELSE EXCLUDED.password_hash END,
            role=EXCLUDED.role, active=EXCLUDED.active,
            last_login=COALESCE(EXCLUDED.last_login, users.last_login), updated_at=NOW()
        RETURNING id, created_at`
	created := user.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	err := r.pool.QueryRow(ctx, query,
		user.Email,
		user.PasswordHash,
		user.Role,
		user.Active,
		user.LastLogin,
		created,
	).Scan(&user.ID, &user.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlStateNoConflictTarget {
		return r.upsertByHand(ctx, user)
	}
	return err
}

func (r *userRepository) upsertByHand(ctx context.Context, user *domain.User) error {
	existing, err := r.GetByEmail(ctx, user.Email)
	switch {
	case err == nil:
		changes := domain.UserChanges{Role: &user.Role, Active: &user.Active, LastLogin: user.LastLogin}
		if user.PasswordHash != nil && *user.PasswordHash != "" {
			changes.PasswordHash = user.PasswordHash
		}
		updated, err := r.Update(ctx, existing.Email, changes)
		if err != nil {
			return err
		}
		user.ID = updated.ID
		user.CreatedAt = updated.CreatedAt
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		const insert = `
            INSERT INTO users (email, password_hash, role, active, last_login)
            VALUES ($1,$2,$3,$4,$5)
            RETURNING id, created_at`
		return r.pool.QueryRow(ctx, insert,
			user.Email, user.PasswordHash, user.Role, user.Active, user.LastLogin,
		).Scan(&user.ID, &user.CreatedAt)
	default:
		return err
	}
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	if r.pool == nil {
		return nil, ErrLedgerUnavailable
	}
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, email)
	if err != nil {
		return nil, err
	}
	users, err := collectUsers(rows)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, pgx.ErrNoRows
	}
	return &users[0], nil
}

// Update applies changes to the user currently known as email.
func (r *userRepository) Update(ctx context.Context, email string, changes domain.UserChanges) (*domain.User, error) {
	if r.pool == nil {
		return nil, ErrLedgerUnavailable
	}
	sets := []string{}
	args := []any{}
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s=$%d", column, len(args)))
	}
	if changes.Email != nil {
		add("email", *changes.Email)
	}
	if changes.PasswordHash != nil {
		add("password_hash", *changes.PasswordHash)
	}
	if changes.Role != nil {
		add("role", *changes.Role)
	}
	if changes.Active != nil {
		add("active", *changes.Active)
	}
	if changes.LastLogin != nil {
		add("last_login", *changes.LastLogin)
	}
	sets = append(sets, "updated_at=NOW()")
	args = append(args, email)
	query := `UPDATE users SET ` + strings.Join(sets, ", ") +
		fmt.Sprintf(` WHERE email=$%d RETURNING `, len(args)) + userColumns
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	users, err := collectUsers(rows)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, pgx.ErrNoRows
	}
	return &users[0], nil
}

func (r *userRepository) List(ctx context.Context) ([]domain.User, error) {
	if r.pool == nil {
		return nil, ErrLedgerUnavailable
	}
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY email ASC`)
	if err != nil {
		return nil, err
	}
	return collectUsers(rows)
}

func collectUsers(rows pgx.Rows) ([]domain.User, error) {
	defer rows.Close()
	var out []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(
			&u.ID,
			&u.Email,
			&u.PasswordHash,
			&u.Role,
			&u.Active,
			&u.LastLogin,
			&u.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
