package repository

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lyanjo/fila-service/internal/domain"
)

// TicketRepository encapsulates ledger access for tickets.
type TicketRepository interface {
	Create(ctx context.Context, ticket *domain.Ticket) error
	UpdateProgress(ctx context.Context, id string, state domain.TicketState, startedAt *time.Time) error
	GetByCode(ctx context.Context, key domain.TicketKey) (*domain.Ticket, error)
	MaxSequence(ctx context.Context, prefix, day string) (int, error)
	ListWaiting(ctx context.Context, department string) ([]domain.Ticket, error)
	ListServing(ctx context.Context, department string) ([]domain.Ticket, error)
	ListChangedSince(ctx context.Context, since time.Time, afterID string, limit int) ([]domain.Ticket, error)
	CountCreated(ctx context.Context, day string) (int, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

const ticketColumns = `id, department, ticket_code, service_day::text, citizen_name, citizen_document,
               preferential, completed, created_at, started_at, updated_at`

func (r *ticketRepository) Create(ctx context.Context, ticket *domain.Ticket) error {
	if r.pool == nil {
		return ErrLedgerUnavailable
	}
	const query = `
        INSERT INTO tickets (department, ticket_code, service_day, citizen_name, citizen_document,
                             preferential, completed, created_at, started_at)
        VALUES ($1,$2,$3::date,$4,$5,$6,$7,$8,$9)
        RETURNING id, updated_at`
	var updated time.Time
	err := r.pool.QueryRow(ctx, query,
		ticket.Department,
		ticket.Code,
		ticket.ServiceDay,
		ticket.CitizenName,
		ticket.CitizenDocument,
		ticket.Preferential,
		ticket.State.Completed(),
		ticket.CreatedAt,
		ticket.StartedAt,
	).Scan(&ticket.ID, &updated)
	if err != nil {
		return err
	}
	ticket.UpdatedAt = &updated
	return nil
}

func (r *ticketRepository) UpdateProgress(ctx context.Context, id string, state domain.TicketState, startedAt *time.Time) error {
	if r.pool == nil {
		return ErrLedgerUnavailable
	}
	const query = `
        UPDATE tickets SET completed=$2, started_at=COALESCE($3, started_at), updated_at=NOW()
        WHERE id=$1`
	cmd, err := r.pool.Exec(ctx, query, id, state.Completed(), startedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) GetByCode(ctx context.Context, key domain.TicketKey) (*domain.Ticket, error) {
	if r.pool == nil {
		return nil, ErrLedgerUnavailable
	}
	query := `SELECT ` + ticketColumns + `
        FROM tickets WHERE ticket_code=$1 AND service_day=$2::date`
	rows, err := r.pool.Query(ctx, query, key.Code, key.ServiceDay)
	if err != nil {
		return nil, err
	}
	tickets, err := collectTickets(rows)
	if err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, pgx.ErrNoRows
	}
	return &tickets[0], nil
}

// MaxSequence returns the highest sequence issued under prefix on day, or 0.
func (r *ticketRepository) MaxSequence(ctx context.Context, prefix, day string) (int, error) {
	if r.pool == nil {
		return 0, ErrLedgerUnavailable
	}
	const query = `SELECT ticket_code FROM tickets WHERE service_day=$1::date AND ticket_code LIKE $2`
	rows, err := r.pool.Query(ctx, query, day, prefix+"-%")
	if err != nil {
		return 0, err
	}
	codes, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, err
	}
	highest := 0
	for _, code := range codes {
		if n, ok := domain.ParseTicketSequence(code, prefix); ok && n > highest {
			highest = n
		}
	}
	return highest, nil
}

func (r *ticketRepository) ListWaiting(ctx context.Context, department string) ([]domain.Ticket, error) {
	return r.listByState(ctx, "completed IS NULL", department, "created_at")
}

func (r *ticketRepository) ListServing(ctx context.Context, department string) ([]domain.Ticket, error) {
	return r.listByState(ctx, "completed = false", department, "started_at")
}

func (r *ticketRepository) listByState(ctx context.Context, predicate, department, order string) ([]domain.Ticket, error) {
	if r.pool == nil {
		return nil, ErrLedgerUnavailable
	}
	clauses := []string{predicate}
	args := []any{}
	if department != "" {
		args = append(args, department)
		clauses = append(clauses, "department = $1")
	}
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY ` + order + ` ASC`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

// ListChangedSince pages through tickets in (updated_at, id) order, starting
// after the row identified by since and afterID.
func (r *ticketRepository) ListChangedSince(ctx context.Context, since time.Time, afterID string, limit int) ([]domain.Ticket, error) {
	if r.pool == nil {
		return nil, ErrLedgerUnavailable
	}
	if limit <= 0 {
		limit = 500
	}
	query := `SELECT ` + ticketColumns + `
        FROM tickets
        WHERE updated_at > $1 OR (updated_at = $1 AND id::text > $2)
        ORDER BY updated_at ASC, id::text ASC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, since, afterID, limit)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (r *ticketRepository) CountCreated(ctx context.Context, day string) (int, error) {
	if r.pool == nil {
		return 0, ErrLedgerUnavailable
	}
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE service_day=$1::date`, day).Scan(&n)
	return n, err
}

func collectTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	defer rows.Close()
	var out []domain.Ticket
	for rows.Next() {
		var (
			t         domain.Ticket
			completed *bool
			updated   time.Time
		)
		if err := rows.Scan(
			&t.ID,
			&t.Department,
			&t.Code,
			&t.ServiceDay,
			&t.CitizenName,
			&t.CitizenDocument,
			&t.Preferential,
			&completed,
			&t.CreatedAt,
			&t.StartedAt,
			&updated,
		); err != nil {
			return nil, err
		}
		t.State = domain.StateFromCompleted(completed)
		t.UpdatedAt = &updated
		out = append(out, t)
	}
	return out, rows.Err()
}
