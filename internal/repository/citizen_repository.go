package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lyanjo/fila-service/internal/domain"
)

// CitizenRepository encapsulates ledger access for citizens.
type CitizenRepository interface {
	Upsert(ctx context.Context, citizen *domain.Citizen) error
	GetByDocument(ctx context.Context, document string) (*domain.Citizen, error)
	Search(ctx context.Context, term string, limit int) ([]domain.Citizen, error)
	PreferentialByDocuments(ctx context.Context, documents []string) (map[string]bool, error)
}

type citizenRepository struct {
	pool *pgxpool.Pool
}

// NewCitizenRepository returns a Postgres-backed implementation.
func NewCitizenRepository(pool *pgxpool.Pool) CitizenRepository {
	return &citizenRepository{pool: pool}
}

const citizenColumns = `id, name, document, preferential, phone, postal_code, street, number, district, city, created_at`

// Upsert writes the citizen keyed by document. Ledgers created without the
// unique index answer 42P10, in which case the row is matched by hand.
func (r *citizenRepository) Upsert(ctx context.Context, c *domain.Citizen) error {
	if r.pool == nil {
		return ErrLedgerUnavailable
	}
	const query = `
        INSERT INTO citizens (name, document, preferential, phone, postal_code, street, number, district, city, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
        ON CONFLICT (document) DO UPDATE SET
            name=EXCLUDED.name, preferential=EXCLUDED.preferential, phone=EXCLUDED.phone,
            postal_code=EXCLUDED.postal_code, street=EXCLUDED.street, number=EXCLUDED.number,
            district=EXCLUDED.district, city=EXCLUDED.city, updated_at=NOW()
        RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, query, citizenArgs(c)...).Scan(&c.ID, &c.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlStateNoConflictTarget {
		return r.upsertByHand(ctx, c)
	}
	return err
}

func (r *citizenRepository) upsertByHand(ctx context.Context, c *domain.Citizen) error {
	existing, err := r.GetByDocument(ctx, c.Document)
	switch {
	case err == nil:
		const update = `
            UPDATE citizens SET name=$1, preferential=$3, phone=$4, postal_code=$5, street=$6,
                number=$7, district=$8, city=$9, updated_at=NOW()
            WHERE document=$2`
		args := citizenArgs(c)
		if _, err := r.pool.Exec(ctx, update, args[:9]...); err != nil {
			return err
		}
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		const insert = `
            INSERT INTO citizens (name, document, preferential, phone, postal_code, street, number, district, city, created_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
            RETURNING id, created_at`
		return r.pool.QueryRow(ctx, insert, citizenArgs(c)...).Scan(&c.ID, &c.CreatedAt)
	default:
		return err
	}
}

func citizenArgs(c *domain.Citizen) []any {
	created := c.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return []any{c.Name, c.Document, c.Preferential, c.Phone, c.PostalCode, c.Street, c.Number, c.District, c.City, created}
}

func (r *citizenRepository) GetByDocument(ctx context.Context, document string) (*domain.Citizen, error) {
	if r.pool == nil {
		return nil, ErrLedgerUnavailable
	}
	rows, err := r.pool.Query(ctx, `SELECT `+citizenColumns+` FROM citizens WHERE document=$1 LIMIT 1`, document)
	if err != nil {
		return nil, err
	}
	citizens, err := collectCitizens(rows)
	if err != nil {
		return nil, err
	}
	if len(citizens) == 0 {
		return nil, pgx.ErrNoRows
	}
	return &citizens[0], nil
}

// Search matches by case-insensitive name fragment or document prefix.
func (r *citizenRepository) Search(ctx context.Context, term string, limit int) ([]domain.Citizen, error) {
	if r.pool == nil {
		return nil, ErrLedgerUnavailable
	}
	if limit <= 0 {
		limit = 10
	}
	query := `SELECT ` + citizenColumns + `
        FROM citizens WHERE name ILIKE $1 OR document LIKE $2
        ORDER BY name ASC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, "%"+term+"%", domain.NormalizeDocument(term)+"%", limit)
	if err != nil {
		return nil, err
	}
	return collectCitizens(rows)
}

func (r *citizenRepository) PreferentialByDocuments(ctx context.Context, documents []string) (map[string]bool, error) {
	out := make(map[string]bool, len(documents))
	if len(documents) == 0 {
		return out, nil
	}
	if r.pool == nil {
		return nil, ErrLedgerUnavailable
	}
	rows, err := r.pool.Query(ctx, `SELECT document, preferential FROM citizens WHERE document = ANY($1)`, documents)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			doc  string
			pref bool
		)
		if err := rows.Scan(&doc, &pref); err != nil {
			return nil, err
		}
		out[doc] = pref
	}
	return out, rows.Err()
}

func collectCitizens(rows pgx.Rows) ([]domain.Citizen, error) {
	defer rows.Close()
	var out []domain.Citizen
	for rows.Next() {
		var c domain.Citizen
		if err := rows.Scan(
			&c.ID,
			&c.Name,
			&c.Document,
			&c.Preferential,
			&c.Phone,
			&c.PostalCode,
			&c.Street,
			&c.Number,
			&c.District,
			&c.City,
			&c.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
