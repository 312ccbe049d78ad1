package research

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Journal is one subscribed research journal.
type Journal struct {
	ID        int64
	Title     string
	Publisher string
	Field     string
	ISSN      string
	AccessURL string
	UpdatedAt time.Time
}

// Repository defines read operations for research journals.
type Repository interface {
	ListJournals(ctx context.Context, field string) ([]Journal, error)
	ListFields(ctx context.Context) ([]string, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ListJournals returns subscribed journals, optionally narrowed to a field.
func (r *PGRepository) ListJournals(ctx context.Context, field string) ([]Journal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, title, publisher, field, issn, access_url, updated_at
		FROM journals
		WHERE ($1 = '' OR field = $1)
		ORDER BY title`, field)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var journals []Journal
	for rows.Next() {
		var j Journal
		if err := rows.Scan(&j.ID, &j.Title, &j.Publisher, &j.Field, &j.ISSN, &j.AccessURL, &j.UpdatedAt); err != nil {
			return nil, err
		}
		journals = append(journals, j)
	}
	return journals, rows.Err()
}

// ListFields returns the distinct research fields with subscriptions.
func (r *PGRepository) ListFields(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT field FROM journals WHERE field <> '' ORDER BY field`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fields []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
