package users

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DirectoryEntry is one row of the member directory with its role tags.
type DirectoryEntry struct {
	ID        int64
	Email     string
	IsActive  bool
	CreatedAt time.Time
	Roles     []string
}

// Repository defines read operations for the member directory.
type Repository interface {
	ListMembers(ctx context.Context, query string) ([]DirectoryEntry, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ListMembers returns directory entries, newest accounts first, optionally
// filtered by an email substring.
func (r *PGRepository) ListMembers(ctx context.Context, query string) ([]DirectoryEntry, error) {
	const q = `
		SELECT i.id, i.email, i.is_active, i.created_at,
		       COALESCE(ARRAY_AGG(ir.role ORDER BY ir.role) FILTER (WHERE ir.role IS NOT NULL), '{}')
		FROM identities i
		LEFT JOIN identity_roles ir ON ir.identity_id = i.id
		WHERE ($1 = '' OR i.email ILIKE '%' || $1 || '%')
		GROUP BY i.id
		ORDER BY i.created_at DESC
		LIMIT 200`
	rows, err := r.pool.Query(ctx, q, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []DirectoryEntry
	for rows.Next() {
		var entry DirectoryEntry
		if err := rows.Scan(&entry.ID, &entry.Email, &entry.IsActive, &entry.CreatedAt, &entry.Roles); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
