package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository defines persistence operations for role assignments.
type Repository interface {
	ListRoles(ctx context.Context, identityID int64) ([]Role, error)
	InsertAssignment(ctx context.Context, identityID int64, role Role) error
	DeleteAssignment(ctx context.Context, identityID int64, role Role) error
}

// PGRepository implements Repository on PostgreSQL. Assignments live in
// identity_roles with a unique (identity_id, role) pair.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ListRoles returns the role tags assigned to an identity. Unknown tags in
// the table are skipped rather than failing the whole fetch.
func (r *PGRepository) ListRoles(ctx context.Context, identityID int64) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT role FROM identity_roles WHERE identity_id = $1 ORDER BY role`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		if role, ok := ParseRole(raw); ok {
			roles = append(roles, role)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// InsertAssignment adds a role to an identity. A duplicate insert is treated
// as success so that granting an already-held role stays idempotent.
func (r *PGRepository) InsertAssignment(ctx context.Context, identityID int64, role Role) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO identity_roles (identity_id, role) VALUES ($1, $2)`, identityID, string(role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil
		}
		return err
	}
	return nil
}

// DeleteAssignment removes a role from an identity. Deleting an assignment
// that does not exist is a no-op.
func (r *PGRepository) DeleteAssignment(ctx context.Context, identityID int64, role Role) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM identity_roles WHERE identity_id = $1 AND role = $2`, identityID, string(role))
	return err
}

var _ Repository = (*PGRepository)(nil)
