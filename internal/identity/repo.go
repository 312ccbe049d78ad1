package identity

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openshelf/openshelf/internal/shared"
)

// Repository defines persistence operations for the identity module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	FindByID(ctx context.Context, id int64) (*Identity, error)
	CreateIdentity(ctx context.Context, email, passwordHash string) (*Identity, error)
	CreateSession(ctx context.Context, id string, identityID int64, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const identityColumns = `id, email, password_hash, is_active, created_at, updated_at`

// FindByEmail fetches an identity by email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE email = $1`, email)
	return scanIdentity(row)
}

// FindByID fetches an identity by primary key.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (*Identity, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+identityColumns+` FROM identities WHERE id = $1`, id)
	return scanIdentity(row)
}

// CreateIdentity inserts a new account. The account starts with zero role
// assignments; nothing here writes to identity_roles.
func (r *PGRepository) CreateIdentity(ctx context.Context, email, passwordHash string) (*Identity, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO identities (email, password_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, TRUE, NOW(), NOW())
		RETURNING `+identityColumns, email, passwordHash)
	ident, err := scanIdentity(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, shared.ErrEmailTaken
		}
		return nil, err
	}
	return ident, nil
}

// CreateSession persists a login session record for auditing.
func (r *PGRepository) CreateSession(ctx context.Context, id string, identityID int64, expiresAt time.Time, ip, ua string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO identity_sessions (id, identity_id, created_at, expires_at, ip, ua)
		VALUES ($1, $2, NOW(), $3, NULLIF($4, ''), NULLIF($5, ''))`, id, identityID, expiresAt.UTC(), ip, ua)
	return err
}

// DeleteSession removes a session record.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM identity_sessions WHERE id = $1`, id)
	return err
}

func scanIdentity(row pgx.Row) (*Identity, error) {
	var ident Identity
	err := row.Scan(&ident.ID, &ident.Email, &ident.PasswordHash, &ident.IsActive, &ident.CreatedAt, &ident.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &ident, nil
}

var _ Repository = (*PGRepository)(nil)
