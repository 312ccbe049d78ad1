package spaces

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openshelf/openshelf/internal/platform/db"
	"github.com/openshelf/openshelf/internal/shared"
)

// Repository defines persistence operations for spaces and bookings.
type Repository interface {
	ListSpaces(ctx context.Context) ([]Space, error)
	GetSpace(ctx context.Context, id int64) (*Space, error)
	CountOverlapping(ctx context.Context, spaceID int64, startsAt, endsAt time.Time) (int, error)
	InsertBooking(ctx context.Context, b *Booking) error
	GetBooking(ctx context.Context, id int64) (*Booking, error)
	ListBookingsForIdentity(ctx context.Context, identityID int64) ([]Booking, error)
	CancelBooking(ctx context.Context, id, identityID int64) error
	ExpirePastBookings(ctx context.Context, now time.Time) (int64, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ListSpaces returns all study spaces ordered by building then name.
func (r *PGRepository) ListSpaces(ctx context.Context) ([]Space, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, building, floor, capacity, has_power, is_quiet
		FROM study_spaces ORDER BY building, name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spaces []Space
	for rows.Next() {
		var s Space
		if err := rows.Scan(&s.ID, &s.Name, &s.Building, &s.Floor, &s.Capacity, &s.HasPower, &s.IsQuiet); err != nil {
			return nil, err
		}
		spaces = append(spaces, s)
	}
	return spaces, rows.Err()
}

// GetSpace fetches one study space.
func (r *PGRepository) GetSpace(ctx context.Context, id int64) (*Space, error) {
	var s Space
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, building, floor, capacity, has_power, is_quiet
		FROM study_spaces WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.Building, &s.Floor, &s.Capacity, &s.HasPower, &s.IsQuiet)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// CountOverlapping counts confirmed bookings overlapping the window.
func (r *PGRepository) CountOverlapping(ctx context.Context, spaceID int64, startsAt, endsAt time.Time) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM space_bookings
		WHERE space_id = $1 AND status = 'confirmed'
		  AND starts_at < $3 AND ends_at > $2`, spaceID, startsAt, endsAt).Scan(&count)
	return count, err
}

// InsertBooking persists a new booking and backfills its generated ID. The
// window is re-checked inside a RepeatableRead transaction so two concurrent
// requests for the same slot cannot both commit.
func (r *PGRepository) InsertBooking(ctx context.Context, b *Booking) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var count int
		err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM space_bookings
			WHERE space_id = $1 AND status = 'confirmed'
			  AND starts_at < $3 AND ends_at > $2`, b.SpaceID, b.StartsAt, b.EndsAt).Scan(&count)
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrWindowTaken
		}
		return tx.QueryRow(ctx, `
			INSERT INTO space_bookings (space_id, identity_id, starts_at, ends_at, status)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at`,
			b.SpaceID, b.IdentityID, b.StartsAt, b.EndsAt, string(b.Status)).
			Scan(&b.ID, &b.CreatedAt)
	})
}

// GetBooking fetches one booking joined with its space name.
func (r *PGRepository) GetBooking(ctx context.Context, id int64) (*Booking, error) {
	var b Booking
	err := r.pool.QueryRow(ctx, `
		SELECT b.id, b.space_id, b.identity_id, b.starts_at, b.ends_at, b.status, b.created_at, s.name
		FROM space_bookings b JOIN study_spaces s ON s.id = b.space_id
		WHERE b.id = $1`, id).
		Scan(&b.ID, &b.SpaceID, &b.IdentityID, &b.StartsAt, &b.EndsAt, &b.Status, &b.CreatedAt, &b.SpaceName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

// ListBookingsForIdentity returns an identity's bookings, upcoming first.
func (r *PGRepository) ListBookingsForIdentity(ctx context.Context, identityID int64) ([]Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT b.id, b.space_id, b.identity_id, b.starts_at, b.ends_at, b.status, b.created_at, s.name
		FROM space_bookings b JOIN study_spaces s ON s.id = b.space_id
		WHERE b.identity_id = $1
		ORDER BY b.starts_at DESC
		LIMIT 50`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bookings []Booking
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.ID, &b.SpaceID, &b.IdentityID, &b.StartsAt, &b.EndsAt, &b.Status, &b.CreatedAt, &b.SpaceName); err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// CancelBooking flips a confirmed booking to cancelled. Scoped to the owning
// identity so one member cannot cancel another's reservation.
func (r *PGRepository) CancelBooking(ctx context.Context, id, identityID int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE space_bookings SET status = 'cancelled'
		WHERE id = $1 AND identity_id = $2 AND status = 'confirmed'`, id, identityID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// ExpirePastBookings sweeps confirmed bookings whose window has passed.
func (r *PGRepository) ExpirePastBookings(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE space_bookings SET status = 'expired'
		WHERE status = 'confirmed' AND ends_at < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ Repository = (*PGRepository)(nil)
