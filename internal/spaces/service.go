package spaces

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrWindowTaken rejects a booking overlapping a confirmed reservation.
var ErrWindowTaken = errors.New("spaces: window already booked")

// ErrBadWindow rejects a booking with an implausible time window.
var ErrBadWindow = errors.New("spaces: invalid booking window")

const maxBookingDuration = 4 * time.Hour

// Enqueuer schedules follow-up work after a booking is confirmed.
type Enqueuer interface {
	EnqueueBookingConfirmation(ctx context.Context, bookingID int64) error
}

// BookingRequest carries the validated input for a new reservation.
type BookingRequest struct {
	SpaceID  int64     `validate:"required,gt=0"`
	StartsAt time.Time `validate:"required"`
	EndsAt   time.Time `validate:"required,gtfield=StartsAt"`
}

// Service implements booking rules on top of the repository.
type Service struct {
	repo     Repository
	enqueuer Enqueuer
	logger   *slog.Logger
	validate *validator.Validate
}

// NewService constructs a Service. The enqueuer may be nil in tooling that
// has no job backend; confirmations are then skipped.
func NewService(repo Repository, enqueuer Enqueuer, logger *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		enqueuer: enqueuer,
		logger:   logger,
		validate: validator.New(),
	}
}

// ListSpaces returns all study spaces.
func (s *Service) ListSpaces(ctx context.Context) ([]Space, error) {
	return s.repo.ListSpaces(ctx)
}

// ListBookings returns an identity's reservations.
func (s *Service) ListBookings(ctx context.Context, identityID int64) ([]Booking, error) {
	return s.repo.ListBookingsForIdentity(ctx, identityID)
}

// Book reserves a space for the identity. The window must start in the
// future, run at most four hours, and not overlap a confirmed reservation.
func (s *Service) Book(ctx context.Context, identityID int64, req BookingRequest) (*Booking, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadWindow, err)
	}
	if req.StartsAt.Before(time.Now()) {
		return nil, fmt.Errorf("%w: starts in the past", ErrBadWindow)
	}
	if req.EndsAt.Sub(req.StartsAt) > maxBookingDuration {
		return nil, fmt.Errorf("%w: longer than %s", ErrBadWindow, maxBookingDuration)
	}

	if _, err := s.repo.GetSpace(ctx, req.SpaceID); err != nil {
		return nil, err
	}
	overlapping, err := s.repo.CountOverlapping(ctx, req.SpaceID, req.StartsAt, req.EndsAt)
	if err != nil {
		return nil, err
	}
	if overlapping > 0 {
		return nil, ErrWindowTaken
	}

	booking := &Booking{
		SpaceID:    req.SpaceID,
		IdentityID: identityID,
		StartsAt:   req.StartsAt,
		EndsAt:     req.EndsAt,
		Status:     BookingConfirmed,
	}
	if err := s.repo.InsertBooking(ctx, booking); err != nil {
		return nil, err
	}

	if s.enqueuer != nil {
		if err := s.enqueuer.EnqueueBookingConfirmation(ctx, booking.ID); err != nil && s.logger != nil {
			// The reservation stands; only the notification is lost.
			s.logger.Warn("enqueue booking confirmation",
				slog.Int64("booking_id", booking.ID),
				slog.Any("error", err))
		}
	}
	return booking, nil
}

// Cancel releases one of the identity's confirmed reservations.
func (s *Service) Cancel(ctx context.Context, id, identityID int64) error {
	return s.repo.CancelBooking(ctx, id, identityID)
}

// ExpirePast sweeps bookings whose window has passed. Called by the periodic
// job; returns the number of rows flipped for logging.
func (s *Service) ExpirePast(ctx context.Context) (int64, error) {
	return s.repo.ExpirePastBookings(ctx, time.Now())
}
