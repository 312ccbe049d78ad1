package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/openshelf/openshelf/internal/identity"
	jobmetrics "github.com/openshelf/openshelf/internal/jobs"
	"github.com/openshelf/openshelf/internal/shared"
	"github.com/openshelf/openshelf/internal/spaces"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// BookingConfirmJob mails the member after a study-space booking is made.
type BookingConfirmJob struct {
	Spaces     spaces.Repository
	Identities identity.Repository
	Mailer     *Mailer
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewBookingConfirmJob wires dependencies for the confirmation handler.
func NewBookingConfirmJob(spacesRepo spaces.Repository, identities identity.Repository, mailer *Mailer, logger *slog.Logger, metrics *jobmetrics.Metrics) *BookingConfirmJob {
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	return &BookingConfirmJob{
		Spaces:     spacesRepo,
		Identities: identities,
		Mailer:     mailer,
		Logger:     logger,
		Metrics:    metrics,
	}
}

// Handle processes booking-confirmation tasks.
func (j *BookingConfirmJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("booking confirm: handler not configured")
	}
	tracker := j.Metrics.Track("booking_confirm")

	var payload BookingConfirmPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return tracker.End(asynq.SkipRetry)
	}

	booking, err := j.Spaces.GetBooking(ctx, payload.BookingID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// The booking was cancelled before the job ran.
			return tracker.End(nil)
		}
		return tracker.End(err)
	}
	ident, err := j.Identities.FindByID(ctx, booking.IdentityID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return tracker.End(nil)
		}
		return tracker.End(err)
	}

	subject := fmt.Sprintf("Booking confirmed: %s", booking.SpaceName)
	body := fmt.Sprintf("Your reservation of %s runs from %s to %s.",
		booking.SpaceName,
		booking.StartsAt.Format("Mon 02 Jan 15:04"),
		booking.EndsAt.Format("15:04"))
	if err := j.Mailer.Send(ident.Email, subject, body); err != nil {
		if j.Logger != nil {
			j.Logger.Warn("send booking confirmation",
				slog.Int64("booking_id", booking.ID),
				slog.Any("error", err))
		}
		return tracker.End(err)
	}
	return tracker.End(nil)
}
