package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/openshelf/openshelf/internal/jobs"
	"github.com/openshelf/openshelf/internal/spaces"
)

// BookingExpireJob sweeps confirmed bookings whose window has passed. It runs
// on a cron schedule so abandoned reservations free their slots.
type BookingExpireJob struct {
	Service *spaces.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewBookingExpireJob wires dependencies for the expiry sweep.
func NewBookingExpireJob(service *spaces.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *BookingExpireJob {
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	return &BookingExpireJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle processes expiry-sweep tasks.
func (j *BookingExpireJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("booking expire: handler not configured")
	}
	tracker := j.Metrics.Track("booking_expire")

	swept, err := j.Service.ExpirePast(ctx)
	if err != nil {
		return tracker.End(err)
	}
	j.Metrics.AddExpiredBookings(swept)
	if swept > 0 && j.Logger != nil {
		j.Logger.Info("expired bookings swept", slog.Int64("count", swept))
	}
	return tracker.End(nil)
}
