package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/smtp"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeBookingConfirm sends the confirmation email for a booking.
	TaskTypeBookingConfirm = "booking:confirm_email"
	// TaskTypeBookingExpire sweeps bookings whose window has passed.
	TaskTypeBookingExpire = "booking:expire_sweep"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// BookingConfirmPayload identifies the booking to confirm by mail.
type BookingConfirmPayload struct {
	BookingID int64 `json:"booking_id"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// NewBookingConfirmTask constructs a booking-confirmation task.
func NewBookingConfirmTask(bookingID int64) (*asynq.Task, error) {
	data, err := json.Marshal(BookingConfirmPayload{BookingID: bookingID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeBookingConfirm, data), nil
}

// NewBookingExpireTask constructs the periodic expiry-sweep task.
func NewBookingExpireTask() *asynq.Task {
	return asynq.NewTask(TaskTypeBookingExpire, nil)
}

// Mailer delivers transactional mail over SMTP.
type Mailer struct {
	Addr string
	From string
}

// Send delivers one plain-text message. A mailer with no address configured
// drops mail silently, which keeps local development working without SMTP.
func (m *Mailer) Send(to, subject, body string) error {
	if m == nil || m.Addr == "" {
		return nil
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n", m.From, to, subject, body)
	return smtp.SendMail(m.Addr, nil, m.From, []string{to}, []byte(msg))
}

// NewSendEmailHandler processes TaskTypeSendEmail tasks through the mailer.
func NewSendEmailHandler(mailer *Mailer) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SendEmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		return mailer.Send(payload.To, payload.Subject, payload.Body)
	}
}
