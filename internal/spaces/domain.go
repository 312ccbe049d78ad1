package spaces

import "time"

// Space is one bookable study space.
type Space struct {
	ID       int64
	Name     string
	Building string
	Floor    string
	Capacity int
	HasPower bool
	IsQuiet  bool
}

// BookingStatus is the lifecycle state of a reservation.
type BookingStatus string

const (
	// BookingConfirmed holds the space for the requested window.
	BookingConfirmed BookingStatus = "confirmed"
	// BookingCancelled released the window before it started.
	BookingCancelled BookingStatus = "cancelled"
	// BookingExpired was swept after its window passed.
	BookingExpired BookingStatus = "expired"
)

// Booking is a reservation of a space by an identity.
type Booking struct {
	ID         int64
	SpaceID    int64
	IdentityID int64
	StartsAt   time.Time
	EndsAt     time.Time
	Status     BookingStatus
	CreatedAt  time.Time

	// SpaceName is joined in for display; not a column of bookings.
	SpaceName string
}
