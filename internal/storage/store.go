package storage

import (
	"context"

	"github.com/example/ride-booking/internal/models"
)

// ConfirmParams carries a confirmation attempt. Nil phones leave the stored
// snapshots untouched.
type ConfirmParams struct {
	BookingID      string
	DriverID       string
	DriverPhone    *string
	PassengerPhone *string
}

// VerificationUpdate is an admin decision on a driver application.
type VerificationUpdate struct {
	DriverID string
	Status   models.VerificationStatus
}

// Store is the persistence boundary. Lookups of missing rows return an
// apperrors NotFound-kind error (ErrUserNotFound for users, ErrDriverNotFound
// for drivers, ErrBookingNotFound for bookings).
type Store interface {
	CreateUser(ctx context.Context, u *models.User) error
	UserByID(ctx context.Context, id string) (*models.User, error)

	CreateDriver(ctx context.Context, d *models.Driver) error
	DriverByID(ctx context.Context, id string) (*models.Driver, error)
	DriverByUserID(ctx context.Context, userID string) (*models.Driver, error)
	// SetDriverVerification updates the driver and its user's verified flag
	// together.
	SetDriverVerification(ctx context.Context, upd VerificationUpdate) (*models.Driver, error)

	CreateBooking(ctx context.Context, b *models.Booking) error
	BookingByID(ctx context.Context, id string) (*models.Booking, error)
	// ConfirmBooking assigns a driver to a requested booking as one atomic
	// compare-and-swap. Exactly one of any set of concurrent calls for the
	// same booking succeeds.
	ConfirmBooking(ctx context.Context, p ConfirmParams) (*models.Booking, error)
	CompleteBooking(ctx context.Context, bookingID, driverID string) (*models.Booking, error)
	CancelBooking(ctx context.Context, bookingID, bookerID string) (*models.Booking, error)

	CreateRidePost(ctx context.Context, p *models.RidePost) error

	AppendAudit(ctx context.Context, e *models.AuditLog) error

	Ping(ctx context.Context) error
}
