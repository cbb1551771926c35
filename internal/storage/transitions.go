package storage

import (
	"fmt"

	"github.com/example/ride-booking/internal/apperrors"
	"github.com/example/ride-booking/internal/models"
)

// confirmFailure classifies a confirmation that lost the compare-and-swap,
// given the booking status observed afterwards.
func confirmFailure(status models.BookingStatus) error {
	switch status {
	case models.BookingConfirmed, models.BookingCompleted:
		return apperrors.ErrAlreadyConfirmed
	case models.BookingCancelled:
		return apperrors.ErrBookingClosed
	default:
		return fmt.Errorf("booking in unexpected status %q after failed confirm", status)
	}
}

func completeFailure(b *models.Booking, driverID string) error {
	if b.DriverID == nil || *b.DriverID != driverID {
		return apperrors.ErrDriverMismatch.WithMessage("booking is assigned to another driver")
	}
	if b.Status == models.BookingCompleted {
		return apperrors.ErrInvalidState.WithMessage("booking already completed")
	}
	return apperrors.ErrInvalidState.WithMessage(fmt.Sprintf("cannot complete a %s booking", b.Status))
}

func cancelFailure(b *models.Booking, bookerID string) error {
	if b.BookerID != bookerID {
		return apperrors.ErrForbidden.WithMessage("booking belongs to another booker")
	}
	if b.Status == models.BookingCancelled {
		return apperrors.ErrBookingClosed
	}
	return apperrors.ErrInvalidState.WithMessage(fmt.Sprintf("cannot cancel a %s booking", b.Status))
}
