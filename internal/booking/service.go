// Package booking implements the booker, driver and admin operations on top
// of the store. Callers authenticate with the identity gate first; the service
// performs the ownership checks that depend on the resolved identity.
package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-booking/internal/apperrors"
	"github.com/example/ride-booking/internal/audit"
	"github.com/example/ride-booking/internal/dispatch"
	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/observability"
	"github.com/example/ride-booking/internal/storage"
)

const (
	EventBookingConfirmed = "booking_confirmed"
	EventBookingCompleted = "booking_completed"
	EventBookingCancelled = "booking_cancelled"
)

// Caller is an authenticated, verified driver as returned by the gate.
type Caller struct {
	User   *models.User
	Driver *models.Driver
}

type Service struct {
	store    storage.Store
	audit    *audit.Recorder
	notifier dispatch.Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the service. notifier may be nil.
func NewService(store storage.Store, rec *audit.Recorder, notifier dispatch.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, audit: rec, notifier: notifier, logger: logger, now: time.Now}
}

// Confirm assigns the calling driver to a requested booking. The driver id in
// the request must be the caller's own; the check runs before the store is
// touched. The audit entry is written only once the transaction returned.
func (s *Service) Confirm(ctx context.Context, caller Caller, req ConfirmRequest, ip string) (*models.Booking, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if caller.User == nil || caller.Driver == nil || req.DriverID != caller.Driver.ID {
		return nil, apperrors.ErrDriverMismatch
	}

	start := time.Now()
	b, err := s.store.ConfirmBooking(ctx, storage.ConfirmParams{
		BookingID:      req.BookingID,
		DriverID:       req.DriverID,
		DriverPhone:    req.DriverPhone,
		PassengerPhone: req.PassengerPhone,
	})
	observability.ConfirmLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		observability.ConfirmationsTotal.WithLabelValues(apperrors.CodeOf(err)).Inc()
		return nil, err
	}
	observability.ConfirmationsTotal.WithLabelValues("confirmed").Inc()

	s.audit.Record(ctx, audit.Entry{
		Action:      audit.ActionBookingConfirmed,
		ActorUserID: caller.User.ID,
		Details:     map[string]any{"booking_id": b.ID, "driver_id": req.DriverID},
		IPAddress:   ip,
	})
	s.notify(b.BookerID, EventBookingConfirmed, b)
	return b, nil
}

func (s *Service) CreateBooking(ctx context.Context, booker *models.User, req BookRequest, ip string) (*models.Booking, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	phone := req.PassengerPhone
	if phone == nil && booker.Phone != "" {
		p := booker.Phone
		phone = &p
	}
	b := &models.Booking{
		ID:                     uuid.NewString(),
		FromLocation:           req.FromLocation,
		ToLocation:             req.ToLocation,
		DistanceKm:             req.DistanceKm,
		DistanceSource:         models.DistanceSource(req.DistanceSource),
		Status:                 models.BookingRequested,
		BookerID:               booker.ID,
		PassengerPhoneSnapshot: phone,
		CreatedAt:              s.now().UTC(),
	}
	if err := s.store.CreateBooking(ctx, b); err != nil {
		return nil, err
	}
	observability.BookingsCreatedTotal.Inc()
	s.audit.Record(ctx, audit.Entry{
		Action:      audit.ActionBookingCreated,
		ActorUserID: booker.ID,
		Details:     map[string]any{"booking_id": b.ID, "from": b.FromLocation, "to": b.ToLocation},
		IPAddress:   ip,
	})
	return b, nil
}

func (s *Service) CreateRidePost(ctx context.Context, booker *models.User, req BookRequest, ip string) (*models.RidePost, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p := &models.RidePost{
		ID:           uuid.NewString(),
		BookerID:     booker.ID,
		FromLocation: req.FromLocation,
		ToLocation:   req.ToLocation,
		DistanceKm:   req.DistanceKm,
		OfferAmount:  req.OfferAmount,
		Contact:      req.Contact,
		Status:       models.RidePostOpen,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateRidePost(ctx, p); err != nil {
		return nil, err
	}
	observability.RidePostsCreatedTotal.Inc()
	s.audit.Record(ctx, audit.Entry{
		Action:      audit.ActionRidePostCreated,
		ActorUserID: booker.ID,
		Details:     map[string]any{"ride_post_id": p.ID},
		IPAddress:   ip,
	})
	return p, nil
}

// Get returns a booking to its booker, its assigned driver, or an admin.
// Drivers use it to re-check the outcome of a confirmation that timed out.
func (s *Service) Get(ctx context.Context, user *models.User, bookingID string) (*models.Booking, error) {
	bookingID, err := canonicalID("booking_id", bookingID)
	if err != nil {
		return nil, err
	}
	b, err := s.store.BookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	switch user.Role {
	case models.RoleAdmin:
		return b, nil
	case models.RoleBooker:
		if b.BookerID == user.ID {
			return b, nil
		}
	case models.RoleDriver:
		d, err := s.store.DriverByUserID(ctx, user.ID)
		if err != nil && !errors.Is(err, apperrors.ErrDriverNotFound) {
			return nil, err
		}
		if d != nil && b.DriverID != nil && *b.DriverID == d.ID {
			return b, nil
		}
	}
	return nil, apperrors.ErrForbidden.WithMessage("booking not visible to caller")
}

func (s *Service) Complete(ctx context.Context, caller Caller, bookingID, ip string) (*models.Booking, error) {
	bookingID, err := canonicalID("booking_id", bookingID)
	if err != nil {
		return nil, err
	}
	b, err := s.store.CompleteBooking(ctx, bookingID, caller.Driver.ID)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Entry{
		Action:      audit.ActionBookingCompleted,
		ActorUserID: caller.User.ID,
		Details:     map[string]any{"booking_id": b.ID, "driver_id": caller.Driver.ID},
		IPAddress:   ip,
	})
	s.notify(b.BookerID, EventBookingCompleted, b)
	return b, nil
}

func (s *Service) Cancel(ctx context.Context, booker *models.User, bookingID, ip string) (*models.Booking, error) {
	bookingID, err := canonicalID("booking_id", bookingID)
	if err != nil {
		return nil, err
	}
	b, err := s.store.CancelBooking(ctx, bookingID, booker.ID)
	if err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Entry{
		Action:      audit.ActionBookingCancelled,
		ActorUserID: booker.ID,
		Details:     map[string]any{"booking_id": b.ID},
		IPAddress:   ip,
	})
	s.notify(b.BookerID, EventBookingCancelled, b)
	return b, nil
}

// SignUp creates the local profile for an identity the provider already
// verified. Admin accounts are provisioned out of band and cannot be created
// here.
func (s *Service) SignUp(ctx context.Context, subjectID, phone string, role models.Role, ip string) (*models.User, error) {
	if role == models.RoleAdmin {
		s.logger.Warn("admin signup attempt blocked", "subject", subjectID, "remote_addr", ip)
		s.audit.Record(ctx, audit.Entry{
			Action:      audit.ActionAdminSignupBlocked,
			ActorUserID: subjectID,
			Details:     map[string]any{"phone": phone},
			IPAddress:   ip,
		})
		return nil, apperrors.ErrAdminSignup
	}
	if role != models.RoleBooker && role != models.RoleDriver {
		return nil, apperrors.Invalid("role must be booker or driver")
	}
	if _, err := canonicalID("subject", subjectID); err != nil {
		return nil, err
	}
	if phone == "" {
		return nil, apperrors.Invalid("identity has no phone number")
	}
	u := &models.User{
		ID:        subjectID,
		Phone:     phone,
		Role:      role,
		Verified:  role == models.RoleBooker,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Entry{
		Action:      audit.ActionUserSignedUp,
		ActorUserID: u.ID,
		Details:     map[string]any{"role": string(role)},
		IPAddress:   ip,
	})
	return u, nil
}

// OnboardDriver creates a pending driver application for a driver-role user.
func (s *Service) OnboardDriver(ctx context.Context, user *models.User, req OnboardRequest, ip string) (*models.Driver, error) {
	if user.Role != models.RoleDriver {
		return nil, apperrors.ErrForbidden.WithMessage("driver role required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	d := &models.Driver{
		ID:                 uuid.NewString(),
		UserID:             user.ID,
		FullName:           req.FullName,
		VehicleType:        req.VehicleType,
		VerificationStatus: models.VerificationPending,
		CreatedAt:          s.now().UTC(),
	}
	if err := s.store.CreateDriver(ctx, d); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, audit.Entry{
		Action:      audit.ActionDriverOnboarded,
		ActorUserID: user.ID,
		Details:     map[string]any{"driver_id": d.ID, "vehicle_type": string(d.VehicleType)},
		IPAddress:   ip,
	})
	return d, nil
}

// VerifyDriver records an admin decision on a driver application. It only
// touches the driver and its user; booking assignment always goes through
// Confirm.
func (s *Service) VerifyDriver(ctx context.Context, admin *models.User, req VerifyRequest, ip string) (*models.Driver, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	status, action := models.VerificationApproved, audit.ActionDriverApproved
	if req.Action == ActionReject {
		status, action = models.VerificationRejected, audit.ActionDriverRejected
	}
	d, err := s.store.SetDriverVerification(ctx, storage.VerificationUpdate{DriverID: req.DriverID, Status: status})
	if err != nil {
		return nil, err
	}
	details := map[string]any{"driver_id": d.ID}
	if req.Reason != "" {
		details["reason"] = req.Reason
	}
	s.audit.Record(ctx, audit.Entry{Action: action, ActorUserID: admin.ID, Details: details, IPAddress: ip})
	return d, nil
}

func (s *Service) notify(userID, kind string, b *models.Booking) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Send(userID, models.BookingEvent{Type: kind, Booking: b})
	if err != nil && !errors.Is(err, dispatch.ErrNoSession) {
		s.logger.Warn("booking event not delivered", "user_id", userID, "event", kind, "error", err)
	}
}
