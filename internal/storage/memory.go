package storage

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-booking/internal/apperrors"
	"github.com/example/ride-booking/internal/models"
)

// MemoryStore is an in-process Store used for local runs and tests. A single
// mutex guards every table, so each method is atomic on its own.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]models.User
	drivers   map[string]models.Driver
	bookings  map[string]models.Booking
	ridePosts map[string]models.RidePost
	audit     []models.AuditLog
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]models.User),
		drivers:   make(map[string]models.Driver),
		bookings:  make(map[string]models.Booking),
		ridePosts: make(map[string]models.RidePost),
		now:       time.Now,
	}
}

func (m *MemoryStore) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return apperrors.ErrAlreadyExists.WithMessage("user already exists")
	}
	m.users[u.ID] = *u
	return nil
}

func (m *MemoryStore) UserByID(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, apperrors.ErrUserNotFound
	}
	return &u, nil
}

func (m *MemoryStore) CreateDriver(_ context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[d.ID]; ok {
		return apperrors.ErrAlreadyExists.WithMessage("driver already exists")
	}
	for _, existing := range m.drivers {
		if existing.UserID == d.UserID {
			return apperrors.ErrAlreadyExists.WithMessage("user already has a driver profile")
		}
	}
	m.drivers[d.ID] = *d
	return nil
}

func (m *MemoryStore) DriverByID(_ context.Context, id string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return nil, apperrors.ErrDriverNotFound
	}
	return &d, nil
}

func (m *MemoryStore) DriverByUserID(_ context.Context, userID string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.drivers {
		if d.UserID == userID {
			return &d, nil
		}
	}
	return nil, apperrors.ErrDriverNotFound
}

func (m *MemoryStore) SetDriverVerification(_ context.Context, upd VerificationUpdate) (*models.Driver, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[upd.DriverID]
	if !ok {
		return nil, apperrors.ErrDriverNotFound
	}
	d.VerificationStatus = upd.Status
	d.Verified = upd.Status == models.VerificationApproved
	m.drivers[d.ID] = d
	if u, ok := m.users[d.UserID]; ok {
		u.Verified = d.Verified
		m.users[u.ID] = u
	}
	return &d, nil
}

func (m *MemoryStore) CreateBooking(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; ok {
		return apperrors.ErrAlreadyExists.WithMessage("booking already exists")
	}
	m.bookings[b.ID] = *b
	return nil
}

func (m *MemoryStore) BookingByID(_ context.Context, id string) (*models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, apperrors.ErrBookingNotFound
	}
	return &b, nil
}

func (m *MemoryStore) ConfirmBooking(_ context.Context, p ConfirmParams) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[p.BookingID]
	if !ok {
		return nil, apperrors.ErrBookingNotFound
	}
	if b.Status != models.BookingRequested {
		return nil, confirmFailure(b.Status)
	}
	now := m.now()
	driverID := p.DriverID
	b.DriverID = &driverID
	b.Status = models.BookingConfirmed
	b.ConfirmedAt = &now
	if p.DriverPhone != nil {
		b.DriverPhoneSnapshot = p.DriverPhone
	}
	if p.PassengerPhone != nil {
		b.PassengerPhoneSnapshot = p.PassengerPhone
	}
	m.bookings[b.ID] = b
	return &b, nil
}

func (m *MemoryStore) CompleteBooking(_ context.Context, bookingID, driverID string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return nil, apperrors.ErrBookingNotFound
	}
	if b.Status != models.BookingConfirmed || b.DriverID == nil || *b.DriverID != driverID {
		return nil, completeFailure(&b, driverID)
	}
	b.Status = models.BookingCompleted
	m.bookings[b.ID] = b
	return &b, nil
}

func (m *MemoryStore) CancelBooking(_ context.Context, bookingID, bookerID string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[bookingID]
	if !ok {
		return nil, apperrors.ErrBookingNotFound
	}
	if b.Status != models.BookingRequested || b.BookerID != bookerID {
		return nil, cancelFailure(&b, bookerID)
	}
	b.Status = models.BookingCancelled
	m.bookings[b.ID] = b
	return &b, nil
}

func (m *MemoryStore) CreateRidePost(_ context.Context, p *models.RidePost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ridePosts[p.ID]; ok {
		return apperrors.ErrAlreadyExists.WithMessage("ride post already exists")
	}
	m.ridePosts[p.ID] = *p
	return nil
}

func (m *MemoryStore) AppendAudit(_ context.Context, e *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, *e)
	return nil
}

// AuditLogs returns a copy of the audit trail in append order.
func (m *MemoryStore) AuditLogs() []models.AuditLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AuditLog, len(m.audit))
	copy(out, m.audit)
	return out
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
