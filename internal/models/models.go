package models

import "time"

type Role string

const (
	RoleBooker Role = "booker"
	RoleDriver Role = "driver"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleBooker, RoleDriver, RoleAdmin:
		return true
	}
	return false
}

type VehicleType string

const (
	VehicleAuto VehicleType = "auto"
	VehicleBike VehicleType = "bike"
	VehicleCar  VehicleType = "car"
)

func (v VehicleType) Valid() bool {
	switch v {
	case VehicleAuto, VehicleBike, VehicleCar:
		return true
	}
	return false
}

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationApproved VerificationStatus = "approved"
	VerificationRejected VerificationStatus = "rejected"
)

type BookingStatus string

const (
	BookingRequested BookingStatus = "requested"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

type DistanceSource string

const (
	DistanceManual    DistanceSource = "manual"
	DistanceEstimated DistanceSource = "estimated"
)

type RidePostStatus string

const (
	RidePostOpen    RidePostStatus = "open"
	RidePostClaimed RidePostStatus = "claimed"
	RidePostClosed  RidePostStatus = "closed"
)

type User struct {
	ID        string    `json:"id"`
	Phone     string    `json:"phone"`
	Role      Role      `json:"role"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

type Driver struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"user_id"`
	FullName           string             `json:"full_name"`
	VehicleType        VehicleType        `json:"vehicle_type"`
	RCDocURL           *string            `json:"rc_doc_url,omitempty"`
	IDDocURL           *string            `json:"id_doc_url,omitempty"`
	SelfieURL          *string            `json:"selfie_url,omitempty"`
	Verified           bool               `json:"verified"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	CreatedAt          time.Time          `json:"created_at"`
}

// Approved reports whether the driver may act on bookings.
func (d *Driver) Approved() bool {
	return d.VerificationStatus == VerificationApproved
}

type Booking struct {
	ID                     string         `json:"id"`
	FromLocation           string         `json:"from_location"`
	ToLocation             string         `json:"to_location"`
	DistanceKm             *float64       `json:"distance_km,omitempty"`
	DistanceSource         DistanceSource `json:"distance_source"`
	Status                 BookingStatus  `json:"status"`
	BookerID               string         `json:"booker_id"`
	DriverID               *string        `json:"driver_id,omitempty"`
	FareFixed              *float64       `json:"fare_fixed,omitempty"`
	PassengerPhoneSnapshot *string        `json:"passenger_phone_snapshot,omitempty"`
	DriverPhoneSnapshot    *string        `json:"driver_phone_snapshot,omitempty"`
	CreatedAt              time.Time      `json:"created_at"`
	ConfirmedAt            *time.Time     `json:"confirmed_at,omitempty"`
}

type RidePost struct {
	ID           string         `json:"id"`
	BookerID     string         `json:"booker_id"`
	FromLocation string         `json:"from_location"`
	ToLocation   string         `json:"to_location"`
	DistanceKm   *float64       `json:"distance_km,omitempty"`
	OfferAmount  *float64       `json:"offer_amount,omitempty"`
	Contact      *string        `json:"contact,omitempty"`
	Status       RidePostStatus `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
}

type AuditLog struct {
	ID          string         `json:"id"`
	Action      string         `json:"action"`
	ActorUserID string         `json:"actor_user_id,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	IPAddress   string         `json:"ip_address,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// BookingEvent is pushed to connected clients when a booking changes state.
type BookingEvent struct {
	Type    string   `json:"type"`
	Booking *Booking `json:"booking"`
}
