package booking

import (
	"strings"

	"github.com/google/uuid"

	"github.com/example/ride-booking/internal/apperrors"
	"github.com/example/ride-booking/internal/models"
)

const (
	maxLocationLen = 200
	maxDistanceKm  = 2000
)

type ConfirmRequest struct {
	BookingID      string  `json:"booking_id"`
	DriverID       string  `json:"driver_id"`
	DriverPhone    *string `json:"driver_phone,omitempty"`
	PassengerPhone *string `json:"passenger_phone,omitempty"`
}

func (r *ConfirmRequest) Validate() error {
	if r.BookingID == "" || r.DriverID == "" {
		return apperrors.Invalid("booking_id and driver_id are required")
	}
	var err error
	if r.BookingID, err = canonicalID("booking_id", r.BookingID); err != nil {
		return err
	}
	if r.DriverID, err = canonicalID("driver_id", r.DriverID); err != nil {
		return err
	}
	r.DriverPhone = optional(r.DriverPhone)
	r.PassengerPhone = optional(r.PassengerPhone)
	return nil
}

// BookRequest creates either a direct booking or, with IsPost, a ride post.
type BookRequest struct {
	IsPost         bool     `json:"is_post"`
	FromLocation   string   `json:"from_location"`
	ToLocation     string   `json:"to_location"`
	DistanceKm     *float64 `json:"distance_km,omitempty"`
	DistanceSource string   `json:"distance_source,omitempty"`
	PassengerPhone *string  `json:"passenger_phone,omitempty"`
	OfferAmount    *float64 `json:"offer_amount,omitempty"`
	Contact        *string  `json:"contact,omitempty"`
}

func (r *BookRequest) Validate() error {
	r.FromLocation = strings.TrimSpace(r.FromLocation)
	r.ToLocation = strings.TrimSpace(r.ToLocation)
	if r.FromLocation == "" || r.ToLocation == "" {
		return apperrors.Invalid("from_location and to_location are required")
	}
	if len(r.FromLocation) > maxLocationLen || len(r.ToLocation) > maxLocationLen {
		return apperrors.Invalid("location too long")
	}
	if r.DistanceKm != nil && (*r.DistanceKm < 0 || *r.DistanceKm > maxDistanceKm) {
		return apperrors.Invalid("distance_km out of range")
	}
	switch models.DistanceSource(r.DistanceSource) {
	case "":
		r.DistanceSource = string(models.DistanceManual)
	case models.DistanceManual, models.DistanceEstimated:
	default:
		return apperrors.Invalid("distance_source must be manual or estimated")
	}
	if r.OfferAmount != nil && *r.OfferAmount < 0 {
		return apperrors.Invalid("offer_amount must not be negative")
	}
	r.PassengerPhone = optional(r.PassengerPhone)
	r.Contact = optional(r.Contact)
	return nil
}

type SignUpRequest struct {
	Role models.Role `json:"role"`
}

type OnboardRequest struct {
	FullName    string             `json:"full_name"`
	VehicleType models.VehicleType `json:"vehicle_type"`
}

func (r *OnboardRequest) Validate() error {
	r.FullName = strings.TrimSpace(r.FullName)
	if r.FullName == "" {
		return apperrors.Invalid("full_name is required")
	}
	if !r.VehicleType.Valid() {
		return apperrors.Invalid("vehicle_type must be auto, bike or car")
	}
	return nil
}

type VerifyAction string

const (
	ActionApprove VerifyAction = "approve"
	ActionReject  VerifyAction = "reject"
)

type VerifyRequest struct {
	DriverID string       `json:"driver_id"`
	Action   VerifyAction `json:"action"`
	Reason   string       `json:"reason,omitempty"`
}

func (r *VerifyRequest) Validate() error {
	if r.DriverID == "" || r.Action == "" {
		return apperrors.Invalid("driver_id and action are required")
	}
	if r.Action != ActionApprove && r.Action != ActionReject {
		return apperrors.Invalid("action must be approve or reject")
	}
	var err error
	r.DriverID, err = canonicalID("driver_id", r.DriverID)
	return err
}

// canonicalID validates v as a uuid and returns its lowercase hyphenated
// form, so braced, urn and uppercase spellings compare equal to stored ids.
func canonicalID(field, v string) (string, error) {
	id, err := uuid.Parse(v)
	if err != nil {
		return "", apperrors.Invalid(field + " is not a valid id")
	}
	return id.String(), nil
}

// optional normalizes blank strings to nil.
func optional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
