// Package apperrors defines the error taxonomy shared by the gate, the store
// and the HTTP layer. Every failure a client can act on is an *Error with a
// stable code; anything else is treated as internal.
package apperrors

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindAuthorization
	KindValidation
	KindNotFound
	KindConflict
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

type Error struct {
	Kind    Kind
	Code    string
	Message string

	parent *Error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

// Is matches on kind and code so that a sentinel compares equal to a copy
// carrying a more specific message. A refined error also matches its parent.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind == t.Kind && e.Code == t.Code {
		return true
	}
	return e.parent != nil && e.parent.Is(target)
}

func New(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

// refine returns a sentinel with its own code that still matches parent.
func refine(parent *Error, code string) *Error {
	return &Error{Kind: parent.Kind, Code: code, parent: parent}
}

// WithMessage returns a copy of e carrying msg.
func (e *Error) WithMessage(msg string) *Error {
	cp := *e
	cp.Message = msg
	return &cp
}

var (
	ErrNoCredential            = New(KindAuthentication, "no_auth")
	ErrInvalidCredentialFormat = New(KindAuthentication, "invalid_auth_format")
	ErrInvalidToken            = New(KindAuthentication, "invalid_token")
	ErrUserNotFound            = New(KindAuthentication, "user_not_found")

	ErrForbidden         = New(KindAuthorization, "forbidden")
	ErrNotADriver        = refine(ErrForbidden, "not_a_driver")
	ErrDriverNotVerified = New(KindAuthorization, "driver_not_verified")
	ErrDriverMismatch    = New(KindAuthorization, "driver_mismatch")
	ErrAdminSignup       = New(KindAuthorization, "admin_signup_not_allowed")

	ErrInvalidInput = New(KindValidation, "invalid_input")

	ErrBookingNotFound = New(KindNotFound, "booking_not_found")
	ErrDriverNotFound  = New(KindNotFound, "driver_not_found")

	ErrAlreadyConfirmed = New(KindConflict, "already_confirmed")
	ErrBookingClosed    = New(KindConflict, "booking_closed")
	ErrInvalidState     = New(KindConflict, "invalid_state")
	ErrAlreadyExists    = New(KindConflict, "already_exists")

	ErrRateLimited = New(KindRateLimited, "rate_limited")
)

// Invalid builds a validation error describing the offending input.
func Invalid(msg string) *Error {
	return ErrInvalidInput.WithMessage(msg)
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the client-facing code. Internal faults never leak detail.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}

// MessageOf returns the client-facing message, empty for internal faults.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return ""
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
