package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestSentinelMatchesCopyWithMessage(t *testing.T) {
	err := fmt.Errorf("confirm: %w", ErrForbidden.WithMessage("driver role required"))
	if !errors.Is(err, ErrForbidden) {
		t.Fatal("wrapped copy should match its sentinel")
	}
	if errors.Is(err, ErrDriverMismatch) {
		t.Fatal("different code in the same kind must not match")
	}
	if MessageOf(err) != "driver role required" || CodeOf(err) != "forbidden" {
		t.Fatalf("got code=%q message=%q", CodeOf(err), MessageOf(err))
	}
	if ErrForbidden.Message != "" {
		t.Fatal("WithMessage mutated the sentinel")
	}
}

func TestNotADriverIsForbidden(t *testing.T) {
	err := fmt.Errorf("gate: %w", ErrNotADriver.WithMessage("no driver profile"))
	if !errors.Is(err, ErrNotADriver) || !errors.Is(err, ErrForbidden) {
		t.Fatal("not_a_driver should match itself and forbidden")
	}
	if errors.Is(ErrForbidden, ErrNotADriver) {
		t.Fatal("forbidden must not match the narrower not_a_driver")
	}
	if CodeOf(err) != "not_a_driver" || HTTPStatus(err) != http.StatusForbidden {
		t.Fatalf("got code=%q status=%d", CodeOf(err), HTTPStatus(err))
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ErrNoCredential, http.StatusUnauthorized},
		{ErrDriverNotVerified, http.StatusForbidden},
		{Invalid("bad"), http.StatusBadRequest},
		{ErrBookingNotFound, http.StatusNotFound},
		{ErrAlreadyConfirmed, http.StatusConflict},
		{ErrRateLimited, http.StatusTooManyRequests},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("%v: got %d want %d", tc.err, got, tc.want)
		}
	}
}

func TestInternalFaultsAreOpaque(t *testing.T) {
	err := errors.New("pq: password authentication failed")
	if CodeOf(err) != "internal_error" || MessageOf(err) != "" || KindOf(err) != KindInternal {
		t.Fatalf("internal detail leaked: %q %q", CodeOf(err), MessageOf(err))
	}
}
