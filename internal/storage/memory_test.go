package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-booking/internal/apperrors"
	"github.com/example/ride-booking/internal/models"
)

func seedBooking(t *testing.T, s *MemoryStore, id string, status models.BookingStatus) {
	t.Helper()
	b := &models.Booking{
		ID:             id,
		FromLocation:   "Village A",
		ToLocation:     "Town B",
		DistanceSource: models.DistanceManual,
		Status:         status,
		BookerID:       "booker-1",
		CreatedAt:      time.Now(),
	}
	if status != models.BookingRequested && status != models.BookingCancelled {
		d := "driver-0"
		b.DriverID = &d
	}
	if err := s.CreateBooking(context.Background(), b); err != nil {
		t.Fatalf("seed booking: %v", err)
	}
}

func TestConcurrentConfirmationsHaveExactlyOneWinner(t *testing.T) {
	for _, n := range []int{2, 8, 64} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			s := NewMemoryStore()
			seedBooking(t, s, "B1", models.BookingRequested)

			var wg sync.WaitGroup
			errs := make([]error, n)
			start := make(chan struct{})
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start
					_, errs[i] = s.ConfirmBooking(context.Background(), ConfirmParams{BookingID: "B1", DriverID: fmt.Sprintf("D%d", i)})
				}(i)
			}
			close(start)
			wg.Wait()

			winners, conflicts := 0, 0
			winner := ""
			for i, err := range errs {
				switch {
				case err == nil:
					winners++
					winner = fmt.Sprintf("D%d", i)
				case errors.Is(err, apperrors.ErrAlreadyConfirmed):
					conflicts++
				default:
					t.Fatalf("unexpected error: %v", err)
				}
			}
			if winners != 1 || conflicts != n-1 {
				t.Fatalf("winners=%d conflicts=%d", winners, conflicts)
			}
			b, _ := s.BookingByID(context.Background(), "B1")
			if b.Status != models.BookingConfirmed || b.DriverID == nil || *b.DriverID != winner {
				t.Fatalf("booking state %+v, winner %s", b, winner)
			}
		})
	}
}

func TestConfirmStoresSnapshotsAndTimestamp(t *testing.T) {
	s := NewMemoryStore()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	seedBooking(t, s, "B1", models.BookingRequested)
	dp, pp := "+919876543210", "+911234567890"
	b, err := s.ConfirmBooking(context.Background(), ConfirmParams{BookingID: "B1", DriverID: "D1", DriverPhone: &dp, PassengerPhone: &pp})
	if err != nil {
		t.Fatal(err)
	}
	if b.ConfirmedAt == nil || !b.ConfirmedAt.Equal(fixed) {
		t.Fatalf("confirmed_at=%v", b.ConfirmedAt)
	}
	if *b.DriverPhoneSnapshot != dp || *b.PassengerPhoneSnapshot != pp {
		t.Fatalf("snapshots not stored: %+v", b)
	}
}

func TestConfirmOnNonRequestedBookingFailsWithoutMutation(t *testing.T) {
	cases := map[models.BookingStatus]error{
		models.BookingConfirmed: apperrors.ErrAlreadyConfirmed,
		models.BookingCompleted: apperrors.ErrAlreadyConfirmed,
		models.BookingCancelled: apperrors.ErrBookingClosed,
	}
	for status, want := range cases {
		s := NewMemoryStore()
		seedBooking(t, s, "B1", status)
		before, _ := s.BookingByID(context.Background(), "B1")
		_, err := s.ConfirmBooking(context.Background(), ConfirmParams{BookingID: "B1", DriverID: "D9"})
		if !errors.Is(err, want) {
			t.Fatalf("%s: got %v want %v", status, err, want)
		}
		after, _ := s.BookingByID(context.Background(), "B1")
		if after.Status != before.Status || fmt.Sprint(after.DriverID) != fmt.Sprint(before.DriverID) {
			t.Fatalf("%s: booking mutated: before=%+v after=%+v", status, before, after)
		}
	}
}

func TestConfirmMissingBooking(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.ConfirmBooking(context.Background(), ConfirmParams{BookingID: "nope", DriverID: "D1"})
	if !errors.Is(err, apperrors.ErrBookingNotFound) {
		t.Fatalf("got %v", err)
	}
}

func TestCompleteOnlyByAssignedDriver(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBooking(t, s, "B1", models.BookingRequested)
	if _, err := s.CompleteBooking(ctx, "B1", "D1"); apperrors.KindOf(err) != apperrors.KindAuthorization {
		t.Fatalf("complete before confirm: %v", err)
	}
	if _, err := s.ConfirmBooking(ctx, ConfirmParams{BookingID: "B1", DriverID: "D1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CompleteBooking(ctx, "B1", "D2"); !errors.Is(err, apperrors.ErrDriverMismatch) {
		t.Fatalf("other driver: %v", err)
	}
	b, err := s.CompleteBooking(ctx, "B1", "D1")
	if err != nil || b.Status != models.BookingCompleted {
		t.Fatalf("complete: %+v %v", b, err)
	}
	if _, err := s.CompleteBooking(ctx, "B1", "D1"); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("second complete: %v", err)
	}
}

func TestCancelOnlyFromRequested(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedBooking(t, s, "B1", models.BookingRequested)
	if _, err := s.CancelBooking(ctx, "B1", "someone-else"); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("foreign cancel: %v", err)
	}
	if _, err := s.CancelBooking(ctx, "B1", "booker-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CancelBooking(ctx, "B1", "booker-1"); !errors.Is(err, apperrors.ErrBookingClosed) {
		t.Fatalf("double cancel: %v", err)
	}

	seedBooking(t, s, "B2", models.BookingConfirmed)
	if _, err := s.CancelBooking(ctx, "B2", "booker-1"); !errors.Is(err, apperrors.ErrInvalidState) {
		t.Fatalf("cancel confirmed: %v", err)
	}
}

func TestSetDriverVerificationUpdatesUser(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.CreateUser(ctx, &models.User{ID: "u1", Role: models.RoleDriver})
	_ = s.CreateDriver(ctx, &models.Driver{ID: "d1", UserID: "u1", VerificationStatus: models.VerificationPending})

	d, err := s.SetDriverVerification(ctx, VerificationUpdate{DriverID: "d1", Status: models.VerificationApproved})
	if err != nil || !d.Verified || !d.Approved() {
		t.Fatalf("approve: %+v %v", d, err)
	}
	u, _ := s.UserByID(ctx, "u1")
	if !u.Verified {
		t.Fatal("user not marked verified")
	}

	if _, err := s.SetDriverVerification(ctx, VerificationUpdate{DriverID: "missing", Status: models.VerificationRejected}); !errors.Is(err, apperrors.ErrDriverNotFound) {
		t.Fatalf("missing driver: %v", err)
	}
}

func TestDriverProfileIsOnePerUser(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateDriver(ctx, &models.Driver{ID: "d1", UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateDriver(ctx, &models.Driver{ID: "d2", UserID: "u1"}); !errors.Is(err, apperrors.ErrAlreadyExists) {
		t.Fatalf("got %v", err)
	}
}

func TestMigrationsAreEmbedded(t *testing.T) {
	body, err := migrationFS.ReadFile("migrations/001_init.sql")
	if err != nil {
		t.Fatal(err)
	}
	if len(body) == 0 {
		t.Fatal("empty migration")
	}
}
