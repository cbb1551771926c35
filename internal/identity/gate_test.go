package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/ride-booking/internal/apperrors"
	"github.com/example/ride-booking/internal/models"
)

type fakeDirectory struct {
	users   map[string]*models.User
	drivers map[string]*models.Driver // keyed by user id
	err     error
}

func (f *fakeDirectory) UserByID(_ context.Context, id string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, apperrors.ErrUserNotFound
}

func (f *fakeDirectory) DriverByUserID(_ context.Context, userID string) (*models.Driver, error) {
	if d, ok := f.drivers[userID]; ok {
		return d, nil
	}
	return nil, apperrors.ErrDriverNotFound
}

const testSecret = "test-secret"

func newTestGate(t *testing.T) (*Gate, *JWTVerifier) {
	t.Helper()
	v, err := NewJWTVerifier(JWTConfig{Secret: testSecret, Issuer: "identity"})
	if err != nil {
		t.Fatal(err)
	}
	dir := &fakeDirectory{
		users: map[string]*models.User{
			"admin":   {ID: "admin", Role: models.RoleAdmin, Verified: true},
			"booker":  {ID: "booker", Role: models.RoleBooker, Verified: true},
			"drv-ok":  {ID: "drv-ok", Role: models.RoleDriver, Verified: true},
			"drv-new": {ID: "drv-new", Role: models.RoleDriver},
			"drv-no":  {ID: "drv-no", Role: models.RoleDriver},
		},
		drivers: map[string]*models.Driver{
			"drv-ok":  {ID: "D1", UserID: "drv-ok", VerificationStatus: models.VerificationApproved, Verified: true},
			"drv-new": {ID: "D3", UserID: "drv-new", VerificationStatus: models.VerificationPending},
		},
	}
	return NewGate(v, dir), v
}

func bearer(t *testing.T, v *JWTVerifier, sub string) string {
	t.Helper()
	tok, err := v.Sign(sub, "+910000000000", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return "Bearer " + tok
}

func TestAuthenticateCredentialErrors(t *testing.T) {
	g, v := newTestGate(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		header string
		want   error
	}{
		{"missing", "", apperrors.ErrNoCredential},
		{"wrong scheme", "Basic abc", apperrors.ErrInvalidCredentialFormat},
		{"no token", "Bearer ", apperrors.ErrInvalidCredentialFormat},
		{"garbage token", "Bearer not-a-jwt", apperrors.ErrInvalidToken},
		{"unknown user", bearer(t, v, "ghost"), apperrors.ErrUserNotFound},
	}
	for _, tc := range cases {
		if _, err := g.Authenticate(ctx, tc.header); !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}
}

func TestAuthenticateReturnsUser(t *testing.T) {
	g, v := newTestGate(t)
	u, err := g.Authenticate(context.Background(), bearer(t, v, "booker"))
	if err != nil {
		t.Fatal(err)
	}
	if u.ID != "booker" || u.Role != models.RoleBooker {
		t.Fatalf("got %+v", u)
	}
}

func TestDirectoryFaultIsInternal(t *testing.T) {
	v, _ := NewJWTVerifier(JWTConfig{Secret: testSecret})
	g := NewGate(v, &fakeDirectory{err: errors.New("connection refused")})
	_, err := g.Authenticate(context.Background(), bearer(t, v, "booker"))
	if apperrors.KindOf(err) != apperrors.KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
}

func TestRequireAdmin(t *testing.T) {
	g, v := newTestGate(t)
	ctx := context.Background()
	if _, err := g.RequireAdmin(ctx, bearer(t, v, "admin")); err != nil {
		t.Fatalf("admin rejected: %v", err)
	}
	if _, err := g.RequireAdmin(ctx, bearer(t, v, "booker")); !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("booker as admin: %v", err)
	}
}

func TestRequireDriver(t *testing.T) {
	g, v := newTestGate(t)
	ctx := context.Background()

	u, d, err := g.RequireDriver(ctx, bearer(t, v, "drv-ok"))
	if err != nil || u.ID != "drv-ok" || d.ID != "D1" {
		t.Fatalf("approved driver: %+v %+v %v", u, d, err)
	}
	if _, _, err := g.RequireDriver(ctx, bearer(t, v, "drv-new")); !errors.Is(err, apperrors.ErrDriverNotVerified) {
		t.Fatalf("pending driver: %v", err)
	}
	_, _, err = g.RequireDriver(ctx, bearer(t, v, "drv-no"))
	if !errors.Is(err, apperrors.ErrNotADriver) || !errors.Is(err, apperrors.ErrForbidden) {
		t.Fatalf("no driver row: %v", err)
	}
	if _, _, err := g.RequireDriver(ctx, ""); !errors.Is(err, apperrors.ErrNoCredential) {
		t.Fatalf("no credential: %v", err)
	}
}

func TestVerifierRejectsForeignTokens(t *testing.T) {
	v, _ := NewJWTVerifier(JWTConfig{Secret: testSecret, Issuer: "identity"})
	ctx := context.Background()

	other, _ := NewJWTVerifier(JWTConfig{Secret: "other-secret", Issuer: "identity"})
	tok, _ := other.Sign("booker", "", time.Hour)
	if _, err := v.Verify(ctx, tok); err == nil {
		t.Fatal("accepted token signed with another secret")
	}

	expired, _ := v.Sign("booker", "", -time.Minute)
	if _, err := v.Verify(ctx, expired); err == nil {
		t.Fatal("accepted expired token")
	}

	wrongIss, _ := NewJWTVerifier(JWTConfig{Secret: testSecret, Issuer: "elsewhere"})
	tok, _ = wrongIss.Sign("booker", "", time.Hour)
	if _, err := v.Verify(ctx, tok); err == nil {
		t.Fatal("accepted token from another issuer")
	}

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "booker", Issuer: "identity"})
	raw, _ := noExp.SignedString([]byte(testSecret))
	if _, err := v.Verify(ctx, raw); err == nil {
		t.Fatal("accepted token without expiry")
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "booker", Issuer: "identity", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	raw, _ = none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := v.Verify(ctx, raw); err == nil {
		t.Fatal("accepted unsigned token")
	}
}

func TestVerifierCarriesPhone(t *testing.T) {
	v, _ := NewJWTVerifier(JWTConfig{Secret: testSecret})
	tok, _ := v.Sign("u1", "+911234567890", time.Hour)
	sub, err := v.Verify(context.Background(), tok)
	if err != nil || sub.ID != "u1" || sub.Phone != "+911234567890" {
		t.Fatalf("got %+v %v", sub, err)
	}
}

func TestNewJWTVerifierRequiresSecret(t *testing.T) {
	if _, err := NewJWTVerifier(JWTConfig{}); err == nil {
		t.Fatal("expected error")
	}
}
