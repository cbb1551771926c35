// Package identity resolves bearer credentials to local user and driver
// records and enforces role capabilities. The Gate is stateless and safe for
// concurrent use.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/example/ride-booking/internal/apperrors"
	"github.com/example/ride-booking/internal/models"
)

// Subject is an identity vouched for by the upstream provider.
type Subject struct {
	ID    string
	Phone string
}

// TokenVerifier checks a raw token against the identity provider.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (Subject, error)
}

// Directory reads local profiles. Missing rows are reported with
// apperrors.ErrUserNotFound / apperrors.ErrDriverNotFound.
type Directory interface {
	UserByID(ctx context.Context, id string) (*models.User, error)
	DriverByUserID(ctx context.Context, userID string) (*models.Driver, error)
}

type Gate struct {
	verifier  TokenVerifier
	directory Directory
}

func NewGate(v TokenVerifier, d Directory) *Gate {
	return &Gate{verifier: v, directory: d}
}

// Identify validates the credential without requiring a local profile.
func (g *Gate) Identify(ctx context.Context, header string) (Subject, error) {
	token, err := bearerToken(header)
	if err != nil {
		return Subject{}, err
	}
	sub, err := g.verifier.Verify(ctx, token)
	if err != nil {
		return Subject{}, apperrors.ErrInvalidToken
	}
	return sub, nil
}

func (g *Gate) Authenticate(ctx context.Context, header string) (*models.User, error) {
	sub, err := g.Identify(ctx, header)
	if err != nil {
		return nil, err
	}
	u, err := g.directory.UserByID(ctx, sub.ID)
	if errors.Is(err, apperrors.ErrUserNotFound) {
		return nil, apperrors.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return u, nil
}

func (g *Gate) RequireAdmin(ctx context.Context, header string) (*models.User, error) {
	return g.requireRole(ctx, header, models.RoleAdmin)
}

func (g *Gate) RequireBooker(ctx context.Context, header string) (*models.User, error) {
	return g.requireRole(ctx, header, models.RoleBooker)
}

func (g *Gate) requireRole(ctx context.Context, header string, role models.Role) (*models.User, error) {
	u, err := g.Authenticate(ctx, header)
	if err != nil {
		return nil, err
	}
	if u.Role != role {
		return nil, apperrors.ErrForbidden.WithMessage(string(role) + " role required")
	}
	return u, nil
}

// RequireDriver returns the caller's user and driver records. The driver id
// is what ownership checks must compare against.
func (g *Gate) RequireDriver(ctx context.Context, header string) (*models.User, *models.Driver, error) {
	u, err := g.Authenticate(ctx, header)
	if err != nil {
		return nil, nil, err
	}
	d, err := g.directory.DriverByUserID(ctx, u.ID)
	if errors.Is(err, apperrors.ErrDriverNotFound) {
		return nil, nil, apperrors.ErrNotADriver
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load driver: %w", err)
	}
	if !d.Approved() {
		return nil, nil, apperrors.ErrDriverNotVerified
	}
	return u, d, nil
}

func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", apperrors.ErrNoCredential
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || strings.TrimSpace(token) == "" || strings.ContainsAny(strings.TrimSpace(token), " \t") {
		return "", apperrors.ErrInvalidCredentialFormat
	}
	return strings.TrimSpace(token), nil
}
