package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-booking/internal/apperrors"
	"github.com/example/ride-booking/internal/models"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	userColumns    = `id, phone, role, verified, created_at`
	driverColumns  = `id, user_id, full_name, vehicle_type, rc_doc_url, id_doc_url, selfie_url, verified, verification_status, created_at`
	bookingColumns = `id, from_location, to_location, distance_km, distance_source, status, booker_id, driver_id, fare_fixed, passenger_phone_snapshot, driver_phone_snapshot, created_at, confirmed_at`
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// DB exposes the pool for callers that share it, such as the audit consumer.
func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// Migrate applies the embedded migrations in lexical order, each in its own
// transaction. Every migration is idempotent.
func (p *PostgresStore) Migrate(ctx context.Context) ([]string, error) {
	names, err := fs.Glob(migrationFS, "migrations/*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	applied := make([]string, 0, len(names))
	for _, name := range names {
		body, err := migrationFS.ReadFile(name)
		if err != nil {
			return applied, err
		}
		tx, err := p.db.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("begin %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("apply %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("commit %s: %w", name, err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (p *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO users (id, phone, role, verified, created_at) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Phone, string(u.Role), u.Verified, u.CreatedAt)
	return mapPQError(err, "insert user")
}

func (p *PostgresStore) UserByID(ctx context.Context, id string) (*models.User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	var u models.User
	var role string
	err := row.Scan(&u.ID, &u.Phone, &role, &u.Verified, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
		return nil, apperrors.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	u.Role = models.Role(role)
	return &u, nil
}

func (p *PostgresStore) CreateDriver(ctx context.Context, d *models.Driver) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO drivers (id, user_id, full_name, vehicle_type, rc_doc_url, id_doc_url, selfie_url, verified, verification_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.UserID, d.FullName, string(d.VehicleType), d.RCDocURL, d.IDDocURL, d.SelfieURL,
		d.Verified, string(d.VerificationStatus), d.CreatedAt)
	return mapPQError(err, "insert driver")
}

func scanDriver(row rowScanner) (*models.Driver, error) {
	var d models.Driver
	var vehicle, status string
	var rc, idDoc, selfie sql.NullString
	if err := row.Scan(&d.ID, &d.UserID, &d.FullName, &vehicle, &rc, &idDoc, &selfie, &d.Verified, &status, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.VehicleType = models.VehicleType(vehicle)
	d.VerificationStatus = models.VerificationStatus(status)
	d.RCDocURL = nullString(rc)
	d.IDDocURL = nullString(idDoc)
	d.SelfieURL = nullString(selfie)
	return &d, nil
}

func (p *PostgresStore) DriverByID(ctx context.Context, id string) (*models.Driver, error) {
	d, err := scanDriver(p.db.QueryRowContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
		return nil, apperrors.ErrDriverNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select driver: %w", err)
	}
	return d, nil
}

func (p *PostgresStore) DriverByUserID(ctx context.Context, userID string) (*models.Driver, error) {
	d, err := scanDriver(p.db.QueryRowContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE user_id = $1`, userID))
	if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
		return nil, apperrors.ErrDriverNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select driver by user: %w", err)
	}
	return d, nil
}

func (p *PostgresStore) SetDriverVerification(ctx context.Context, upd VerificationUpdate) (*models.Driver, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin verification: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	verified := upd.Status == models.VerificationApproved
	d, err := scanDriver(tx.QueryRowContext(ctx,
		`UPDATE drivers SET verified = $2, verification_status = $3 WHERE id = $1 RETURNING `+driverColumns,
		upd.DriverID, verified, string(upd.Status)))
	if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
		return nil, apperrors.ErrDriverNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update driver verification: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET verified = $2 WHERE id = $1`, d.UserID, verified); err != nil {
		return nil, fmt.Errorf("update user verified: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit verification: %w", err)
	}
	return d, nil
}

func (p *PostgresStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO bookings (id, from_location, to_location, distance_km, distance_source, status, booker_id, fare_fixed, passenger_phone_snapshot, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.FromLocation, b.ToLocation, b.DistanceKm, string(b.DistanceSource), string(b.Status),
		b.BookerID, b.FareFixed, b.PassengerPhoneSnapshot, b.CreatedAt)
	return mapPQError(err, "insert booking")
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	var b models.Booking
	var source, status string
	var distance, fare sql.NullFloat64
	var driverID, passengerPhone, driverPhone sql.NullString
	var confirmedAt sql.NullTime
	err := row.Scan(&b.ID, &b.FromLocation, &b.ToLocation, &distance, &source, &status, &b.BookerID,
		&driverID, &fare, &passengerPhone, &driverPhone, &b.CreatedAt, &confirmedAt)
	if err != nil {
		return nil, err
	}
	b.DistanceSource = models.DistanceSource(source)
	b.Status = models.BookingStatus(status)
	b.DistanceKm = nullFloat(distance)
	b.FareFixed = nullFloat(fare)
	b.DriverID = nullString(driverID)
	b.PassengerPhoneSnapshot = nullString(passengerPhone)
	b.DriverPhoneSnapshot = nullString(driverPhone)
	if confirmedAt.Valid {
		t := confirmedAt.Time
		b.ConfirmedAt = &t
	}
	return &b, nil
}

func (p *PostgresStore) BookingByID(ctx context.Context, id string) (*models.Booking, error) {
	b, err := scanBooking(p.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) || isInvalidText(err) {
		return nil, apperrors.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select booking: %w", err)
	}
	return b, nil
}

// ConfirmBooking is a single conditional UPDATE: the status predicate and the
// assignment commit together, so a concurrent attempt either blocks on the
// row lock and then fails the predicate, or never sees status 'requested'.
func (p *PostgresStore) ConfirmBooking(ctx context.Context, cp ConfirmParams) (*models.Booking, error) {
	b, err := scanBooking(p.db.QueryRowContext(ctx,
		`UPDATE bookings
		    SET driver_id = $2,
		        status = 'confirmed',
		        confirmed_at = now(),
		        driver_phone_snapshot = COALESCE($3, driver_phone_snapshot),
		        passenger_phone_snapshot = COALESCE($4, passenger_phone_snapshot)
		  WHERE id = $1 AND status = 'requested'
		RETURNING `+bookingColumns,
		cp.BookingID, cp.DriverID, cp.DriverPhone, cp.PassengerPhone))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapPQError(err, "confirm booking")
	}

	var status string
	err = p.db.QueryRowContext(ctx, `SELECT status FROM bookings WHERE id = $1`, cp.BookingID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrBookingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("classify confirm failure: %w", err)
	}
	return nil, confirmFailure(models.BookingStatus(status))
}

func (p *PostgresStore) CompleteBooking(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	b, err := scanBooking(p.db.QueryRowContext(ctx,
		`UPDATE bookings SET status = 'completed'
		  WHERE id = $1 AND status = 'confirmed' AND driver_id = $2
		RETURNING `+bookingColumns, bookingID, driverID))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapPQError(err, "complete booking")
	}
	cur, err := p.BookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return nil, completeFailure(cur, driverID)
}

func (p *PostgresStore) CancelBooking(ctx context.Context, bookingID, bookerID string) (*models.Booking, error) {
	b, err := scanBooking(p.db.QueryRowContext(ctx,
		`UPDATE bookings SET status = 'cancelled'
		  WHERE id = $1 AND status = 'requested' AND booker_id = $2
		RETURNING `+bookingColumns, bookingID, bookerID))
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, mapPQError(err, "cancel booking")
	}
	cur, err := p.BookingByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return nil, cancelFailure(cur, bookerID)
}

func (p *PostgresStore) CreateRidePost(ctx context.Context, rp *models.RidePost) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO ride_posts (id, booker_id, from_location, to_location, distance_km, offer_amount, contact, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rp.ID, rp.BookerID, rp.FromLocation, rp.ToLocation, rp.DistanceKm, rp.OfferAmount, rp.Contact,
		string(rp.Status), rp.CreatedAt)
	return mapPQError(err, "insert ride post")
}

func (p *PostgresStore) AppendAudit(ctx context.Context, e *models.AuditLog) error {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode audit details: %w", err)
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, actor_user_id, details, ip_address, created_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.Action, e.ActorUserID, string(raw), e.IPAddress, e.CreatedAt)
	return mapPQError(err, "insert audit log")
}

// mapPQError turns constraint violations into client errors and wraps the rest.
func mapPQError(err error, op string) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Name() {
		case "unique_violation":
			return apperrors.ErrAlreadyExists.WithMessage(pqErr.Constraint)
		case "foreign_key_violation":
			return apperrors.Invalid("referenced record does not exist")
		case "invalid_text_representation":
			return apperrors.Invalid("malformed identifier")
		case "check_violation":
			return apperrors.Invalid(pqErr.Constraint)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isInvalidText(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code.Name() == "invalid_text_representation"
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}
