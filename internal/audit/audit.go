// Package audit appends records of state-changing actions. Recording is best
// effort: sink failures are logged and counted but never returned to the
// operation being documented.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/observability"
)

const (
	ActionBookingCreated     = "booking_created"
	ActionRidePostCreated    = "ride_post_created"
	ActionBookingConfirmed   = "booking_confirmed"
	ActionBookingCompleted   = "booking_completed"
	ActionBookingCancelled   = "booking_cancelled"
	ActionDriverOnboarded    = "driver_onboarded"
	ActionDriverApproved     = "driver_verification_approved"
	ActionDriverRejected     = "driver_verification_rejected"
	ActionUserSignedUp       = "user_signed_up"
	ActionAdminSignupBlocked = "admin_signup_blocked"
)

const defaultSinkTimeout = 3 * time.Second

// Sink persists or forwards one audit entry.
type Sink interface {
	Write(ctx context.Context, e *models.AuditLog) error
	Name() string
}

type Entry struct {
	Action      string
	ActorUserID string
	Details     map[string]any
	IPAddress   string
}

type Recorder struct {
	sinks   []Sink
	logger  *slog.Logger
	now     func() time.Time
	timeout time.Duration
}

func NewRecorder(logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{sinks: sinks, logger: logger, now: time.Now, timeout: defaultSinkTimeout}
}

// Record stamps the entry and hands it to every sink. The sink context is
// detached from ctx so a client disconnect after the primary write has
// committed does not drop the record.
func (r *Recorder) Record(ctx context.Context, e Entry) *models.AuditLog {
	rec := &models.AuditLog{
		ID:          uuid.NewString(),
		Action:      e.Action,
		ActorUserID: e.ActorUserID,
		Details:     e.Details,
		IPAddress:   e.IPAddress,
		CreatedAt:   r.now().UTC(),
	}
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	for _, s := range r.sinks {
		if err := s.Write(sinkCtx, rec); err != nil {
			observability.AuditFailuresTotal.WithLabelValues(s.Name()).Inc()
			r.logger.Error("audit write failed",
				"sink", s.Name(),
				"action", rec.Action,
				"audit_id", rec.ID,
				"error", err,
			)
		}
	}
	return rec
}

// Appender is the subset of the store used by StoreSink.
type Appender interface {
	AppendAudit(ctx context.Context, e *models.AuditLog) error
}

// StoreSink writes entries straight into the audit_logs table.
type StoreSink struct {
	Store Appender
}

func (s StoreSink) Name() string { return "store" }

func (s StoreSink) Write(ctx context.Context, e *models.AuditLog) error {
	return s.Store.AppendAudit(ctx, e)
}
