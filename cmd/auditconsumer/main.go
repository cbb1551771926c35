package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-booking/internal/audit"
	"github.com/example/ride-booking/internal/config"
	"github.com/example/ride-booking/internal/logging"
	"github.com/example/ride-booking/internal/models"
	"github.com/example/ride-booking/internal/storage"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auditconsumer_messages_consumed_total",
		Help: "Total audit messages consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auditconsumer_messages_invalid_total",
		Help: "Total audit messages that could not be decoded",
	})
	auditWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auditconsumer_writes_total",
		Help: "Total audit rows persisted",
	})
	auditErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auditconsumer_write_errors_total",
		Help: "Total rounds of write retries that ended without storing the row",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, auditWrites, auditErrors)
}

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("ride-booking-auditconsumer", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	go serveMetrics(cfg.MetricsAddr, store, logger)

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.KafkaBrokers,
		Topic:    cfg.KafkaAuditTopic,
		GroupID:  cfg.KafkaGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer r.Close()

	logger.Info("audit consumer listening", "topic", cfg.KafkaAuditTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)
	consume(ctx, r, store, logger)
}

func serveMetrics(addr string, store *storage.PostgresStore, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			http.Error(w, "postgres not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	logger.Info("metrics/health listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

// Write retry shape. A message that still fails after writeAttempts is retried
// again after a capped pause, never skipped.
var (
	writeAttempts = 5
	writeDelay    = 200 * time.Millisecond
	stallBackoff  = time.Second
	maxBackoff    = 30 * time.Second
)

// MessageReader is the subset of *kafka.Reader the consume loop uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// consume persists audit messages until ctx is cancelled. An offset is
// committed only after its row is stored or the message is known to be
// undecodable. Committing a later offset would also acknowledge an earlier
// one on the partition, so a row that cannot be stored blocks the loop until
// it is stored or ctx ends.
func consume(ctx context.Context, r MessageReader, a audit.Appender, logger *slog.Logger) {
	backoff := stallBackoff

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down consumer")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = stallBackoff

		msgsConsumed.Inc()

		e, err := audit.Decode(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid audit message", "offset", m.Offset, "partition", m.Partition, "error", err)
			commit(ctx, r, m, logger)
			continue
		}

		if !persist(ctx, a, e, logger) {
			return
		}
		auditWrites.Inc()
		commit(ctx, r, m, logger)
	}
}

// persist stores e, pausing between rounds of appendWithRetry, until it
// succeeds. It reports false only when ctx ends first.
func persist(ctx context.Context, a audit.Appender, e *models.AuditLog, logger *slog.Logger) bool {
	pause := stallBackoff
	for {
		err := appendWithRetry(ctx, a, e, writeAttempts, writeDelay)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		auditErrors.Inc()
		logger.Error("audit write failed, retrying", "audit_id", e.ID, "action", e.Action, "error", err, "backoff", pause)
		if !sleep(ctx, pause) {
			return false
		}
		pause = min(pause*2, maxBackoff)
	}
}

func commit(ctx context.Context, r MessageReader, m kafka.Message, logger *slog.Logger) {
	if err := r.CommitMessages(ctx, m); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("commit failed", "offset", m.Offset, "error", err)
	}
}

// appendWithRetry stores e, retrying with exponential backoff. Writes are
// idempotent on the audit id, so a retry after an ambiguous failure is safe.
func appendWithRetry(ctx context.Context, a audit.Appender, e *models.AuditLog, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = a.AppendAudit(ctx, e); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
