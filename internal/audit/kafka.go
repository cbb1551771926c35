package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-booking/internal/models"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes entries to the audit topic; cmd/auditconsumer persists
// them. Messages are keyed by audit id so redelivery is idempotent downstream.
type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaSink writes each entry as its own batch. Write runs on the request
// path, so it must not wait for a batch to fill.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchSize:              1,
		BatchTimeout:           10 * time.Millisecond,
	}
	return &KafkaSink{writer: w}
}

func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Write(ctx context.Context, e *models.AuditLog) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.ID), Value: b})
}

func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Decode parses a message produced by KafkaSink.
func Decode(value []byte) (*models.AuditLog, error) {
	var e models.AuditLog
	if err := json.Unmarshal(value, &e); err != nil {
		return nil, err
	}
	if e.ID == "" || e.Action == "" {
		return nil, fmt.Errorf("audit event missing id or action")
	}
	return &e, nil
}
