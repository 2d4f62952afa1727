package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/iho/cryptoledger/internal/infrastructure/metrics"
)

// ErrDLQDisabled is returned when no dead letter topic is configured.
var ErrDLQDisabled = errors.New("dead letter queue disabled")

// DLQProducer writes unprocessable confirmation messages to a side topic.
type DLQProducer struct {
	writer   KafkaWriter
	dlqTopic string
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

type dlqPayload struct {
	CorrelationID string `json:"correlation_id"`
	OriginalTopic string `json:"original_topic"`
	OriginalKey   string `json:"original_key"`
	OriginalValue string `json:"original_value"`
	Partition     int    `json:"partition"`
	Offset        int64  `json:"offset"`
	DLQReason     string `json:"dlq_reason"`
	Error         string `json:"error,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// NewDLQProducer creates a producer on writer. A nil writer disables the DLQ.
func NewDLQProducer(writer KafkaWriter, dlqTopic string, m *metrics.Metrics, logger zerolog.Logger) *DLQProducer {
	return &DLQProducer{
		writer:   writer,
		dlqTopic: dlqTopic,
		metrics:  m,
		logger:   logger.With().Str("component", "dlq").Str("topic", dlqTopic).Logger(),
		now:      time.Now,
	}
}

// PublishToDLQ wraps msg with the failure reason and writes it.
func (p *DLQProducer) PublishToDLQ(ctx context.Context, msg kafka.Message, reason string, cause error) error {
	if p == nil || p.writer == nil {
		return ErrDLQDisabled
	}

	payload := dlqPayload{
		CorrelationID: uuid.NewString(),
		OriginalTopic: msg.Topic,
		OriginalKey:   string(msg.Key),
		OriginalValue: string(msg.Value),
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		DLQReason:     reason,
		Timestamp:     p.now().UTC().Format(time.RFC3339Nano),
	}
	if cause != nil {
		payload.Error = cause.Error()
	}

	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ message: %w", err)
	}

	out := kafka.Message{
		Key:   msg.Key,
		Value: value,
		Headers: []kafka.Header{
			{Key: "dlq-reason", Value: []byte(reason)},
			{Key: "correlation-id", Value: []byte(payload.CorrelationID)},
		},
	}

	if err := p.writer.WriteMessages(ctx, out); err != nil {
		return fmt.Errorf("failed to publish message to DLQ %s: %w", p.dlqTopic, err)
	}

	if p.metrics != nil {
		p.metrics.DeadLettered.WithLabelValues(reason).Inc()
	}

	p.logger.Warn().
		Str("correlation_id", payload.CorrelationID).
		Str("key", payload.OriginalKey).
		Int64("offset", msg.Offset).
		Str("reason", reason).
		Msg("message dead-lettered")

	return nil
}

// Close closes the underlying writer.
func (p *DLQProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
