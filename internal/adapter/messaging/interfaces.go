package messaging

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/usecase"
)

// KafkaReader wraps the kafka.Reader methods the consumer needs.
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaWriter wraps kafka.Writer methods for testing
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConfirmationHandler applies a decoded confirmation event.
type ConfirmationHandler interface {
	Handle(ctx context.Context, event domain.ConfirmationEvent) (*usecase.ConfirmationResult, error)
}

// DeadLetterPublisher parks messages that cannot be applied.
type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, msg kafka.Message, reason string, cause error) error
}
