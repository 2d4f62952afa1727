package messaging

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// ReaderConfig configures a consumer group reader.
type ReaderConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	MaxWait time.Duration
}

// NewReader creates a consumer group reader. Offsets are committed
// explicitly after a message has been applied or dead-lettered.
func NewReader(cfg ReaderConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        cfg.MaxWait,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
	})
}

// NewWriter creates a synchronous writer that waits for all replicas.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		WriteTimeout: 10 * time.Second,
	}
}
