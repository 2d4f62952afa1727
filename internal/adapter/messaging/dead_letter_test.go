package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iho/cryptoledger/internal/infrastructure/metrics"
)

func TestDLQProducer_PublishToDLQ(t *testing.T) {
	ctx := context.Background()
	original := kafka.Message{
		Topic:     "ledger.confirmations",
		Partition: 2,
		Offset:    41,
		Key:       []byte("tx-1"),
		Value:     []byte(`{"event":"bogus"}`),
	}

	t.Run("SuccessfulPublishToDLQ", func(t *testing.T) {
		writer := new(MockKafkaWriter)
		m := metrics.NewWithRegisterer(prometheus.NewRegistry())
		producer := NewDLQProducer(writer, "ledger.dlq", m, zerolog.Nop())
		producer.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

		writer.On("WriteMessages", ctx, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 || string(msgs[0].Key) != "tx-1" {
				return false
			}
			var payload map[string]any
			if err := json.Unmarshal(msgs[0].Value, &payload); err != nil {
				return false
			}
			return payload["original_value"] == string(original.Value) &&
				payload["original_topic"] == "ledger.confirmations" &&
				payload["offset"] == float64(41) &&
				payload["dlq_reason"] == "unknown_event_kind" &&
				payload["error"] == "boom" &&
				payload["correlation_id"] != "" &&
				payload["timestamp"] == "2024-01-02T03:04:05Z" &&
				len(msgs[0].Headers) == 2 &&
				string(msgs[0].Headers[0].Value) == "unknown_event_kind"
		})).Return(nil).Once()

		err := producer.PublishToDLQ(ctx, original, "unknown_event_kind", errors.New("boom"))
		require.NoError(t, err)
		writer.AssertExpectations(t)
		assert.Equal(t, float64(1), testutil.ToFloat64(m.DeadLettered.WithLabelValues("unknown_event_kind")))
	})

	t.Run("PublishToDLQReturnsErrorOnWriterError", func(t *testing.T) {
		writer := new(MockKafkaWriter)
		producer := NewDLQProducer(writer, "ledger.dlq", nil, zerolog.Nop())
		writerError := errors.New("kafka DLQ write error")

		writer.On("WriteMessages", ctx, mock.AnythingOfType("[]kafka.Message")).Return(writerError).Once()

		err := producer.PublishToDLQ(ctx, original, "invalid_event", nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, writerError)
		writer.AssertExpectations(t)
	})

	t.Run("PublishToDLQWithoutWriter", func(t *testing.T) {
		producer := NewDLQProducer(nil, "", nil, zerolog.Nop())
		err := producer.PublishToDLQ(ctx, original, "invalid_event", nil)
		assert.ErrorIs(t, err, ErrDLQDisabled)

		var nilProducer *DLQProducer
		assert.ErrorIs(t, nilProducer.PublishToDLQ(ctx, original, "invalid_event", nil), ErrDLQDisabled)
		assert.NoError(t, nilProducer.Close())
	})
}
