package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iho/cryptoledger/internal/domain"
)

func TestEventPublisher_Publish(t *testing.T) {
	ctx := context.Background()
	event := &domain.OutboxEvent{
		ID:            "evt-1",
		AggregateID:   "entry-1",
		AggregateType: domain.AggregateTypeEntry,
		EventType:     domain.EventTypeDepositCompleted,
		Payload:       map[string]any{"amount": "0.5"},
		CreatedAt:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	t.Run("KeysByAggregate", func(t *testing.T) {
		writer := new(MockKafkaWriter)
		publisher := NewEventPublisher(writer)

		writer.On("WriteMessages", ctx, mock.MatchedBy(func(msgs []kafka.Message) bool {
			if len(msgs) != 1 || string(msgs[0].Key) != "entry-1" {
				return false
			}
			var envelope eventEnvelope
			if err := json.Unmarshal(msgs[0].Value, &envelope); err != nil {
				return false
			}
			return envelope.ID == "evt-1" &&
				envelope.Type == domain.EventTypeDepositCompleted &&
				envelope.Payload["amount"] == "0.5" &&
				envelope.CreatedAt.Equal(event.CreatedAt) &&
				string(msgs[0].Headers[1].Value) == domain.EventTypeDepositCompleted
		})).Return(nil).Once()

		require.NoError(t, publisher.Publish(ctx, event))
		writer.AssertExpectations(t)
	})

	t.Run("WrapsWriterError", func(t *testing.T) {
		writer := new(MockKafkaWriter)
		publisher := NewEventPublisher(writer)
		writerError := errors.New("broker unavailable")

		writer.On("WriteMessages", ctx, mock.Anything).Return(writerError).Once()

		err := publisher.Publish(ctx, event)
		assert.ErrorIs(t, err, writerError)
		assert.Contains(t, err.Error(), "evt-1")
	})

	t.Run("Close", func(t *testing.T) {
		writer := new(MockKafkaWriter)
		writer.On("Close").Return(nil).Once()

		require.NoError(t, NewEventPublisher(writer).Close())
		writer.AssertExpectations(t)
	})
}
