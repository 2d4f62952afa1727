package messaging

import (
	"context"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/mock"

	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/usecase"
)

// MockKafkaWriter mocks KafkaWriter interface
type MockKafkaWriter struct {
	mock.Mock
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockKafkaWriter) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockKafkaReader struct {
	mock.Mock
}

func (m *MockKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	args := m.Called(ctx)
	return args.Get(0).(kafka.Message), args.Error(1)
}

func (m *MockKafkaReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockKafkaReader) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockConfirmationHandler struct {
	mock.Mock
}

func (m *MockConfirmationHandler) Handle(ctx context.Context, event domain.ConfirmationEvent) (*usecase.ConfirmationResult, error) {
	args := m.Called(ctx, event)
	result, _ := args.Get(0).(*usecase.ConfirmationResult)
	return result, args.Error(1)
}

type MockDeadLetterPublisher struct {
	mock.Mock
}

func (m *MockDeadLetterPublisher) PublishToDLQ(ctx context.Context, msg kafka.Message, reason string, cause error) error {
	args := m.Called(ctx, msg, reason, cause)
	return args.Error(0)
}
