package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/iho/cryptoledger/internal/domain"
)

// ConsumerConfig tunes a ConfirmationConsumer.
type ConsumerConfig struct {
	// BatchSize bounds how many messages are applied concurrently.
	BatchSize int
	// BatchWait is how long to wait for a batch to fill after its first message.
	BatchWait time.Duration
	// RetryElapsed bounds retries of a transient failure before dead-lettering.
	RetryElapsed time.Duration
}

// ConfirmationConsumer applies confirmation events read from Kafka.
//
// Messages are fetched in batches and applied on a worker pool. Offsets are
// committed per partition up to the first message that was neither applied
// nor dead-lettered. That message stalls its partition: it and everything
// after it on the partition are held and run again with the next batch until
// it finishes. Replays are absorbed by the reconciler.
//
// Run must not be called concurrently.
type ConfirmationConsumer struct {
	reader  KafkaReader
	handler ConfirmationHandler
	dlq     DeadLetterPublisher
	pool    *ants.Pool
	cfg     ConsumerConfig
	logger  zerolog.Logger

	// stalled maps a partition to the offset of its first unfinished message.
	stalled map[int]int64
	pending []kafka.Message
}

// NewConfirmationConsumer creates a consumer that runs handlers on pool.
func NewConfirmationConsumer(
	reader KafkaReader,
	handler ConfirmationHandler,
	dlq DeadLetterPublisher,
	pool *ants.Pool,
	cfg ConsumerConfig,
	logger zerolog.Logger,
) *ConfirmationConsumer {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = pool.Cap()
	}
	if cfg.BatchWait <= 0 {
		cfg.BatchWait = 200 * time.Millisecond
	}
	if cfg.RetryElapsed <= 0 {
		cfg.RetryElapsed = 30 * time.Second
	}

	return &ConfirmationConsumer{
		reader:  reader,
		handler: handler,
		dlq:     dlq,
		pool:    pool,
		cfg:     cfg,
		logger:  logger.With().Str("component", "confirmation_consumer").Logger(),
		stalled: make(map[int]int64),
	}
}

// Run consumes until ctx is cancelled.
func (c *ConfirmationConsumer) Run(ctx context.Context) error {
	c.logger.Info().Int("batch_size", c.cfg.BatchSize).Msg("confirmation consumer started")

	for {
		batch, err := c.fetchBatch(ctx, c.pending)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info().Msg("confirmation consumer stopped")
				return ctx.Err()
			}
			c.logger.Error().Err(err).Msg("failed to fetch message from kafka")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		done := c.processBatch(ctx, batch)
		c.commit(ctx, batch, done)
	}
}

// fetchBatch starts from the held messages and tops the batch up from the
// reader. With nothing held it blocks for the first message, then gathers
// more until the batch is full or BatchWait elapses.
func (c *ConfirmationConsumer) fetchBatch(ctx context.Context, held []kafka.Message) ([]kafka.Message, error) {
	batch := append([]kafka.Message(nil), held...)

	if len(batch) == 0 {
		first, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return nil, err
		}
		batch = append(batch, first)
	}

	if len(batch) >= c.cfg.BatchSize {
		// Only held messages: pace the retries instead of spinning.
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
		return batch, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.BatchWait)
	defer cancel()

	for len(batch) < c.cfg.BatchSize {
		msg, err := c.reader.FetchMessage(waitCtx)
		if err != nil {
			break
		}
		batch = append(batch, msg)
	}

	return batch, nil
}

func (c *ConfirmationConsumer) processBatch(ctx context.Context, batch []kafka.Message) []bool {
	done := make([]bool, len(batch))

	var wg sync.WaitGroup
	for i := range batch {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			done[i] = c.process(ctx, batch[i])
		}
		if err := c.pool.Submit(task); err != nil {
			c.logger.Warn().Err(err).Msg("worker pool rejected task, running inline")
			task()
		}
	}
	wg.Wait()

	return done
}

// process applies one message and reports whether its offset may be committed.
func (c *ConfirmationConsumer) process(ctx context.Context, msg kafka.Message) bool {
	log := c.logger.With().
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Str("key", string(msg.Key)).
		Logger()

	event, err := domain.ParseConfirmationEvent(msg.Value)
	if err != nil {
		return c.deadLetter(ctx, msg, domain.CodeInvalidEvent, err, log)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = c.cfg.RetryElapsed

	var applied bool
	err = backoff.Retry(func() error {
		result, err := c.handler.Handle(ctx, event)
		if err == nil {
			applied = result != nil && !result.Duplicate
			return nil
		}
		if domain.IsBusinessError(err) {
			return backoff.Permanent(err)
		}
		log.Warn().Err(err).Msg("confirmation failed, retrying")
		return err
	}, backoff.WithContext(b, ctx))

	switch {
	case err == nil:
		log.Debug().Bool("applied", applied).Str("event", string(event.Kind())).Msg("confirmation processed")
		return true
	case ctx.Err() != nil:
		return false
	default:
		return c.deadLetter(ctx, msg, domain.Code(err), err, log)
	}
}

func (c *ConfirmationConsumer) deadLetter(ctx context.Context, msg kafka.Message, reason string, cause error, log zerolog.Logger) bool {
	err := ErrDLQDisabled
	if c.dlq != nil {
		err = c.dlq.PublishToDLQ(ctx, msg, reason, cause)
	}

	if err != nil {
		if errors.Is(err, ErrDLQDisabled) {
			log.Error().Err(cause).Str("reason", reason).Msg("dropping unprocessable message, no DLQ configured")
			return true
		}
		log.Error().Err(err).Str("reason", reason).Msg("failed to dead-letter message, will not commit offset")
		return false
	}
	return true
}

// commit commits, per partition, the messages before the first one that was
// not finished. The stall survives across batches: nothing past it on the
// partition is committed until the stalled message itself finishes. Held
// messages are kept for the next batch.
func (c *ConfirmationConsumer) commit(ctx context.Context, batch []kafka.Message, done []bool) {
	commit := make([]kafka.Message, 0, len(batch))
	var held []kafka.Message

	for i, msg := range batch {
		first, stalled := c.stalled[msg.Partition]

		switch {
		case stalled && msg.Offset > first:
			held = append(held, msg)
		case !done[i]:
			if !stalled {
				c.logger.Warn().Int("partition", msg.Partition).Int64("offset", msg.Offset).Msg("partition stalled on unfinished message")
			}
			c.stalled[msg.Partition] = msg.Offset
			held = append(held, msg)
		default:
			if stalled && msg.Offset == first {
				delete(c.stalled, msg.Partition)
			}
			commit = append(commit, msg)
		}
	}

	c.pending = held

	if len(commit) == 0 {
		return
	}

	if err := c.reader.CommitMessages(ctx, commit...); err != nil {
		c.logger.Error().Err(err).Int("count", len(commit)).Msg("failed to commit messages")
	}
}

// Close closes the reader.
func (c *ConfirmationConsumer) Close() error {
	return c.reader.Close()
}
