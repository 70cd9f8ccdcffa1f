// Package kafka consumes readings and publishes rollup aggregates.
package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/IBM/sarama"
	"github.com/ntentasd/acuamon-api/internal/ingest"
	"github.com/ntentasd/acuamon-api/pkg/types"
	"github.com/rs/zerolog"
)

type Ingester interface {
	Ingest(ctx context.Context, source string, p ingest.Payload) (types.Reading, error)
}

type Consumer struct {
	group  sarama.ConsumerGroup
	topics []string
	h      *handler
	logger zerolog.Logger
}

func NewConsumer(brokers []string, groupID, topic string, ing Ingester, logger zerolog.Logger) (*Consumer, error) {
	cfg := newConfig("acuamon-api")
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}

	logger = logger.With().Str("component", "kafka-consumer").Str("topic", topic).Logger()
	return &Consumer{
		group:  group,
		topics: []string{topic},
		h:      &handler{ing: ing, logger: logger, retryBase: retryBase},
		logger: logger,
	}, nil
}

// Run consumes until ctx is cancelled, rejoining the group after every
// rebalance.
func (c *Consumer) Run(ctx context.Context) {
	go func() {
		for err := range c.group.Errors() {
			c.logger.Error().Err(err).Msg("consumer group error")
		}
	}()

	c.logger.Info().Msg("consumer started")
	for {
		if err := c.group.Consume(ctx, c.topics, c.h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			c.logger.Error().Err(err).Msg("consume")
			select {
			case <-ctx.Done():
			case <-time.After(5 * time.Second):
			}
		}
		if ctx.Err() != nil {
			c.logger.Info().Msg("consumer stopped")
			return
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

const (
	retryBase = 500 * time.Millisecond
	retryMax  = 30 * time.Second
)

type handler struct {
	ing    Ingester
	logger zerolog.Logger
	// first wait between attempts at a message the store failed on
	retryBase time.Duration
}

func (h *handler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *handler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *handler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if !h.process(sess.Context(), msg) {
				// Left unmarked, the message is redelivered to the next session.
				return nil
			}
			sess.MarkMessage(msg, "")
		case <-sess.Context().Done():
			return nil
		}
	}
}

// process retries msg with backoff while ingestion fails for reasons outside
// the message. It returns false when ctx ends before msg is settled.
func (h *handler) process(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	wait := h.retryBase
	if wait <= 0 {
		wait = retryBase
	}
	for {
		err := h.handle(ctx, msg)
		if err == nil {
			return true
		}
		if errors.Is(err, errMalformed) || ingest.Permanent(err) {
			h.logger.Warn().Err(err).Int32("partition", msg.Partition).Int64("offset", msg.Offset).Msg("dropping message")
			return true
		}
		h.logger.Error().Err(err).Int32("partition", msg.Partition).Int64("offset", msg.Offset).Dur("retry_in", wait).Msg("ingest failed, retrying")
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
		wait = min(wait*2, retryMax)
	}
}

// handle ingests one message.
func (h *handler) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	p, err := DecodeReading(msg.Key, msg.Value)
	if err != nil {
		return err
	}
	_, err = h.ing.Ingest(ctx, ingest.SourceKafka, p)
	return err
}
