package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/ntentasd/acuamon-api/pkg/types"
)

// Producer publishes one message per created aggregate, keyed by unit.
type Producer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewProducer(brokers []string, topic string) (*Producer, error) {
	cfg := newConfig("acuamon-api")
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3

	sp, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return newProducer(sp, topic), nil
}

func newProducer(sp sarama.SyncProducer, topic string) *Producer {
	return &Producer{producer: sp, topic: topic}
}

func (p *Producer) PublishAggregate(ctx context.Context, a types.Aggregate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode aggregate: %w", err)
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(a.UnitID.String()),
		Value: sarama.ByteEncoder(b),
		Headers: []sarama.RecordHeader{
			{Key: []byte("periodo"), Value: []byte(a.Kind)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish aggregate: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.producer.Close()
}
