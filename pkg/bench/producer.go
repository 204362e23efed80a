package bench

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kzap"
	"go.uber.org/zap"

	"github.com/downfa11-org/packrat/pkg/broker"
)

// Producer publishes one keyed message.
type Producer interface {
	Produce(ctx context.Context, topic string, key, value []byte) error
	Close()
}

// KafkaProducer publishes synchronously through a franz-go client.
type KafkaProducer struct {
	client *kgo.Client
}

func NewKafkaProducer(brokers []string, logger *zap.Logger) (*KafkaProducer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka producer: no brokers")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ClientID("packrat-bench"),
		kgo.AllowAutoTopicCreation(),
		kgo.WithLogger(kzap.New(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return &KafkaProducer{client: client}, nil
}

func (p *KafkaProducer) Produce(ctx context.Context, topic string, key, value []byte) error {
	return p.client.ProduceSync(ctx, &kgo.Record{Topic: topic, Key: key, Value: value}).FirstErr()
}

func (p *KafkaProducer) Close() {
	p.client.Close()
}

// MemoryProducer feeds an in-process broker.
type MemoryProducer struct {
	Broker *broker.MemoryBroker
}

func (p MemoryProducer) Produce(_ context.Context, topic string, key, value []byte) error {
	_, _, err := p.Broker.Produce(topic, key, value)
	return err
}

func (MemoryProducer) Close() {}
