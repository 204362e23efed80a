package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kzap"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/downfa11-org/packrat/pkg/types"
	"github.com/downfa11-org/packrat/util"
)

const defaultAssignWait = 30 * time.Second

// KafkaConfig defines the configuration for the Kafka consumer.
type KafkaConfig struct {
	// Brokers is the list of kafka brokers used to seed the client.
	Brokers []string
	// GroupID to join as part of the consumer group.
	GroupID string
	// ClientID shows up in broker logs and metrics.
	ClientID string
	// SessionTimeout also bounds how long a zero-timeout Poll waits for the
	// first assignment.
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
	// MaxPollRecords caps a single Poll; zero returns everything buffered.
	MaxPollRecords int
	// CursorLookup, when set, picks the fetch offset of every partition the
	// group assigns, including ones gained on later rebalances.
	CursorLookup CursorLookup

	Logger *zap.Logger
}

// Validate ensures the configuration is valid, otherwise, returns an error.
func (cfg KafkaConfig) Validate() error {
	var errs []error
	if len(cfg.Brokers) == 0 {
		errs = append(errs, errors.New("kafka: at least one broker must be set"))
	}
	if cfg.GroupID == "" {
		errs = append(errs, errors.New("kafka: consumer GroupID must be set"))
	}
	if cfg.MaxPollRecords < 0 {
		errs = append(errs, errors.New("kafka: max poll records must not be negative"))
	}
	return errors.Join(errs...)
}

// KafkaConsumer is a Consumer backed by a franz-go group client. Offsets are
// never committed to Kafka; the offset store is the source of truth.
type KafkaConsumer struct {
	cfg    KafkaConfig
	logger *zap.Logger

	mu     sync.RWMutex
	client *kgo.Client
	closed bool

	// guarded separately: group callbacks fire from inside client.Close
	amu         sync.Mutex
	assigned    map[types.TopicPartition]struct{}
	firstAssign chan struct{}
	assignOnce  sync.Once
}

func NewKafkaConsumer(cfg KafkaConfig) (*KafkaConsumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &KafkaConsumer{
		cfg:         cfg,
		logger:      util.Component(cfg.Logger, "kafka_consumer").With(zap.String("group", cfg.GroupID)),
		assigned:    make(map[types.TopicPartition]struct{}),
		firstAssign: make(chan struct{}),
	}, nil
}

func (c *KafkaConsumer) Subscribe(topics []string) error {
	if len(topics) == 0 {
		return errors.New("kafka: at least one topic must be set")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.client != nil {
		return errors.New("kafka: consumer already subscribed")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(c.cfg.Brokers...),
		kgo.ConsumerGroup(c.cfg.GroupID),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(),
		kgo.WithLogger(kzap.New(c.logger)),
		kgo.OnPartitionsAssigned(c.onAssigned),
		kgo.OnPartitionsRevoked(c.onRevoked),
		kgo.OnPartitionsLost(c.onRevoked),
	}
	if c.cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(c.cfg.ClientID))
	}
	if c.cfg.SessionTimeout > 0 {
		opts = append(opts, kgo.SessionTimeout(c.cfg.SessionTimeout))
	}
	if c.cfg.HeartbeatInterval > 0 {
		opts = append(opts, kgo.HeartbeatInterval(c.cfg.HeartbeatInterval))
	}
	if c.cfg.CursorLookup != nil {
		opts = append(opts, kgo.AdjustFetchOffsetsFn(c.adjustOffsets))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return fmt.Errorf("kafka: create client: %w", err)
	}
	client.ForceMetadataRefresh()
	c.client = client

	c.logger.Info("subscribed", zap.Strings("topics", topics), zap.Strings("brokers", c.cfg.Brokers))
	return nil
}

func (c *KafkaConsumer) onAssigned(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
	c.amu.Lock()
	for topic, partitions := range assigned {
		for _, p := range partitions {
			c.assigned[types.TopicPartition{Topic: topic, Partition: p}] = struct{}{}
		}
	}
	c.amu.Unlock()

	c.logger.Info("partitions assigned", zap.Any("partitions", assigned))
	c.assignOnce.Do(func() { close(c.firstAssign) })
}

func (c *KafkaConsumer) onRevoked(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
	c.amu.Lock()
	for topic, partitions := range revoked {
		for _, p := range partitions {
			delete(c.assigned, types.TopicPartition{Topic: topic, Partition: p})
		}
	}
	c.amu.Unlock()

	c.logger.Info("partitions revoked", zap.Any("partitions", revoked))
}

func (c *KafkaConsumer) adjustOffsets(ctx context.Context, offsets map[string]map[int32]kgo.Offset) (map[string]map[int32]kgo.Offset, error) {
	for topic, partitions := range offsets {
		for p := range partitions {
			off, err := c.cfg.CursorLookup(ctx, topic, p)
			if err != nil {
				c.logger.Warn("cursor lookup failed, keeping broker offset",
					zap.String("topic", topic), zap.Int32("partition", p), zap.Error(err))
				continue
			}
			partitions[p] = kgo.NewOffset().At(off)
			c.logger.Debug("resuming partition from cursor",
				zap.String("topic", topic), zap.Int32("partition", p), zap.Int64("offset", off))
		}
	}
	return offsets, nil
}

func (c *KafkaConsumer) current() (*kgo.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, ErrClosed
	}
	if c.client == nil {
		return nil, ErrNotSubscribed
	}
	return c.client, nil
}

func (c *KafkaConsumer) awaitAssignment(ctx context.Context) {
	wait := c.cfg.SessionTimeout
	if wait <= 0 {
		wait = defaultAssignWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-c.firstAssign:
	case <-timer.C:
		c.logger.Warn("no partitions assigned yet", zap.Duration("waited", wait))
	case <-ctx.Done():
	}
}

func (c *KafkaConsumer) Poll(ctx context.Context, timeout time.Duration) ([]types.Message, error) {
	client, err := c.current()
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		c.awaitAssignment(ctx)
		return nil, nil
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fetches := client.PollRecords(pctx, c.cfg.MaxPollRecords)
	if fetches.IsClientClosed() {
		return nil, ErrClosed
	}

	var errs []error
	fetches.EachError(func(topic string, p int32, err error) {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}
		c.logger.Error("consumer fetches returned error",
			zap.Error(err), zap.String("topic", topic), zap.Int32("partition", p))
		errs = append(errs, fmt.Errorf("%s-%d: %w", topic, p, err))
	})

	msgs := make([]types.Message, 0, fetches.NumRecords())
	fetches.EachRecord(func(r *kgo.Record) {
		msgs = append(msgs, types.Message{
			Topic:     r.Topic,
			Partition: r.Partition,
			Offset:    r.Offset,
			Key:       r.Key,
			Value:     r.Value,
			Timestamp: r.Timestamp,
		})
	})
	return msgs, errors.Join(errs...)
}

func (c *KafkaConsumer) Assignment() []types.TopicPartition {
	c.amu.Lock()
	out := make([]types.TopicPartition, 0, len(c.assigned))
	for tp := range c.assigned {
		out = append(out, tp)
	}
	c.amu.Unlock()

	slices.SortFunc(out, types.CompareTopicPartition)
	return out
}

func (c *KafkaConsumer) Seek(tp types.TopicPartition, offset int64) error {
	client, err := c.current()
	if err != nil {
		return err
	}
	client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
		tp.Topic: {tp.Partition: {Epoch: -1, Offset: offset}},
	})
	return nil
}

func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	client := c.client
	c.mu.Unlock()

	if client != nil {
		client.Close()
	}
	c.logger.Info("consumer closed")
	return nil
}
