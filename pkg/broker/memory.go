package broker

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/downfa11-org/packrat/pkg/types"
	"github.com/downfa11-org/packrat/util"
)

const DefaultPartitions = 1

// MemoryBroker is an in-process partitioned log. Consumers sharing a group id
// split the partitions of their topics round-robin in join order.
type MemoryBroker struct {
	mu      sync.RWMutex
	topics  map[string]*memTopic
	groups  map[string][]*MemoryConsumer
	arrival chan struct{} // closed and replaced on every produce
	logger  *zap.Logger
}

type memTopic struct {
	name       string
	partitions [][]types.Message
	counter    uint64
}

func NewMemoryBroker(logger *zap.Logger) *MemoryBroker {
	return &MemoryBroker{
		topics:  make(map[string]*memTopic),
		groups:  make(map[string][]*MemoryConsumer),
		arrival: make(chan struct{}),
		logger:  util.Component(logger, "memory_broker"),
	}
}

// CreateTopic creates the topic or grows it to the given partition count.
func (b *MemoryBroker) CreateTopic(name string, partitions int) error {
	if name == "" || partitions <= 0 {
		return fmt.Errorf("invalid topic %q with %d partitions", name, partitions)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ensureTopic(name, partitions)
	return nil
}

func (b *MemoryBroker) ensureTopic(name string, partitions int) *memTopic {
	t, ok := b.topics[name]
	if !ok {
		t = &memTopic{name: name}
		b.topics[name] = t
		b.logger.Info("topic created", zap.String("topic", name), zap.Int("partitions", partitions))
	}
	for len(t.partitions) < partitions {
		t.partitions = append(t.partitions, nil)
	}
	return t
}

// Produce appends to a partition chosen by key hash, or round-robin when the
// key is empty. Unknown topics are created with DefaultPartitions.
func (b *MemoryBroker) Produce(topic string, key, value []byte) (types.TopicPartition, int64, error) {
	if topic == "" {
		return types.TopicPartition{}, 0, fmt.Errorf("empty topic name")
	}
	b.mu.Lock()
	t := b.ensureTopic(topic, DefaultPartitions)
	var idx int
	if len(key) > 0 {
		h := fnv.New64a()
		h.Write(key)
		idx = int(h.Sum64() % uint64(len(t.partitions)))
	} else {
		idx = int(t.counter % uint64(len(t.partitions)))
		t.counter++
	}
	off := b.appendLocked(t, idx, key, value)
	b.mu.Unlock()

	return types.TopicPartition{Topic: topic, Partition: int32(idx)}, off, nil
}

// ProduceTo appends to an explicit partition.
func (b *MemoryBroker) ProduceTo(tp types.TopicPartition, key, value []byte) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[tp.Topic]
	if !ok || tp.Partition < 0 || int(tp.Partition) >= len(t.partitions) {
		return 0, fmt.Errorf("unknown partition %s", tp)
	}
	return b.appendLocked(t, int(tp.Partition), key, value), nil
}

func (b *MemoryBroker) appendLocked(t *memTopic, idx int, key, value []byte) int64 {
	off := int64(len(t.partitions[idx]))
	t.partitions[idx] = append(t.partitions[idx], types.Message{
		Topic:     t.name,
		Partition: int32(idx),
		Offset:    off,
		Key:       key,
		Value:     value,
		Timestamp: time.Now(),
	})
	close(b.arrival)
	b.arrival = make(chan struct{})
	return off
}

// EndOffset is the offset the next produced message to tp will get.
func (b *MemoryBroker) EndOffset(tp types.TopicPartition) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.topics[tp.Topic]
	if !ok || int(tp.Partition) >= len(t.partitions) {
		return 0
	}
	return int64(len(t.partitions[tp.Partition]))
}

// NewConsumer creates a group member. maxRecords bounds a single Poll; zero
// means unbounded.
func (b *MemoryBroker) NewConsumer(group string, maxRecords int) *MemoryConsumer {
	return &MemoryConsumer{
		broker:     b,
		group:      group,
		maxRecords: maxRecords,
		positions:  make(map[types.TopicPartition]int64),
	}
}

func (b *MemoryBroker) join(c *MemoryConsumer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.groups[c.group] = append(b.groups[c.group], c)
}

func (b *MemoryBroker) leave(c *MemoryConsumer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	members := b.groups[c.group]
	for i, m := range members {
		if m == c {
			b.groups[c.group] = append(members[:i:i], members[i+1:]...)
			break
		}
	}
}

func (b *MemoryBroker) assignmentLocked(c *MemoryConsumer) []types.TopicPartition {
	members := b.groups[c.group]
	me := slices.Index(members, c)
	if me < 0 {
		return nil
	}

	var out []types.TopicPartition
	k := 0
	for _, name := range c.topics {
		t, ok := b.topics[name]
		if !ok {
			continue
		}
		for p := range t.partitions {
			if k%len(members) == me {
				out = append(out, types.TopicPartition{Topic: name, Partition: int32(p)})
			}
			k++
		}
	}
	return out
}

// MemoryConsumer reads from a MemoryBroker. Positions start at offset 0 for
// every newly assigned partition.
type MemoryConsumer struct {
	broker     *MemoryBroker
	group      string
	maxRecords int

	mu        sync.Mutex
	topics    []string
	positions map[types.TopicPartition]int64
	pollErrs  []error
	closed    bool
}

var _ Consumer = (*MemoryConsumer)(nil)

func (c *MemoryConsumer) Subscribe(topics []string) error {
	if len(topics) == 0 {
		return fmt.Errorf("at least one topic must be set")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.topics != nil {
		c.mu.Unlock()
		return fmt.Errorf("consumer already subscribed")
	}
	c.topics = slices.Clone(topics)
	slices.Sort(c.topics)
	c.mu.Unlock()

	c.broker.join(c)
	return nil
}

// FailPolls makes the next polls with a positive timeout return the given
// errors, one per call.
func (c *MemoryConsumer) FailPolls(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollErrs = append(c.pollErrs, errs...)
}

func (c *MemoryConsumer) Assignment() []types.TopicPartition {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.topics == nil || c.closed {
		return nil
	}
	c.broker.mu.RLock()
	defer c.broker.mu.RUnlock()
	return c.broker.assignmentLocked(c)
}

func (c *MemoryConsumer) Seek(tp types.TopicPartition, offset int64) error {
	if !slices.Contains(c.Assignment(), tp) {
		return fmt.Errorf("%w: %s", ErrNotAssigned, tp)
	}
	if offset < 0 {
		return fmt.Errorf("negative offset %d for %s", offset, tp)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.positions[tp] = offset
	return nil
}

// Position returns the next offset the consumer will read from tp.
func (c *MemoryConsumer) Position(tp types.TopicPartition) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positions[tp]
}

func (c *MemoryConsumer) Poll(ctx context.Context, timeout time.Duration) ([]types.Message, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.topics == nil {
		c.mu.Unlock()
		return nil, ErrNotSubscribed
	}
	if timeout <= 0 {
		c.mu.Unlock()
		return nil, nil
	}
	if len(c.pollErrs) > 0 {
		err := c.pollErrs[0]
		c.pollErrs = c.pollErrs[1:]
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		msgs, arrival, err := c.fetch()
		if err != nil || len(msgs) > 0 {
			return msgs, err
		}
		select {
		case <-arrival:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, nil
		}
	}
}

func (c *MemoryConsumer) fetch() ([]types.Message, <-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, ErrClosed
	}

	c.broker.mu.RLock()
	defer c.broker.mu.RUnlock()

	var out []types.Message
	for _, tp := range c.broker.assignmentLocked(c) {
		entries := c.broker.topics[tp.Topic].partitions[tp.Partition]
		pos := c.positions[tp]
		for pos < int64(len(entries)) {
			if c.maxRecords > 0 && len(out) >= c.maxRecords {
				break
			}
			out = append(out, entries[pos])
			pos++
		}
		c.positions[tp] = pos
	}
	return out, c.broker.arrival, nil
}

func (c *MemoryConsumer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	subscribed := c.topics != nil
	c.mu.Unlock()

	if subscribed {
		c.broker.leave(c)
	}
	return nil
}

// Closed reports whether Close has been called.
func (c *MemoryConsumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
