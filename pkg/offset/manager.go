package offset

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/downfa11-org/packrat/pkg/types"
	"github.com/downfa11-org/packrat/util"
)

var ErrUnknownTopic = errors.New("unknown topic")

// OffsetStore persists the next offset to read for each (topic, partition).
// UpdateOffset is a conditional write: it only applies when candidate is
// strictly greater than the stored value, so concurrent callers converge on
// the maximum without coordinating.
type OffsetStore interface {
	GetOffset(ctx context.Context, topic string, partition int32) (int64, error)
	UpdateOffset(ctx context.Context, topic string, partition int32, candidate int64) (bool, error)
}

type OffsetManager struct {
	mu      sync.RWMutex
	offsets map[string]map[int32]int64 // topic -> partition -> next offset
	allowed map[string]struct{}
	logger  *zap.Logger
}

// NewOffsetManager creates an in-memory offset store. When topics are given,
// only those topics are accepted; otherwise any non-empty topic is.
func NewOffsetManager(logger *zap.Logger, topics ...string) *OffsetManager {
	om := &OffsetManager{
		offsets: make(map[string]map[int32]int64),
		logger:  util.Component(logger, "offset_manager"),
	}
	if len(topics) > 0 {
		om.allowed = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			om.allowed[t] = struct{}{}
		}
	}
	return om
}

func (om *OffsetManager) checkTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty topic name", ErrUnknownTopic)
	}
	if om.allowed == nil {
		return nil
	}
	if _, ok := om.allowed[topic]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	return nil
}

func (om *OffsetManager) GetOffset(_ context.Context, topic string, partition int32) (int64, error) {
	if err := om.checkTopic(topic); err != nil {
		return 0, err
	}

	om.mu.RLock()
	if partitions, ok := om.offsets[topic]; ok {
		if offset, ok := partitions[partition]; ok {
			om.mu.RUnlock()
			return offset, nil
		}
	}
	om.mu.RUnlock()

	om.mu.Lock()
	defer om.mu.Unlock()
	if _, ok := om.offsets[topic]; !ok {
		om.offsets[topic] = make(map[int32]int64)
	}
	// another caller may have seeded or advanced it between the locks
	if offset, ok := om.offsets[topic][partition]; ok {
		return offset, nil
	}
	om.offsets[topic][partition] = 0
	om.logger.Debug("seeded cursor", zap.String("topic", topic), zap.Int32("partition", partition))
	return 0, nil
}

func (om *OffsetManager) UpdateOffset(_ context.Context, topic string, partition int32, candidate int64) (bool, error) {
	if err := om.checkTopic(topic); err != nil {
		return false, err
	}

	om.mu.Lock()
	defer om.mu.Unlock()

	if _, ok := om.offsets[topic]; !ok {
		om.offsets[topic] = make(map[int32]int64)
	}
	stored := om.offsets[topic][partition]
	if candidate <= stored {
		return false, nil
	}
	om.offsets[topic][partition] = candidate
	om.logger.Debug("set new offset",
		zap.String("topic", topic), zap.Int32("partition", partition), zap.Int64("offset", candidate))
	return true, nil
}

// Snapshot returns every stored cursor ordered by topic and partition.
func (om *OffsetManager) Snapshot() []types.Cursor {
	om.mu.RLock()
	defer om.mu.RUnlock()

	var out []types.Cursor
	for topic, partitions := range om.offsets {
		for p, off := range partitions {
			out = append(out, types.Cursor{Topic: topic, Partition: p, Offset: off})
		}
	}
	slices.SortFunc(out, func(a, b types.Cursor) int {
		ta := types.TopicPartition{Topic: a.Topic, Partition: a.Partition}
		tb := types.TopicPartition{Topic: b.Topic, Partition: b.Partition}
		switch {
		case ta.Less(tb):
			return -1
		case tb.Less(ta):
			return 1
		}
		return 0
	})
	return out
}
