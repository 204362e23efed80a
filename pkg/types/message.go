package types

import (
	"fmt"
	"time"
)

// Message is one raw record as returned by a broker poll. Key carries the
// serialized HealthCheck header, Value the source-specific payload.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

func (m Message) TopicPartition() TopicPartition {
	return TopicPartition{Topic: m.Topic, Partition: m.Partition}
}

// NextOffset is the cursor value that marks this message as consumed.
func (m Message) NextOffset() int64 {
	return m.Offset + 1
}

// TopicPartition addresses one partition of one topic.
type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return fmt.Sprintf("%s-%d", tp.Topic, tp.Partition)
}

// Less orders partitions by topic, then partition number.
func (tp TopicPartition) Less(other TopicPartition) bool {
	if tp.Topic != other.Topic {
		return tp.Topic < other.Topic
	}
	return tp.Partition < other.Partition
}

// CompareTopicPartition is Less in the three-way form slices.SortFunc expects.
func CompareTopicPartition(a, b TopicPartition) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}

// Cursor is the persisted next-offset-to-read for one partition.
type Cursor struct {
	Topic     string `json:"topic" bson:"topic"`
	Partition int32  `json:"partition" bson:"partition"`
	Offset    int64  `json:"offset" bson:"offset"`
}
