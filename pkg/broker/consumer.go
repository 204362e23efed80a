// Package broker abstracts the partitioned message log the collector reads from.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/downfa11-org/packrat/pkg/types"
)

var (
	ErrClosed        = errors.New("consumer is closed")
	ErrNotSubscribed = errors.New("consumer is not subscribed")
	ErrNotAssigned   = errors.New("partition is not assigned to this consumer")
)

// Consumer is a single group member reading a set of topics.
//
// A Poll with a zero timeout returns immediately without records once the
// group assignment is known; it is used to force partition assignment before
// seeking. Timeouts are not errors. Poll may return records together with an
// error when only some partitions failed.
type Consumer interface {
	Subscribe(topics []string) error
	Poll(ctx context.Context, timeout time.Duration) ([]types.Message, error)
	Assignment() []types.TopicPartition
	Seek(tp types.TopicPartition, offset int64) error
	Close() error
}

// CursorLookup resolves the resume offset of a partition when it is assigned.
type CursorLookup func(ctx context.Context, topic string, partition int32) (int64, error)
