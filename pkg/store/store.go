// Package store holds the record persistence contract and its backends.
package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/downfa11-org/packrat/pkg/offset"
	"github.com/downfa11-org/packrat/pkg/types"
)

// OffsetsNamespace is reserved for cursor documents and never holds records.
const OffsetsNamespace = "_offsets"

var (
	// ErrDuplicateRecord reports that a record with the same unique key already exists.
	// It is benign: delivery is at-least-once, storage is at-most-once per key.
	ErrDuplicateRecord = errors.New("record already exists")
	// ErrUnknownTopic reports that no namespace is provisioned for the topic.
	ErrUnknownTopic = offset.ErrUnknownTopic
)

// RecordStore persists ingested records. The first writer for a unique key
// wins; later writers get ErrDuplicateRecord.
type RecordStore interface {
	Persist(ctx context.Context, topic string, header types.Header, payload any) error
}

// Provisioner manages the per-topic namespaces.
type Provisioner interface {
	Provision(ctx context.Context, topic string) error
	Namespaces(ctx context.Context) ([]string, error)
}

// QueryStore answers the read-side questions of the reporting API.
type QueryStore interface {
	Namespaces(ctx context.Context) ([]string, error)
	Emitters(ctx context.Context, topic string) ([]string, error)
	Sessions(ctx context.Context, topic, emitterID string) ([]int64, error)
	SessionRecords(ctx context.Context, topic, emitterID string, session int64) ([]types.Record, error)
	Groups(ctx context.Context) (map[string][]string, error)
	EmittersForGroup(ctx context.Context, groupID string) (map[string][]string, error)
}

// Backend is everything a full storage backend offers.
type Backend interface {
	RecordStore
	Provisioner
	QueryStore
	offset.OffsetStore
	Close(ctx context.Context) error
}

type tracedStore struct {
	next   RecordStore
	logger *zap.Logger
}

// WithTrace wraps a RecordStore and logs every call at debug level.
func WithTrace(next RecordStore, logger *zap.Logger) RecordStore {
	if logger == nil || !logger.Core().Enabled(zap.DebugLevel) {
		return next
	}
	return &tracedStore{next: next, logger: logger.With(zap.String("component", "record_store"))}
}

func (t *tracedStore) Persist(ctx context.Context, topic string, header types.Header, payload any) error {
	start := time.Now()
	t.logger.Debug("persist: enter", zap.String("topic", topic), zap.Stringer("key", header))
	err := t.next.Persist(ctx, topic, header, payload)
	t.logger.Debug("persist: exit",
		zap.String("topic", topic),
		zap.Stringer("key", header),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err))
	return err
}
