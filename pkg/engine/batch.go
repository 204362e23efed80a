package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/downfa11-org/packrat/pkg/metrics"
	"github.com/downfa11-org/packrat/pkg/store"
	"github.com/downfa11-org/packrat/pkg/types"
)

// processBatch persists every decodable record in arrival order and then
// commits, once per touched partition, the highest next offset seen. Records
// that fail to decode or persist are skipped but still advance the offset.
func (e *Engine) processBatch(batch []types.Message) {
	start := time.Now()
	ctx := e.workCtx

	next := make(map[types.TopicPartition]int64)
	for _, msg := range batch {
		tp := msg.TopicPartition()
		if off := msg.NextOffset(); off > next[tp] {
			next[tp] = off
		}
		e.handleRecord(ctx, msg)
	}

	e.commit(ctx, next)
	e.stats.batchesDone.Add(1)
	metrics.ObserveBatch(e.opts.Name, time.Since(start))
}

func (e *Engine) handleRecord(ctx context.Context, msg types.Message) {
	e.stats.recordsSeen.Add(1)

	header, ok := e.headers.Decode(msg.Topic, msg.Key)
	if !ok {
		e.skip(msg, metrics.ReasonHeader, nil)
		return
	}
	payload, ok := e.payloads.Decode(msg.Topic, msg.Value)
	if !ok {
		e.skip(msg, metrics.ReasonPayload, nil)
		return
	}

	err := e.records.Persist(ctx, msg.Topic, header, payload)
	switch {
	case err == nil:
		e.stats.persisted.Add(1)
		metrics.RecordsPersisted.WithLabelValues(msg.Topic).Inc()
	case errors.Is(err, store.ErrDuplicateRecord):
		e.stats.duplicates.Add(1)
		metrics.RecordsDuplicate.WithLabelValues(msg.Topic).Inc()
		e.logger.Warn("duplicate record ignored",
			zap.String("topic", msg.Topic), zap.Stringer("key", header), zap.Int64("offset", msg.Offset))
	case errors.Is(err, store.ErrUnknownTopic):
		e.skip(msg, metrics.ReasonUnknownTopic, err)
	default:
		e.skip(msg, metrics.ReasonStore, err)
	}
}

func (e *Engine) skip(msg types.Message, reason string, err error) {
	e.stats.skipped.Add(1)
	metrics.RecordsSkipped.WithLabelValues(msg.Topic, reason).Inc()

	fields := []zap.Field{
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.String("reason", reason),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
		e.logger.Error("record dropped", fields...)
		return
	}
	e.logger.Warn("record skipped", fields...)
}

func (e *Engine) commit(ctx context.Context, next map[types.TopicPartition]int64) {
	tps := make([]types.TopicPartition, 0, len(next))
	for tp := range next {
		tps = append(tps, tp)
	}
	slices.SortFunc(tps, types.CompareTopicPartition)

	for _, tp := range tps {
		applied, err := e.offsets.UpdateOffset(ctx, tp.Topic, tp.Partition, next[tp])
		metrics.ObserveCommit(tp.Topic, applied, err)
		if err != nil {
			e.logger.Error("offset commit failed",
				zap.Stringer("partition", tp), zap.Int64("offset", next[tp]), zap.Error(err))
			continue
		}
		if applied {
			e.stats.commits.Add(1)
		}
	}
}
