// Package engine runs the poll → dispatch → persist → commit pipeline for one
// message source.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/downfa11-org/packrat/pkg/broker"
	"github.com/downfa11-org/packrat/pkg/decoder"
	"github.com/downfa11-org/packrat/pkg/metrics"
	"github.com/downfa11-org/packrat/pkg/offset"
	"github.com/downfa11-org/packrat/pkg/store"
	"github.com/downfa11-org/packrat/pkg/types"
	"github.com/downfa11-org/packrat/util"
)

const (
	DefaultPoolSize    = 4
	DefaultPollTimeout = time.Second
)

var (
	ErrAlreadyStarted = errors.New("engine already started")
	ErrNotRunning     = errors.New("engine is not running")
)

// HeaderDecoder turns a message key into a validated header.
type HeaderDecoder interface {
	Decode(topic string, data []byte) (types.Header, bool)
}

var _ HeaderDecoder = (*decoder.HeaderDecoder)(nil)

type Options struct {
	// Name labels logs and metrics; one per source.
	Name   string
	Topics []string
	// PoolSize is the number of batch workers.
	PoolSize int
	// QueueSize bounds batches waiting for a worker; defaults to 2×PoolSize.
	QueueSize   int
	PollTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.PoolSize <= 0 {
		o.PoolSize = DefaultPoolSize
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 2 * o.PoolSize
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	return o
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	BatchesDispatched int64
	BatchesDone       int64
	RecordsSeen       int64
	Persisted         int64
	Duplicates        int64
	Skipped           int64
	CommitsApplied    int64
	PollErrors        int64
}

type counters struct {
	batchesDispatched atomic.Int64
	batchesDone       atomic.Int64
	recordsSeen       atomic.Int64
	persisted         atomic.Int64
	duplicates        atomic.Int64
	skipped           atomic.Int64
	commits           atomic.Int64
	pollErrors        atomic.Int64
}

// Engine owns one consumer, one poll goroutine and one worker pool.
// An engine runs at most once: a failed start or a stop closes its consumer.
type Engine struct {
	opts     Options
	consumer broker.Consumer
	headers  HeaderDecoder
	payloads decoder.PayloadDecoder
	records  store.RecordStore
	offsets  offset.OffsetStore
	logger   *zap.Logger

	mu      sync.Mutex // serializes Start and Stop
	state   atomic.Int32
	running atomic.Bool
	done    chan struct{}
	pool    *workerPool
	workCtx context.Context

	stats counters
}

func New(
	opts Options,
	consumer broker.Consumer,
	headers HeaderDecoder,
	payloads decoder.PayloadDecoder,
	records store.RecordStore,
	offsets offset.OffsetStore,
	logger *zap.Logger,
) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		opts:     opts,
		consumer: consumer,
		headers:  headers,
		payloads: payloads,
		records:  records,
		offsets:  offsets,
		logger:   util.Component(logger, "engine").With(zap.String("consumer", opts.Name)),
	}
}

func (e *Engine) Name() string { return e.opts.Name }

func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	metrics.EngineState.WithLabelValues(e.opts.Name).Set(float64(s))
}

func (e *Engine) Stats() Stats {
	return Stats{
		BatchesDispatched: e.stats.batchesDispatched.Load(),
		BatchesDone:       e.stats.batchesDone.Load(),
		RecordsSeen:       e.stats.recordsSeen.Load(),
		Persisted:         e.stats.persisted.Load(),
		Duplicates:        e.stats.duplicates.Load(),
		Skipped:           e.stats.skipped.Load(),
		CommitsApplied:    e.stats.commits.Load(),
		PollErrors:        e.stats.pollErrors.Load(),
	}
}

// Start subscribes, positions every assigned partition at its stored cursor
// and launches the poll loop. Any failure leaves the engine Stopped with its
// consumer closed.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() != Stopped || e.done != nil {
		return ErrAlreadyStarted
	}
	e.setState(Starting)

	if err := e.seekToCursors(ctx); err != nil {
		if cerr := e.consumer.Close(); cerr != nil {
			e.logger.Warn("close consumer after failed start", zap.Error(cerr))
		}
		e.setState(Stopped)
		e.logger.Error("engine failed to start", zap.Error(err))
		return fmt.Errorf("start %s: %w", e.opts.Name, err)
	}

	e.workCtx = context.WithoutCancel(ctx)
	e.pool = newWorkerPool(e.opts.PoolSize, e.opts.QueueSize, e.processBatch)
	e.done = make(chan struct{})
	e.running.Store(true)
	e.setState(Running)

	go e.loop(ctx)

	e.logger.Info("engine running",
		zap.Strings("topics", e.opts.Topics),
		zap.Int("pool_size", e.opts.PoolSize),
		zap.Duration("poll_timeout", e.opts.PollTimeout))
	return nil
}

func (e *Engine) seekToCursors(ctx context.Context) error {
	if err := e.consumer.Subscribe(e.opts.Topics); err != nil {
		return fmt.Errorf("subscribe %v: %w", e.opts.Topics, err)
	}
	// records from the assignment poll are re-read after seeking
	if _, err := e.consumer.Poll(ctx, 0); err != nil {
		return fmt.Errorf("initial poll: %w", err)
	}

	assigned := e.consumer.Assignment()
	for _, tp := range assigned {
		off, err := e.offsets.GetOffset(ctx, tp.Topic, tp.Partition)
		if err != nil {
			return fmt.Errorf("read cursor %s: %w", tp, err)
		}
		if err := e.consumer.Seek(tp, off); err != nil {
			return fmt.Errorf("seek %s to %d: %w", tp, off, err)
		}
		e.logger.Info("partition positioned", zap.Stringer("partition", tp), zap.Int64("offset", off))
	}
	metrics.PartitionsAssigned.WithLabelValues(e.opts.Name).Set(float64(len(assigned)))
	return nil
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)

	for e.running.Load() {
		if ctx.Err() != nil {
			e.logger.Info("context cancelled, poll loop exiting")
			return
		}

		msgs, err := e.consumer.Poll(ctx, e.opts.PollTimeout)
		if err != nil {
			if errors.Is(err, broker.ErrClosed) {
				e.logger.Warn("consumer closed underneath the poll loop")
				return
			}
			e.stats.pollErrors.Add(1)
			metrics.PollErrors.WithLabelValues(e.opts.Name).Inc()
			e.logger.Error("poll failed", zap.Error(err))
		}
		if len(msgs) == 0 {
			continue
		}

		e.stats.batchesDispatched.Add(1)
		metrics.BatchesInflight.WithLabelValues(e.opts.Name).Inc()
		if e.pool.pending() == cap(e.pool.tasks) {
			e.logger.Debug("worker queue full, waiting", zap.Int("batch", len(msgs)))
		}
		e.pool.submit(msgs)
	}
}

// Stop clears the running flag, waits for the poll loop to exit, drains the
// worker pool and only then closes the consumer. It blocks until every
// dispatched batch has been processed and committed.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() != Running {
		return ErrNotRunning
	}
	e.setState(Stopping)
	e.logger.Info("engine stopping")

	e.running.Store(false)
	<-e.done
	e.pool.drain()

	if err := e.consumer.Close(); err != nil {
		e.logger.Warn("close consumer", zap.Error(err))
	}
	e.setState(Stopped)

	s := e.Stats()
	e.logger.Info("engine stopped",
		zap.Int64("batches", s.BatchesDone),
		zap.Int64("records", s.RecordsSeen),
		zap.Int64("persisted", s.Persisted),
		zap.Int64("duplicates", s.Duplicates),
		zap.Int64("skipped", s.Skipped))
	return nil
}
