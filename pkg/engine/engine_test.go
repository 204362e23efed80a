package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/downfa11-org/packrat/pkg/broker"
	"github.com/downfa11-org/packrat/pkg/decoder"
	"github.com/downfa11-org/packrat/pkg/engine"
	"github.com/downfa11-org/packrat/pkg/store"
	"github.com/downfa11-org/packrat/pkg/types"
)

var emitter = uuid.NewString()

func headerKey(t *testing.T, session, record int64) []byte {
	t.Helper()
	b, err := json.Marshal(types.Header{
		GroupID:          "G1",
		EmitterID:        emitter,
		SessionTimestamp: session,
		RecordTimestamp:  record,
		Version:          1,
	})
	require.NoError(t, err)
	return b
}

type fixture struct {
	broker   *broker.MemoryBroker
	consumer *broker.MemoryConsumer
	store    *store.MemoryStore
	engine   *engine.Engine
}

func newFixture(t *testing.T, records store.RecordStore, topics ...string) *fixture {
	t.Helper()
	logger := zap.NewNop()
	f := &fixture{
		broker: broker.NewMemoryBroker(logger),
		store:  store.NewMemoryStore(logger, "T1"),
	}
	for _, topic := range topics {
		require.NoError(t, f.broker.CreateTopic(topic, 1))
	}
	if records == nil {
		records = f.store
	}
	f.consumer = f.broker.NewConsumer("packrat", 0)
	f.engine = engine.New(engine.Options{
		Name:        t.Name(),
		Topics:      topics,
		PoolSize:    2,
		PollTimeout: 20 * time.Millisecond,
	}, f.consumer, decoder.NewHeaderDecoder(logger), decoder.NewJSONDecoder(logger), records, f.store, logger)
	return f
}

func (f *fixture) produce(t *testing.T, topic string, key, value []byte) {
	t.Helper()
	_, err := f.broker.ProduceTo(types.TopicPartition{Topic: topic}, key, value)
	require.NoError(t, err)
}

func (f *fixture) waitOffset(t *testing.T, topic string, want int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		off, err := f.store.GetOffset(context.Background(), topic, 0)
		return err == nil && off == want
	}, 5*time.Second, 10*time.Millisecond, "offset of %s never reached %d", topic, want)
}

func TestEngine_SkipOnPoison(t *testing.T) {
	f := newFixture(t, nil, "T1")
	f.produce(t, "T1", headerKey(t, 100, 1), []byte(`{"a":1}`))
	f.produce(t, "T1", []byte(`{"broken"`), []byte(`{"a":2}`))
	f.produce(t, "T1", headerKey(t, 100, 3), []byte(`not json`))
	f.produce(t, "T1", headerKey(t, 100, 4), []byte(`{"a":4}`))

	require.NoError(t, f.engine.Start(context.Background()))
	f.waitOffset(t, "T1", 4)
	require.NoError(t, f.engine.Stop())

	assert.Equal(t, 2, f.store.Count("T1"))
	stats := f.engine.Stats()
	assert.EqualValues(t, 4, stats.RecordsSeen)
	assert.EqualValues(t, 2, stats.Persisted)
	assert.EqualValues(t, 2, stats.Skipped)

	rec, ok := f.store.Record("T1", emitter+":100@4")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"a": float64(4)}, rec.Payload)
}

func TestEngine_ResumeFromCursor(t *testing.T) {
	f := newFixture(t, nil, "T1")
	for i := int64(0); i < 5; i++ {
		f.produce(t, "T1", headerKey(t, 100, i), []byte(`{}`))
	}
	_, err := f.store.UpdateOffset(context.Background(), "T1", 0, 3)
	require.NoError(t, err)

	require.NoError(t, f.engine.Start(context.Background()))
	f.waitOffset(t, "T1", 5)
	require.NoError(t, f.engine.Stop())

	assert.EqualValues(t, 2, f.engine.Stats().RecordsSeen)
	assert.Equal(t, 2, f.store.Count("T1"))
	for i := int64(0); i < 3; i++ {
		_, ok := f.store.Record("T1", types.Header{EmitterID: emitter, SessionTimestamp: 100, RecordTimestamp: i}.UniqueKey())
		assert.False(t, ok, "offset %d below the cursor was re-delivered", i)
	}
}

func TestEngine_DuplicatesAreBenign(t *testing.T) {
	f := newFixture(t, nil, "T1")
	f.produce(t, "T1", headerKey(t, 100, 200), []byte(`{"a":1}`))
	f.produce(t, "T1", headerKey(t, 100, 200), []byte(`{"a":1}`))

	require.NoError(t, f.engine.Start(context.Background()))
	f.waitOffset(t, "T1", 2)
	require.NoError(t, f.engine.Stop())

	assert.Equal(t, 1, f.store.Count("T1"))
	stats := f.engine.Stats()
	assert.EqualValues(t, 1, stats.Persisted)
	assert.EqualValues(t, 1, stats.Duplicates)
	assert.EqualValues(t, 0, stats.Skipped)
}

func TestEngine_UnknownTopicDropsRecordButAdvances(t *testing.T) {
	f := newFixture(t, nil, "T1", "T2")
	f.produce(t, "T2", headerKey(t, 1, 1), []byte(`{}`))
	f.produce(t, "T1", headerKey(t, 1, 2), []byte(`{}`))

	require.NoError(t, f.engine.Start(context.Background()))
	f.waitOffset(t, "T2", 1)
	f.waitOffset(t, "T1", 1)
	require.NoError(t, f.engine.Stop())

	assert.Equal(t, 1, f.store.Count("T1"))
	assert.EqualValues(t, 1, f.engine.Stats().Skipped)
}

func TestEngine_PollErrorsAreNotFatal(t *testing.T) {
	f := newFixture(t, nil, "T1")
	f.produce(t, "T1", headerKey(t, 1, 1), []byte(`{}`))
	f.consumer.FailPolls(errors.New("broker unavailable"), errors.New("broker unavailable"))

	require.NoError(t, f.engine.Start(context.Background()))
	f.waitOffset(t, "T1", 1)
	require.NoError(t, f.engine.Stop())

	stats := f.engine.Stats()
	assert.EqualValues(t, 2, stats.PollErrors)
	assert.EqualValues(t, 1, stats.Persisted)
}

func TestEngine_StartFailureAborts(t *testing.T) {
	f := newFixture(t, nil, "T1")
	e := engine.New(engine.Options{Name: t.Name(), Topics: []string{"T1"}},
		f.consumer, decoder.NewHeaderDecoder(zap.NewNop()), decoder.NewJSONDecoder(zap.NewNop()),
		f.store, failingOffsets{}, zap.NewNop())

	err := e.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errCursor)
	assert.Equal(t, engine.Stopped, e.State())
	assert.True(t, f.consumer.Closed())
	assert.ErrorIs(t, e.Stop(), engine.ErrNotRunning)
}

var errCursor = errors.New("cursor store unavailable")

type failingOffsets struct{}

func (failingOffsets) GetOffset(context.Context, string, int32) (int64, error) {
	return 0, errCursor
}

func (failingOffsets) UpdateOffset(context.Context, string, int32, int64) (bool, error) {
	return false, errCursor
}

func TestEngine_Lifecycle(t *testing.T) {
	f := newFixture(t, nil, "T1")
	assert.Equal(t, engine.Stopped, f.engine.State())
	assert.ErrorIs(t, f.engine.Stop(), engine.ErrNotRunning)

	require.NoError(t, f.engine.Start(context.Background()))
	assert.Equal(t, engine.Running, f.engine.State())
	assert.ErrorIs(t, f.engine.Start(context.Background()), engine.ErrAlreadyStarted)

	require.NoError(t, f.engine.Stop())
	assert.Equal(t, engine.Stopped, f.engine.State())
	assert.True(t, f.consumer.Closed())
	assert.ErrorIs(t, f.engine.Start(context.Background()), engine.ErrAlreadyStarted)
}

// slowStore delays every persist so that batches are still in flight at Stop.
type slowStore struct {
	next  store.RecordStore
	delay time.Duration

	mu    sync.Mutex
	calls int
}

func (s *slowStore) Persist(ctx context.Context, topic string, h types.Header, payload any) error {
	time.Sleep(s.delay)
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.next.Persist(ctx, topic, h, payload)
}

func TestEngine_StopDrainsDispatchedBatches(t *testing.T) {
	f := newFixture(t, nil, "T1")
	slow := &slowStore{next: f.store, delay: 20 * time.Millisecond}
	f.engine = engine.New(engine.Options{Name: t.Name(), Topics: []string{"T1"}, PoolSize: 1, QueueSize: 1, PollTimeout: 5 * time.Millisecond},
		f.consumer, decoder.NewHeaderDecoder(zap.NewNop()), decoder.NewJSONDecoder(zap.NewNop()), slow, f.store, zap.NewNop())

	require.NoError(t, f.engine.Start(context.Background()))
	for i := int64(0); i < 10; i++ {
		f.produce(t, "T1", headerKey(t, 7, i), []byte(`{}`))
		time.Sleep(2 * time.Millisecond)
	}
	require.Eventually(t, func() bool { return f.engine.Stats().BatchesDispatched > 0 }, 5*time.Second, time.Millisecond)

	require.NoError(t, f.engine.Stop())

	stats := f.engine.Stats()
	assert.Equal(t, stats.BatchesDispatched, stats.BatchesDone)
	assert.EqualValues(t, stats.RecordsSeen, f.store.Count("T1"))
	assert.True(t, f.consumer.Closed())

	off, err := f.store.GetOffset(context.Background(), "T1", 0)
	require.NoError(t, err)
	assert.EqualValues(t, stats.RecordsSeen, off)
}

func TestEngine_ConcurrentBatchesCommitMax(t *testing.T) {
	f := newFixture(t, nil, "T1")
	f.engine = engine.New(engine.Options{Name: t.Name(), Topics: []string{"T1"}, PoolSize: 8, PollTimeout: 5 * time.Millisecond},
		f.broker.NewConsumer("packrat-concurrent", 3),
		decoder.NewHeaderDecoder(zap.NewNop()), decoder.NewJSONDecoder(zap.NewNop()), f.store, f.store, zap.NewNop())

	const n = 200
	for i := int64(0); i < n; i++ {
		f.produce(t, "T1", headerKey(t, 9, i), []byte(`{}`))
	}

	require.NoError(t, f.engine.Start(context.Background()))
	f.waitOffset(t, "T1", n)
	require.NoError(t, f.engine.Stop())

	assert.Equal(t, n, f.store.Count("T1"))
	assert.Greater(t, f.engine.Stats().BatchesDone, int64(1))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "stopped", engine.Stopped.String())
	assert.Equal(t, "starting", engine.Starting.String())
	assert.Equal(t, "running", engine.Running.String())
	assert.Equal(t, "stopping", engine.Stopping.String())
	assert.Equal(t, "unknown", engine.State(42).String())
}
