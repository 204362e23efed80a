package broker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/downfa11-org/packrat/pkg/broker"
	"github.com/downfa11-org/packrat/pkg/types"
)

func TestMemoryConsumer_PollAndSeek(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemoryBroker(zap.NewNop())
	require.NoError(t, b.CreateTopic("T1", 2))

	tp0 := types.TopicPartition{Topic: "T1", Partition: 0}
	tp1 := types.TopicPartition{Topic: "T1", Partition: 1}
	for i := 0; i < 3; i++ {
		_, err := b.ProduceTo(tp0, nil, []byte{byte(i)})
		require.NoError(t, err)
	}
	_, err := b.ProduceTo(tp1, nil, []byte("x"))
	require.NoError(t, err)

	c := b.NewConsumer("g", 0)
	require.NoError(t, c.Subscribe([]string{"T1"}))
	assert.Equal(t, []types.TopicPartition{tp0, tp1}, c.Assignment())

	// zero timeout only settles the assignment
	msgs, err := c.Poll(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, c.Seek(tp0, 2))
	msgs, err = c.Poll(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(2), msgs[0].Offset)
	assert.Equal(t, tp0, msgs[0].TopicPartition())
	assert.Equal(t, tp1, msgs[1].TopicPartition())

	assert.Equal(t, int64(3), c.Position(tp0))
	assert.Equal(t, int64(3), b.EndOffset(tp0))

	other := types.TopicPartition{Topic: "T9", Partition: 0}
	assert.True(t, errors.Is(c.Seek(other, 0), broker.ErrNotAssigned))
}

func TestMemoryConsumer_PollTimesOutWithoutError(t *testing.T) {
	b := broker.NewMemoryBroker(zap.NewNop())
	require.NoError(t, b.CreateTopic("T1", 1))
	c := b.NewConsumer("g", 0)
	require.NoError(t, c.Subscribe([]string{"T1"}))

	start := time.Now()
	msgs, err := c.Poll(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestMemoryConsumer_PollWakesOnProduce(t *testing.T) {
	b := broker.NewMemoryBroker(zap.NewNop())
	require.NoError(t, b.CreateTopic("T1", 1))
	c := b.NewConsumer("g", 0)
	require.NoError(t, c.Subscribe([]string{"T1"}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _, _ = b.Produce("T1", nil, []byte("late"))
	}()

	msgs, err := c.Poll(context.Background(), 5*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("late"), msgs[0].Value)
}

func TestMemoryConsumer_MaxRecords(t *testing.T) {
	b := broker.NewMemoryBroker(zap.NewNop())
	for i := 0; i < 5; i++ {
		_, _, err := b.Produce("T1", nil, []byte{byte(i)})
		require.NoError(t, err)
	}
	c := b.NewConsumer("g", 2)
	require.NoError(t, c.Subscribe([]string{"T1"}))

	var seen []int64
	for i := 0; i < 3; i++ {
		msgs, err := c.Poll(context.Background(), 10*time.Millisecond)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(msgs), 2)
		for _, m := range msgs {
			seen = append(seen, m.Offset)
		}
	}
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, seen)
}

func TestMemoryBroker_KeyedProduceIsSticky(t *testing.T) {
	b := broker.NewMemoryBroker(zap.NewNop())
	require.NoError(t, b.CreateTopic("T1", 4))

	first, _, err := b.Produce("T1", []byte("emitter-1"), []byte("a"))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		tp, _, err := b.Produce("T1", []byte("emitter-1"), []byte("b"))
		require.NoError(t, err)
		assert.Equal(t, first, tp)
	}
}

func TestMemoryBroker_GroupSplitsPartitions(t *testing.T) {
	b := broker.NewMemoryBroker(zap.NewNop())
	require.NoError(t, b.CreateTopic("T1", 4))

	c1 := b.NewConsumer("g", 0)
	c2 := b.NewConsumer("g", 0)
	require.NoError(t, c1.Subscribe([]string{"T1"}))
	require.NoError(t, c2.Subscribe([]string{"T1"}))

	a1, a2 := c1.Assignment(), c2.Assignment()
	assert.Len(t, a1, 2)
	assert.Len(t, a2, 2)
	assert.NotContains(t, a1, a2[0])

	require.NoError(t, c2.Close())
	assert.Len(t, c1.Assignment(), 4)
}

func TestMemoryConsumer_InjectedErrorsAndClose(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemoryBroker(zap.NewNop())
	c := b.NewConsumer("g", 0)

	_, err := c.Poll(ctx, time.Millisecond)
	assert.True(t, errors.Is(err, broker.ErrNotSubscribed))

	require.NoError(t, c.Subscribe([]string{"T1"}))
	boom := errors.New("boom")
	c.FailPolls(boom)

	_, err = c.Poll(ctx, time.Millisecond)
	assert.Same(t, boom, err)
	_, err = c.Poll(ctx, time.Millisecond)
	assert.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.True(t, c.Closed())
	_, err = c.Poll(ctx, time.Millisecond)
	assert.True(t, errors.Is(err, broker.ErrClosed))
}
