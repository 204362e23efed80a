package bench_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/downfa11-org/packrat/pkg/bench"
	"github.com/downfa11-org/packrat/pkg/broker"
	"github.com/downfa11-org/packrat/pkg/decoder"
	"github.com/downfa11-org/packrat/pkg/types"
)

func drain(t *testing.T, b *broker.MemoryBroker, topic string) []types.Message {
	t.Helper()
	c := b.NewConsumer("check", 0)
	require.NoError(t, c.Subscribe([]string{topic}))
	defer c.Close()

	ctx := context.Background()
	_, err := c.Poll(ctx, 0)
	require.NoError(t, err)
	for _, tp := range c.Assignment() {
		require.NoError(t, c.Seek(tp, 0))
	}
	msgs, err := c.Poll(ctx, time.Second)
	require.NoError(t, err)
	return msgs
}

func TestRunner_PublishesDecodableTraffic(t *testing.T) {
	logger := zap.NewNop()
	b := broker.NewMemoryBroker(logger)

	r, err := bench.NewRunner(bench.Options{
		Topic:              "hc-file",
		Format:             "lines",
		Compression:        "snappy",
		Emitters:           3,
		SessionsPerEmitter: 2,
		RecordsPerSession:  4,
		Producers:          2,
	}, bench.MemoryProducer{Broker: b}, logger)
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(24), res.Messages)
	assert.Equal(t, 2, res.Producers)

	payloads, err := decoder.ForFormat("lines", "snappy", logger)
	require.NoError(t, err)

	keys := make(map[string]struct{})
	for _, m := range drain(t, b, "hc-file") {
		h, err := types.ParseHeader(m.Key)
		require.NoError(t, err)
		keys[h.UniqueKey()] = struct{}{}

		v, ok := payloads.Decode(m.Topic, m.Value)
		require.True(t, ok)
		assert.Len(t, v, 2)
	}
	assert.Len(t, keys, 24, "every generated record has its own key")
}

func TestRunner_Poison(t *testing.T) {
	b := broker.NewMemoryBroker(zap.NewNop())
	r, err := bench.NewRunner(bench.Options{
		Topic:             "hc-json",
		Emitters:          1,
		RecordsPerSession: 4,
		PoisonEvery:       2,
	}, bench.MemoryProducer{Broker: b}, zap.NewNop())
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Messages)
	assert.Equal(t, int64(2), res.Poison)
	assert.Equal(t, int64(6), b.EndOffset(types.TopicPartition{Topic: "hc-json"}))
}

type failingProducer struct{ calls int }

func (p *failingProducer) Produce(context.Context, string, []byte, []byte) error {
	p.calls++
	return errors.New("broker unavailable")
}

func (*failingProducer) Close() {}

func TestRunner_StopsOnProduceError(t *testing.T) {
	p := &failingProducer{}
	r, err := bench.NewRunner(bench.Options{Topic: "hc-json", Emitters: 1, RecordsPerSession: 10}, p, zap.NewNop())
	require.NoError(t, err)

	res, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Zero(t, res.Messages)
	assert.Equal(t, 1, p.calls)
}

func TestNewRunner_Validates(t *testing.T) {
	_, err := bench.NewRunner(bench.Options{}, nil, nil)
	assert.Error(t, err)

	_, err = bench.NewRunner(bench.Options{Topic: "t", Format: "xml"}, nil, nil)
	assert.Error(t, err)

	_, err = bench.NewRunner(bench.Options{Topic: "t", Compression: "zstd"}, nil, nil)
	assert.Error(t, err)
}
