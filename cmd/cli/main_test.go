package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/downfa11-org/packrat/pkg/store"
	"github.com/downfa11-org/packrat/pkg/types"
)

// nopClose keeps the shared memory store usable across commands.
type nopClose struct{ *store.MemoryStore }

func (nopClose) Close(context.Context) error { return nil }

func run(t *testing.T, st *store.MemoryStore, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	open := func(context.Context, *globalFlags, *zap.Logger) (store.Backend, error) {
		return nopClose{st}, nil
	}
	cmd := newRootCmd(open, &out)
	cmd.SetArgs(append(args, "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestOffsetsCommands(t *testing.T) {
	st := store.NewMemoryStore(zap.NewNop())

	out, err := run(t, st, "offsets", "get", "--topic", "T1")
	require.NoError(t, err)
	assert.Equal(t, "T1-0\t0\n", out)

	out, err = run(t, st, "offsets", "set", "--topic", "T1", "--offset", "5")
	require.NoError(t, err)
	assert.Equal(t, "T1-0\tapplied=true\n", out)

	out, err = run(t, st, "offsets", "set", "--topic", "T1", "--offset", "3")
	require.NoError(t, err)
	assert.Equal(t, "T1-0\tapplied=false\n", out)

	out, err = run(t, st, "offsets", "get", "--topic", "T1", "-o", "json")
	require.NoError(t, err)
	var cur types.Cursor
	require.NoError(t, json.Unmarshal([]byte(out), &cur))
	assert.Equal(t, types.Cursor{Topic: "T1", Partition: 0, Offset: 5}, cur)

	_, err = run(t, st, "offsets", "get")
	assert.Error(t, err, "topic flag is required")
}

func TestNamespacesCommands(t *testing.T) {
	st := store.NewMemoryStore(zap.NewNop())

	_, err := run(t, st, "namespaces", "provision", "hc-json", "hc-file")
	require.NoError(t, err)

	out, err := run(t, st, "ns", "list")
	require.NoError(t, err)
	assert.Equal(t, "hc-file\nhc-json\n", out)

	out, err = run(t, st, "namespaces", "list", "-o", "yaml")
	require.NoError(t, err)
	assert.Equal(t, "- hc-file\n- hc-json\n", out)

	_, err = run(t, st, "namespaces", "provision", "_offsets")
	assert.Error(t, err)
}

func TestRecordsCommands(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(zap.NewNop(), "hc-json")
	for _, rt := range []int64{201, 200} {
		h := types.Header{GroupID: "G1", EmitterID: "E1", SessionTimestamp: 100, RecordTimestamp: rt, Version: 1}
		require.NoError(t, st.Persist(ctx, "hc-json", h, map[string]any{"ok": true}))
	}

	out, err := run(t, st, "records", "emitters", "--topic", "hc-json")
	require.NoError(t, err)
	assert.Equal(t, "E1\n", out)

	out, err = run(t, st, "records", "sessions", "--topic", "hc-json", "--emitter", "E1")
	require.NoError(t, err)
	assert.Equal(t, "100\n", out)

	out, err = run(t, st, "records", "show", "--topic", "hc-json", "--emitter", "E1", "--session", "100", "-o", "json")
	require.NoError(t, err)
	var recs []types.Record
	require.NoError(t, json.Unmarshal([]byte(out), &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, "E1:100@200", recs[0].UniqueKey)

	_, err = run(t, st, "records", "emitters", "--topic", "missing")
	assert.ErrorIs(t, err, store.ErrUnknownTopic)
}
