package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/downfa11-org/packrat/pkg/store"
)

// newMongoStore connects to PACKRAT_MONGO_URI and uses a throwaway database.
func newMongoStore(t *testing.T) *store.MongoStore {
	t.Helper()
	uri := os.Getenv("PACKRAT_MONGO_URI")
	if uri == "" {
		t.Skip("PACKRAT_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := store.NewMongoStore(ctx, store.MongoConfig{
		URI:      uri,
		Database: fmt.Sprintf("packrat_test_%d", time.Now().UnixNano()),
		Timeout:  5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestMongoStore_PersistAndDedup(t *testing.T) {
	s := newMongoStore(t)
	ctx := context.Background()

	err := s.Persist(ctx, "hc-json", header("E1", 100, 200), nil)
	assert.True(t, errors.Is(err, store.ErrUnknownTopic))

	require.NoError(t, s.Provision(ctx, "hc-json"))
	require.NoError(t, s.Provision(ctx, "hc-json"))

	require.NoError(t, s.Persist(ctx, "hc-json", header("E1", 100, 200), map[string]any{"cpu": 1}))
	err = s.Persist(ctx, "hc-json", header("E1", 100, 200), map[string]any{"cpu": 2})
	assert.True(t, errors.Is(err, store.ErrDuplicateRecord))

	records, err := s.SessionRecords(ctx, "hc-json", "E1", 100)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "E1:100@200", records[0].UniqueKey)

	names, err := s.Namespaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"hc-json"}, names)

	sessions, err := s.Sessions(ctx, "hc-json", "E1")
	require.NoError(t, err)
	assert.Equal(t, []int64{100}, sessions)
}

func TestMongoStore_Offsets(t *testing.T) {
	s := newMongoStore(t)
	ctx := context.Background()

	off, err := s.GetOffset(ctx, "T1", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, off)

	applied, err := s.UpdateOffset(ctx, "T1", 0, 5)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = s.UpdateOffset(ctx, "T1", 0, 3)
	require.NoError(t, err)
	assert.False(t, applied)

	off, err = s.GetOffset(ctx, "T1", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, off)

	// upsert path on an unseen partition
	applied, err = s.UpdateOffset(ctx, "T1", 7, 9)
	require.NoError(t, err)
	assert.True(t, applied)
	off, _ = s.GetOffset(ctx, "T1", 7)
	assert.EqualValues(t, 9, off)
}
