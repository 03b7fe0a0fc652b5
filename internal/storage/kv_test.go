package storage_test

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baleyhq/baley/internal/storage"
)

func TestMemorySetGetDelete(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	agent := mustCreateAgent(t, ws, "rememberer")

	entry, err := testDB.SetMemory(ctx, ws, agent.ID, "progress", json.RawMessage(`{"step":1}`), nil)
	require.NoError(t, err)
	assert.Equal(t, "progress", entry.Key)

	got, err := testDB.GetMemory(ctx, ws, agent.ID, "progress")
	require.NoError(t, err)
	assert.JSONEq(t, `{"step":1}`, string(got.Value))

	// Upsert replaces the value in place.
	_, err = testDB.SetMemory(ctx, ws, agent.ID, "progress", json.RawMessage(`{"step":2}`), nil)
	require.NoError(t, err)
	got, err = testDB.GetMemory(ctx, ws, agent.ID, "progress")
	require.NoError(t, err)
	assert.JSONEq(t, `{"step":2}`, string(got.Value))

	entries, err := testDB.ListMemory(ctx, ws, agent.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, testDB.DeleteMemory(ctx, ws, agent.ID, "progress"))
	_, err = testDB.GetMemory(ctx, ws, agent.ID, "progress")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryScopedPerAgent(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	a := mustCreateAgent(t, ws, "agent-a")
	b := mustCreateAgent(t, ws, "agent-b")

	_, err := testDB.SetMemory(ctx, ws, a.ID, "k", json.RawMessage(`"a-value"`), nil)
	require.NoError(t, err)

	_, err = testDB.GetMemory(ctx, ws, b.ID, "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryConcurrentWritesSameKey(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	agent := mustCreateAgent(t, ws, "contended")

	const writers = 50
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			val := json.RawMessage(fmt.Sprintf(`{"writer":%d}`, n))
			if _, err := testDB.SetMemory(ctx, ws, agent.ID, "hot", val, nil); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent set: %v", err)
	}

	// All writers converged on a single row.
	entries, err := testDB.ListMemory(ctx, ws, agent.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	got, err := testDB.GetMemory(ctx, ws, agent.ID, "hot")
	require.NoError(t, err)
	var v struct {
		Writer int `json:"writer"`
	}
	require.NoError(t, json.Unmarshal(got.Value, &v))
	assert.GreaterOrEqual(t, v.Writer, 0)
	assert.Less(t, v.Writer, writers)
}

func TestSharedTTLExpiry(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()

	ttl := 50 * time.Millisecond
	_, err := testDB.SetShared(ctx, ws, "ephemeral", json.RawMessage(`"soon gone"`), &ttl, nil, nil)
	require.NoError(t, err)
	_, err = testDB.SetShared(ctx, ws, "durable", json.RawMessage(`"stays"`), nil, nil, nil)
	require.NoError(t, err)

	// Fresh entry reads fine.
	got, err := testDB.GetShared(ctx, ws, "ephemeral")
	require.NoError(t, err)
	require.NotNil(t, got.ExpiresAt)

	time.Sleep(2 * ttl)

	// Elapsed TTL reads as absent even before any sweep runs.
	_, err = testDB.GetShared(ctx, ws, "ephemeral")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// And is excluded from listings.
	entries, err := testDB.ListShared(ctx, ws)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "durable", entries[0].Key)
}

func TestSharedRewriteRefreshesTTL(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()

	short := 50 * time.Millisecond
	_, err := testDB.SetShared(ctx, ws, "k", json.RawMessage(`1`), &short, nil, nil)
	require.NoError(t, err)

	// Rewriting without a TTL clears the expiry.
	_, err = testDB.SetShared(ctx, ws, "k", json.RawMessage(`2`), nil, nil, nil)
	require.NoError(t, err)

	time.Sleep(2 * short)

	got, err := testDB.GetShared(ctx, ws, "k")
	require.NoError(t, err)
	assert.Nil(t, got.ExpiresAt)
	assert.JSONEq(t, `2`, string(got.Value))
}

func TestSweepExpiredShared(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()

	ttl := time.Millisecond
	_, err := testDB.SetShared(ctx, ws, "sweep-me", json.RawMessage(`true`), &ttl, nil, nil)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	n, err := testDB.SweepExpiredShared(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))
}

func TestSharedDeleteMissing(t *testing.T) {
	err := testDB.DeleteShared(t.Context(), uuid.New(), "never-written")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
