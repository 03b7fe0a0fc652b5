package storage_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baleyhq/baley/internal/model"
	"github.com/baleyhq/baley/internal/storage"
)

func mustCreateEdge(t *testing.T, ws uuid.UUID, source, target uuid.UUID) model.TriggerEdge {
	t.Helper()
	edge, err := testDB.CreateTriggerEdge(t.Context(), model.TriggerEdge{
		WorkspaceID:   ws,
		SourceAgentID: source,
		TargetAgentID: target,
		Type:          model.TriggerOnCompletion,
		Enabled:       true,
	})
	require.NoError(t, err)
	return edge
}

func TestCreateTriggerEdge(t *testing.T) {
	ws := uuid.New()
	a := mustCreateAgent(t, ws, "trig-a")
	b := mustCreateAgent(t, ws, "trig-b")

	edge := mustCreateEdge(t, ws, a.ID, b.ID)
	assert.NotEqual(t, uuid.Nil, edge.ID)

	got, err := testDB.GetTriggerEdge(t.Context(), ws, edge.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.SourceAgentID)
	assert.Equal(t, b.ID, got.TargetAgentID)
	assert.True(t, got.Enabled)
}

func TestCreateTriggerEdgeDuplicateRejected(t *testing.T) {
	ws := uuid.New()
	a := mustCreateAgent(t, ws, "dup-a")
	b := mustCreateAgent(t, ws, "dup-b")

	mustCreateEdge(t, ws, a.ID, b.ID)

	_, err := testDB.CreateTriggerEdge(t.Context(), model.TriggerEdge{
		WorkspaceID:   ws,
		SourceAgentID: a.ID,
		TargetAgentID: b.ID,
		Type:          model.TriggerOnSuccess,
		Enabled:       true,
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateEdge)
}

func TestCreateTriggerEdgeDirectCycleRejected(t *testing.T) {
	ws := uuid.New()
	a := mustCreateAgent(t, ws, "cyc-a")
	b := mustCreateAgent(t, ws, "cyc-b")

	mustCreateEdge(t, ws, a.ID, b.ID)

	_, err := testDB.CreateTriggerEdge(t.Context(), model.TriggerEdge{
		WorkspaceID:   ws,
		SourceAgentID: b.ID,
		TargetAgentID: a.ID,
		Type:          model.TriggerOnCompletion,
		Enabled:       true,
	})
	assert.ErrorIs(t, err, storage.ErrEdgeCycle)
}

func TestCreateTriggerEdgeTransitiveCycleRejected(t *testing.T) {
	ws := uuid.New()
	a := mustCreateAgent(t, ws, "chain-a")
	b := mustCreateAgent(t, ws, "chain-b")
	c := mustCreateAgent(t, ws, "chain-c")

	mustCreateEdge(t, ws, a.ID, b.ID)
	mustCreateEdge(t, ws, b.ID, c.ID)

	// Closing the chain back to its head fails on the third edge.
	_, err := testDB.CreateTriggerEdge(t.Context(), model.TriggerEdge{
		WorkspaceID:   ws,
		SourceAgentID: c.ID,
		TargetAgentID: a.ID,
		Type:          model.TriggerOnCompletion,
		Enabled:       true,
	})
	assert.ErrorIs(t, err, storage.ErrEdgeCycle)
}

func TestCycleCheckIgnoresDisabledEdges(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	a := mustCreateAgent(t, ws, "dis-a")
	b := mustCreateAgent(t, ws, "dis-b")

	forward := mustCreateEdge(t, ws, a.ID, b.ID)
	require.NoError(t, testDB.SetTriggerEdgeEnabled(ctx, ws, forward.ID, false))

	// With the forward edge disabled, the reverse edge is legal.
	reverse := mustCreateEdge(t, ws, b.ID, a.ID)

	// But re-enabling the forward edge would close the loop.
	err := testDB.SetTriggerEdgeEnabled(ctx, ws, forward.ID, true)
	assert.ErrorIs(t, err, storage.ErrEdgeCycle)

	// Dropping the reverse edge unblocks it.
	require.NoError(t, testDB.DeleteTriggerEdge(ctx, ws, reverse.ID))
	require.NoError(t, testDB.SetTriggerEdgeEnabled(ctx, ws, forward.ID, true))
}

func TestListEnabledEdgesBySource(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	src := mustCreateAgent(t, ws, "fanout-src")
	t1 := mustCreateAgent(t, ws, "fanout-t1")
	t2 := mustCreateAgent(t, ws, "fanout-t2")

	first := mustCreateEdge(t, ws, src.ID, t1.ID)
	second := mustCreateEdge(t, ws, src.ID, t2.ID)
	require.NoError(t, testDB.SetTriggerEdgeEnabled(ctx, ws, second.ID, false))

	edges, err := testDB.ListEnabledEdgesBySource(ctx, ws, src.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, first.ID, edges[0].ID)

	all, err := testDB.ListTriggerEdges(ctx, ws)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestTriggerEdgeMappingRoundTrip(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	a := mustCreateAgent(t, ws, "map-a")
	b := mustCreateAgent(t, ws, "map-b")

	cond := "only on weekdays"
	edge, err := testDB.CreateTriggerEdge(ctx, model.TriggerEdge{
		WorkspaceID:   ws,
		SourceAgentID: a.ID,
		TargetAgentID: b.ID,
		Type:          model.TriggerOnSuccess,
		Enabled:       true,
		FieldMapping:  map[string]string{"topic": "result.name"},
		StaticInput:   map[string]any{"mode": "summary"},
		Condition:     &cond,
	})
	require.NoError(t, err)

	got, err := testDB.GetTriggerEdge(ctx, ws, edge.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"topic": "result.name"}, got.FieldMapping)
	assert.Equal(t, map[string]any{"mode": "summary"}, got.StaticInput)
	require.NotNil(t, got.Condition)
	assert.Equal(t, cond, *got.Condition)
}

func TestDeleteTriggerEdgeMissing(t *testing.T) {
	err := testDB.DeleteTriggerEdge(t.Context(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
