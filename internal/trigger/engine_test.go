package trigger_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baleyhq/baley/internal/exec"
	"github.com/baleyhq/baley/internal/model"
	"github.com/baleyhq/baley/internal/runner"
	"github.com/baleyhq/baley/internal/storage"
	"github.com/baleyhq/baley/internal/testutil"
	"github.com/baleyhq/baley/internal/tools"
	"github.com/baleyhq/baley/internal/trigger"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()
	testDB.Close(ctx)
	tc.Terminate()
	os.Exit(code)
}

func newEngine(t *testing.T) *trigger.Engine {
	return newEngineWithRunner(t, runner.NewNoop())
}

func newEngineWithRunner(t *testing.T, rn runner.Runner) *trigger.Engine {
	t.Helper()
	logger := testutil.TestLogger()
	registry := tools.NewRegistry(testDB, rn, logger)
	execSvc := exec.New(testDB, registry, rn, time.Minute, logger)
	return trigger.NewEngine(testDB, execSvc, logger)
}

// faultyTargetRunner fails runs for one agent by name and echoes otherwise.
type faultyTargetRunner struct {
	failName string
}

func (r *faultyTargetRunner) Name() string { return "faulty" }

func (r *faultyTargetRunner) Run(_ context.Context, req runner.Request) (runner.Result, error) {
	if req.Agent.Name == r.failName {
		return runner.Result{}, errors.New("target backend down")
	}
	return runner.Result{Output: map[string]any{"agent": req.Agent.Name}}, nil
}

func mustCreateAgent(t *testing.T, ws uuid.UUID, name string) model.Agent {
	t.Helper()
	agent, err := testDB.CreateAgent(t.Context(), model.Agent{
		WorkspaceID: ws,
		Name:        name,
		Goal:        "test goal for " + name,
		Status:      model.AgentStatusActive,
	})
	require.NoError(t, err)
	return agent
}

func TestCreateEdgeValidation(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	eng := newEngine(t)

	a := mustCreateAgent(t, ws, "val-a")
	b := mustCreateAgent(t, ws, "val-b")

	t.Run("self loop rejected", func(t *testing.T) {
		_, err := eng.CreateEdge(ctx, model.TriggerEdge{
			WorkspaceID:   ws,
			SourceAgentID: a.ID,
			TargetAgentID: a.ID,
		})
		var serr *trigger.SelfTriggerError
		require.ErrorAs(t, err, &serr)
		assert.Equal(t, a.ID, serr.AgentID)
	})

	t.Run("unknown trigger type rejected", func(t *testing.T) {
		_, err := eng.CreateEdge(ctx, model.TriggerEdge{
			WorkspaceID:   ws,
			SourceAgentID: a.ID,
			TargetAgentID: b.ID,
			Type:          model.TriggerType("sometimes"),
		})
		assert.Error(t, err)
	})

	t.Run("missing endpoint rejected", func(t *testing.T) {
		_, err := eng.CreateEdge(ctx, model.TriggerEdge{
			WorkspaceID:   ws,
			SourceAgentID: a.ID,
			TargetAgentID: uuid.New(),
		})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("type defaults to completion", func(t *testing.T) {
		edge, err := eng.CreateEdge(ctx, model.TriggerEdge{
			WorkspaceID:   ws,
			SourceAgentID: a.ID,
			TargetAgentID: b.ID,
		})
		require.NoError(t, err)
		assert.Equal(t, model.TriggerOnCompletion, edge.Type)
		assert.True(t, edge.Enabled)
	})
}

func TestCreateEdgeCycleSurfacesTypedError(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	eng := newEngine(t)

	a := mustCreateAgent(t, ws, "tcyc-a")
	b := mustCreateAgent(t, ws, "tcyc-b")

	_, err := eng.CreateEdge(ctx, model.TriggerEdge{
		WorkspaceID: ws, SourceAgentID: a.ID, TargetAgentID: b.ID,
	})
	require.NoError(t, err)

	_, err = eng.CreateEdge(ctx, model.TriggerEdge{
		WorkspaceID: ws, SourceAgentID: b.ID, TargetAgentID: a.ID,
	})
	var cerr *trigger.CycleError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, b.ID, cerr.SourceAgentID)
	assert.Equal(t, a.ID, cerr.TargetAgentID)
}

func TestProcessCompletionFiresTarget(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	eng := newEngine(t)

	source := mustCreateAgent(t, ws, "fire-source")
	target := mustCreateAgent(t, ws, "fire-target")

	_, err := eng.CreateEdge(ctx, model.TriggerEdge{
		WorkspaceID:   ws,
		SourceAgentID: source.ID,
		TargetAgentID: target.ID,
		Type:          model.TriggerOnCompletion,
	})
	require.NoError(t, err)

	output := map[string]any{"answer": float64(42)}
	results := eng.ProcessCompletion(ctx, model.CompletionEvent{
		WorkspaceID: ws,
		AgentID:     source.ID,
		ExecutionID: uuid.New(),
		Status:      model.ExecutionCompleted,
		Output:      output,
	})

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, target.ID, results[0].TargetAgentID)
	require.NotEqual(t, uuid.Nil, results[0].ExecutionID)

	// With no mapping configured, the whole source output arrives wrapped
	// under a single key.
	rec, err := testDB.GetExecution(ctx, ws, results[0].ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sourceOutput": output}, rec.Input)
	assert.Equal(t, model.TriggeredAgent, rec.TriggeredBy)
	require.NotNil(t, rec.TriggerSource)
}

func TestProcessCompletionAppliesMapping(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	eng := newEngine(t)

	source := mustCreateAgent(t, ws, "map-source")
	target := mustCreateAgent(t, ws, "map-target")

	_, err := eng.CreateEdge(ctx, model.TriggerEdge{
		WorkspaceID:   ws,
		SourceAgentID: source.ID,
		TargetAgentID: target.ID,
		StaticInput:   map[string]any{"mode": "digest"},
		FieldMapping:  map[string]string{"topic": "result.name"},
	})
	require.NoError(t, err)

	results := eng.ProcessCompletion(ctx, model.CompletionEvent{
		WorkspaceID: ws,
		AgentID:     source.ID,
		ExecutionID: uuid.New(),
		Status:      model.ExecutionCompleted,
		Output:      map[string]any{"result": map[string]any{"name": "quarterly"}},
	})

	require.Len(t, results, 1)
	require.True(t, results[0].Success)

	rec, err := testDB.GetExecution(ctx, ws, results[0].ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"mode": "digest", "topic": "quarterly"}, rec.Input)
}

func TestProcessCompletionFiltersByType(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	eng := newEngine(t)

	source := mustCreateAgent(t, ws, "filt-source")
	onSuccess := mustCreateAgent(t, ws, "filt-success")
	onFailure := mustCreateAgent(t, ws, "filt-failure")

	_, err := eng.CreateEdge(ctx, model.TriggerEdge{
		WorkspaceID: ws, SourceAgentID: source.ID, TargetAgentID: onSuccess.ID,
		Type: model.TriggerOnSuccess,
	})
	require.NoError(t, err)
	_, err = eng.CreateEdge(ctx, model.TriggerEdge{
		WorkspaceID: ws, SourceAgentID: source.ID, TargetAgentID: onFailure.ID,
		Type: model.TriggerOnFailure,
	})
	require.NoError(t, err)

	results := eng.ProcessCompletion(ctx, model.CompletionEvent{
		WorkspaceID: ws,
		AgentID:     source.ID,
		ExecutionID: uuid.New(),
		Status:      model.ExecutionFailed,
	})

	// Only the failure edge fires for a failed source.
	require.Len(t, results, 1)
	assert.Equal(t, onFailure.ID, results[0].TargetAgentID)
	assert.True(t, results[0].Success)
}

func TestProcessCompletionSkipsDisabledEdges(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	eng := newEngine(t)

	source := mustCreateAgent(t, ws, "off-source")
	target := mustCreateAgent(t, ws, "off-target")

	edge, err := eng.CreateEdge(ctx, model.TriggerEdge{
		WorkspaceID: ws, SourceAgentID: source.ID, TargetAgentID: target.ID,
	})
	require.NoError(t, err)
	require.NoError(t, eng.SetEnabled(ctx, ws, edge.ID, false))

	results := eng.ProcessCompletion(ctx, model.CompletionEvent{
		WorkspaceID: ws,
		AgentID:     source.ID,
		ExecutionID: uuid.New(),
		Status:      model.ExecutionCompleted,
	})
	assert.Empty(t, results)
}

func TestProcessCompletionIsolatesFailingEdge(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	eng := newEngineWithRunner(t, &faultyTargetRunner{failName: "iso-bad"})

	source := mustCreateAgent(t, ws, "iso-source")
	bad := mustCreateAgent(t, ws, "iso-bad")
	good := mustCreateAgent(t, ws, "iso-good")

	_, err := eng.CreateEdge(ctx, model.TriggerEdge{
		WorkspaceID: ws, SourceAgentID: source.ID, TargetAgentID: bad.ID,
	})
	require.NoError(t, err)
	_, err = eng.CreateEdge(ctx, model.TriggerEdge{
		WorkspaceID: ws, SourceAgentID: source.ID, TargetAgentID: good.ID,
	})
	require.NoError(t, err)

	results := eng.ProcessCompletion(ctx, model.CompletionEvent{
		WorkspaceID: ws,
		AgentID:     source.ID,
		ExecutionID: uuid.New(),
		Status:      model.ExecutionCompleted,
	})
	require.Len(t, results, 2)

	byTarget := make(map[uuid.UUID]model.TriggerResult, 2)
	for _, r := range results {
		byTarget[r.TargetAgentID] = r
	}

	// The failing edge reports its error, and its sibling still fires.
	failed := byTarget[bad.ID]
	assert.False(t, failed.Success)
	require.NotNil(t, failed.Error)
	assert.Contains(t, *failed.Error, "target backend down")

	ok := byTarget[good.ID]
	assert.True(t, ok.Success)
	require.NotEqual(t, uuid.Nil, ok.ExecutionID)
	rec, err := testDB.GetExecution(ctx, ws, ok.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionCompleted, rec.Status)
}

func TestSetEnabledCycleSurfacesTypedError(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	eng := newEngine(t)

	a := mustCreateAgent(t, ws, "ten-a")
	b := mustCreateAgent(t, ws, "ten-b")

	forward, err := eng.CreateEdge(ctx, model.TriggerEdge{
		WorkspaceID: ws, SourceAgentID: a.ID, TargetAgentID: b.ID,
	})
	require.NoError(t, err)
	require.NoError(t, eng.SetEnabled(ctx, ws, forward.ID, false))

	_, err = eng.CreateEdge(ctx, model.TriggerEdge{
		WorkspaceID: ws, SourceAgentID: b.ID, TargetAgentID: a.ID,
	})
	require.NoError(t, err)

	err = eng.SetEnabled(ctx, ws, forward.ID, true)
	var cerr *trigger.CycleError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, a.ID, cerr.SourceAgentID)
	assert.Equal(t, b.ID, cerr.TargetAgentID)
}
