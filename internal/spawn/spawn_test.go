package spawn_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baleyhq/baley/internal/exec"
	"github.com/baleyhq/baley/internal/model"
	"github.com/baleyhq/baley/internal/policy"
	"github.com/baleyhq/baley/internal/runner"
	"github.com/baleyhq/baley/internal/spawn"
	"github.com/baleyhq/baley/internal/storage"
	"github.com/baleyhq/baley/internal/testutil"
	"github.com/baleyhq/baley/internal/tools"
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

// newStack assembles the execution pipeline around the echo runner.
func newStack(t *testing.T, maxDepth int) (*spawn.Executor, *policy.Loader) {
	t.Helper()
	logger := testutil.TestLogger()
	rn := runner.NewNoop()
	registry := tools.NewRegistry(testDB, rn, logger)
	execSvc := exec.New(testDB, registry, rn, time.Minute, logger)
	policies := policy.NewLoader(testDB, 30*time.Second)
	t.Cleanup(policies.Close)

	x := spawn.NewExecutor(testDB, execSvc, policies, maxDepth, logger)
	registry.BindSpawner(x)
	return x, policies
}

func mustCreateAgent(t *testing.T, ws uuid.UUID, name string, toolNames ...string) model.Agent {
	t.Helper()
	agent, err := testDB.CreateAgent(t.Context(), model.Agent{
		WorkspaceID: ws,
		Name:        name,
		Goal:        "test goal for " + name,
		Status:      model.AgentStatusActive,
		Tools:       toolNames,
	})
	require.NoError(t, err)
	return agent
}

func parentContext(ws uuid.UUID, agent model.Agent, execID uuid.UUID, depth int) *tools.ExecContext {
	return tools.NewExecContext(ws, agent, execID, depth, "test")
}

func TestSpawnRunsChildOneLevelDown(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	x, _ := newStack(t, 5)

	parent := mustCreateAgent(t, ws, "orchestrator")
	child := mustCreateAgent(t, ws, "worker")

	parentExec, err := testDB.CreateExecution(ctx, model.Execution{
		WorkspaceID: ws,
		AgentID:     parent.ID,
		TriggeredBy: model.TriggeredManual,
	})
	require.NoError(t, err)

	res, err := x.Spawn(ctx, "worker", map[string]any{"task": "fetch"}, parentContext(ws, parent, parentExec.ID, 0))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, res.ExecutionID)
	assert.Equal(t, "worker", res.Output["agent"])

	rec, err := testDB.GetExecution(ctx, ws, res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionCompleted, rec.Status)
	assert.Equal(t, child.ID, rec.AgentID)
	assert.Equal(t, 1, rec.SpawnDepth)
	assert.Equal(t, model.TriggeredAgent, rec.TriggeredBy)
	require.NotNil(t, rec.ParentID)
	assert.Equal(t, parentExec.ID, *rec.ParentID)
}

func TestSpawnResolvesTargetByID(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	x, _ := newStack(t, 5)

	parent := mustCreateAgent(t, ws, "by-id-parent")
	child := mustCreateAgent(t, ws, "by-id-child")

	res, err := x.Spawn(ctx, child.ID.String(), nil, parentContext(ws, parent, uuid.Nil, 0))
	require.NoError(t, err)

	rec, err := testDB.GetExecution(ctx, ws, res.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, child.ID, rec.AgentID)
	// A spawn with no parent execution leaves the lineage fields empty.
	assert.Nil(t, rec.ParentID)
	assert.Nil(t, rec.TriggerSource)
}

func TestSpawnDepthLimitLeavesNoRecord(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	const maxDepth = 3
	x, _ := newStack(t, maxDepth)

	parent := mustCreateAgent(t, ws, "deep-parent")
	target := mustCreateAgent(t, ws, "deep-target")

	_, err := x.Spawn(ctx, "deep-target", nil, parentContext(ws, parent, uuid.Nil, maxDepth))
	require.Error(t, err)

	var derr *spawn.DepthError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, maxDepth, derr.Depth)
	assert.Equal(t, maxDepth, derr.Max)

	// The rejected spawn must not have created an execution or bumped the
	// target's run counter.
	execs, err := testDB.ListExecutions(ctx, ws, target.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, execs)
	got, err := testDB.GetAgentByID(ctx, ws, target.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.RunCount)
}

func TestSpawnForbiddenToolRejected(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	x, policies := newStack(t, 5)

	parent := mustCreateAgent(t, ws, "pol-parent")
	target := mustCreateAgent(t, ws, "pol-target", "database_query")

	_, err := policies.Set(ctx, model.WorkspacePolicy{
		WorkspaceID:    ws,
		ForbiddenTools: []string{"database_query"},
	})
	require.NoError(t, err)

	_, err = x.Spawn(ctx, "pol-target", nil, parentContext(ws, parent, uuid.Nil, 0))
	require.Error(t, err)

	var perr *spawn.PolicyError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Forbidden)
	assert.Equal(t, "database_query", perr.Tool)
	// The offending agent and tool are both named in the message.
	assert.Contains(t, err.Error(), "pol-target")
	assert.Contains(t, err.Error(), "database_query")

	execs, err := testDB.ListExecutions(ctx, ws, target.ID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestSpawnAllowlistRejected(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	x, policies := newStack(t, 5)

	parent := mustCreateAgent(t, ws, "allow-parent")
	mustCreateAgent(t, ws, "allow-target", "web_search", "http_request")

	_, err := policies.Set(ctx, model.WorkspacePolicy{
		WorkspaceID:  ws,
		AllowedTools: []string{"web_search"},
	})
	require.NoError(t, err)

	_, err = x.Spawn(ctx, "allow-target", nil, parentContext(ws, parent, uuid.Nil, 0))
	require.Error(t, err)

	var perr *spawn.PolicyError
	require.ErrorAs(t, err, &perr)
	assert.False(t, perr.Forbidden)
	assert.Equal(t, "http_request", perr.Tool)
	assert.Contains(t, err.Error(), "allowlist")
}

func TestSpawnUnknownTargetNotFound(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	x, _ := newStack(t, 5)

	parent := mustCreateAgent(t, ws, "lonely")

	_, err := x.Spawn(ctx, "does-not-exist", nil, parentContext(ws, parent, uuid.Nil, 0))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
