package exec_test

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

// funcRunner adapts a function to the Runner interface for tests.
type funcRunner struct {
	fn func(ctx context.Context, req runner.Request) (runner.Result, error)
}

func (r *funcRunner) Name() string { return "stub" }

func (r *funcRunner) Run(ctx context.Context, req runner.Request) (runner.Result, error) {
	return r.fn(ctx, req)
}

func newService(t *testing.T, rn runner.Runner) *exec.Service {
	t.Helper()
	logger := testutil.TestLogger()
	registry := tools.NewRegistry(testDB, rn, logger)
	return exec.New(testDB, registry, rn, time.Minute, logger)
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

func TestExecuteSuccessLandsCompleted(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	svc := newService(t, runner.NewNoop())

	agent := mustCreateAgent(t, ws, "echoer")

	final, err := svc.Execute(ctx, agent, map[string]any{"q": "hello"}, exec.Options{Caller: "test"})
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionCompleted, final.Status)
	assert.Equal(t, "echoer", final.Output["agent"])
	assert.Nil(t, final.Error)

	rec, err := testDB.GetExecution(ctx, ws, final.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionCompleted, rec.Status)
	assert.Equal(t, model.TriggeredManual, rec.TriggeredBy)
	require.NotNil(t, rec.CompletedAt)
	require.NotNil(t, rec.DurationMs)
}

func TestExecuteRunnerFailureLandsFailed(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	svc := newService(t, &funcRunner{fn: func(context.Context, runner.Request) (runner.Result, error) {
		return runner.Result{}, errors.New("backend unavailable")
	}})

	agent := mustCreateAgent(t, ws, "doomed")

	final, err := svc.Execute(ctx, agent, nil, exec.Options{Caller: "test"})
	require.Error(t, err)

	var uerr *exec.UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "doomed", uerr.AgentName)
	assert.Equal(t, final.ID, uerr.ExecutionID)

	// The record still reaches a terminal status with the error recorded.
	rec, err := testDB.GetExecution(ctx, ws, final.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Contains(t, *rec.Error, "backend unavailable")
	assert.Nil(t, rec.Output)
	require.NotNil(t, rec.CompletedAt)
}

func TestExecutePanicLandsFailed(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()
	svc := newService(t, &funcRunner{fn: func(context.Context, runner.Request) (runner.Result, error) {
		panic("backend exploded")
	}})

	agent := mustCreateAgent(t, ws, "volatile")

	final, err := svc.Execute(ctx, agent, nil, exec.Options{Caller: "test"})
	require.Error(t, err)

	var uerr *exec.UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "volatile", uerr.AgentName)

	rec, err := testDB.GetExecution(ctx, ws, final.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Contains(t, *rec.Error, "panic: backend exploded")
}

func TestInvokeDispatchesRuntimeTools(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()

	// The backend drives the run entirely through the invoke callback:
	// write to memory, read it back, and return the value as output.
	svc := newService(t, &funcRunner{fn: func(ctx context.Context, req runner.Request) (runner.Result, error) {
		if req.Invoke == nil {
			return runner.Result{}, errors.New("no invoke callback attached")
		}
		if _, err := req.Invoke(ctx, "memory", map[string]any{
			"action": "set", "key": "greeting", "value": "hello",
		}); err != nil {
			return runner.Result{}, err
		}
		out, err := req.Invoke(ctx, "memory", map[string]any{"action": "get", "key": "greeting"})
		if err != nil {
			return runner.Result{}, err
		}
		return runner.Result{Output: out}, nil
	}})

	agent := mustCreateAgent(t, ws, "recaller")

	final, err := svc.Execute(ctx, agent, nil, exec.Options{Caller: "test"})
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionCompleted, final.Status)
	assert.Equal(t, true, final.Output["found"])

	// The memory write went through the execution's own context.
	entry, err := testDB.GetMemory(ctx, ws, agent.ID, "greeting")
	require.NoError(t, err)
	assert.JSONEq(t, `"hello"`, string(entry.Value))
}

func TestInvokePromotesEphemeralTool(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()

	svc := newService(t, &funcRunner{fn: func(ctx context.Context, req runner.Request) (runner.Result, error) {
		if _, err := req.Invoke(ctx, "create_tool", map[string]any{
			"name":           "summarize_csv",
			"description":    "Summarise a CSV file",
			"implementation": "Read the rows and report totals per column.",
		}); err != nil {
			return runner.Result{}, err
		}
		out, err := req.Invoke(ctx, "promote_tool", map[string]any{"name": "summarize_csv"})
		if err != nil {
			return runner.Result{}, err
		}
		return runner.Result{Output: out}, nil
	}})

	agent := mustCreateAgent(t, ws, "toolsmith")

	final, err := svc.Execute(ctx, agent, nil, exec.Options{Caller: "builder"})
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionCompleted, final.Status)
	assert.Equal(t, true, final.Output["promoted"])

	// The promoted tool outlives the execution as a workspace tool.
	pt, err := testDB.GetWorkspaceTool(ctx, ws, "summarize_csv")
	require.NoError(t, err)
	assert.Equal(t, model.ToolPromoted, pt.Definition.Provenance)
	require.NotNil(t, pt.PromotedBy)
	assert.Equal(t, "builder", *pt.PromotedBy)
}

func TestInvokeRejectsUnknownAndUndeclaredTools(t *testing.T) {
	ctx := t.Context()
	ws := uuid.New()

	var unknownErr, undeclaredErr error
	svc := newService(t, &funcRunner{fn: func(ctx context.Context, req runner.Request) (runner.Result, error) {
		_, unknownErr = req.Invoke(ctx, "no_such_tool", nil)
		_, undeclaredErr = req.Invoke(ctx, "http_request", map[string]any{"url": "https://example.com"})
		return runner.Result{Output: map[string]any{"done": true}}, nil
	}})

	// The agent declares only the memory tool.
	agent := mustCreateAgent(t, ws, "restricted", "memory")

	_, err := svc.Execute(ctx, agent, nil, exec.Options{Caller: "test"})
	require.NoError(t, err)

	var verr *tools.ValidationError
	require.ErrorAs(t, unknownErr, &verr)
	require.ErrorAs(t, undeclaredErr, &verr)
	assert.Equal(t, "http_request", verr.Name)
}
