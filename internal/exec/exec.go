// Package exec is the execution primitive: it runs one agent turn end to end,
// owning the execution record's lifecycle.
//
// Every record created here reaches a terminal status, including on runner
// failure, panic, or timeout. Completion events are emitted to the trigger
// engine and published on the Postgres notification channel after the
// terminal write commits.
package exec

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/baleyhq/baley/internal/model"
	"github.com/baleyhq/baley/internal/runner"
	"github.com/baleyhq/baley/internal/storage"
	"github.com/baleyhq/baley/internal/tools"
)

// CompletionSink consumes completion events. Implemented by the trigger
// chain engine; declared here so this package does not depend on it.
type CompletionSink interface {
	ProcessCompletion(ctx context.Context, event model.CompletionEvent) []model.TriggerResult
}

// UpstreamError marks a failure reported by the executed agent itself, as
// opposed to a failure of the surrounding machinery.
type UpstreamError struct {
	AgentName   string
	ExecutionID uuid.UUID
	Cause       error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("execution of agent %q failed: %v", e.AgentName, e.Cause)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// Options describe the provenance of one execution.
type Options struct {
	TriggeredBy   model.TriggerKind
	TriggerSource *string
	SpawnDepth    int
	ParentID      *uuid.UUID
	Caller        string
	// FireTriggers controls whether the completion event is forwarded to
	// the trigger engine. Sub-agent runs inside tool handlers skip it.
	FireTriggers bool
}

// Service runs agents and keeps their execution records honest.
type Service struct {
	db       *storage.DB
	registry *tools.Registry
	runner   runner.Runner
	logger   *slog.Logger
	timeout  time.Duration

	sink CompletionSink
}

// New creates the execution service. timeout is the wall-clock limit per run.
func New(db *storage.DB, registry *tools.Registry, rn runner.Runner, timeout time.Duration, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Service{
		db:       db,
		registry: registry,
		runner:   rn,
		logger:   logger.With("component", "exec"),
		timeout:  timeout,
	}
}

// SetCompletionSink wires the trigger engine in at assembly time.
func (s *Service) SetCompletionSink(sink CompletionSink) {
	s.sink = sink
}

// Execute runs one agent turn. The execution record is created before the
// runner is invoked and is guaranteed a terminal status afterwards: completed
// with output, or failed with the error message. Runner failures are returned
// as *UpstreamError after the record is finalised.
func (s *Service) Execute(ctx context.Context, agent model.Agent, input map[string]any, opts Options) (model.Execution, error) {
	if opts.TriggeredBy == "" {
		opts.TriggeredBy = model.TriggeredManual
	}
	rec, err := s.db.CreateExecution(ctx, model.Execution{
		WorkspaceID:   agent.WorkspaceID,
		AgentID:       agent.ID,
		Status:        model.ExecutionPending,
		Input:         input,
		TriggeredBy:   opts.TriggeredBy,
		TriggerSource: opts.TriggerSource,
		SpawnDepth:    opts.SpawnDepth,
		ParentID:      opts.ParentID,
	})
	if err != nil {
		return model.Execution{}, err
	}

	final, runErr := s.run(ctx, agent, input, opts, rec)

	if opts.FireTriggers {
		s.emitCompletion(final)
	}
	return final, runErr
}

// run drives the runner and finalises the record. Split from Execute so the
// deferred panic recovery cannot swallow the completion emission.
func (s *Service) run(ctx context.Context, agent model.Agent, input map[string]any, opts Options, rec model.Execution) (final model.Execution, runErr error) {
	// Any panic below still lands the record in failed.
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("panic: %v", r)
			s.logger.Error("execution panicked", "execution_id", rec.ID, "agent", agent.Name, "panic", r)
			final = s.finalize(rec, model.ExecutionFailed, nil, &msg)
			runErr = &UpstreamError{AgentName: agent.Name, ExecutionID: rec.ID, Cause: fmt.Errorf("%s", msg)}
		}
	}()

	if err := s.db.MarkExecutionRunning(ctx, rec.ID); err != nil {
		s.logger.Warn("mark running failed", "execution_id", rec.ID, "error", err)
	}

	ec := tools.NewExecContext(agent.WorkspaceID, agent, rec.ID, opts.SpawnDepth, opts.Caller)
	defs, err := s.visibleTools(ctx, ec, agent)
	if err != nil {
		msg := err.Error()
		return s.finalize(rec, model.ExecutionFailed, nil, &msg), err
	}

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	res, err := s.runner.Run(runCtx, runner.Request{
		Agent:      agent,
		Input:      input,
		Tools:      defs,
		Invoke:     s.toolInvoker(ec, agent, defs),
		SpawnDepth: opts.SpawnDepth,
	})
	if err != nil {
		msg := err.Error()
		final = s.finalize(rec, model.ExecutionFailed, nil, &msg)
		return final, &UpstreamError{AgentName: agent.Name, ExecutionID: rec.ID, Cause: err}
	}

	s.logger.Info("execution completed",
		"execution_id", rec.ID, "agent", agent.Name,
		"depth", opts.SpawnDepth, "duration", time.Since(start))
	return s.finalize(rec, model.ExecutionCompleted, res.Output, nil), nil
}

// visibleTools resolves the catalog for the run, restricted to the agent's
// declared tool list when one is set.
func (s *Service) visibleTools(ctx context.Context, ec *tools.ExecContext, agent model.Agent) ([]model.ToolDefinition, error) {
	all, err := s.registry.Catalog(ctx, ec)
	if err != nil {
		return nil, err
	}
	if len(agent.Tools) == 0 {
		return all, nil
	}
	declared := make(map[string]bool, len(agent.Tools))
	for _, t := range agent.Tools {
		declared[t] = true
	}
	var defs []model.ToolDefinition
	for _, d := range all {
		if declared[d.Name] {
			defs = append(defs, d)
		}
	}
	return defs, nil
}

// toolInvoker binds the registry's dispatch to this execution. An agent with
// a declared tool list may call those tools plus any ephemeral tool it
// created during the run; everything else is rejected before dispatch.
func (s *Service) toolInvoker(ec *tools.ExecContext, agent model.Agent, defs []model.ToolDefinition) func(context.Context, string, map[string]any) (map[string]any, error) {
	visible := make(map[string]bool, len(defs))
	for _, d := range defs {
		visible[d.Name] = true
	}
	return func(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
		if len(agent.Tools) > 0 && !visible[name] {
			if _, ok := ec.EphemeralTool(name); !ok {
				return nil, &tools.ValidationError{Name: name, Reason: "tool is not available to this agent"}
			}
		}
		return s.registry.InvokeTool(ctx, ec, name, args)
	}
}

// finalize writes the terminal status. The write deliberately uses a
// background context so a cancelled request cannot leave the record running.
func (s *Service) finalize(rec model.Execution, status model.ExecutionStatus, output map[string]any, errMsg *string) model.Execution {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	final, err := s.db.UpdateExecution(ctx, rec.ID, status, output, errMsg)
	if err != nil {
		s.logger.Error("finalize execution failed", "execution_id", rec.ID, "status", status, "error", err)
		// Return the in-memory view so callers still see what happened.
		rec.Status = status
		rec.Output = output
		rec.Error = errMsg
		return rec
	}
	return final
}

// emitCompletion forwards the terminal execution to the trigger engine and
// publishes it on the notification channel. Runs in a goroutine: chain
// firing must never block or fail the originating execution.
func (s *Service) emitCompletion(rec model.Execution) {
	event := model.CompletionEvent{
		WorkspaceID: rec.WorkspaceID,
		AgentID:     rec.AgentID,
		ExecutionID: rec.ID,
		Status:      rec.Status,
		Output:      rec.Output,
		SpawnDepth:  rec.SpawnDepth,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if payload, err := json.Marshal(event); err == nil {
			if err := s.db.Notify(ctx, storage.ChannelCompletions, string(payload)); err != nil {
				s.logger.Warn("publish completion failed", "execution_id", rec.ID, "error", err)
			}
		}

		if s.sink == nil {
			return
		}
		results := s.sink.ProcessCompletion(ctx, event)
		for _, r := range results {
			if !r.Success {
				msg := ""
				if r.Error != nil {
					msg = *r.Error
				}
				s.logger.Warn("trigger firing failed",
					"trigger_id", r.TriggerID, "target_agent_id", r.TargetAgentID, "error", msg)
			}
		}
	}()
}
