package model

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the lifecycle state of one agent run.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status is final. Every execution record must
// eventually reach a terminal status — no record stays running forever.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// TriggerKind is the provenance of an execution.
type TriggerKind string

const (
	TriggeredManual   TriggerKind = "manual"
	TriggeredSchedule TriggerKind = "schedule"
	TriggeredWebhook  TriggerKind = "webhook"
	// TriggeredAgent covers both recursive spawns (source = parent execution id)
	// and completion-trigger firings (source = trigger edge id).
	TriggeredAgent TriggerKind = "agent"
)

// Execution is one run of an agent.
type Execution struct {
	ID            uuid.UUID       `json:"id"`
	WorkspaceID   uuid.UUID       `json:"workspace_id"`
	AgentID       uuid.UUID       `json:"agent_id"`
	Status        ExecutionStatus `json:"status"`
	Input         map[string]any  `json:"input,omitempty"`
	Output        map[string]any  `json:"output,omitempty"`
	Error         *string         `json:"error,omitempty"`
	TriggeredBy   TriggerKind     `json:"triggered_by"`
	TriggerSource *string         `json:"trigger_source,omitempty"`
	SpawnDepth    int             `json:"spawn_depth"`
	ParentID      *uuid.UUID      `json:"parent_id,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	DurationMs    *int64          `json:"duration_ms,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// SpawnResult is the synchronous outcome of a successful spawn.
type SpawnResult struct {
	Output      map[string]any `json:"output"`
	ExecutionID uuid.UUID      `json:"execution_id"`
	DurationMs  int64          `json:"duration_ms"`
}

// CompletionEvent is emitted when an execution reaches a terminal status.
// The trigger chain engine consumes it to fire downstream agents.
type CompletionEvent struct {
	WorkspaceID uuid.UUID       `json:"workspace_id"`
	AgentID     uuid.UUID       `json:"agent_id"`
	ExecutionID uuid.UUID       `json:"execution_id"`
	Status      ExecutionStatus `json:"status"`
	Output      map[string]any  `json:"output,omitempty"`
	SpawnDepth  int             `json:"spawn_depth"`
}
