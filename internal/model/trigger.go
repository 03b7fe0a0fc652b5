package model

import (
	"time"

	"github.com/google/uuid"
)

// TriggerType qualifies when a trigger edge fires relative to the source
// agent's terminal status.
type TriggerType string

const (
	// TriggerOnCompletion fires on any terminal status.
	TriggerOnCompletion TriggerType = "completion"
	// TriggerOnSuccess fires only when the source completed successfully.
	TriggerOnSuccess TriggerType = "success"
	// TriggerOnFailure fires only when the source failed.
	TriggerOnFailure TriggerType = "failure"
)

// ValidTriggerType reports whether t is a known trigger type.
func ValidTriggerType(t TriggerType) bool {
	switch t {
	case TriggerOnCompletion, TriggerOnSuccess, TriggerOnFailure:
		return true
	}
	return false
}

// TriggerEdge is a directed agent-to-agent edge: when the source agent's
// execution completes, the target agent is started. The set of enabled edges
// in a workspace always forms a DAG — edge creation rejects cycles.
type TriggerEdge struct {
	ID            uuid.UUID   `json:"id"`
	WorkspaceID   uuid.UUID   `json:"workspace_id"`
	SourceAgentID uuid.UUID   `json:"source_agent_id"`
	TargetAgentID uuid.UUID   `json:"target_agent_id"`
	Type          TriggerType `json:"type"`
	Enabled       bool        `json:"enabled"`
	// FieldMapping maps target input field names to dot-paths extracted from
	// the source output. Missing paths are skipped silently.
	FieldMapping map[string]string `json:"field_mapping,omitempty"`
	// StaticInput seeds the target input before mapped fields are overlaid.
	StaticInput map[string]any `json:"static_input,omitempty"`
	// Condition is free-text metadata; the engine stores but does not
	// evaluate it.
	Condition *string   `json:"condition,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TriggerResult is the per-edge outcome of processing one completion event.
type TriggerResult struct {
	TriggerID     uuid.UUID  `json:"trigger_id"`
	TargetAgentID uuid.UUID  `json:"target_agent_id"`
	ExecutionID   uuid.UUID  `json:"execution_id"`
	Success       bool       `json:"success"`
	Error         *string    `json:"error,omitempty"`
}
