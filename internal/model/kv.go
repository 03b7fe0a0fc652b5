package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MemoryEntry is an agent-scoped KV row that persists across executions.
// Exactly one row exists per (workspace, agent, key); writes are last-writer-wins.
type MemoryEntry struct {
	WorkspaceID uuid.UUID       `json:"workspace_id"`
	AgentID     uuid.UUID       `json:"agent_id"`
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	// ExecutionID records which execution produced the current value.
	ExecutionID *uuid.UUID `json:"execution_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// SharedEntry is a workspace-scoped KV row used for cross-agent hand-off.
// An entry with an elapsed TTL reads as absent even before the sweeper
// removes it.
type SharedEntry struct {
	WorkspaceID uuid.UUID       `json:"workspace_id"`
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	// AgentID and ExecutionID record the producer.
	AgentID     *uuid.UUID `json:"agent_id,omitempty"`
	ExecutionID *uuid.UUID `json:"execution_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
