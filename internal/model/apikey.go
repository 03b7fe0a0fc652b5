package model

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is a stored credential for the HTTP and MCP surfaces. Only the
// argon2id hash of the secret is persisted; the plaintext is shown once at
// creation.
type APIKey struct {
	ID          uuid.UUID  `json:"id"`
	KeyID       string     `json:"key_id"`
	KeyHash     string     `json:"-"`
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	Role        AgentRole  `json:"role"`
	Label       string     `json:"label"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
}
