// Package model defines the core domain types for Baley.
//
// Types correspond directly to database tables and API payloads. Strong
// typing (UUIDs, time.Time, string enums) is used throughout; interface{}
// appears only for opaque JSON payloads.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AgentStatus is the lifecycle state of an agent definition.
type AgentStatus string

const (
	AgentStatusDraft  AgentStatus = "draft"
	AgentStatusActive AgentStatus = "active"
	AgentStatusPaused AgentStatus = "paused"
	AgentStatusError  AgentStatus = "error"
)

// AgentRole is the RBAC role carried by an API credential.
type AgentRole string

const (
	RoleAdmin  AgentRole = "admin"
	RoleAgent  AgentRole = "agent"
	RoleReader AgentRole = "reader"
)

// RoleRank returns the numeric rank of a role (higher = more privileges).
// Only relative ordering matters — RoleAtLeast uses >= comparison.
func RoleRank(r AgentRole) int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleAgent:
		return 2
	case RoleReader:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast reports whether role r has at least the privileges of minRole.
func RoleAtLeast(r, minRole AgentRole) bool {
	return RoleRank(r) >= RoleRank(minRole)
}

// Agent is a user-defined, goal-driven program that can call tools and be
// executed. Version increases monotonically and guards concurrent updates.
type Agent struct {
	ID          uuid.UUID      `json:"id"`
	WorkspaceID uuid.UUID      `json:"workspace_id"`
	Name        string         `json:"name"`
	Goal        string         `json:"goal"`
	Model       string         `json:"model,omitempty"`
	Tools       []string       `json:"tools"`
	Status      AgentStatus    `json:"status"`
	Version     int            `json:"version"`
	RunCount    int64          `json:"run_count"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// ValidateAgentName checks that an agent name conforms to the allowed format.
// Names are 1-255 characters: alphanumeric, spaces, dots, hyphens, underscores.
func ValidateAgentName(name string) error {
	if len(name) == 0 {
		return fmt.Errorf("agent name is required")
	}
	if len(name) > 255 {
		return fmt.Errorf("agent name must be at most 255 characters")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != ' ' && c != '.' && c != '-' && c != '_' {
			return fmt.Errorf("agent name contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}

// WorkspacePolicy constrains which tools agents in a workspace may declare.
// ForbiddenTools always rejects; when AllowedTools is non-nil, any tool
// outside it rejects too.
type WorkspacePolicy struct {
	WorkspaceID    uuid.UUID `json:"workspace_id"`
	ForbiddenTools []string  `json:"forbidden_tools"`
	AllowedTools   []string  `json:"allowed_tools,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}
