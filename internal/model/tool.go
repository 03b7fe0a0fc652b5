package model

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// DangerLevel classifies the blast radius of a tool.
type DangerLevel string

const (
	DangerSafe      DangerLevel = "safe"
	DangerModerate  DangerLevel = "moderate"
	DangerDangerous DangerLevel = "dangerous"
)

// ToolProvenance records where a tool definition came from.
type ToolProvenance string

const (
	// ToolBuiltin is compiled into the server with static metadata.
	ToolBuiltin ToolProvenance = "built-in"
	// ToolEphemeral was created at runtime and lives only as long as the
	// execution that created it.
	ToolEphemeral ToolProvenance = "ephemeral"
	// ToolPromoted was an ephemeral tool made permanent in its workspace.
	ToolPromoted ToolProvenance = "promoted"
)

// HandlerKind distinguishes how a tool call is executed.
type HandlerKind string

const (
	// HandlerNative tools are implemented by a Go function.
	HandlerNative HandlerKind = "native"
	// HandlerInterpreted tools delegate to a single-purpose sub-agent whose
	// prompt embeds the natural-language implementation text.
	HandlerInterpreted HandlerKind = "interpreted"
)

// ToolDefinition is the static description of a tool. For built-in tools the
// metadata here is authoritative — it is looked up by name and never derived
// from the handler at call time.
type ToolDefinition struct {
	Name             string         `json:"name"`
	Description      string         `json:"description"`
	InputSchema      map[string]any `json:"input_schema"`
	DangerLevel      DangerLevel    `json:"danger_level"`
	RequiresApproval bool           `json:"requires_approval"`
	Provenance       ToolProvenance `json:"provenance"`
	Kind             HandlerKind    `json:"kind"`
	// Implementation holds the natural-language implementation text for
	// interpreted tools; empty for native tools.
	Implementation string `json:"implementation,omitempty"`
}

// PermanentTool is a promoted tool persisted in a workspace.
type PermanentTool struct {
	ID          uuid.UUID      `json:"id"`
	WorkspaceID uuid.UUID      `json:"workspace_id"`
	Definition  ToolDefinition `json:"definition"`
	PromotedBy  *string        `json:"promoted_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

var toolNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidateToolName checks that a runtime-created tool name is well-formed:
// a letter followed by letters, digits, or underscores.
func ValidateToolName(name string) error {
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if len(name) > 64 {
		return fmt.Errorf("tool name must be at most 64 characters")
	}
	if !toolNameRe.MatchString(name) {
		return fmt.Errorf("tool name %q is malformed: must match %s", name, toolNameRe.String())
	}
	return nil
}
