package tools

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baleyhq/baley/internal/model"
)

func TestValidateEphemeralTool(t *testing.T) {
	t.Run("well-formed name passes", func(t *testing.T) {
		assert.NoError(t, ValidateEphemeralTool("my_tool", "does a thing", "take the input and uppercase it"))
	})

	t.Run("reserved name rejected", func(t *testing.T) {
		err := ValidateEphemeralTool("web_search", "shadow", "pretend to search")
		require.Error(t, err)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Reason, "reserved")
	})

	t.Run("malformed name rejected", func(t *testing.T) {
		err := ValidateEphemeralTool("My-Tool!", "desc", "impl")
		require.Error(t, err)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Reason, "malformed")
	})

	t.Run("empty description rejected", func(t *testing.T) {
		assert.Error(t, ValidateEphemeralTool("my_tool", "", "impl"))
	})

	t.Run("empty implementation rejected", func(t *testing.T) {
		assert.Error(t, ValidateEphemeralTool("my_tool", "desc", ""))
	})

	t.Run("oversized implementation rejected", func(t *testing.T) {
		impl := strings.Repeat("a", model.MaxToolImplLen+1)
		assert.Error(t, ValidateEphemeralTool("my_tool", "desc", impl))
	})
}

func TestIsReserved(t *testing.T) {
	for _, name := range []string{ToolWebSearch, ToolHTTPRequest, ToolMemory, ToolSharedStorage, ToolSpawnAgent, ToolCreateTool, ToolCreateAgent, ToolPromoteTool, ToolPromoteAgent} {
		assert.True(t, IsReserved(name), "%s should be reserved", name)
	}
	assert.False(t, IsReserved("my_tool"))
}

func TestParseKVCall(t *testing.T) {
	t.Run("missing action", func(t *testing.T) {
		_, err := parseKVCall(map[string]any{"key": "k"})
		assert.Error(t, err)
	})

	t.Run("value marshalled to raw json", func(t *testing.T) {
		call, err := parseKVCall(map[string]any{
			"action": "set",
			"key":    "k",
			"value":  map[string]any{"nested": 1},
		})
		require.NoError(t, err)
		assert.JSONEq(t, `{"nested":1}`, string(call.Value))
	})

	t.Run("ttl from json number", func(t *testing.T) {
		call, err := parseKVCall(map[string]any{"action": "write", "ttl_seconds": float64(30)})
		require.NoError(t, err)
		require.NotNil(t, call.TTLSeconds)
		assert.Equal(t, int64(30), *call.TTLSeconds)
	})
}

func TestExecContextEphemeralTools(t *testing.T) {
	agent := model.Agent{ID: uuid.New(), Name: "parent"}
	ec := NewExecContext(uuid.New(), agent, uuid.New(), 0, "test")

	def := model.ToolDefinition{
		Name:           "my_tool",
		Description:    "uppercases",
		Provenance:     model.ToolEphemeral,
		Kind:           model.HandlerInterpreted,
		Implementation: "uppercase the input",
	}
	require.NoError(t, ec.AddEphemeralTool(def))

	got, ok := ec.EphemeralTool("my_tool")
	require.True(t, ok)
	assert.Equal(t, "uppercases", got.Description)

	// Duplicate registration is rejected.
	assert.Error(t, ec.AddEphemeralTool(def))

	// Child contexts start with a clean ephemeral set.
	child := ec.Child(model.Agent{ID: uuid.New(), Name: "child"}, uuid.New())
	_, ok = child.EphemeralTool("my_tool")
	assert.False(t, ok)
	assert.Equal(t, ec.SpawnDepth+1, child.SpawnDepth)
}

func TestBuiltinDefinitionsHaveAuthoritativeMetadata(t *testing.T) {
	def, ok := BuiltinDefinition(ToolDatabaseQuery)
	require.True(t, ok)
	assert.Equal(t, model.DangerDangerous, def.DangerLevel)
	assert.True(t, def.RequiresApproval)
	assert.Equal(t, model.ToolBuiltin, def.Provenance)

	def, ok = BuiltinDefinition(ToolWebSearch)
	require.True(t, ok)
	assert.Equal(t, model.ToolBuiltin, def.Provenance)

	_, ok = BuiltinDefinition("nope")
	assert.False(t, ok)
}
