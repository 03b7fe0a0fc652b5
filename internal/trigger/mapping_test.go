package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baleyhq/baley/internal/model"
)

func TestExtractPath(t *testing.T) {
	output := map[string]any{
		"result": map[string]any{
			"items": map[string]any{"count": float64(3)},
			"name":  "report",
		},
		"ok": true,
	}

	v, ok := ExtractPath(output, "result.items.count")
	require.True(t, ok)
	assert.Equal(t, float64(3), v)

	v, ok = ExtractPath(output, "ok")
	require.True(t, ok)
	assert.Equal(t, true, v)

	_, ok = ExtractPath(output, "result.missing")
	assert.False(t, ok)

	// Traversing through a non-map fails, not panics.
	_, ok = ExtractPath(output, "ok.deeper")
	assert.False(t, ok)

	_, ok = ExtractPath(output, "")
	assert.False(t, ok)
}

func TestBuildInput_NoMappingWrapsOutput(t *testing.T) {
	edge := model.TriggerEdge{}
	output := map[string]any{"answer": 42}

	input := BuildInput(edge, output)

	require.Len(t, input, 1)
	assert.Equal(t, output, input["sourceOutput"])
}

func TestBuildInput_StaticOnly(t *testing.T) {
	edge := model.TriggerEdge{
		StaticInput: map[string]any{"mode": "summary"},
	}

	input := BuildInput(edge, map[string]any{"ignored": true})

	assert.Equal(t, map[string]any{"mode": "summary"}, input)
}

func TestBuildInput_MappingOverlaysStatic(t *testing.T) {
	edge := model.TriggerEdge{
		StaticInput: map[string]any{"mode": "summary", "topic": "default"},
		FieldMapping: map[string]string{
			"topic": "result.name",
		},
	}
	output := map[string]any{
		"result": map[string]any{"name": "quarterly"},
	}

	input := BuildInput(edge, output)

	assert.Equal(t, "summary", input["mode"])
	assert.Equal(t, "quarterly", input["topic"], "mapped field overrides static")
}

func TestBuildInput_MissingPathsSkipped(t *testing.T) {
	edge := model.TriggerEdge{
		FieldMapping: map[string]string{
			"present": "a",
			"absent":  "b.c",
		},
	}
	output := map[string]any{"a": "here"}

	input := BuildInput(edge, output)

	assert.Equal(t, "here", input["present"])
	_, ok := input["absent"]
	assert.False(t, ok, "missing path must be skipped, not set to nil")
	// A configured mapping suppresses the sourceOutput wrap even when paths miss.
	_, ok = input["sourceOutput"]
	assert.False(t, ok)
}
