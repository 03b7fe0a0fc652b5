package trigger

import (
	"maps"
	"strings"

	"github.com/baleyhq/baley/internal/model"
)

// sourceOutputKey wraps the whole source output when an edge configures
// neither a field mapping nor static input.
const sourceOutputKey = "sourceOutput"

// ExtractPath resolves a dot-path ("result.items.count") against a nested
// map. Returns false when any segment is missing or a non-map is traversed.
func ExtractPath(output map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	var cur any = output
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// BuildInput assembles the target agent's input for one firing edge: static
// input first, mapped dot-path extractions overlaid on top (missing paths are
// skipped silently), and — only when the edge configures neither — the entire
// source output wrapped under a conventional key.
func BuildInput(edge model.TriggerEdge, sourceOutput map[string]any) map[string]any {
	if len(edge.FieldMapping) == 0 && len(edge.StaticInput) == 0 {
		return map[string]any{sourceOutputKey: sourceOutput}
	}

	input := make(map[string]any, len(edge.StaticInput)+len(edge.FieldMapping))
	maps.Copy(input, edge.StaticInput)
	for field, path := range edge.FieldMapping {
		if v, ok := ExtractPath(sourceOutput, path); ok {
			input[field] = v
		}
	}
	return input
}
