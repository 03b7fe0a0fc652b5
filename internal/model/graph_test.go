package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func edge(src, dst uuid.UUID, enabled bool) TriggerEdge {
	return TriggerEdge{
		ID:            uuid.New(),
		SourceAgentID: src,
		TargetAgentID: dst,
		Type:          TriggerOnCompletion,
		Enabled:       enabled,
	}
}

func TestHasPath_Direct(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	edges := []TriggerEdge{edge(a, b, true)}

	assert.True(t, HasPath(edges, a, b))
	assert.False(t, HasPath(edges, b, a))
}

func TestHasPath_Transitive(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	edges := []TriggerEdge{
		edge(a, b, true),
		edge(b, c, true),
	}

	assert.True(t, HasPath(edges, a, c))
	assert.False(t, HasPath(edges, c, a))
}

func TestHasPath_DisabledEdgesIgnored(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	edges := []TriggerEdge{
		edge(a, b, true),
		edge(b, c, false),
	}

	assert.True(t, HasPath(edges, a, b))
	assert.False(t, HasPath(edges, a, c))
}

func TestHasPath_Diamond(t *testing.T) {
	// a -> b -> d and a -> c -> d; both branches reach d, no cycle.
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	edges := []TriggerEdge{
		edge(a, b, true),
		edge(a, c, true),
		edge(b, d, true),
		edge(c, d, true),
	}

	assert.True(t, HasPath(edges, a, d))
	assert.False(t, HasPath(edges, d, a))
	assert.False(t, HasPath(edges, b, c))
}

func TestHasPath_SelfIsAlwaysReachable(t *testing.T) {
	a := uuid.New()
	assert.True(t, HasPath(nil, a, a))
}

func TestHasPath_CycleTermination(t *testing.T) {
	// An already-cyclic graph must not loop the search forever.
	a, b := uuid.New(), uuid.New()
	edges := []TriggerEdge{
		edge(a, b, true),
		edge(b, a, true),
	}

	assert.True(t, HasPath(edges, a, b))
	assert.False(t, HasPath(edges, a, uuid.New()))
}
