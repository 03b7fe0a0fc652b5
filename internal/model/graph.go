package model

import "github.com/google/uuid"

// HasPath reports whether the enabled-edge graph contains a directed path
// from one agent to another. Depth-first search over the adjacency formed by
// the given edges; disabled edges are ignored.
//
// Cycle check at edge creation: a proposed edge source→target closes a cycle
// exactly when HasPath(edges, target, source) is true.
func HasPath(edges []TriggerEdge, from, to uuid.UUID) bool {
	adjacency := make(map[uuid.UUID][]uuid.UUID, len(edges))
	for _, e := range edges {
		if !e.Enabled {
			continue
		}
		adjacency[e.SourceAgentID] = append(adjacency[e.SourceAgentID], e.TargetAgentID)
	}

	visited := make(map[uuid.UUID]bool)
	stack := []uuid.UUID{from}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if node == to {
			return true
		}
		if visited[node] {
			continue
		}
		visited[node] = true
		stack = append(stack, adjacency[node]...)
	}
	return false
}
