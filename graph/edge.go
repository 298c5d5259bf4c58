package graph

import "github.com/conductorhq/conductor-go/graph/value"

// Edge represents a connection between two nodes in the workflow graph.
//
// Edges can be unconditional (When == nil, always traversed by non-Router
// nodes) or conditional (When != nil, traversed only when the predicate
// returns true). Router nodes receive the full slice of their outgoing
// edges and choose exactly one; non-Router nodes traverse every edge whose
// predicate passes, fanning out to each matching target.
type Edge struct {
	From string
	To   string
	When Predicate
}

// Predicate evaluates the current context to decide whether an edge should
// be traversed. Predicates must be pure: deterministic and free of side
// effects, since they may be re-evaluated during replay.
type Predicate func(tc *TaskContext) bool

// Always is the zero predicate: the edge is unconditional.
func Always(tc *TaskContext) bool { return true }

// FieldEquals returns a Predicate matching when tc.EventData is an object
// whose field equals want.
func FieldEquals(field string, want value.Value) Predicate {
	return func(tc *TaskContext) bool {
		obj, err := tc.EventData.AsObject()
		if err != nil {
			return false
		}
		got, ok := obj[field]
		if !ok {
			return false
		}
		wb, err1 := value.CanonicalJSON(want)
		gb, err2 := value.CanonicalJSON(got)
		if err1 != nil || err2 != nil {
			return false
		}
		return string(wb) == string(gb)
	}
}
