package edge

import (
	"github.com/Tensibai/si/pkg/dal"
)

// direction selects which end of an edge a query matches and which end it moves to.
type direction struct {
	match string
	next  func(*Edge) string
}

var (
	successorsByNode = direction{
		match: "m.tail_node_id = ?",
		next:  func(e *Edge) string { return e.HeadVertex.NodeID },
	}
	successorsByObject = direction{
		match: "m.tail_object_id = ?",
		next:  func(e *Edge) string { return e.HeadVertex.ObjectID },
	}
	predecessorsByNode = direction{
		match: "m.head_node_id = ?",
		next:  func(e *Edge) string { return e.TailVertex.NodeID },
	}
	predecessorsByObject = direction{
		match: "m.head_object_id = ?",
		next:  func(e *Edge) string { return e.TailVertex.ObjectID },
	}
)

func direct(dc *dal.Context, kind Kind, d direction, id string) ([]*Edge, error) {
	return edgeTable.List(dc, "m.kind = ? AND "+d.match+" ORDER BY m.created_at", string(kind), id)
}

// transitive walks edges depth first from id. Every id is expanded once, so cycles
// terminate and each edge is returned once.
func transitive(dc *dal.Context, kind Kind, d direction, id string) ([]*Edge, error) {
	stack := []string{id}
	visited := map[string]bool{id: true}
	seen := make(map[string]bool)

	var results []*Edge
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		edges, err := direct(dc, kind, d, current)
		if err != nil {
			return nil, err
		}
		for _, e := range edges {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			results = append(results, e)

			next := d.next(e)
			if !visited[next] {
				visited[next] = true
				stack = append(stack, next)
			}
		}
	}
	return results, nil
}

// DirectSuccessorEdgesByNodeID returns the edges whose tail is nodeID.
func DirectSuccessorEdgesByNodeID(dc *dal.Context, kind Kind, nodeID string) ([]*Edge, error) {
	return direct(dc, kind, successorsByNode, nodeID)
}

// AllSuccessorEdgesByNodeID returns every edge reachable from nodeID moving tail to head.
func AllSuccessorEdgesByNodeID(dc *dal.Context, kind Kind, nodeID string) ([]*Edge, error) {
	return transitive(dc, kind, successorsByNode, nodeID)
}

// DirectSuccessorEdgesByObjectID returns the edges whose tail object is objectID.
func DirectSuccessorEdgesByObjectID(dc *dal.Context, kind Kind, objectID string) ([]*Edge, error) {
	return direct(dc, kind, successorsByObject, objectID)
}

// AllSuccessorEdgesByObjectID returns every edge reachable from objectID moving tail to
// head.
func AllSuccessorEdgesByObjectID(dc *dal.Context, kind Kind, objectID string) ([]*Edge, error) {
	return transitive(dc, kind, successorsByObject, objectID)
}

// DirectPredecessorEdgesByNodeID returns the edges whose head is nodeID.
func DirectPredecessorEdgesByNodeID(dc *dal.Context, kind Kind, nodeID string) ([]*Edge, error) {
	return direct(dc, kind, predecessorsByNode, nodeID)
}

// AllPredecessorEdgesByNodeID returns every edge reachable from nodeID moving head to
// tail.
func AllPredecessorEdgesByNodeID(dc *dal.Context, kind Kind, nodeID string) ([]*Edge, error) {
	return transitive(dc, kind, predecessorsByNode, nodeID)
}

// DirectPredecessorEdgesByObjectID returns the edges whose head object is objectID.
func DirectPredecessorEdgesByObjectID(dc *dal.Context, kind Kind, objectID string) ([]*Edge, error) {
	return direct(dc, kind, predecessorsByObject, objectID)
}

// AllPredecessorEdgesByObjectID returns every edge reachable from objectID moving head
// to tail.
func AllPredecessorEdgesByObjectID(dc *dal.Context, kind Kind, objectID string) ([]*Edge, error) {
	return transitive(dc, kind, predecessorsByObject, objectID)
}
