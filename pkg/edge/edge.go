// Package edge is the relationship graph between diagram nodes: components configure
// each other and systems include components. Traversals follow edges from tail to head
// (successors) or head to tail (predecessors).
package edge

import (
	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/stores"
)

// Kind is the relationship an edge expresses.
type Kind string

const (
	KindConfigures Kind = "configures"
	KindIncludes   Kind = "includes"
)

// Object types a vertex can point at.
const (
	ObjectComponent = "component"
	ObjectSystem    = "system"
)

// Sockets used by the helpers in this package.
const (
	SocketInput  = "input"
	SocketOutput = "output"
)

// Vertex is one end of an edge.
type Vertex struct {
	NodeID     string `json:"node_id"`
	ObjectID   string `json:"object_id"`
	Socket     string `json:"socket"`
	ObjectType string `json:"object_type"`
}

// NewVertex builds a vertex.
func NewVertex(nodeID, objectID, socket, objectType string) Vertex {
	return Vertex{NodeID: nodeID, ObjectID: objectID, Socket: socket, ObjectType: objectType}
}

// VertexForComponent builds the vertex of a component's node on socket.
func VertexForComponent(dc *dal.Context, componentID, socket string) (Vertex, error) {
	node, err := FindNodeForComponent(dc, componentID)
	if err != nil {
		return Vertex{}, err
	}
	return NewVertex(node.ID, componentID, socket, ObjectComponent), nil
}

// VertexForSystem builds the vertex of a system's node on socket.
func VertexForSystem(dc *dal.Context, systemID, socket string) (Vertex, error) {
	node, err := FindNodeForSystem(dc, systemID)
	if err != nil {
		return Vertex{}, err
	}
	return NewVertex(node.ID, systemID, socket, ObjectSystem), nil
}

// Edge connects a tail vertex to a head vertex.
type Edge struct {
	dal.Standard
	Kind          Kind   `json:"kind"`
	HeadVertex    Vertex `json:"head_vertex"`
	TailVertex    Vertex `json:"tail_vertex"`
	Bidirectional bool   `json:"bidirectional"`
}

var edgeTable = dal.Table[Edge]{
	Name: "edges",
	Kind: "edge",
	Columns: []string{
		"kind",
		"head_node_id", "head_object_kind", "head_object_id", "head_socket",
		"tail_node_id", "tail_object_kind", "tail_object_id", "tail_socket",
		"bidirectional",
	},
	Std: func(e *Edge) *dal.Standard { return &e.Standard },
	Values: func(e *Edge) []any {
		bidirectional := 0
		if e.Bidirectional {
			bidirectional = 1
		}
		return []any{
			string(e.Kind),
			e.HeadVertex.NodeID, e.HeadVertex.ObjectType, e.HeadVertex.ObjectID, e.HeadVertex.Socket,
			e.TailVertex.NodeID, e.TailVertex.ObjectType, e.TailVertex.ObjectID, e.TailVertex.Socket,
			bidirectional,
		}
	},
	Dest: func(e *Edge) []any {
		return []any{
			&e.Kind,
			&e.HeadVertex.NodeID, &e.HeadVertex.ObjectType, &e.HeadVertex.ObjectID, &e.HeadVertex.Socket,
			&e.TailVertex.NodeID, &e.TailVertex.ObjectType, &e.TailVertex.ObjectID, &e.TailVertex.Socket,
			&e.Bidirectional,
		}
	},
}

// New creates an edge. An existing live edge with the same head, tail and kind is
// reported as EdgeExists.
func New(dc *dal.Context, tail, head Vertex, bidirectional bool, kind Kind) (*Edge, error) {
	existing, err := edgeTable.List(dc,
		"m.kind = ? AND m.head_node_id = ? AND m.head_object_id = ? AND m.tail_node_id = ? AND m.tail_object_id = ?",
		string(kind), head.NodeID, head.ObjectID, tail.NodeID, tail.ObjectID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, engine.NewEdgeExistsError(head.ObjectID, tail.ObjectID, string(kind), nil).WithResource(existing[0].ID)
	}

	e := &Edge{
		Standard:      dal.NewStandard(dc),
		Kind:          kind,
		HeadVertex:    head,
		TailVertex:    tail,
		Bidirectional: bidirectional,
	}
	if err := edgeTable.Save(dc, e); err != nil {
		if stores.IsUniqueViolation(err) {
			return nil, engine.NewEdgeExistsError(head.ObjectID, tail.ObjectID, string(kind), err)
		}
		return nil, err
	}

	tel := dc.Telemetry()
	tel.Metrics.RecordEdgeCreated(string(kind))
	_ = tel.Events.PublishEdgeCreated(e.ID, string(kind), tail.ObjectID, head.ObjectID)
	dc.Log().WithFields(map[string]interface{}{
		"edge_id": e.ID,
		"kind":    string(kind),
		"tail":    tail.ObjectID,
		"head":    head.ObjectID,
	}).Debug("edge created")
	return e, nil
}

// Get returns the edge with id.
func Get(dc *dal.Context, id string) (*Edge, error) {
	return edgeTable.Get(dc, id)
}

// Delete soft-deletes the edge and queues a delete notification.
func (e *Edge) Delete(dc *dal.Context) error {
	return edgeTable.Delete(dc, e)
}

// Connect creates an edge of kind from the tail component to the head component.
func Connect(dc *dal.Context, tailComponentID, headComponentID string, kind Kind) (*Edge, error) {
	tail, err := VertexForComponent(dc, tailComponentID, SocketOutput)
	if err != nil {
		return nil, err
	}
	head, err := VertexForComponent(dc, headComponentID, SocketInput)
	if err != nil {
		return nil, err
	}
	return New(dc, tail, head, false, kind)
}

// Disconnect deletes every edge of kind from the tail component to the head component
// and returns how many were removed.
func Disconnect(dc *dal.Context, tailComponentID, headComponentID string, kind Kind) (int, error) {
	edges, err := edgeTable.List(dc,
		"m.kind = ? AND m.tail_object_id = ? AND m.head_object_id = ?",
		string(kind), tailComponentID, headComponentID)
	if err != nil {
		return 0, err
	}
	for _, e := range edges {
		if err := e.Delete(dc); err != nil {
			return 0, err
		}
	}
	return len(edges), nil
}

// IncludeComponentInSystem creates the includes edge from a system to a component.
func IncludeComponentInSystem(dc *dal.Context, componentID, systemID string) (*Edge, error) {
	head, err := VertexForComponent(dc, componentID, SocketInput)
	if err != nil {
		return nil, err
	}
	tail, err := VertexForSystem(dc, systemID, SocketOutput)
	if err != nil {
		return nil, err
	}
	return New(dc, tail, head, false, KindIncludes)
}

// FindComponentConfigurationParents returns the ids of the components that configure
// componentID.
func FindComponentConfigurationParents(dc *dal.Context, componentID string) ([]string, error) {
	edges, err := ListByKindAndHeadObjectIDAndTailObjectType(dc, KindConfigures, componentID, ObjectComponent)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.TailVertex.ObjectID)
	}
	return ids, nil
}

// ListByKindAndHeadObjectIDAndTailObjectType returns the edges of kind pointing at
// headObjectID from objects of tailObjectType.
func ListByKindAndHeadObjectIDAndTailObjectType(dc *dal.Context, kind Kind, headObjectID, tailObjectType string) ([]*Edge, error) {
	return edgeTable.List(dc,
		"m.kind = ? AND m.head_object_id = ? AND m.tail_object_kind = ? ORDER BY m.created_at",
		string(kind), headObjectID, tailObjectType)
}

// ListForComponent returns every edge touching the component, in either direction.
func ListForComponent(dc *dal.Context, componentID string) ([]*Edge, error) {
	return edgeTable.List(dc, "(m.head_object_id = ? OR m.tail_object_id = ?) ORDER BY m.created_at", componentID, componentID)
}
