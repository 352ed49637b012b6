package edge

import (
	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/engine"
)

// NodeKind is the kind of object a diagram node stands for.
type NodeKind string

const (
	NodeKindComponent  NodeKind = "component"
	NodeKindSystem     NodeKind = "system"
	NodeKindDeployment NodeKind = "deployment"
)

// Node is a diagram node. Edge vertices reference nodes by id.
type Node struct {
	dal.Standard
	Kind        NodeKind `json:"kind"`
	ComponentID string   `json:"component_id,omitempty"`
	SystemID    string   `json:"system_id,omitempty"`
}

var nodeTable = dal.Table[Node]{
	Name:    "nodes",
	Kind:    "node",
	Columns: []string{"kind", "component_id", "system_id"},
	Std:     func(n *Node) *dal.Standard { return &n.Standard },
	Values:  func(n *Node) []any { return []any{string(n.Kind), n.ComponentID, n.SystemID} },
	Dest:    func(n *Node) []any { return []any{&n.Kind, &n.ComponentID, &n.SystemID} },
}

// NewNode creates a node of the given kind.
func NewNode(dc *dal.Context, kind NodeKind) (*Node, error) {
	n := &Node{Standard: dal.NewStandard(dc), Kind: kind}
	if err := nodeTable.Save(dc, n); err != nil {
		return nil, err
	}
	return n, nil
}

// SetComponent attaches the node to a component.
func (n *Node) SetComponent(dc *dal.Context, componentID string) error {
	n.ComponentID = componentID
	return nodeTable.Save(dc, n)
}

// SetSystem attaches the node to a system.
func (n *Node) SetSystem(dc *dal.Context, systemID string) error {
	n.SystemID = systemID
	return nodeTable.Save(dc, n)
}

// Delete soft-deletes the node.
func (n *Node) Delete(dc *dal.Context) error {
	return nodeTable.Delete(dc, n)
}

// GetNode returns the node with id.
func GetNode(dc *dal.Context, id string) (*Node, error) {
	return nodeTable.Get(dc, id)
}

// FindNodeForComponent returns the component's node.
func FindNodeForComponent(dc *dal.Context, componentID string) (*Node, error) {
	nodes, err := nodeTable.List(dc, "m.kind = ? AND m.component_id = ? ORDER BY m.created_at", string(NodeKindComponent), componentID)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, engine.NewNotFoundError("node", componentID).WithDetail("component_id", componentID)
	}
	return nodes[0], nil
}

// FindNodeForSystem returns the system's node.
func FindNodeForSystem(dc *dal.Context, systemID string) (*Node, error) {
	nodes, err := nodeTable.List(dc, "m.kind = ? AND m.system_id = ? ORDER BY m.created_at", string(NodeKindSystem), systemID)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, engine.NewNotFoundError("node", systemID).WithDetail("system_id", systemID)
	}
	return nodes[0], nil
}
