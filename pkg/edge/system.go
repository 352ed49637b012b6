package edge

import (
	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/engine"
)

// ProductionSystem is the system every new component is included in.
const ProductionSystem = "production"

// System groups components. Attribute values may be overridden per system.
type System struct {
	dal.Standard
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

var systemTable = dal.Table[System]{
	Name:    "systems",
	Kind:    "system",
	Columns: []string{"name", "description"},
	Std:     func(s *System) *dal.Standard { return &s.Standard },
	Values:  func(s *System) []any { return []any{s.Name, s.Description} },
	Dest:    func(s *System) []any { return []any{&s.Name, &s.Description} },
}

// NewSystem creates a system and its diagram node.
func NewSystem(dc *dal.Context, name, description string) (*System, *Node, error) {
	s := &System{Standard: dal.NewStandard(dc), Name: name, Description: description}
	if err := systemTable.Save(dc, s); err != nil {
		return nil, nil, err
	}
	node, err := NewNode(dc, NodeKindSystem)
	if err != nil {
		return nil, nil, err
	}
	if err := node.SetSystem(dc, s.ID); err != nil {
		return nil, nil, err
	}
	return s, node, nil
}

// GetSystem returns the system with id.
func GetSystem(dc *dal.Context, id string) (*System, error) {
	return systemTable.Get(dc, id)
}

// FindSystemByName returns the visible system named name.
func FindSystemByName(dc *dal.Context, name string) (*System, error) {
	systems, err := systemTable.List(dc, "m.name = ? ORDER BY m.created_at", name)
	if err != nil {
		return nil, err
	}
	if len(systems) == 0 {
		return nil, engine.NewNotFoundError("system", name)
	}
	return systems[0], nil
}

// ListSystems returns every visible system ordered by name.
func ListSystems(dc *dal.Context) ([]*System, error) {
	return systemTable.List(dc, "ORDER BY m.name")
}
