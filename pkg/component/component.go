// Package component drives the attribute graph for components: it creates them,
// resolves property writes with the upward cascade, and runs the validation, code
// generation and qualification passes that follow a write.
package component

import (
	"encoding/json"

	"github.com/Tensibai/si/pkg/attribute"
	"github.com/Tensibai/si/pkg/checks"
	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/edge"
	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/schema"
)

// Component is an instance of a schema variant.
type Component struct {
	dal.Standard
	Name            string `json:"name"`
	SchemaID        string `json:"schema_id"`
	SchemaVariantID string `json:"schema_variant_id"`
}

var componentTable = dal.Table[Component]{
	Name:    "components",
	Kind:    "component",
	Columns: []string{"name", "schema_id", "schema_variant_id"},
	Std:     func(c *Component) *dal.Standard { return &c.Standard },
	Values:  func(c *Component) []any { return []any{c.Name, c.SchemaID, c.SchemaVariantID} },
	Dest:    func(c *Component) []any { return []any{&c.Name, &c.SchemaID, &c.SchemaVariantID} },
}

// NamePointer addresses the component's name.
const NamePointer = "/root/si/name"

// New creates a component of a variant with its diagram node, includes it in the
// production system, materializes its property tree and sets its name.
func New(dc *dal.Context, name, variantID string) (*Component, *edge.Node, error) {
	variant, err := schema.GetVariant(dc, variantID)
	if err != nil {
		return nil, nil, err
	}

	c := &Component{
		Standard:        dal.NewStandard(dc),
		Name:            name,
		SchemaID:        variant.SchemaID,
		SchemaVariantID: variant.ID,
	}
	if err := componentTable.Save(dc, c); err != nil {
		return nil, nil, err
	}

	node, err := edge.NewNode(dc, edge.NodeKindComponent)
	if err != nil {
		return nil, nil, err
	}
	if err := node.SetComponent(dc, c.ID); err != nil {
		return nil, nil, err
	}

	system, err := edge.FindSystemByName(dc, edge.ProductionSystem)
	if err != nil {
		return nil, nil, err
	}
	if _, err := edge.IncludeComponentInSystem(dc, c.ID, system.ID); err != nil {
		return nil, nil, err
	}

	props, err := variant.Props(dc)
	if err != nil {
		return nil, nil, err
	}
	for _, p := range props {
		if _, err := c.valueForProp(dc, p); err != nil {
			if engine.IsNotFound(err) {
				continue
			}
			return nil, nil, err
		}
	}

	raw, _ := json.Marshal(name)
	prop, err := schema.FindPropByJSONPointer(dc, variant.ID, NamePointer)
	if err != nil {
		return nil, nil, err
	}
	parent, err := c.parentValueID(dc, prop)
	if err != nil {
		return nil, nil, err
	}
	if _, _, _, err := c.ResolveAttribute(dc, prop, raw, parent, "", system.ID); err != nil {
		return nil, nil, err
	}

	_ = dc.Telemetry().Events.PublishComponentCreated(c.ID, name)
	dc.Log().WithComponentID(c.ID).WithField("name", name).Info("component created")
	return c, node, nil
}

// NewForSchema creates a component of a schema's default variant.
func NewForSchema(dc *dal.Context, name, schemaName string) (*Component, *edge.Node, error) {
	s, err := schema.FindSchemaByName(dc, schemaName)
	if err != nil {
		return nil, nil, err
	}
	v, err := s.DefaultVariant(dc)
	if err != nil {
		return nil, nil, err
	}
	return New(dc, name, v.ID)
}

// Get returns the component with id.
func Get(dc *dal.Context, id string) (*Component, error) {
	return componentTable.Get(dc, id)
}

// FindByName returns the oldest visible component called name.
func FindByName(dc *dal.Context, name string) (*Component, error) {
	c, err := componentTable.Find(dc, "m.name = ? ORDER BY m.created_at", name)
	if engine.IsNotFound(err) {
		return nil, engine.NewNotFoundError("component", name)
	}
	return c, err
}

// List returns every visible component.
func List(dc *dal.Context) ([]*Component, error) {
	return componentTable.List(dc, "ORDER BY m.name, m.created_at")
}

// Variant returns the component's schema variant.
func (c *Component) Variant(dc *dal.Context) (*schema.Variant, error) {
	return schema.GetVariant(dc, c.SchemaVariantID)
}

// Schema returns the component's schema.
func (c *Component) Schema(dc *dal.Context) (*schema.Schema, error) {
	return schema.GetSchema(dc, c.SchemaID)
}

// Node returns the component's diagram node.
func (c *Component) Node(dc *dal.Context) (*edge.Node, error) {
	return edge.FindNodeForComponent(dc, c.ID)
}

// Delete soft-deletes the component with its node, its edges, the attribute prototypes
// and values stored at its contexts and its pass resolvers.
func (c *Component) Delete(dc *dal.Context) error {
	if _, err := checks.DeleteResolversForComponent(dc, c.ID); err != nil {
		return err
	}
	n, err := attribute.DeleteForComponent(dc, c.ID)
	if err != nil {
		return err
	}
	dc.Log().WithComponentID(c.ID).WithField("attribute_records", n).Debug("deleted component attributes")

	edges, err := edge.ListForComponent(dc, c.ID)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if err := e.Delete(dc); err != nil {
			return err
		}
	}
	node, err := c.Node(dc)
	switch {
	case err == nil:
		if err := node.Delete(dc); err != nil {
			return err
		}
	case !engine.IsNotFound(err):
		return err
	}
	return componentTable.Delete(dc, c)
}

// attributeContext is the context component writes happen at.
func (c *Component) attributeContext(propID string) attribute.Context {
	return attribute.Context{
		PropID:          propID,
		SchemaID:        c.SchemaID,
		SchemaVariantID: c.SchemaVariantID,
		ComponentID:     c.ID,
	}
}

// valueForProp returns the component's value for prop, materializing it and its
// ancestors as proxies of their defaults when they have no component value yet.
// Element props of maps and arrays have no unkeyed value and report NotFound.
func (c *Component) valueForProp(dc *dal.Context, prop *schema.Prop) (*attribute.Value, error) {
	chain, err := prop.Ancestors(dc)
	if err != nil {
		return nil, err
	}

	var v *attribute.Value
	parentID := ""
	for i, p := range chain {
		if i > 0 && chain[i-1].Kind != schema.PropKindObject {
			return nil, engine.NewNotFoundError("attribute value", "unkeyed entry of "+chain[i-1].ID)
		}
		ctx := c.attributeContext(p.ID)
		v, err = attribute.FindValueForContext(dc, ctx, "", parentID)
		if engine.IsNotFound(err) {
			var proto *attribute.Prototype
			proto, err = attribute.FindPrototypeWithParentAndKeyForContext(dc, parentID, "", ctx)
			if err != nil {
				return nil, err
			}
			v, err = attribute.Materialize(dc, ctx, proto.ID, parentID)
		}
		if err != nil {
			return nil, err
		}
		parentID = v.ID
	}
	return v, nil
}

// parentValueID returns the id of the component value prop's value hangs under.
func (c *Component) parentValueID(dc *dal.Context, prop *schema.Prop) (string, error) {
	parent, err := prop.Parent(dc)
	if err != nil || parent == nil {
		return "", err
	}
	v, err := c.valueForProp(dc, parent)
	if err != nil {
		return "", err
	}
	return v.ID, nil
}
