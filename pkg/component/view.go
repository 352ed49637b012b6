package component

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/Tensibai/si/pkg/attribute"
	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/edge"
	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/schema"
)

// SystemRef names the system a view was built for.
type SystemRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// View is the resolved JSON document of a component, as function inputs see it.
// Properties holds the children of the root prop; unset values are left out.
type View struct {
	System     *SystemRef     `json:"system,omitempty"`
	Kind       schema.Kind    `json:"kind"`
	Properties map[string]any `json:"properties"`
}

// View builds the component's view for a system. An empty systemID builds a view
// without one.
func (c *Component) View(dc *dal.Context, systemID string) (*View, error) {
	s, err := c.Schema(dc)
	if err != nil {
		return nil, err
	}
	view := &View{Kind: s.Kind, Properties: map[string]any{}}
	if systemID != "" {
		system, err := edge.GetSystem(dc, systemID)
		if err != nil {
			return nil, err
		}
		view.System = &SystemRef{ID: system.ID, Name: system.Name}
	}

	variant, err := c.Variant(dc)
	if err != nil {
		return nil, err
	}
	props, err := variant.Props(dc)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*schema.Prop, len(props))
	for _, p := range props {
		byID[p.ID] = p
	}

	root, err := attribute.FindValueForContext(dc, c.attributeContext(variant.RootPropID), "", "")
	if engine.IsNotFound(err) {
		dc.Log().WithComponentID(c.ID).WithError(err).Debug("component has no root value")
		return view, nil
	}
	if err != nil {
		return nil, err
	}

	doc, ok, err := buildView(dc, byID, root)
	if err != nil {
		return nil, err
	}
	if m, isMap := doc.(map[string]any); ok && isMap {
		view.Properties = m
	}
	return view, nil
}

// JSON renders the view's properties, indented.
func (v *View) JSON() ([]byte, error) {
	return json.MarshalIndent(v.Properties, "", "  ")
}

// buildView renders a value and its children. Objects come from their children only;
// maps and arrays start from their own value and gain their keyed entries.
func buildView(dc *dal.Context, props map[string]*schema.Prop, v *attribute.Value) (any, bool, error) {
	raw, err := v.Get(dc)
	if err != nil {
		return nil, false, err
	}
	if schema.IsUnset(raw) {
		return nil, false, nil
	}
	prop, ok := props[v.Context.PropID]
	if !ok {
		return nil, false, engine.NewNotFoundError("prop", v.Context.PropID)
	}

	switch prop.Kind {
	case schema.PropKindObject:
		children, err := v.ListChildValues(dc)
		if err != nil {
			return nil, false, err
		}
		out := map[string]any{}
		for _, child := range children {
			doc, set, err := buildView(dc, props, child)
			if err != nil {
				return nil, false, err
			}
			if set {
				out[props[child.Context.PropID].Name] = doc
			}
		}
		return out, true, nil

	case schema.PropKindMap:
		out := map[string]any{}
		if err := decodeView(raw, &out); err != nil {
			return nil, false, err
		}
		if err := eachEntry(dc, props, v, false, func(key string, doc any) { out[key] = doc }); err != nil {
			return nil, false, err
		}
		return out, true, nil

	case schema.PropKindArray:
		out := []any{}
		if err := decodeView(raw, &out); err != nil {
			return nil, false, err
		}
		if err := eachEntry(dc, props, v, true, func(_ string, doc any) { out = append(out, doc) }); err != nil {
			return nil, false, err
		}
		return out, true, nil
	}

	var out any
	if err := decodeView(raw, &out); err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// eachEntry calls fn for every set keyed child of v. Array entries are visited in
// index order.
func eachEntry(dc *dal.Context, props map[string]*schema.Prop, v *attribute.Value, indexed bool, fn func(key string, doc any)) error {
	children, err := v.ListChildValues(dc)
	if err != nil {
		return err
	}
	if indexed {
		sort.SliceStable(children, func(i, j int) bool {
			return indexLess(children[i].Key, children[j].Key)
		})
	}
	for _, child := range children {
		doc, set, err := buildView(dc, props, child)
		if err != nil {
			return err
		}
		if set {
			fn(child.Key, doc)
		}
	}
	return nil
}

// indexLess orders numeric keys by value, before any non-numeric key.
func indexLess(a, b string) bool {
	ia, errA := strconv.Atoi(a)
	ib, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return ia < ib
	case errA == nil:
		return true
	case errB == nil:
		return false
	}
	return a < b
}

func decodeView(raw json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(out)
}
