package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-openapi/jsonpointer"

	"github.com/Tensibai/si/pkg/attribute"
	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/funcs"
)

// PropKind is the JSON type a prop holds.
type PropKind string

const (
	PropKindString  PropKind = "string"
	PropKindInteger PropKind = "integer"
	PropKindBoolean PropKind = "boolean"
	PropKindMap     PropKind = "map"
	PropKindArray   PropKind = "array"
	PropKindObject  PropKind = "object"
)

// Valid reports whether k is a known kind.
func (k PropKind) Valid() bool {
	switch k {
	case PropKindString, PropKindInteger, PropKindBoolean, PropKindMap, PropKindArray, PropKindObject:
		return true
	}
	return false
}

// IsContainer reports whether props of this kind hold child values.
func (k PropKind) IsContainer() bool {
	return k == PropKindMap || k == PropKindArray || k == PropKindObject
}

// Setter returns the name of the builtin that sets a value of this kind.
func (k PropKind) Setter() string {
	switch k {
	case PropKindString:
		return funcs.SetString
	case PropKindInteger:
		return funcs.SetInteger
	case PropKindBoolean:
		return funcs.SetBoolean
	case PropKindMap:
		return funcs.SetMap
	case PropKindArray:
		return funcs.SetArray
	case PropKindObject:
		return funcs.SetPropObject
	}
	return ""
}

// Empty returns the value a container of this kind takes when its first child is set.
func (k PropKind) Empty() json.RawMessage {
	switch k {
	case PropKindArray:
		return json.RawMessage(`[]`)
	case PropKindMap, PropKindObject:
		return json.RawMessage(`{}`)
	}
	return nil
}

// IsUnset reports whether raw stands for "no value".
func IsUnset(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// CheckValue returns an InvalidPropValue error when raw is not of kind k.
func (k PropKind) CheckValue(raw json.RawMessage) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return engine.NewInvalidValueError(string(k), string(raw))
	}
	ok := false
	switch x := v.(type) {
	case string:
		ok = k == PropKindString
	case bool:
		ok = k == PropKindBoolean
	case json.Number:
		_, err := x.Int64()
		ok = k == PropKindInteger && err == nil
	case []any:
		ok = k == PropKindArray
	case map[string]any:
		ok = k == PropKindMap || k == PropKindObject
	}
	if !ok {
		return engine.NewInvalidValueError(string(k), v)
	}
	return nil
}

// Prop is one node of a variant's property tree.
type Prop struct {
	dal.Standard
	SchemaVariantID string   `json:"schema_variant_id"`
	ParentPropID    string   `json:"parent_prop_id,omitempty"`
	Name            string   `json:"name"`
	Kind            PropKind `json:"kind"`
	WidgetKind      string   `json:"widget_kind,omitempty"`
	DocLink         string   `json:"doc_link,omitempty"`
	Position        int      `json:"position"`
}

var propTable = dal.Table[Prop]{
	Name:    "props",
	Kind:    "prop",
	Columns: []string{"schema_variant_id", "parent_prop_id", "name", "kind", "widget_kind", "doc_link", "position"},
	Std:     func(p *Prop) *dal.Standard { return &p.Standard },
	Values: func(p *Prop) []any {
		return []any{p.SchemaVariantID, p.ParentPropID, p.Name, string(p.Kind), p.WidgetKind, p.DocLink, p.Position}
	},
	Dest: func(p *Prop) []any {
		return []any{&p.SchemaVariantID, &p.ParentPropID, &p.Name, &p.Kind, &p.WidgetKind, &p.DocLink, &p.Position}
	},
}

// defaultWidget picks the edit widget for a kind.
func defaultWidget(kind PropKind) string {
	switch kind {
	case PropKindBoolean:
		return "checkbox"
	case PropKindMap, PropKindArray, PropKindObject:
		return "header"
	}
	return "text"
}

// NewProp creates a prop under parent (nil for a root) and its prop-level default,
// which is unset.
func NewProp(dc *dal.Context, variantID string, parent *Prop, name string, kind PropKind) (*Prop, error) {
	if !kind.Valid() {
		return nil, engine.NewInvalidValueError("prop kind", string(kind))
	}
	p := &Prop{
		Standard:        dal.NewStandard(dc),
		SchemaVariantID: variantID,
		Name:            name,
		Kind:            kind,
		WidgetKind:      defaultWidget(kind),
	}
	parentValueID := ""
	if parent != nil {
		if !parent.Kind.IsContainer() {
			return nil, engine.NewInvalidValueError("container parent prop", string(parent.Kind)).
				WithResource(parent.ID)
		}
		siblings, err := parent.Children(dc)
		if err != nil {
			return nil, err
		}
		p.ParentPropID = parent.ID
		p.Position = len(siblings)

		parentDefault, err := parent.DefaultValue(dc)
		if err != nil {
			return nil, err
		}
		parentValueID = parentDefault.ID
	}
	if err := propTable.Save(dc, p); err != nil {
		return nil, err
	}

	unset, err := funcs.FindByName(dc, funcs.Unset)
	if err != nil {
		return nil, err
	}
	b, _, _, err := funcs.FindOrCreateAndExecute(dc, nil, unset.ID, unset.BackendKind)
	if err != nil {
		return nil, err
	}
	if _, _, err := attribute.NewPrototype(dc, attribute.ForProp(p.ID), unset.ID, b.ID, "", parentValueID); err != nil {
		return nil, err
	}
	return p, nil
}

// GetProp returns the prop with id.
func GetProp(dc *dal.Context, id string) (*Prop, error) {
	return propTable.Get(dc, id)
}

// Parent returns the parent prop, or nil for a root.
func (p *Prop) Parent(dc *dal.Context) (*Prop, error) {
	if p.ParentPropID == "" {
		return nil, nil
	}
	return GetProp(dc, p.ParentPropID)
}

// Children returns the child props in position order.
func (p *Prop) Children(dc *dal.Context) ([]*Prop, error) {
	return propTable.List(dc, "m.parent_prop_id = ? ORDER BY m.position, m.created_at", p.ID)
}

// Child returns the child prop called name.
func (p *Prop) Child(dc *dal.Context, name string) (*Prop, error) {
	child, err := propTable.Find(dc, "m.parent_prop_id = ? AND m.name = ? ORDER BY m.created_at", p.ID, name)
	if engine.IsNotFound(err) {
		return nil, engine.NewNotFoundError("prop", p.Name+"/"+name)
	}
	return child, err
}

// Ancestors returns the props from the root down to p, inclusive.
func (p *Prop) Ancestors(dc *dal.Context) ([]*Prop, error) {
	chain := []*Prop{p}
	current := p
	for current.ParentPropID != "" {
		if len(chain) > maxDepth {
			return nil, engine.NewPermanentError("prop tree too deep", nil).
				WithCode(engine.ErrCodeInternal).WithResource(p.ID)
		}
		parent, err := GetProp(dc, current.ParentPropID)
		if err != nil {
			return nil, err
		}
		chain = append([]*Prop{parent}, chain...)
		current = parent
	}
	return chain, nil
}

const maxDepth = 64

// DefaultPrototype returns the prop-level prototype holding the prop's default.
func (p *Prop) DefaultPrototype(dc *dal.Context) (*attribute.Prototype, error) {
	protos, err := attribute.ListPrototypesForContext(dc, attribute.ForProp(p.ID))
	if err != nil {
		return nil, err
	}
	for _, proto := range protos {
		if proto.Key == "" {
			return proto, nil
		}
	}
	return nil, engine.NewNotFoundError("attribute prototype", "default of "+p.ID)
}

// DefaultValue returns the prop-level value holding the prop's default.
func (p *Prop) DefaultValue(dc *dal.Context) (*attribute.Value, error) {
	values, err := attribute.ListValuesForContext(dc, attribute.ForProp(p.ID))
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		if v.Key == "" {
			return v, nil
		}
	}
	return nil, engine.NewNotFoundError("attribute value", "default of "+p.ID)
}

// SetDefault sets the prop-level default. Containers above p that have no default yet
// are set to their empty value.
func (p *Prop) SetDefault(dc *dal.Context, value json.RawMessage) error {
	if IsUnset(value) {
		return nil
	}
	if err := p.Kind.CheckValue(value); err != nil {
		return err
	}
	current, err := p.DefaultValue(dc)
	if err != nil {
		return err
	}
	fn, err := funcs.FindByName(dc, p.Kind.Setter())
	if err != nil {
		return err
	}
	b, _, _, err := funcs.FindOrCreateAndExecute(dc, map[string]json.RawMessage{"value": value}, fn.ID, fn.BackendKind)
	if err != nil {
		return err
	}
	if _, _, err := attribute.UpsertForContext(dc, attribute.ForProp(p.ID), fn.ID, b.ID, "", current.ParentValueID); err != nil {
		return err
	}

	parent, err := p.Parent(dc)
	if err != nil || parent == nil {
		return err
	}
	parentValue, err := parent.DefaultValue(dc)
	if err != nil {
		return err
	}
	raw, err := parentValue.Get(dc)
	if err != nil {
		return err
	}
	if !IsUnset(raw) {
		return nil
	}
	return parent.SetDefault(dc, parent.Kind.Empty())
}

// FindPropByJSONPointer walks a pointer such as "/root/si/name" from the variant's
// root prop, matching one prop name per segment.
func FindPropByJSONPointer(dc *dal.Context, variantID, pointer string) (*Prop, error) {
	ptr, err := jsonpointer.New(pointer)
	if err != nil {
		return nil, engine.NewNotFoundError("prop", pointer).WithDetail("reason", err.Error())
	}
	segments := ptr.DecodedTokens()
	if len(segments) == 0 {
		return nil, engine.NewNotFoundError("prop", pointer)
	}
	v, err := GetVariant(dc, variantID)
	if err != nil {
		return nil, err
	}
	prop, err := v.RootProp(dc)
	if err != nil {
		return nil, err
	}
	if prop.Name != segments[0] {
		return nil, engine.NewNotFoundError("prop", pointer)
	}
	for _, segment := range segments[1:] {
		if prop, err = prop.Child(dc, segment); err != nil {
			if engine.IsNotFound(err) {
				return nil, engine.NewNotFoundError("prop", pointer).WithDetail("segment", segment)
			}
			return nil, err
		}
	}
	return prop, nil
}

// JSONPointer returns the pointer addressing p, e.g. "/root/domain/image".
func (p *Prop) JSONPointer(dc *dal.Context) (string, error) {
	chain, err := p.Ancestors(dc)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, prop := range chain {
		sb.WriteString("/")
		sb.WriteString(jsonpointer.Escape(prop.Name))
	}
	return sb.String(), nil
}

func (p *Prop) String() string {
	return fmt.Sprintf("%s(%s)", p.Name, p.Kind)
}
