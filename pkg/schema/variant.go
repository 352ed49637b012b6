package schema

import (
	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/engine"
)

// Names of the props every variant starts with.
const (
	RootPropName   = "root"
	SIPropName     = "si"
	NamePropName   = "name"
	DomainPropName = "domain"
)

// Variant is one concrete shape of a schema.
type Variant struct {
	dal.Standard
	SchemaID   string `json:"schema_id"`
	Name       string `json:"name"`
	RootPropID string `json:"root_prop_id,omitempty"`
}

var variantTable = dal.Table[Variant]{
	Name:    "schema_variants",
	Kind:    "schema variant",
	Columns: []string{"schema_id", "name", "root_prop_id"},
	Std:     func(v *Variant) *dal.Standard { return &v.Standard },
	Values:  func(v *Variant) []any { return []any{v.SchemaID, v.Name, v.RootPropID} },
	Dest:    func(v *Variant) []any { return []any{&v.SchemaID, &v.Name, &v.RootPropID} },
}

// NewVariant creates a variant with its base tree: root, root/si, root/si/name and
// root/domain. The first variant of a schema becomes its default.
func NewVariant(dc *dal.Context, s *Schema, name string) (*Variant, error) {
	v := &Variant{Standard: dal.NewStandard(dc), SchemaID: s.ID, Name: name}
	if err := variantTable.Save(dc, v); err != nil {
		return nil, err
	}

	root, err := NewProp(dc, v.ID, nil, RootPropName, PropKindObject)
	if err != nil {
		return nil, err
	}
	si, err := NewProp(dc, v.ID, root, SIPropName, PropKindObject)
	if err != nil {
		return nil, err
	}
	if _, err := NewProp(dc, v.ID, si, NamePropName, PropKindString); err != nil {
		return nil, err
	}
	if _, err := NewProp(dc, v.ID, root, DomainPropName, PropKindObject); err != nil {
		return nil, err
	}

	v.RootPropID = root.ID
	if err := variantTable.Save(dc, v); err != nil {
		return nil, err
	}
	if s.DefaultSchemaVariantID == "" {
		if err := s.SetDefaultVariant(dc, v.ID); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// GetVariant returns the variant with id.
func GetVariant(dc *dal.Context, id string) (*Variant, error) {
	return variantTable.Get(dc, id)
}

// Schema returns the variant's schema.
func (v *Variant) Schema(dc *dal.Context) (*Schema, error) {
	return GetSchema(dc, v.SchemaID)
}

// RootProp returns the root of the variant's prop tree.
func (v *Variant) RootProp(dc *dal.Context) (*Prop, error) {
	if v.RootPropID == "" {
		return nil, engine.NewNotFoundError("prop", "root of "+v.ID)
	}
	return GetProp(dc, v.RootPropID)
}

// DomainProp returns root/domain, where schema-specific props live.
func (v *Variant) DomainProp(dc *dal.Context) (*Prop, error) {
	root, err := v.RootProp(dc)
	if err != nil {
		return nil, err
	}
	return root.Child(dc, DomainPropName)
}

// Props returns every prop of the variant, parents before children and siblings in
// position order.
func (v *Variant) Props(dc *dal.Context) ([]*Prop, error) {
	all, err := propTable.List(dc, "m.schema_variant_id = ? ORDER BY m.position, m.created_at", v.ID)
	if err != nil {
		return nil, err
	}
	children := map[string][]*Prop{}
	for _, p := range all {
		children[p.ParentPropID] = append(children[p.ParentPropID], p)
	}

	out := make([]*Prop, 0, len(all))
	queue := children[""]
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		out = append(out, p)
		queue = append(queue, children[p.ID]...)
	}
	return out, nil
}
