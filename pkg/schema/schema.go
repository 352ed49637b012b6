// Package schema defines what components are made of: a schema has variants, and a
// variant owns a tree of typed props rooted at "root" with "si" and "domain" branches.
// Every prop carries a prop-level default prototype in the attribute graph.
package schema

import (
	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/engine"
)

// Kind classifies a schema.
type Kind string

const (
	KindConcept        Kind = "concept"
	KindImplementation Kind = "implementation"
	KindConcrete       Kind = "concrete"
)

// Schema is a named component type.
type Schema struct {
	dal.Standard
	Name                   string `json:"name"`
	Kind                   Kind   `json:"kind"`
	UIHidden               bool   `json:"ui_hidden"`
	DefaultSchemaVariantID string `json:"default_schema_variant_id,omitempty"`
}

var schemaTable = dal.Table[Schema]{
	Name:    "schemas",
	Kind:    "schema",
	Columns: []string{"name", "kind", "ui_hidden", "default_schema_variant_id"},
	Std:     func(s *Schema) *dal.Standard { return &s.Standard },
	Values: func(s *Schema) []any {
		hidden := 0
		if s.UIHidden {
			hidden = 1
		}
		return []any{s.Name, string(s.Kind), hidden, s.DefaultSchemaVariantID}
	},
	Dest: func(s *Schema) []any {
		return []any{&s.Name, &s.Kind, &s.UIHidden, &s.DefaultSchemaVariantID}
	},
}

// NewSchema creates a schema.
func NewSchema(dc *dal.Context, name string, kind Kind) (*Schema, error) {
	if kind == "" {
		kind = KindConcrete
	}
	s := &Schema{Standard: dal.NewStandard(dc), Name: name, Kind: kind}
	if err := schemaTable.Save(dc, s); err != nil {
		return nil, err
	}
	return s, nil
}

// GetSchema returns the schema with id.
func GetSchema(dc *dal.Context, id string) (*Schema, error) {
	return schemaTable.Get(dc, id)
}

// FindSchemaByName returns the oldest visible schema called name.
func FindSchemaByName(dc *dal.Context, name string) (*Schema, error) {
	s, err := schemaTable.Find(dc, "m.name = ? ORDER BY m.created_at", name)
	if engine.IsNotFound(err) {
		return nil, engine.NewNotFoundError("schema", name)
	}
	return s, err
}

// ListSchemas returns every visible schema by name.
func ListSchemas(dc *dal.Context) ([]*Schema, error) {
	return schemaTable.List(dc, "ORDER BY m.name")
}

// SetDefaultVariant records the variant new components use.
func (s *Schema) SetDefaultVariant(dc *dal.Context, variantID string) error {
	s.DefaultSchemaVariantID = variantID
	return schemaTable.Save(dc, s)
}

// DefaultVariant returns the schema's default variant.
func (s *Schema) DefaultVariant(dc *dal.Context) (*Variant, error) {
	if s.DefaultSchemaVariantID == "" {
		return nil, engine.NewNotFoundError("schema variant", "default of "+s.Name)
	}
	return GetVariant(dc, s.DefaultSchemaVariantID)
}

// Variants returns the schema's variants.
func (s *Schema) Variants(dc *dal.Context) ([]*Variant, error) {
	return variantTable.List(dc, "m.schema_id = ? ORDER BY m.created_at", s.ID)
}
