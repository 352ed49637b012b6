package schema

import (
	"encoding/json"
	"fmt"

	"github.com/Tensibai/si/pkg/checks"
	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/funcs"
	"github.com/Tensibai/si/pkg/telemetry"
)

// DefaultVariantName names the variant Import creates.
const DefaultVariantName = "v0"

// Definition describes a schema to import. Props are created under root/domain.
type Definition struct {
	Name           string                 `json:"name" yaml:"name" validate:"required"`
	Kind           Kind                   `json:"kind,omitempty" yaml:"kind,omitempty" validate:"omitempty,oneof=concept implementation concrete"`
	Variant        string                 `json:"variant,omitempty" yaml:"variant,omitempty"`
	Props          []PropDefinition       `json:"props,omitempty" yaml:"props,omitempty" validate:"dive"`
	Validations    []ValidationDefinition `json:"validations,omitempty" yaml:"validations,omitempty" validate:"dive"`
	Qualifications []PassDefinition       `json:"qualifications,omitempty" yaml:"qualifications,omitempty" validate:"dive"`
	CodeGeneration []PassDefinition       `json:"codeGeneration,omitempty" yaml:"codeGeneration,omitempty" validate:"dive"`
}

// PropDefinition describes one prop. Entry describes the element prop of a map or
// array.
type PropDefinition struct {
	Name     string           `json:"name" yaml:"name" validate:"required"`
	Kind     PropKind         `json:"kind" yaml:"kind" validate:"required,oneof=string integer boolean map array object"`
	Default  any              `json:"default,omitempty" yaml:"default,omitempty"`
	DocLink  string           `json:"docLink,omitempty" yaml:"docLink,omitempty"`
	Widget   string           `json:"widget,omitempty" yaml:"widget,omitempty"`
	Children []PropDefinition `json:"children,omitempty" yaml:"children,omitempty" validate:"dive"`
	Entry    *PropDefinition  `json:"entry,omitempty" yaml:"entry,omitempty"`
}

// ValidationDefinition checks one prop, addressed by JSON pointer, against an expected
// value.
type ValidationDefinition struct {
	Prop     string `json:"prop" yaml:"prop" validate:"required,startswith=/root"`
	Expected string `json:"expected" yaml:"expected"`
	Func     string `json:"func,omitempty" yaml:"func,omitempty"`
	Link     string `json:"link,omitempty" yaml:"link,omitempty"`
}

// PassDefinition declares a qualification or code generation. When Code is set the
// function is created under Func's name if it does not exist yet.
type PassDefinition struct {
	Title       string            `json:"title" yaml:"title" validate:"required"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Link        string            `json:"link,omitempty" yaml:"link,omitempty"`
	Func        string            `json:"func" yaml:"func" validate:"required"`
	Backend     funcs.BackendKind `json:"backend,omitempty" yaml:"backend,omitempty" validate:"omitempty,oneof=starlark rego wasm"`
	Handler     string            `json:"handler,omitempty" yaml:"handler,omitempty"`
	Code        string            `json:"code,omitempty" yaml:"code,omitempty"`
	Args        map[string]any    `json:"args,omitempty" yaml:"args,omitempty"`
}

// Import creates a universal schema, its variant, props, defaults and pass prototypes
// from def. Importing a name that already exists returns the existing schema.
func Import(dc *dal.Context, def Definition) (*Schema, *Variant, error) {
	dc = dc.Universal()
	log := dc.Log().NewComponentLogger("schema").WithField("schema", def.Name)

	if existing, err := FindSchemaByName(dc, def.Name); err == nil {
		v, err := existing.DefaultVariant(dc)
		if err != nil {
			return nil, nil, err
		}
		log.Debug("schema already imported")
		return existing, v, nil
	} else if !engine.IsNotFound(err) {
		return nil, nil, err
	}

	s, err := NewSchema(dc, def.Name, def.Kind)
	if err != nil {
		return nil, nil, err
	}
	variantName := def.Variant
	if variantName == "" {
		variantName = DefaultVariantName
	}
	v, err := NewVariant(dc, s, variantName)
	if err != nil {
		return nil, nil, err
	}
	domain, err := v.DomainProp(dc)
	if err != nil {
		return nil, nil, err
	}
	for _, pd := range def.Props {
		if err := importProp(dc, v.ID, domain, pd); err != nil {
			return nil, nil, fmt.Errorf("prop %s: %w", pd.Name, err)
		}
	}

	for _, vd := range def.Validations {
		if err := importValidation(dc, s, v, vd); err != nil {
			return nil, nil, fmt.Errorf("validation of %s: %w", vd.Prop, err)
		}
	}
	for _, pd := range def.Qualifications {
		if err := importPass(dc, checks.KindQualification, s, v, pd); err != nil {
			return nil, nil, fmt.Errorf("qualification %q: %w", pd.Title, err)
		}
	}
	for _, pd := range def.CodeGeneration {
		if err := importPass(dc, checks.KindCodeGeneration, s, v, pd); err != nil {
			return nil, nil, fmt.Errorf("code generation %q: %w", pd.Title, err)
		}
	}

	_ = dc.Telemetry().Events.Publish(telemetry.Event{
		Type:    telemetry.EventTypeSchemaImported,
		Source:  "schema",
		Message: "imported schema " + s.Name,
		Data:    map[string]interface{}{"schema_id": s.ID, "schema_variant_id": v.ID},
	})
	log.WithField("variant_id", v.ID).Info("imported schema")
	return s, v, nil
}

func importProp(dc *dal.Context, variantID string, parent *Prop, pd PropDefinition) error {
	p, err := NewProp(dc, variantID, parent, pd.Name, pd.Kind)
	if err != nil {
		return err
	}
	if pd.DocLink != "" || pd.Widget != "" {
		p.DocLink = pd.DocLink
		if pd.Widget != "" {
			p.WidgetKind = pd.Widget
		}
		if err := propTable.Save(dc, p); err != nil {
			return err
		}
	}

	for _, child := range pd.Children {
		if err := importProp(dc, variantID, p, child); err != nil {
			return fmt.Errorf("%s: %w", child.Name, err)
		}
	}
	if pd.Entry != nil {
		entry := *pd.Entry
		if entry.Name == "" {
			entry.Name = "entry"
		}
		if err := importProp(dc, variantID, p, entry); err != nil {
			return fmt.Errorf("%s entry: %w", pd.Name, err)
		}
	}

	if pd.Default != nil {
		raw, err := json.Marshal(pd.Default)
		if err != nil {
			return engine.NewInvalidValueError(string(pd.Kind), pd.Default)
		}
		return p.SetDefault(dc, raw)
	}
	return nil
}

func importValidation(dc *dal.Context, s *Schema, v *Variant, vd ValidationDefinition) error {
	prop, err := FindPropByJSONPointer(dc, v.ID, vd.Prop)
	if err != nil {
		return err
	}
	// Validations read one unkeyed value per component.
	chain, err := prop.Ancestors(dc)
	if err != nil {
		return err
	}
	for _, p := range chain[:len(chain)-1] {
		if p.Kind != PropKindObject {
			return engine.NewInvalidValueError("prop reached through objects only", vd.Prop).
				WithResource(prop.ID).WithDetail("container", string(p.Kind))
		}
	}
	name := vd.Func
	if name == "" {
		name = funcs.ValidateStringValue
	}
	fn, err := funcs.FindByName(dc, name)
	if err != nil {
		return err
	}
	p, err := checks.NewPrototype(dc, checks.KindValidation, fn.ID, map[string]any{"expected": vd.Expected}, checks.Context{
		PropID:          prop.ID,
		SchemaID:        s.ID,
		SchemaVariantID: v.ID,
	})
	if err != nil {
		return err
	}
	if vd.Link != "" {
		p.Link = vd.Link
		return p.Save(dc)
	}
	return nil
}

func importPass(dc *dal.Context, kind checks.Kind, s *Schema, v *Variant, pd PassDefinition) error {
	fn, err := funcs.FindByName(dc, pd.Func)
	if engine.IsNotFound(err) && pd.Code != "" {
		response := funcs.ResponseQualification
		if kind == checks.KindCodeGeneration {
			response = funcs.ResponseCodeGeneration
		}
		if fn, err = funcs.NewFunc(dc, pd.Func, pd.Backend, response); err == nil {
			err = fn.SetCode(dc, pd.Handler, pd.Code)
		}
	}
	if err != nil {
		return err
	}

	p, err := checks.NewPrototype(dc, kind, fn.ID, pd.Args, checks.Context{
		SchemaID:        s.ID,
		SchemaVariantID: v.ID,
	})
	if err != nil {
		return err
	}
	p.Title = pd.Title
	p.Description = pd.Description
	p.Link = pd.Link
	return p.Save(dc)
}
