// Package checks stores the prototypes and resolvers of the validation, qualification
// and code generation passes. A prototype says which function runs for a context; a
// resolver records the binding it last ran with for one component and system.
package checks

import (
	"encoding/json"
	"strings"

	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/funcs"
)

// Kind names a pass.
type Kind string

const (
	KindValidation     Kind = "validation"
	KindQualification  Kind = "qualification"
	KindCodeGeneration Kind = "code_generation"
)

// Context is the scope a pass prototype applies to. An empty field matches anything.
type Context struct {
	PropID          string `json:"prop_id,omitempty"`
	SchemaID        string `json:"schema_id,omitempty"`
	SchemaVariantID string `json:"schema_variant_id,omitempty"`
	ComponentID     string `json:"component_id,omitempty"`
	SystemID        string `json:"system_id,omitempty"`
}

func (c *Context) values() []any {
	return []any{c.PropID, c.SchemaID, c.SchemaVariantID, c.ComponentID, c.SystemID}
}

func (c *Context) dest() []any {
	return []any{&c.PropID, &c.SchemaID, &c.SchemaVariantID, &c.ComponentID, &c.SystemID}
}

var contextColumns = []string{"prop_id", "schema_id", "schema_variant_id", "component_id", "system_id"}

// match builds a predicate selecting prototypes that apply to c.
func (c Context) match() (string, []any) {
	var preds []string
	var args []any
	for i, v := range c.values() {
		if v == "" {
			continue
		}
		preds = append(preds, "(m."+contextColumns[i]+" = ? OR m."+contextColumns[i]+" = '')")
		args = append(args, v)
	}
	return strings.Join(preds, " AND "), args
}

// Prototype declares that a function runs as part of a pass.
type Prototype struct {
	dal.Standard
	Kind        Kind            `json:"pass_kind"`
	FuncID      string          `json:"func_id"`
	Args        json.RawMessage `json:"args"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	Link        string          `json:"link,omitempty"`
	Context     Context         `json:"context"`
}

var prototypeTable = dal.Table[Prototype]{
	Name:    "pass_prototypes",
	Kind:    "pass prototype",
	Columns: append([]string{"pass_kind", "func_id", "args", "title", "description", "link"}, contextColumns...),
	Std:     func(p *Prototype) *dal.Standard { return &p.Standard },
	Values: func(p *Prototype) []any {
		args := string(p.Args)
		if args == "" {
			args = "{}"
		}
		return append([]any{string(p.Kind), p.FuncID, args, p.Title, p.Description, p.Link}, p.Context.values()...)
	},
	Dest: func(p *Prototype) []any {
		return append([]any{&p.Kind, &p.FuncID, (*dal.JSONText)(&p.Args), &p.Title, &p.Description, &p.Link},
			p.Context.dest()...)
	},
}

// NewPrototype creates a pass prototype. args are the static arguments merged into
// every execution.
func NewPrototype(dc *dal.Context, kind Kind, funcID string, args any, c Context) (*Prototype, error) {
	raw, err := funcs.CanonicalArgs(args)
	if err != nil {
		return nil, engine.NewPermanentError("invalid pass arguments", err).WithCode(engine.ErrCodeValidation)
	}
	if string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	p := &Prototype{
		Standard: dal.NewStandard(dc),
		Kind:     kind,
		FuncID:   funcID,
		Args:     raw,
		Context:  c,
	}
	if err := prototypeTable.Save(dc, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Save persists changes to the prototype's descriptive fields.
func (p *Prototype) Save(dc *dal.Context) error {
	return prototypeTable.Save(dc, p)
}

// Delete soft-deletes the prototype.
func (p *Prototype) Delete(dc *dal.Context) error {
	return prototypeTable.Delete(dc, p)
}

// GetPrototype returns the pass prototype with id.
func GetPrototype(dc *dal.Context, id string) (*Prototype, error) {
	return prototypeTable.Get(dc, id)
}

// ListPrototypes returns the prototypes of a pass applying to c. A field left empty in
// c is not filtered on.
func ListPrototypes(dc *dal.Context, kind Kind, c Context) ([]*Prototype, error) {
	where := "m.pass_kind = ?"
	args := []any{string(kind)}
	if pred, predArgs := c.match(); pred != "" {
		where += " AND " + pred
		args = append(args, predArgs...)
	}
	return prototypeTable.List(dc, where+" ORDER BY m.created_at", args...)
}

// MergeArgs returns the prototype's static arguments with extra merged over them.
func (p *Prototype) MergeArgs(extra map[string]any) (map[string]any, error) {
	merged := map[string]any{}
	if len(p.Args) > 0 {
		if err := json.Unmarshal(p.Args, &merged); err != nil {
			return nil, engine.NewPermanentError("invalid pass arguments", err).
				WithCode(engine.ErrCodeValidation).WithResource(p.ID)
		}
	}
	for k, v := range extra {
		merged[k] = v
	}
	return merged, nil
}

// Resolver records the binding a pass prototype last ran with for one component.
type Resolver struct {
	dal.Standard
	Kind          Kind   `json:"pass_kind"`
	PrototypeID   string `json:"pass_prototype_id"`
	FuncID        string `json:"func_id"`
	FuncBindingID string `json:"func_binding_id"`
	PropID        string `json:"prop_id,omitempty"`
	ComponentID   string `json:"component_id"`
	SystemID      string `json:"system_id,omitempty"`
}

var resolverTable = dal.Table[Resolver]{
	Name:    "pass_resolvers",
	Kind:    "pass resolver",
	Columns: []string{"pass_kind", "pass_prototype_id", "func_id", "func_binding_id", "prop_id", "component_id", "system_id"},
	Std:     func(r *Resolver) *dal.Standard { return &r.Standard },
	Values: func(r *Resolver) []any {
		return []any{string(r.Kind), r.PrototypeID, r.FuncID, r.FuncBindingID, r.PropID, r.ComponentID, r.SystemID}
	},
	Dest: func(r *Resolver) []any {
		return []any{&r.Kind, &r.PrototypeID, &r.FuncID, &r.FuncBindingID, &r.PropID, &r.ComponentID, &r.SystemID}
	},
}

// UpsertResolver points the resolver of (prototype, component, system) at binding,
// creating it on first use.
func UpsertResolver(dc *dal.Context, p *Prototype, b *funcs.FuncBinding, componentID, systemID string) (*Resolver, error) {
	existing, err := resolverTable.List(dc,
		"m.pass_prototype_id = ? AND m.component_id = ? AND m.system_id = ? ORDER BY m.created_at",
		p.ID, componentID, systemID)
	if err != nil {
		return nil, err
	}

	r := &Resolver{
		Standard:    dal.NewStandard(dc),
		Kind:        p.Kind,
		PrototypeID: p.ID,
		PropID:      p.Context.PropID,
		ComponentID: componentID,
		SystemID:    systemID,
	}
	if len(existing) > 0 {
		r = existing[0]
	}
	r.FuncID = b.FuncID
	r.FuncBindingID = b.ID
	if err := resolverTable.Save(dc, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ListResolvers returns the resolvers of a pass for a component and system.
func ListResolvers(dc *dal.Context, kind Kind, componentID, systemID string) ([]*Resolver, error) {
	return resolverTable.List(dc,
		"m.pass_kind = ? AND m.component_id = ? AND m.system_id = ? ORDER BY m.created_at",
		string(kind), componentID, systemID)
}

// Prototype returns the resolver's prototype.
func (r *Resolver) Prototype(dc *dal.Context) (*Prototype, error) {
	return GetPrototype(dc, r.PrototypeID)
}

// ReturnValue returns the result of the resolver's binding.
func (r *Resolver) ReturnValue(dc *dal.Context) (*funcs.FuncBindingReturnValue, error) {
	return funcs.FindReturnValueForBinding(dc, r.FuncBindingID)
}

// Delete soft-deletes the resolver.
func (r *Resolver) Delete(dc *dal.Context) error {
	return resolverTable.Delete(dc, r)
}

// DeleteResolversForComponent soft-deletes every pass resolver of a component.
func DeleteResolversForComponent(dc *dal.Context, componentID string) (int, error) {
	resolvers, err := resolverTable.List(dc, "m.component_id = ? ORDER BY m.created_at", componentID)
	if err != nil {
		return 0, err
	}
	for _, r := range resolvers {
		if err := r.Delete(dc); err != nil {
			return 0, err
		}
	}
	return len(resolvers), nil
}
