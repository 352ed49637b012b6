// Package attribute implements the attribute graph: contexts ordered by specificity,
// prototypes binding a function to a context, and values materializing (or proxying)
// the prototype's result for one parent value.
package attribute

import (
	"fmt"
	"strings"

	"github.com/Tensibai/si/pkg/engine"
)

// Context is the scope at which a prototype or value applies. PropID is required; the
// other fields are optional and ordered from least to most specific.
type Context struct {
	PropID          string `json:"attribute_context_prop_id"`
	SchemaID        string `json:"attribute_context_schema_id,omitempty"`
	SchemaVariantID string `json:"attribute_context_schema_variant_id,omitempty"`
	ComponentID     string `json:"attribute_context_component_id,omitempty"`
	SystemID        string `json:"attribute_context_system_id,omitempty"`
}

// Ordering is the result of comparing two contexts.
type Ordering int

const (
	LessSpecific Ordering = iota - 1
	Equal
	MoreSpecific
)

// ForProp returns the least specific context of a prop.
func ForProp(propID string) Context {
	return Context{PropID: propID}
}

// Validate checks that the prop is set.
func (c Context) Validate() error {
	if c.PropID == "" {
		return engine.NewPermanentError("attribute context requires a prop", nil).
			WithCode(engine.ErrCodeValidation)
	}
	return nil
}

// optional returns pointers to the optional fields, least specific first.
func (c *Context) optional() []*string {
	return []*string{&c.SchemaID, &c.SchemaVariantID, &c.ComponentID, &c.SystemID}
}

// CountOptional returns how many optional fields are set. It is the number of steps
// from c to its least specific context.
func (c Context) CountOptional() int {
	n := 0
	for _, f := range c.optional() {
		if *f != "" {
			n++
		}
	}
	return n
}

// IsLeastSpecific holds when only the prop is set.
func (c Context) IsLeastSpecific() bool {
	return c.CountOptional() == 0
}

// LessSpecific drops the most specific set field.
func (c Context) LessSpecific() (Context, error) {
	fields := c.optional()
	for i := len(fields) - 1; i >= 0; i-- {
		if *fields[i] != "" {
			*fields[i] = ""
			return c, nil
		}
	}
	return Context{}, engine.NewPermanentError(
		fmt.Sprintf("attribute context %s is already least specific", c), nil,
	).WithCode(engine.ErrCodeValidation)
}

// Walk returns c followed by each less specific context, ending at the prop-only one.
func (c Context) Walk() []Context {
	walk := make([]Context, 0, c.CountOptional()+1)
	for {
		walk = append(walk, c)
		if c.IsLeastSpecific() {
			return walk
		}
		c, _ = c.LessSpecific()
	}
}

// Compare orders c against o. Contexts are comparable only when they share a prop and
// the set fields of one are a subset of the other's, with equal values.
func (c Context) Compare(o Context) (Ordering, bool) {
	if c.PropID != o.PropID {
		return 0, false
	}
	cf, of := c.optional(), o.optional()
	cSub, oSub := true, true
	for i := range cf {
		a, b := *cf[i], *of[i]
		switch {
		case a == b:
		case a == "":
			oSub = false
		case b == "":
			cSub = false
		default:
			return 0, false
		}
	}
	switch {
	case cSub && oSub:
		return Equal, true
	case cSub:
		return LessSpecific, true
	case oSub:
		return MoreSpecific, true
	}
	return 0, false
}

func (c Context) String() string {
	parts := []string{"prop=" + c.PropID}
	names := []string{"schema", "variant", "component", "system"}
	for i, f := range c.optional() {
		if *f != "" {
			parts = append(parts, names[i]+"="+*f)
		}
	}
	return "(" + strings.Join(parts, " ") + ")"
}

const exactContext = "m.attribute_context_prop_id = ? AND m.attribute_context_schema_id = ?" +
	" AND m.attribute_context_schema_variant_id = ? AND m.attribute_context_component_id = ?" +
	" AND m.attribute_context_system_id = ?"

// exact is a predicate matching rows stored at exactly c.
func (c Context) exact() (string, []any) {
	return exactContext, c.values()
}

var contextColumns = []string{
	"attribute_context_prop_id",
	"attribute_context_schema_id",
	"attribute_context_schema_variant_id",
	"attribute_context_component_id",
	"attribute_context_system_id",
}

func (c *Context) values() []any {
	return []any{c.PropID, c.SchemaID, c.SchemaVariantID, c.ComponentID, c.SystemID}
}

func (c *Context) dest() []any {
	return []any{&c.PropID, &c.SchemaID, &c.SchemaVariantID, &c.ComponentID, &c.SystemID}
}
