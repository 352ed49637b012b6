package attribute

import (
	"fmt"

	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/funcs"
)

// Prototype binds a function binding to a context. At most one prototype exists per
// exact context, key and parent value.
type Prototype struct {
	dal.Standard
	FuncID        string  `json:"func_id"`
	FuncBindingID string  `json:"func_binding_id"`
	Key           string  `json:"key,omitempty"`
	ParentValueID string  `json:"parent_attribute_value_id,omitempty"`
	Context       Context `json:"context"`
}

var prototypeTable = dal.Table[Prototype]{
	Name: "attribute_prototypes",
	Kind: "attribute prototype",
	Columns: append([]string{
		"func_id",
		"func_binding_id",
		"attribute_key",
		"parent_attribute_value_id",
	}, contextColumns...),
	Std: func(p *Prototype) *dal.Standard { return &p.Standard },
	Values: func(p *Prototype) []any {
		return append([]any{p.FuncID, p.FuncBindingID, p.Key, p.ParentValueID}, p.Context.values()...)
	},
	Dest: func(p *Prototype) []any {
		return append([]any{&p.FuncID, &p.FuncBindingID, &p.Key, &p.ParentValueID}, p.Context.dest()...)
	},
}

// currentResult returns the Direct result for a binding's latest return value.
func currentResult(dc *dal.Context, bindingID string) (Direct, error) {
	rv, err := funcs.FindReturnValueForBinding(dc, bindingID)
	if engine.IsNotFound(err) {
		return Direct{}, nil
	}
	if err != nil {
		return Direct{}, err
	}
	return Direct{ReturnValueID: rv.ID}, nil
}

// NewPrototype persists a prototype at c and its value under parentValueID. A value
// already stored at c for the same parent and key is taken over instead of duplicated.
// When c is not least specific and a less specific prototype applies, proxy values are
// materialized at every level between it and c.
func NewPrototype(dc *dal.Context, c Context, funcID, bindingID, key, parentValueID string) (*Prototype, *Value, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	p := &Prototype{
		Standard:      dal.NewStandard(dc),
		FuncID:        funcID,
		FuncBindingID: bindingID,
		Key:           key,
		ParentValueID: parentValueID,
		Context:       c,
	}
	if err := prototypeTable.Save(dc, p); err != nil {
		return nil, nil, err
	}

	result, err := currentResult(dc, bindingID)
	if err != nil {
		return nil, nil, err
	}
	v, err := FindValueForContext(dc, c, key, parentValueID)
	switch {
	case err == nil:
		v.PrototypeID = p.ID
		if err := v.SetResult(dc, result); err != nil {
			return nil, nil, err
		}
	case engine.IsNotFound(err):
		if v, err = newValue(dc, c, p.ID, parentValueID, key, result); err != nil {
			return nil, nil, err
		}
	default:
		return nil, nil, err
	}

	if !c.IsLeastSpecific() {
		less, _ := c.LessSpecific()
		original, err := FindPrototypeWithParentAndKeyForContext(dc, parentValueID, key, less)
		switch {
		case err == nil:
			if err := createIntermediateProxyValues(dc, parentValueID, original.ID, less); err != nil {
				return nil, nil, err
			}
		case !engine.IsNotFound(err):
			return nil, nil, err
		}
	}

	dc.Telemetry().Metrics.RecordAttributeWrite("prototype_created")
	return p, v, nil
}

// Materialize returns the value at c for prototypeID under parentValueID, creating
// proxy values down to the level that holds the prototype's value.
func Materialize(dc *dal.Context, c Context, prototypeID, parentValueID string) (*Value, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := createIntermediateProxyValues(dc, parentValueID, prototypeID, c); err != nil {
		return nil, err
	}
	parent, _, err := translateParent(dc, parentValueID, c)
	if err != nil {
		return nil, err
	}
	v, err := findWithParentAndPrototypeForContext(dc, parent, prototypeID, c)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, missingValue(dc, prototypeID, parentValueID)
	}
	return v, nil
}

// createIntermediateProxyValues makes sure prototypeID has a value at c, creating a
// proxy to the value one level less specific when it does not. The least specific
// level is never proxied.
func createIntermediateProxyValues(dc *dal.Context, parentValueID, prototypeID string, c Context) error {
	if c.IsLeastSpecific() {
		return nil
	}
	parent, found, err := translateParent(dc, parentValueID, c)
	if err != nil {
		return err
	}
	if !found {
		return missingValue(dc, prototypeID, parentValueID)
	}
	existing, err := findWithParentAndPrototypeForContext(dc, parent, prototypeID, c)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	less, _ := c.LessSpecific()
	if err := createIntermediateProxyValues(dc, parentValueID, prototypeID, less); err != nil {
		return err
	}
	lessParent, found, err := translateParent(dc, parentValueID, less)
	if err != nil {
		return err
	}
	var target *Value
	if found {
		if target, err = findWithParentAndPrototypeForContext(dc, lessParent, prototypeID, less); err != nil {
			return err
		}
	}
	if target == nil {
		return missingValue(dc, prototypeID, parentValueID)
	}

	if _, err := newValue(dc, c, prototypeID, parent, target.Key, Proxy{TargetID: target.ID}); err != nil {
		return err
	}
	dc.Telemetry().Metrics.RecordProxyCreated()
	dc.Log().WithField("prototype_id", prototypeID).WithField("context", c.String()).Trace("created proxy value")
	return nil
}

func missingValue(dc *dal.Context, prototypeID, parentValueID string) error {
	return engine.NewMissingValueError(dc.WriteTenancy().Key(), dc.Visibility().String(), prototypeID, parentValueID)
}

// UpsertForContext points the prototype stored at exactly c for key and parent at the
// given binding, creating it with NewPrototype when there is none. The prototype's
// value at c takes the binding's current result.
func UpsertForContext(dc *dal.Context, c Context, funcID, bindingID, key, parentValueID string) (*Prototype, *Value, error) {
	p, err := FindPrototypeForContext(dc, c, key, parentValueID)
	if engine.IsNotFound(err) {
		return NewPrototype(dc, c, funcID, bindingID, key, parentValueID)
	}
	if err != nil {
		return nil, nil, err
	}
	if err := p.SetFuncBinding(dc, funcID, bindingID); err != nil {
		return nil, nil, err
	}

	result, err := currentResult(dc, bindingID)
	if err != nil {
		return nil, nil, err
	}
	v, err := findWithParentAndPrototypeForContext(dc, parentValueID, p.ID, c)
	if err != nil {
		return nil, nil, err
	}
	if v == nil {
		v, err = newValue(dc, c, p.ID, parentValueID, key, result)
	} else {
		err = v.SetResult(dc, result)
	}
	if err != nil {
		return nil, nil, err
	}
	dc.Telemetry().Metrics.RecordAttributeWrite("prototype_updated")
	return p, v, nil
}

// SetFuncBinding rebinds the prototype in place. Its context and key do not change.
func (p *Prototype) SetFuncBinding(dc *dal.Context, funcID, bindingID string) error {
	p.FuncID = funcID
	p.FuncBindingID = bindingID
	return prototypeTable.Save(dc, p)
}

// Delete soft-deletes the prototype.
func (p *Prototype) Delete(dc *dal.Context) error {
	return prototypeTable.Delete(dc, p)
}

// GetPrototype returns the prototype with id.
func GetPrototype(dc *dal.Context, id string) (*Prototype, error) {
	return prototypeTable.Get(dc, id)
}

// FindPrototypeForContext returns the prototype stored at exactly c for key and parent.
func FindPrototypeForContext(dc *dal.Context, c Context, key, parentValueID string) (*Prototype, error) {
	where, args := c.exact()
	p, err := prototypeTable.Find(dc, where+" AND m.attribute_key = ? AND m.parent_attribute_value_id = ? ORDER BY m.created_at",
		append(args, key, parentValueID)...)
	if engine.IsNotFound(err) {
		return nil, engine.NewNotFoundError("attribute prototype", fmt.Sprintf("%s key=%q parent=%q", c, key, parentValueID))
	}
	return p, err
}

// FindPrototypeWithParentAndKeyForContext walks from c toward its least specific
// context and returns the first prototype for key under parent.
func FindPrototypeWithParentAndKeyForContext(dc *dal.Context, parentValueID, key string, c Context) (*Prototype, error) {
	for _, level := range c.Walk() {
		parent, found, err := translateParent(dc, parentValueID, level)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		p, err := FindPrototypeForContext(dc, level, key, parent)
		if engine.IsNotFound(err) {
			continue
		}
		return p, err
	}
	return nil, engine.NewNotFoundError("attribute prototype", fmt.Sprintf("%s key=%q parent=%q", c, key, parentValueID))
}

// ListPrototypesForContext returns the prototypes of c's prop at c and at every less
// specific context, most specific first.
func ListPrototypesForContext(dc *dal.Context, c Context) ([]*Prototype, error) {
	var out []*Prototype
	for _, level := range c.Walk() {
		where, args := level.exact()
		protos, err := prototypeTable.List(dc, where+" ORDER BY m.attribute_key, m.created_at", args...)
		if err != nil {
			return nil, err
		}
		out = append(out, protos...)
	}
	return out, nil
}

// Values returns the prototype's values at every context.
func (p *Prototype) Values(dc *dal.Context) ([]*Value, error) {
	return valueTable.List(dc, "m.attribute_prototype_id = ? ORDER BY m.created_at", p.ID)
}
