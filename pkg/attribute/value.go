package attribute

import (
	"encoding/json"
	"fmt"

	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/funcs"
)

// Result is what a value holds: a Direct result or a Proxy to another value.
type Result interface {
	isResult()
}

// Direct holds the value's own function result. An empty ReturnValueID means the
// binding has not produced a result yet.
type Direct struct {
	ReturnValueID string
}

// Proxy forwards to a less specific value.
type Proxy struct {
	TargetID string
}

func (Direct) isResult() {}
func (Proxy) isResult()  {}

// Value is the materialized node for one prototype under one parent value.
type Value struct {
	dal.Standard
	PrototypeID   string  `json:"attribute_prototype_id"`
	ParentValueID string  `json:"parent_attribute_value_id,omitempty"`
	Key           string  `json:"key,omitempty"`
	Context       Context `json:"context"`

	// Exactly one of these is set, or neither for an empty Direct result.
	returnValueID string
	proxyForID    string
}

var valueTable = dal.Table[Value]{
	Name: "attribute_values",
	Kind: "attribute value",
	Columns: append([]string{
		"attribute_prototype_id",
		"parent_attribute_value_id",
		"attribute_key",
		"func_binding_return_value_id",
		"proxy_for_attribute_value_id",
	}, contextColumns...),
	Std: func(v *Value) *dal.Standard { return &v.Standard },
	Values: func(v *Value) []any {
		return append([]any{v.PrototypeID, v.ParentValueID, v.Key, v.returnValueID, v.proxyForID},
			v.Context.values()...)
	},
	Dest: func(v *Value) []any {
		return append([]any{&v.PrototypeID, &v.ParentValueID, &v.Key, &v.returnValueID, &v.proxyForID},
			v.Context.dest()...)
	},
}

// MarshalJSON includes the result columns in change notifications.
func (v Value) MarshalJSON() ([]byte, error) {
	type plain Value
	return json.Marshal(struct {
		plain
		ReturnValueID string `json:"func_binding_return_value_id,omitempty"`
		ProxyForID    string `json:"proxy_for_attribute_value_id,omitempty"`
	}{plain(v), v.returnValueID, v.proxyForID})
}

// Result returns the value's result.
func (v *Value) Result() Result {
	if v.proxyForID != "" {
		return Proxy{TargetID: v.proxyForID}
	}
	return Direct{ReturnValueID: v.returnValueID}
}

// IsProxy reports whether the value forwards to another value.
func (v *Value) IsProxy() bool {
	return v.proxyForID != ""
}

func (v *Value) setResult(r Result) {
	switch r := r.(type) {
	case Proxy:
		v.proxyForID, v.returnValueID = r.TargetID, ""
	case Direct:
		v.proxyForID, v.returnValueID = "", r.ReturnValueID
	}
}

// newValue persists a value at c.
func newValue(dc *dal.Context, c Context, prototypeID, parentValueID, key string, r Result) (*Value, error) {
	v := &Value{
		Standard:      dal.NewStandard(dc),
		PrototypeID:   prototypeID,
		ParentValueID: parentValueID,
		Key:           key,
		Context:       c,
	}
	v.setResult(r)
	if err := valueTable.Save(dc, v); err != nil {
		return nil, err
	}
	return v, nil
}

// SetResult replaces the value's result.
func (v *Value) SetResult(dc *dal.Context, r Result) error {
	v.setResult(r)
	return valueTable.Save(dc, v)
}

// SetPrototype moves the value under another prototype.
func (v *Value) SetPrototype(dc *dal.Context, prototypeID string) error {
	v.PrototypeID = prototypeID
	return valueTable.Save(dc, v)
}

// Delete soft-deletes the value.
func (v *Value) Delete(dc *dal.Context) error {
	return valueTable.Delete(dc, v)
}

// GetValue returns the value with id.
func GetValue(dc *dal.Context, id string) (*Value, error) {
	return valueTable.Get(dc, id)
}

// FindValueForContext returns the value of c's prop stored at exactly c under parent
// with key.
func FindValueForContext(dc *dal.Context, c Context, key, parentValueID string) (*Value, error) {
	where, args := c.exact()
	v, err := valueTable.Find(dc, where+" AND m.attribute_key = ? AND m.parent_attribute_value_id = ? ORDER BY m.created_at",
		append(args, key, parentValueID)...)
	if engine.IsNotFound(err) {
		return nil, engine.NewNotFoundError("attribute value", fmt.Sprintf("%s key=%q parent=%q", c, key, parentValueID))
	}
	return v, err
}

// ListValuesForContext returns every value stored at exactly c.
func ListValuesForContext(dc *dal.Context, c Context) ([]*Value, error) {
	where, args := c.exact()
	return valueTable.List(dc, where+" ORDER BY m.created_at", args...)
}

// findWithParentAndPrototypeForContext returns the value of a prototype stored at
// exactly c under parent, or nil.
func findWithParentAndPrototypeForContext(dc *dal.Context, parentValueID, prototypeID string, c Context) (*Value, error) {
	where, args := c.exact()
	values, err := valueTable.List(dc, where+" AND m.attribute_prototype_id = ? AND m.parent_attribute_value_id = ? ORDER BY m.created_at",
		append(args, prototypeID, parentValueID)...)
	if err != nil || len(values) == 0 {
		return nil, err
	}
	return values[0], nil
}

// translateParent returns the value standing, at c's level, for the parent value
// parentValueID: the value with the same prop and key whose own parent is the
// translated grandparent. found is false when the level has no such value.
func translateParent(dc *dal.Context, parentValueID string, c Context) (string, bool, error) {
	if parentValueID == "" {
		return "", true, nil
	}
	parent, err := GetValue(dc, parentValueID)
	if err != nil {
		return "", false, err
	}
	level := c
	level.PropID = parent.Context.PropID
	if parent.Context == level {
		return parentValueID, true, nil
	}
	grand, found, err := translateParent(dc, parent.ParentValueID, c)
	if err != nil || !found {
		return "", found, err
	}
	v, err := FindValueForContext(dc, level, parent.Key, grand)
	if engine.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v.ID, true, nil
}

// FindValueWithParentAndKeyForContext walks from c toward its least specific context
// and returns the first value of c's prop under parent with key. The parent is
// translated to each level it is looked up at.
func FindValueWithParentAndKeyForContext(dc *dal.Context, parentValueID, key string, c Context) (*Value, error) {
	for _, level := range c.Walk() {
		parent, found, err := translateParent(dc, parentValueID, level)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		v, err := FindValueForContext(dc, level, key, parent)
		if engine.IsNotFound(err) {
			continue
		}
		return v, err
	}
	return nil, engine.NewNotFoundError("attribute value", fmt.Sprintf("%s key=%q parent=%q", c, key, parentValueID))
}

// ListChildValues returns the values whose parent is v, ordered by key.
func (v *Value) ListChildValues(dc *dal.Context) ([]*Value, error) {
	return valueTable.List(dc, "m.parent_attribute_value_id = ? ORDER BY m.attribute_key, m.created_at", v.ID)
}

// Resolve follows proxies and returns the value holding the Direct result.
func (v *Value) Resolve(dc *dal.Context) (*Value, error) {
	seen := map[string]bool{}
	current := v
	for current.IsProxy() {
		if seen[current.ID] {
			return nil, engine.NewPermanentError("attribute value proxy cycle", nil).
				WithCode(engine.ErrCodeInternal).WithResource(v.ID)
		}
		seen[current.ID] = true
		next, err := GetValue(dc, current.proxyForID)
		if err != nil {
			return nil, err
		}
		current = next
	}
	return current, nil
}

// ReturnValue resolves v and returns the function result it points at. An empty Direct
// result yields a NotFound error.
func (v *Value) ReturnValue(dc *dal.Context) (*funcs.FuncBindingReturnValue, error) {
	direct, err := v.Resolve(dc)
	if err != nil {
		return nil, err
	}
	if direct.returnValueID == "" {
		return nil, engine.NewNotFoundError("func binding return value", "").WithResource(direct.ID)
	}
	return funcs.GetReturnValue(dc, direct.returnValueID)
}

// Get returns v's resolved JSON. Unset values and values without a result yield nil.
func (v *Value) Get(dc *dal.Context) (json.RawMessage, error) {
	rv, err := v.ReturnValue(dc)
	if engine.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rv.Value, nil
}

// ResolveForContext finds the value applying at c under parent with key and returns its
// resolved JSON.
func ResolveForContext(dc *dal.Context, parentValueID, key string, c Context) (json.RawMessage, *Value, error) {
	v, err := FindValueWithParentAndKeyForContext(dc, parentValueID, key, c)
	if err != nil {
		return nil, nil, err
	}
	raw, err := v.Get(dc)
	if err != nil {
		return nil, nil, err
	}
	return raw, v, nil
}

// DeleteForComponent soft-deletes the prototypes and values stored at a context of the
// component. It returns how many records were deleted.
func DeleteForComponent(dc *dal.Context, componentID string) (int, error) {
	values, err := valueTable.List(dc, "m.attribute_context_component_id = ? ORDER BY m.created_at", componentID)
	if err != nil {
		return 0, err
	}
	for _, v := range values {
		if err := v.Delete(dc); err != nil {
			return 0, err
		}
	}
	protos, err := prototypeTable.List(dc, "m.attribute_context_component_id = ? ORDER BY m.created_at", componentID)
	if err != nil {
		return 0, err
	}
	for _, p := range protos {
		if err := p.Delete(dc); err != nil {
			return 0, err
		}
	}
	return len(values) + len(protos), nil
}
