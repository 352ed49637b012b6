package component

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Tensibai/si/pkg/attribute"
	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/edge"
	"github.com/Tensibai/si/pkg/engine"
	"github.com/Tensibai/si/pkg/funcs"
	"github.com/Tensibai/si/pkg/schema"
	"github.com/Tensibai/si/pkg/telemetry"
)

// Stage is a step of an edit-field write. A failed write reports the last stage it
// completed in the error's "stage" detail.
type Stage string

const (
	StageRequested            Stage = "requested"
	StageValueResolved        Stage = "value_resolved"
	StageValidated            Stage = "validated"
	StageCodeGenerated        Stage = "code_generated"
	StageQualificationChecked Stage = "qualification_checked"
	StageDone                 Stage = "done"
)

// EditResult is the outcome of an edit-field write.
type EditResult struct {
	Value   json.RawMessage `json:"value"`
	ValueID string          `json:"attribute_value_id"`
	Created bool            `json:"created"`
	Stage   Stage           `json:"stage"`
}

// ResolveAttribute sets (or, for a nil value, unsets) prop for the component under the
// parent value and key, then adjusts ancestors: a set child makes an unset container
// parent empty, and unsetting the last set child unsets the parent. It returns the
// resolved value, the value id and whether a new function binding was created.
func (c *Component) ResolveAttribute(dc *dal.Context, prop *schema.Prop, value json.RawMessage, parentValueID, key, systemID string) (json.RawMessage, string, bool, error) {
	depth := 0
	resolved, valueID, created, err := c.resolveAttribute(dc, prop, value, parentValueID, key, systemID, &depth)
	if err == nil {
		dc.Telemetry().Metrics.ObserveCascadeDepth(depth)
	}
	return resolved, valueID, created, err
}

func (c *Component) resolveAttribute(dc *dal.Context, prop *schema.Prop, value json.RawMessage, parentValueID, key, systemID string, depth *int) (_ json.RawMessage, _ string, _ bool, err error) {
	tel := dc.Telemetry()
	_, span := tel.Tracer.StartResolveSpan(dc, c.ID, prop.ID)
	defer func() { telemetry.EndSpan(span, err) }()

	unset := schema.IsUnset(value)
	fn, binding, created, err := c.bindingFor(dc, prop, value)
	if err != nil {
		return nil, "", false, err
	}

	_, v, err := attribute.UpsertForContext(dc, c.attributeContext(prop.ID), fn.ID, binding.ID, key, parentValueID)
	if err != nil {
		return nil, "", false, err
	}
	resolved, err := v.Get(dc)
	if err != nil {
		return nil, "", false, err
	}

	op := "set"
	if unset {
		op = "unset"
	}
	tel.Metrics.RecordAttributeWrite(op)
	_ = tel.Events.PublishAttributeResolved(c.ID, prop.ID, v.ID, created)
	dc.Log().WithComponentID(c.ID).WithPropID(prop.ID).WithFields(map[string]interface{}{
		"func":       fn.Name,
		"key":        key,
		"created":    created,
		"value_id":   v.ID,
		"system_id":  systemID,
		"cascade_at": *depth,
	}).Debug("attribute resolved")

	if parentValueID != "" {
		if err := c.cascade(dc, prop, v, unset, systemID, depth); err != nil {
			return nil, "", false, err
		}
	}
	return resolved, v.ID, created, nil
}

// bindingFor picks the function and binding producing value for prop. A set value
// goes through the kind's setter. An unset value reuses the prop's default binding,
// falling back to si:unset.
func (c *Component) bindingFor(dc *dal.Context, prop *schema.Prop, value json.RawMessage) (*funcs.Func, *funcs.FuncBinding, bool, error) {
	if !schema.IsUnset(value) {
		if err := prop.Kind.CheckValue(value); err != nil {
			return nil, nil, false, err
		}
		fn, err := funcs.FindByName(dc, prop.Kind.Setter())
		if err != nil {
			return nil, nil, false, err
		}
		b, _, created, err := funcs.FindOrCreateAndExecute(dc, map[string]json.RawMessage{"value": value}, fn.ID, fn.BackendKind)
		if err != nil {
			return nil, nil, false, err
		}
		return fn, b, created, nil
	}

	proto, err := prop.DefaultPrototype(dc)
	switch {
	case err == nil:
		b, err := funcs.GetBinding(dc, proto.FuncBindingID)
		if err != nil {
			return nil, nil, false, err
		}
		fn, err := b.Func(dc)
		if err != nil {
			return nil, nil, false, err
		}
		if _, err := b.ReturnValue(dc); engine.IsNotFound(err) {
			if _, err := b.Execute(dc); err != nil {
				return nil, nil, false, err
			}
		} else if err != nil {
			return nil, nil, false, err
		}
		return fn, b, false, nil
	case !engine.IsNotFound(err):
		return nil, nil, false, err
	}

	fn, err := funcs.FindByName(dc, funcs.Unset)
	if err != nil {
		return nil, nil, false, err
	}
	b, _, created, err := funcs.FindOrCreateAndExecute(dc, nil, fn.ID, fn.BackendKind)
	if err != nil {
		return nil, nil, false, err
	}
	return fn, b, created, nil
}

// cascade adjusts the parent of a value that was just written.
func (c *Component) cascade(dc *dal.Context, prop *schema.Prop, v *attribute.Value, unset bool, systemID string, depth *int) error {
	parentProp, err := prop.Parent(dc)
	if err != nil || parentProp == nil {
		return err
	}
	parentValue, err := attribute.GetValue(dc, v.ParentValueID)
	if err != nil {
		return err
	}
	current, err := parentValue.Get(dc)
	if err != nil {
		return err
	}

	var desired json.RawMessage
	if unset {
		if schema.IsUnset(current) {
			return nil
		}
		set, err := anySiblingSet(dc, parentValue, v.ID)
		if err != nil || set {
			return err
		}
	} else {
		desired = parentProp.Kind.Empty()
		if desired == nil || sameJSON(current, desired) {
			return nil
		}
	}

	*depth++
	_, _, _, err = c.resolveAttribute(dc, parentProp, desired, parentValue.ParentValueID, parentValue.Key, systemID, depth)
	return err
}

// sameJSON reports whether a and b encode the same document, ignoring whitespace.
func sameJSON(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return false
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}

// anySiblingSet reports whether a child of parent other than exceptID holds a value.
func anySiblingSet(dc *dal.Context, parent *attribute.Value, exceptID string) (bool, error) {
	children, err := parent.ListChildValues(dc)
	if err != nil {
		return false, err
	}
	for _, child := range children {
		if child.ID == exceptID {
			continue
		}
		raw, err := child.Get(dc)
		if err != nil {
			return false, err
		}
		if !schema.IsUnset(raw) {
			return true, nil
		}
	}
	return false, nil
}

// UpdatePropFromEditField writes a value for the component's prop and runs the passes
// that depend on it, in the production system. A nil value unsets the prop.
func UpdatePropFromEditField(dc *dal.Context, componentID, propID string, value json.RawMessage, key string) (*EditResult, error) {
	result := &EditResult{Stage: StageRequested}
	fail := func(err error) (*EditResult, error) {
		return result, atStage(err, result.Stage)
	}

	c, err := Get(dc, componentID)
	if err != nil {
		return fail(err)
	}
	system, err := edge.FindSystemByName(dc, edge.ProductionSystem)
	if err != nil {
		return fail(err)
	}
	prop, err := schema.GetProp(dc, propID)
	if err != nil {
		return fail(err)
	}
	if prop.SchemaVariantID != c.SchemaVariantID {
		return fail(engine.NewNotFoundError("prop", propID).WithDetail("schema_variant_id", c.SchemaVariantID))
	}
	parent, err := c.parentValueID(dc, prop)
	if err != nil {
		return fail(err)
	}

	if result.Value, result.ValueID, result.Created, err = c.ResolveAttribute(dc, prop, value, parent, key, system.ID); err != nil {
		return fail(err)
	}
	result.Stage = StageValueResolved

	if err := c.CheckValidations(dc, system.ID); err != nil {
		return fail(err)
	}
	result.Stage = StageValidated

	if err := c.GenerateCode(dc, system.ID); err != nil {
		return fail(err)
	}
	result.Stage = StageCodeGenerated

	if err := c.CheckQualifications(dc, system.ID); err != nil {
		return fail(err)
	}
	result.Stage = StageQualificationChecked

	result.Stage = StageDone
	return result, nil
}

// atStage records the last completed stage on err.
func atStage(err error, stage Stage) error {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		return ee.WithDetail("stage", string(stage))
	}
	return engine.NewPermanentError(fmt.Sprintf("edit field failed after %s", stage), err).
		WithCode(engine.ErrCodeInternal).WithDetail("stage", string(stage))
}

// FindPropByJSONPointer returns the component's prop addressed by pointer.
func FindPropByJSONPointer(dc *dal.Context, componentID, pointer string) (*schema.Prop, error) {
	c, err := Get(dc, componentID)
	if err != nil {
		return nil, err
	}
	return schema.FindPropByJSONPointer(dc, c.SchemaVariantID, pointer)
}

// FindPropValueByJSONPointer returns the component's resolved value at pointer. A prop
// or value that does not exist yields nil.
func FindPropValueByJSONPointer(dc *dal.Context, componentID, pointer string) (json.RawMessage, error) {
	c, err := Get(dc, componentID)
	if err != nil {
		return nil, err
	}
	prop, err := schema.FindPropByJSONPointer(dc, c.SchemaVariantID, pointer)
	if err == nil {
		var v *attribute.Value
		if v, err = c.valueForProp(dc, prop); err == nil {
			return v.Get(dc)
		}
	}
	if engine.IsNotFound(err) {
		dc.Log().WithComponentID(componentID).WithError(err).WithField("pointer", pointer).Debug("no value at pointer")
		return nil, nil
	}
	return nil, err
}

// SetPropValueByJSONPointer runs UpdatePropFromEditField for the prop at pointer.
func SetPropValueByJSONPointer(dc *dal.Context, componentID, pointer string, value json.RawMessage) (*EditResult, error) {
	prop, err := FindPropByJSONPointer(dc, componentID, pointer)
	if err != nil {
		return &EditResult{Stage: StageRequested}, atStage(err, StageRequested)
	}
	return UpdatePropFromEditField(dc, componentID, prop.ID, value, "")
}

// SetEntry writes the entry key of the map or array prop at pointer.
func SetEntry(dc *dal.Context, componentID, pointer, key string, value json.RawMessage) (*EditResult, error) {
	container, err := FindPropByJSONPointer(dc, componentID, pointer)
	if err != nil {
		return &EditResult{Stage: StageRequested}, atStage(err, StageRequested)
	}
	if container.Kind != schema.PropKindMap && container.Kind != schema.PropKindArray {
		return &EditResult{Stage: StageRequested},
			atStage(engine.NewInvalidValueError("map or array prop", string(container.Kind)), StageRequested)
	}
	children, err := container.Children(dc)
	if err != nil {
		return &EditResult{Stage: StageRequested}, atStage(err, StageRequested)
	}
	if len(children) == 0 {
		return &EditResult{Stage: StageRequested},
			atStage(engine.NewNotFoundError("prop", pointer+"/entry"), StageRequested)
	}
	return UpdatePropFromEditField(dc, componentID, children[0].ID, value, key)
}
