package component

import (
	"fmt"
	"strings"

	"github.com/Tensibai/si/pkg/checks"
	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/edge"
	"github.com/Tensibai/si/pkg/funcs"
	"github.com/Tensibai/si/pkg/schema"
	"github.com/Tensibai/si/pkg/telemetry"
)

// AllFieldsValidTitle titles the qualification summarizing validation results.
const AllFieldsValidTitle = "All Fields Valid"

// QualificationView is one entry of a component's qualification list. Result is nil
// while the qualification has not run.
type QualificationView struct {
	Title       string                     `json:"title"`
	Description string                     `json:"description,omitempty"`
	Link        string                     `json:"link,omitempty"`
	PrototypeID string                     `json:"prototype_id,omitempty"`
	Output      []string                   `json:"output,omitempty"`
	Result      *funcs.QualificationResult `json:"result"`
}

// passArgs builds the arguments one prototype runs with.
type passArgs func(p *checks.Prototype) (map[string]any, error)

// runPass executes every prototype with its arguments and points the component's
// resolvers at the resulting bindings.
func (c *Component) runPass(dc *dal.Context, kind checks.Kind, eventType, systemID string, protos []*checks.Prototype, args passArgs) (err error) {
	tel := dc.Telemetry()
	_, span := tel.Tracer.StartPassSpan(dc, string(kind), c.ID)
	defer func() {
		status := "success"
		if err != nil {
			status = "failure"
		}
		tel.Metrics.RecordPass(string(kind), status)
		telemetry.EndSpan(span, err)
	}()

	for _, p := range protos {
		fn, err := funcs.GetFunc(dc, p.FuncID)
		if err != nil {
			return err
		}
		a, err := args(p)
		if err != nil {
			return err
		}
		b, _, _, err := funcs.FindOrCreateAndExecute(dc, a, fn.ID, fn.BackendKind)
		if err != nil {
			return err
		}
		if _, err := checks.UpsertResolver(dc, p, b, c.ID, systemID); err != nil {
			return err
		}
	}

	_ = tel.Events.PublishPassChecked(eventType, c.ID, systemID, len(protos))
	dc.Log().WithComponentID(c.ID).WithField("pass", string(kind)).Debugf("%d prototypes run", len(protos))
	return nil
}

func (c *Component) passContext(systemID string) checks.Context {
	return checks.Context{
		SchemaID:        c.SchemaID,
		SchemaVariantID: c.SchemaVariantID,
		ComponentID:     c.ID,
		SystemID:        systemID,
	}
}

// CheckValidations runs the validation prototypes of every prop against the prop's
// current value.
func (c *Component) CheckValidations(dc *dal.Context, systemID string) error {
	protos, err := checks.ListPrototypes(dc, checks.KindValidation, c.passContext(systemID))
	if err != nil {
		return err
	}
	props := map[string]*schema.Prop{}
	return c.runPass(dc, checks.KindValidation, telemetry.EventTypeValidationChecked, systemID, protos,
		func(p *checks.Prototype) (map[string]any, error) {
			prop, ok := props[p.Context.PropID]
			if !ok {
				var err error
				if prop, err = schema.GetProp(dc, p.Context.PropID); err != nil {
					return nil, err
				}
				props[prop.ID] = prop
			}
			v, err := c.valueForProp(dc, prop)
			if err != nil {
				return nil, err
			}
			current, err := v.Get(dc)
			if err != nil {
				return nil, err
			}
			return p.MergeArgs(map[string]any{"value": current})
		})
}

// GenerateCode runs the code generation prototypes against the component's view.
func (c *Component) GenerateCode(dc *dal.Context, systemID string) error {
	protos, err := checks.ListPrototypes(dc, checks.KindCodeGeneration, c.passContext(systemID))
	if err != nil || len(protos) == 0 {
		return err
	}
	view, err := c.View(dc, systemID)
	if err != nil {
		return err
	}
	return c.runPass(dc, checks.KindCodeGeneration, telemetry.EventTypeCodeGenerated, systemID, protos,
		func(p *checks.Prototype) (map[string]any, error) {
			return p.MergeArgs(map[string]any{"component": view})
		})
}

// CheckQualifications runs the qualification prototypes against the component's view,
// the views of the components configuring it and its generated code.
func (c *Component) CheckQualifications(dc *dal.Context, systemID string) error {
	protos, err := checks.ListPrototypes(dc, checks.KindQualification, c.passContext(systemID))
	if err != nil || len(protos) == 0 {
		return err
	}
	view, err := c.View(dc, systemID)
	if err != nil {
		return err
	}
	codes, err := c.ListCodeGenerated(dc, systemID)
	if err != nil {
		return err
	}
	parentIDs, err := edge.FindComponentConfigurationParents(dc, c.ID)
	if err != nil {
		return err
	}
	parents := make([]*View, 0, len(parentIDs))
	for _, id := range parentIDs {
		parent, err := Get(dc, id)
		if err != nil {
			return err
		}
		pv, err := parent.View(dc, systemID)
		if err != nil {
			return err
		}
		parents = append(parents, pv)
	}

	input := map[string]any{"data": view, "codes": codes, "parents": parents}
	return c.runPass(dc, checks.KindQualification, telemetry.EventTypeQualificationChecked, systemID, protos,
		func(p *checks.Prototype) (map[string]any, error) {
			return p.MergeArgs(map[string]any{"component": input})
		})
}

// ListCodeGenerated returns the code last generated for the component.
func (c *Component) ListCodeGenerated(dc *dal.Context, systemID string) ([]*funcs.CodeGenerated, error) {
	resolvers, err := checks.ListResolvers(dc, checks.KindCodeGeneration, c.ID, systemID)
	if err != nil {
		return nil, err
	}
	out := make([]*funcs.CodeGenerated, 0, len(resolvers))
	for _, r := range resolvers {
		rv, err := r.ReturnValue(dc)
		if err != nil {
			return nil, err
		}
		if rv.IsUnset() {
			continue
		}
		code := &funcs.CodeGenerated{}
		if err := rv.Decode(code); err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, nil
}

// ListQualifications returns the component's qualifications. The first entry always
// summarizes the validations; prototypes that have not run yet appear without result.
func (c *Component) ListQualifications(dc *dal.Context, systemID string) ([]*QualificationView, error) {
	summary, err := c.validationSummary(dc, systemID)
	if err != nil {
		return nil, err
	}
	out := []*QualificationView{summary}

	resolvers, err := checks.ListResolvers(dc, checks.KindQualification, c.ID, systemID)
	if err != nil {
		return nil, err
	}
	if len(resolvers) == 0 {
		protos, err := checks.ListPrototypes(dc, checks.KindQualification, c.passContext(systemID))
		if err != nil {
			return nil, err
		}
		for _, p := range protos {
			out = append(out, qualificationView(p))
		}
		return out, nil
	}

	for _, r := range resolvers {
		p, err := r.Prototype(dc)
		if err != nil {
			return nil, err
		}
		rv, err := r.ReturnValue(dc)
		if err != nil {
			return nil, err
		}
		qv := qualificationView(p)
		qv.Output = rv.Output
		if !rv.IsUnset() {
			qv.Result = &funcs.QualificationResult{}
			if err := rv.Decode(qv.Result); err != nil {
				return nil, err
			}
		}
		out = append(out, qv)
	}
	return out, nil
}

func qualificationView(p *checks.Prototype) *QualificationView {
	title := p.Title
	if title == "" {
		title = p.ID
	}
	return &QualificationView{
		Title:       title,
		Description: p.Description,
		Link:        p.Link,
		PrototypeID: p.ID,
	}
}

// validationSummary folds the validation results into one qualification.
func (c *Component) validationSummary(dc *dal.Context, systemID string) (*QualificationView, error) {
	resolvers, err := checks.ListResolvers(dc, checks.KindValidation, c.ID, systemID)
	if err != nil {
		return nil, err
	}
	var messages []string
	for _, r := range resolvers {
		rv, err := r.ReturnValue(dc)
		if err != nil {
			return nil, err
		}
		if rv.IsUnset() {
			continue
		}
		var errs []funcs.ValidationError
		if err := rv.Decode(&errs); err != nil {
			return nil, err
		}
		for _, e := range errs {
			messages = append(messages, e.Message)
		}
	}

	result := &funcs.QualificationResult{Qualified: len(messages) == 0, Output: messages}
	if result.Qualified {
		result.Message = "All fields are valid"
	} else {
		result.Message = fmt.Sprintf("%d invalid fields: %s", len(messages), strings.Join(messages, "; "))
	}
	return &QualificationView{
		Title:       AllFieldsValidTitle,
		Description: "Checks that every field passes its validations",
		Output:      messages,
		Result:      result,
	}, nil
}
