package component

import (
	"github.com/Tensibai/si/pkg/dal"
	"github.com/Tensibai/si/pkg/edge"
	"github.com/Tensibai/si/pkg/engine"
)

// ConfigurationGraph places every visible component in a DAG where configuration
// parents precede the components they configure. The builder is returned for DOT
// rendering.
func ConfigurationGraph(dc *dal.Context) (*engine.ExecutionGraph, *engine.DAGBuilder, error) {
	components, err := List(dc)
	if err != nil {
		return nil, nil, err
	}
	visible := make(map[string]bool, len(components))
	for _, c := range components {
		visible[c.ID] = true
	}

	units := make([]engine.GraphUnit, 0, len(components))
	for _, c := range components {
		parents, err := edge.FindComponentConfigurationParents(dc, c.ID)
		if err != nil {
			return nil, nil, err
		}
		unit := engine.GraphUnit{ID: c.ID, Label: c.Name}
		for _, p := range parents {
			if visible[p] {
				unit.DependsOn = append(unit.DependsOn, p)
			}
		}
		units = append(units, unit)
	}

	builder := engine.NewDAGBuilder()
	graph, err := builder.BuildGraph(units)
	if err != nil {
		return nil, nil, err
	}
	return graph, builder, nil
}

// RequalifyAll reruns the validation, code generation and qualification passes of every
// visible component, configuration parents first. When configures edges form a cycle
// the components run in name order instead. It returns the ids in the order run.
func RequalifyAll(dc *dal.Context, systemID string) ([]string, error) {
	log := dc.Log().NewComponentLogger("component")

	var order []string
	graph, _, err := ConfigurationGraph(dc)
	switch {
	case err == nil:
		order = graph.Order()
	case engine.HasCode(err, engine.ErrCodeValidation):
		log.WithError(err).Warn("configuration graph has a cycle, running in name order")
		components, err := List(dc)
		if err != nil {
			return nil, err
		}
		for _, c := range components {
			order = append(order, c.ID)
		}
	default:
		return nil, err
	}

	for _, id := range order {
		c, err := Get(dc, id)
		if err != nil {
			return nil, err
		}
		if err := c.CheckValidations(dc, systemID); err != nil {
			return nil, atStage(err, StageValueResolved)
		}
		if err := c.GenerateCode(dc, systemID); err != nil {
			return nil, atStage(err, StageValidated)
		}
		if err := c.CheckQualifications(dc, systemID); err != nil {
			return nil, atStage(err, StageCodeGenerated)
		}
	}
	log.WithField("components", len(order)).Debug("requalified components")
	return order, nil
}
