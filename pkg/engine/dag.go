package engine

import (
	"fmt"
	"sort"
	"strings"
)

// GraphUnit is one vertex handed to the DAG builder. DependsOn lists the ids that must
// be processed before it.
type GraphUnit struct {
	ID        string
	Label     string
	DependsOn []string
}

// ExecutionGraph is a built DAG. Units on the same level do not depend on each other.
type ExecutionGraph struct {
	Nodes  map[string]*GraphNode
	Levels [][]string
	Roots  []string
}

// GraphNode is a unit placed in the graph.
type GraphNode struct {
	ID           string
	Label        string
	Level        int
	Dependencies []string
	Dependents   []string
}

// Order flattens the levels into one processing order.
func (g *ExecutionGraph) Order() []string {
	var out []string
	for _, level := range g.Levels {
		out = append(out, level...)
	}
	return out
}

// DAGBuilder builds a directed acyclic graph from units and assigns levels with a
// topological sort.
type DAGBuilder struct {
	units map[string]*GraphUnit

	// adjacencyList maps unit IDs to their dependents
	adjacencyList map[string][]string

	// reverseAdjacencyList maps unit IDs to their dependencies
	reverseAdjacencyList map[string][]string

	inDegree map[string]int
	levels   [][]string
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		units:                make(map[string]*GraphUnit),
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
	}
}

// BuildGraph validates the units, rejects cycles and computes the levels. Ids inside a
// level are sorted so the result is stable.
func (b *DAGBuilder) BuildGraph(units []GraphUnit) (*ExecutionGraph, error) {
	if len(units) == 0 {
		return &ExecutionGraph{Nodes: make(map[string]*GraphNode)}, nil
	}
	if err := b.initialize(units); err != nil {
		return nil, err
	}
	if err := b.detectCycles(); err != nil {
		return nil, err
	}
	if err := b.computeLevels(); err != nil {
		return nil, err
	}
	return b.buildExecutionGraph(), nil
}

func (b *DAGBuilder) initialize(units []GraphUnit) error {
	for i := range units {
		unit := &units[i]
		if unit.ID == "" {
			return NewPermanentError("graph unit has empty ID", nil).
				WithCode(ErrCodeValidation)
		}
		if _, exists := b.units[unit.ID]; exists {
			return NewPermanentError(fmt.Sprintf("duplicate graph unit ID: %s", unit.ID), nil).
				WithCode(ErrCodeValidation)
		}
		b.units[unit.ID] = unit
		b.adjacencyList[unit.ID] = nil
		b.reverseAdjacencyList[unit.ID] = nil
		b.inDegree[unit.ID] = 0
	}

	for _, id := range b.sortedIDs() {
		unit := b.units[id]
		seen := make(map[string]bool, len(unit.DependsOn))
		for _, target := range unit.DependsOn {
			if seen[target] {
				continue
			}
			seen[target] = true
			if _, exists := b.units[target]; !exists {
				return NewPermanentError(
					fmt.Sprintf("unit %s depends on non-existent unit %s", unit.ID, target),
					nil,
				).WithCode(ErrCodeValidation).WithResource(unit.ID)
			}
			b.adjacencyList[target] = append(b.adjacencyList[target], unit.ID)
			b.reverseAdjacencyList[unit.ID] = append(b.reverseAdjacencyList[unit.ID], target)
			b.inDegree[unit.ID]++
		}
	}
	return nil
}

func (b *DAGBuilder) sortedIDs() []string {
	ids := make([]string, 0, len(b.units))
	for id := range b.units {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// detectCycles uses depth-first search to find a circular dependency.
func (b *DAGBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, id := range b.sortedIDs() {
		if visited[id] {
			continue
		}
		if cycle := b.detectCyclesUtil(id, visited, recStack, nil); cycle != nil {
			return NewPermanentError(
				fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " -> ")),
				nil,
			).WithCode(ErrCodeValidation).WithDetail("cycle", cycle)
		}
	}
	return nil
}

func (b *DAGBuilder) detectCyclesUtil(nodeID string, visited, recStack map[string]bool, path []string) []string {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	for _, dependent := range b.adjacencyList[nodeID] {
		if !visited[dependent] {
			if cycle := b.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, id := range path {
				if id == dependent {
					return append(append([]string{}, path[i:]...), dependent)
				}
			}
		}
	}

	recStack[nodeID] = false
	return nil
}

// computeLevels runs Kahn's algorithm, keeping one level per round.
func (b *DAGBuilder) computeLevels() error {
	inDegree := make(map[string]int, len(b.inDegree))
	for id, degree := range b.inDegree {
		inDegree[id] = degree
	}

	var current []string
	for _, id := range b.sortedIDs() {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	processed := 0
	for len(current) > 0 {
		b.levels = append(b.levels, current)
		processed += len(current)

		var next []string
		for _, id := range current {
			for _, dependent := range b.adjacencyList[id] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	if processed != len(b.units) {
		return NewPermanentError("failed to process all units - possible cycle", nil).
			WithCode(ErrCodeInternal)
	}
	return nil
}

func (b *DAGBuilder) buildExecutionGraph() *ExecutionGraph {
	graph := &ExecutionGraph{
		Nodes:  make(map[string]*GraphNode, len(b.units)),
		Levels: b.levels,
	}
	for level, ids := range b.levels {
		for _, id := range ids {
			graph.Nodes[id] = &GraphNode{
				ID:           id,
				Label:        b.units[id].Label,
				Level:        level,
				Dependencies: b.reverseAdjacencyList[id],
				Dependents:   b.adjacencyList[id],
			}
			if level == 0 {
				graph.Roots = append(graph.Roots, id)
			}
		}
	}
	return graph
}

// GetLevels returns the computed levels.
func (b *DAGBuilder) GetLevels() [][]string {
	return b.levels
}

// ToDOT renders the graph in Graphviz DOT format, one cluster per level.
func (b *DAGBuilder) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph G {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range b.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, id := range ids {
			label := b.units[id].Label
			if label == "" {
				label = id
			}
			sb.WriteString(fmt.Sprintf("    %q [label=%q];\n", id, label))
		}
		sb.WriteString("  }\n\n")
	}

	for _, id := range b.sortedIDs() {
		for _, dependent := range b.adjacencyList[id] {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", id, dependent))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
