package research

import (
	"errors"
	"fmt"
	"sort"

	"github.com/heimdalr/dag"

	"github.com/ekaya-inc/ekaya-finsight/pkg/models"
)

var (
	// ErrUnknownDependency is returned when a step depends on a step the plan does not contain.
	ErrUnknownDependency = errors.New("step depends on unknown step")
	// ErrDuplicateStep is returned when two steps share an id.
	ErrDuplicateStep = errors.New("duplicate step id")
)

// StepGraph is the dependency graph of a research plan. Edges run from a
// dependency to the step that needs it.
type StepGraph struct {
	dag   *dag.DAG
	order []string
	index map[string]int
}

// NewStepGraph builds the graph for steps, rejecting unknown dependencies and cycles.
func NewStepGraph(steps []*models.ResearchStep) (*StepGraph, error) {
	g := &StepGraph{
		dag:   dag.NewDAG(),
		index: make(map[string]int, len(steps)),
	}
	for i, s := range steps {
		if _, dup := g.index[s.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, s.ID)
		}
		if err := g.dag.AddVertexByID(s.ID, s); err != nil {
			return nil, fmt.Errorf("failed to add step %s: %w", s.ID, err)
		}
		g.index[s.ID] = i
		g.order = append(g.order, s.ID)
	}
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if _, ok := g.index[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownDependency, s.ID, dep)
			}
			// AddEdge rejects edges that would close a cycle.
			if err := g.dag.AddEdge(dep, s.ID); err != nil {
				return nil, fmt.Errorf("invalid dependency %s → %s: %w", dep, s.ID, err)
			}
		}
	}
	return g, nil
}

func (g *StepGraph) sorted(ids map[string]interface{}) []string {
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return g.index[out[i]] < g.index[out[j]] })
	return out
}

// Dependencies returns the direct dependencies of id in plan order.
func (g *StepGraph) Dependencies(id string) []string {
	parents, err := g.dag.GetParents(id)
	if err != nil {
		return nil
	}
	return g.sorted(parents)
}

// Ancestors returns every step id transitively depends on, in plan order.
func (g *StepGraph) Ancestors(id string) []string {
	ancestors, err := g.dag.GetAncestors(id)
	if err != nil {
		return nil
	}
	return g.sorted(ancestors)
}

// IsPathBetween reports whether to transitively depends on from.
func (g *StepGraph) IsPathBetween(from, to string) bool {
	descendants, err := g.dag.GetDescendants(from)
	if err != nil {
		return false
	}
	_, ok := descendants[to]
	return ok
}

// Independent reports whether neither step transitively depends on the other.
func (g *StepGraph) Independent(a, b string) bool {
	return a != b && !g.IsPathBetween(a, b) && !g.IsPathBetween(b, a)
}

// Levels partitions the steps by dependency depth: steps without
// dependencies are level 0 and every other step sits one level above its
// deepest dependency. Steps keep plan order within a level.
func (g *StepGraph) Levels() [][]string {
	level := make(map[string]int, len(g.order))
	var depth func(id string) int
	depth = func(id string) int {
		if l, ok := level[id]; ok {
			return l
		}
		l := 0
		for _, dep := range g.Dependencies(id) {
			if d := depth(dep) + 1; d > l {
				l = d
			}
		}
		level[id] = l
		return l
	}

	var levels [][]string
	for _, id := range g.order {
		l := depth(id)
		for len(levels) <= l {
			levels = append(levels, nil)
		}
		levels[l] = append(levels[l], id)
	}
	return levels
}
