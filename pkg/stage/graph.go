package stage

import (
	"fmt"
	"slices"
	"strings"

	"github.com/aretw0/canopy/pkg/domain"
)

// Graph is a validated, acyclic Stage Graph.
type Graph struct {
	nodes      map[string]domain.StageNode
	order      []string
	dependents map[string][]string
}

// NewGraph validates nodes and computes a deterministic topological order:
// nodes are emitted in waves of ready nodes, in declaration order within a wave.
func NewGraph(nodes ...domain.StageNode) (*Graph, error) {
	g := &Graph{
		nodes:      make(map[string]domain.StageNode, len(nodes)),
		dependents: make(map[string][]string),
	}
	declared := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("stage without an id")
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, fmt.Errorf("duplicate stage %q", n.ID)
		}
		if n.Concurrency == "" {
			n.Concurrency = domain.Parallel
		}
		g.nodes[n.ID] = n
		declared = append(declared, n.ID)
	}

	for _, id := range declared {
		n := g.nodes[id]
		if err := g.validateEdges(n); err != nil {
			return nil, err
		}
		for _, dep := range n.DependsOn {
			g.dependents[dep] = append(g.dependents[dep], id)
		}
	}

	order, err := g.topo(declared)
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

func (g *Graph) validateEdges(n domain.StageNode) error {
	hasSetup := false
	for _, dep := range n.DependsOn {
		target, ok := g.nodes[dep]
		if !ok {
			return fmt.Errorf("stage %q depends on unknown stage %q", n.ID, dep)
		}
		if dep == n.ID {
			return fmt.Errorf("stage %q depends on itself: %w", n.ID, domain.ErrCycle)
		}
		if target.Category == domain.CategorySetup {
			hasSetup = true
		}
	}
	switch n.Category {
	case domain.CategoryStandalone:
		if len(n.DependsOn) > 0 {
			return fmt.Errorf("standalone stage %q cannot have dependencies", n.ID)
		}
	case domain.CategoryAuthenticated:
		if !hasSetup {
			return fmt.Errorf("authenticated stage %q must depend on a setup stage", n.ID)
		}
	case domain.CategorySetup:
	default:
		return fmt.Errorf("stage %q has unknown category %q", n.ID, n.Category)
	}
	return nil
}

func (g *Graph) topo(declared []string) ([]string, error) {
	indegree := make(map[string]int, len(declared))
	for _, id := range declared {
		indegree[id] = len(g.nodes[id].DependsOn)
	}

	order := make([]string, 0, len(declared))
	for len(order) < len(declared) {
		var wave []string
		for _, id := range declared {
			if indegree[id] == 0 {
				wave = append(wave, id)
			}
		}
		for _, id := range wave {
			indegree[id] = -1
			order = append(order, id)
			for _, dep := range g.dependents[id] {
				indegree[dep]--
			}
		}
		if len(wave) == 0 {
			var stuck []string
			for _, id := range declared {
				if indegree[id] > 0 {
					stuck = append(stuck, id)
				}
			}
			return nil, fmt.Errorf("%w: %s", domain.ErrCycle, strings.Join(stuck, ", "))
		}
	}
	return order, nil
}

// Order returns node IDs in topological order.
func (g *Graph) Order() []string {
	return slices.Clone(g.order)
}

// Nodes returns the nodes in topological order.
func (g *Graph) Nodes() []domain.StageNode {
	out := make([]domain.StageNode, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.nodes[id])
	}
	return out
}

// Node returns a node by ID.
func (g *Graph) Node(id string) (domain.StageNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Dependents returns the nodes that declare an edge onto id.
func (g *Graph) Dependents(id string) []string {
	return slices.Clone(g.dependents[id])
}

// Assign distributes suites over nodes. Each suite belongs to the first node
// in topological order that selects it; suites no node selects are returned
// separately.
func (g *Graph) Assign(refs []domain.SuiteRef) (map[string][]domain.SuiteRef, []domain.SuiteRef) {
	assigned := make(map[string][]domain.SuiteRef, len(g.order))
	var orphans []domain.SuiteRef
	for _, ref := range refs {
		placed := false
		for _, id := range g.order {
			if g.nodes[id].Selects(ref) {
				assigned[id] = append(assigned[id], ref)
				placed = true
				break
			}
		}
		if !placed {
			orphans = append(orphans, ref)
		}
	}
	return assigned, orphans
}
