package stage

import (
	"fmt"
	"slices"

	"github.com/aretw0/canopy/pkg/domain"
)

// Builder manages the graph construction.
type Builder struct {
	nodes map[string]*NodeBuilder
	order []string
	errs  []error
}

// New creates a new graph builder.
func New() *Builder {
	return &Builder{
		nodes: make(map[string]*NodeBuilder),
	}
}

// Add creates a new node in the graph.
// If the node already exists, it returns the existing builder.
func (b *Builder) Add(id string) *NodeBuilder {
	if nb, ok := b.nodes[id]; ok {
		return nb
	}
	nb := &NodeBuilder{
		node: domain.StageNode{
			ID:          id,
			Category:    domain.CategoryStandalone,
			Concurrency: domain.Parallel,
		},
		builder: b,
	}
	b.nodes[id] = nb
	b.order = append(b.order, id)
	return nb
}

func (b *Builder) declare(id string, category domain.StageCategory) *NodeBuilder {
	if _, dup := b.nodes[id]; dup {
		b.errs = append(b.errs, fmt.Errorf("duplicate stage %q", id))
	}
	return b.Add(id).Category(category)
}

// Setup declares a setup node. Its suites run serially: authentication
// precedes the verification of the persisted fixture.
func (b *Builder) Setup(id string) *Builder {
	b.declare(id, domain.CategorySetup).Serial()
	return b
}

// Authenticated declares a node gated on the given setup nodes.
func (b *Builder) Authenticated(id string, dependsOn ...string) *Builder {
	b.declare(id, domain.CategoryAuthenticated).DependsOn(dependsOn...)
	return b
}

// Standalone declares a node without edges.
func (b *Builder) Standalone(id string) *Builder {
	b.declare(id, domain.CategoryStandalone)
	return b
}

// Node returns the builder of an existing node for further refinement.
func (b *Builder) Node(id string) *NodeBuilder {
	nb, ok := b.nodes[id]
	if !ok {
		b.errs = append(b.errs, fmt.Errorf("stage %q is not declared", id))
		return b.Add(id)
	}
	return nb
}

// Build validates the graph and returns it in topological order.
func (b *Builder) Build() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}
	nodes := make([]domain.StageNode, 0, len(b.order))
	for _, id := range b.order {
		nodes = append(nodes, b.nodes[id].node)
	}
	return NewGraph(nodes...)
}

// NodeBuilder refines one node.
type NodeBuilder struct {
	node    domain.StageNode
	builder *Builder
}

// Category sets the node category.
func (nb *NodeBuilder) Category(c domain.StageCategory) *NodeBuilder {
	nb.node.Category = c
	return nb
}

// DependsOn adds dependency edges.
func (nb *NodeBuilder) DependsOn(ids ...string) *NodeBuilder {
	for _, id := range ids {
		if !slices.Contains(nb.node.DependsOn, id) {
			nb.node.DependsOn = append(nb.node.DependsOn, id)
		}
	}
	return nb
}

// Serial runs the node's suites in order on one worker.
func (nb *NodeBuilder) Serial() *NodeBuilder {
	nb.node.Concurrency = domain.Serial
	return nb
}

// Parallel lets the node's suites run concurrently.
func (nb *NodeBuilder) Parallel() *NodeBuilder {
	nb.node.Concurrency = domain.Parallel
	return nb
}

// Match replaces the suite predicate.
func (nb *NodeBuilder) Match(m domain.SuiteMatcher) *NodeBuilder {
	nb.node.Match = m
	return nb
}

// Done returns to the graph builder.
func (nb *NodeBuilder) Done() *Builder {
	return nb.builder
}
