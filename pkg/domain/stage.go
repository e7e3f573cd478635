package domain

// StageCategory classifies a Stage Graph node.
type StageCategory string

const (
	// CategorySetup produces the Session Fixture.
	CategorySetup StageCategory = "setup"
	// CategoryAuthenticated depends on a completed setup node.
	CategoryAuthenticated StageCategory = "authenticated"
	// CategoryStandalone has no edges and needs no authentication.
	CategoryStandalone StageCategory = "standalone"
)

// Concurrency is the scheduling policy for the suites of one node.
type Concurrency string

const (
	Parallel Concurrency = "parallel"
	Serial   Concurrency = "serial"
)

// SuiteRef is the part of a suite visible to stage predicates.
type SuiteRef struct {
	ID       string
	Service  string
	Category StageCategory
}

// SuiteMatcher selects the suites that belong to a node.
type SuiteMatcher func(SuiteRef) bool

// StageNode is a vertex of the Stage Graph.
type StageNode struct {
	ID          string        `json:"id"`
	Category    StageCategory `json:"category"`
	DependsOn   []string      `json:"depends_on,omitempty"`
	Concurrency Concurrency   `json:"concurrency"`
	Match       SuiteMatcher  `json:"-"`
}

// Selects reports whether the node owns the suite.
func (n StageNode) Selects(ref SuiteRef) bool {
	if n.Match == nil {
		return ref.Category == n.Category
	}
	return n.Match(ref)
}
