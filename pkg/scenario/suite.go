// Package scenario defines suites, the environment they run in and the
// explicit wait contract their steps are written against.
package scenario

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/canopy/pkg/domain"
)

// Suite is a fixed sequence of steps against one service.
type Suite struct {
	ID       string
	Title    string
	Service  string
	Category domain.StageCategory
	// Requires lists credentials checked before any network action.
	Requires []domain.CredentialKey
	// UsesFixture injects the persisted Session Fixture into every page.
	UsesFixture bool
	// Timeout overrides the engine's per-suite timeout when positive.
	Timeout time.Duration
	Run     func(ctx context.Context, env *Env) error
}

// Ref is the view of the suite used by stage predicates.
func (s Suite) Ref() domain.SuiteRef {
	return domain.SuiteRef{ID: s.ID, Service: s.Service, Category: s.Category}
}

// Validate checks the declaration.
func (s Suite) Validate() error {
	switch {
	case s.ID == "":
		return fmt.Errorf("suite without an id")
	case s.Run == nil:
		return fmt.Errorf("suite %q has no body", s.ID)
	}
	switch s.Category {
	case domain.CategorySetup, domain.CategoryAuthenticated, domain.CategoryStandalone:
	default:
		return fmt.Errorf("suite %q has unknown category %q", s.ID, s.Category)
	}
	if s.UsesFixture && s.Category != domain.CategoryAuthenticated {
		return fmt.Errorf("suite %q uses the fixture but is not authenticated", s.ID)
	}
	return nil
}

// Catalog is an ordered set of suites.
type Catalog []Suite

// Validate checks every suite and rejects duplicate IDs.
func (c Catalog) Validate() error {
	seen := make(map[string]bool, len(c))
	for _, s := range c {
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate suite %q", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

// Refs returns the predicate views in catalog order.
func (c Catalog) Refs() []domain.SuiteRef {
	refs := make([]domain.SuiteRef, len(c))
	for i, s := range c {
		refs[i] = s.Ref()
	}
	return refs
}

// Find returns a suite by ID.
func (c Catalog) Find(id string) (Suite, bool) {
	for _, s := range c {
		if s.ID == id {
			return s, true
		}
	}
	return Suite{}, false
}

// Filter keeps the suites selected by m.
func (c Catalog) Filter(m domain.SuiteMatcher) Catalog {
	var out Catalog
	for _, s := range c {
		if m(s.Ref()) {
			out = append(out, s)
		}
	}
	return out
}
