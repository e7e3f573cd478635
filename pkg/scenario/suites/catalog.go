// Package suites holds the scenario suites run against the service cluster
// and the default Stage Graph that schedules them.
package suites

import (
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/scenario"
	"github.com/aretw0/canopy/pkg/stage"
)

// Stage IDs of the default graph.
const (
	StageSetup    = "setup"
	StageChromium = "chromium"
	StageSmoke    = "smoke"
)

// Default returns every suite in declaration order.
func Default() scenario.Catalog {
	var c scenario.Catalog
	c = append(c, Setup()...)
	c = append(c, Smoke()...)
	c = append(c, Vault()...)
	c = append(c, Keycloak()...)
	c = append(c, LLDAP()...)
	c = append(c, Grafana()...)
	c = append(c, Forgejo()...)
	return c
}

// DefaultGraph is the three-node graph: a serial setup node, the
// authenticated suites behind it and the smoke suites beside both.
func DefaultGraph() (*stage.Graph, error) {
	return stage.New().
		Setup(StageSetup).
		Authenticated(StageChromium, StageSetup).
		Standalone(StageSmoke).
		Build()
}

func authenticated(s scenario.Suite) scenario.Suite {
	s.Category = domain.CategoryAuthenticated
	s.UsesFixture = true
	return s
}
