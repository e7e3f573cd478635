package stage_test

import (
	"testing"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_DefaultShape(t *testing.T) {
	g, err := stage.New().
		Setup("setup").
		Authenticated("chromium", "setup").
		Standalone("smoke").
		Build()
	require.NoError(t, err)

	assert.Equal(t, []string{"setup", "smoke", "chromium"}, g.Order())

	setup, ok := g.Node("setup")
	require.True(t, ok)
	assert.Equal(t, domain.Serial, setup.Concurrency)
	assert.Equal(t, []string{"chromium"}, g.Dependents("setup"))
}

func TestBuilder_DeclarationOrderIsFree(t *testing.T) {
	g, err := stage.New().
		Authenticated("chromium", "setup").
		Setup("setup").
		Build()
	require.NoError(t, err)
	assert.Equal(t, []string{"setup", "chromium"}, g.Order())
}

func TestBuilder_Duplicate(t *testing.T) {
	_, err := stage.New().Setup("setup").Setup("setup").Build()
	assert.Error(t, err)
}

func TestNewGraph_Validation(t *testing.T) {
	tests := []struct {
		name  string
		nodes []domain.StageNode
	}{
		{"unknown dependency", []domain.StageNode{
			{ID: "chromium", Category: domain.CategoryAuthenticated, DependsOn: []string{"setup"}},
		}},
		{"duplicate", []domain.StageNode{
			{ID: "smoke", Category: domain.CategoryStandalone},
			{ID: "smoke", Category: domain.CategoryStandalone},
		}},
		{"standalone with edge", []domain.StageNode{
			{ID: "setup", Category: domain.CategorySetup},
			{ID: "smoke", Category: domain.CategoryStandalone, DependsOn: []string{"setup"}},
		}},
		{"authenticated without setup", []domain.StageNode{
			{ID: "smoke", Category: domain.CategoryStandalone},
			{ID: "chromium", Category: domain.CategoryAuthenticated},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := stage.NewGraph(tt.nodes...)
			assert.Error(t, err)
		})
	}
}

func TestNewGraph_Cycle(t *testing.T) {
	_, err := stage.NewGraph(
		domain.StageNode{ID: "a", Category: domain.CategorySetup, DependsOn: []string{"b"}},
		domain.StageNode{ID: "b", Category: domain.CategorySetup, DependsOn: []string{"a"}},
	)
	assert.ErrorIs(t, err, domain.ErrCycle)

	_, err = stage.NewGraph(domain.StageNode{ID: "a", Category: domain.CategorySetup, DependsOn: []string{"a"}})
	assert.ErrorIs(t, err, domain.ErrCycle)
}

func TestGraph_Assign(t *testing.T) {
	g, err := stage.New().
		Setup("setup").
		Authenticated("chromium", "setup").
		Standalone("smoke").
		Build()
	require.NoError(t, err)

	refs := []domain.SuiteRef{
		{ID: "setup/authenticate", Category: domain.CategorySetup},
		{ID: "vault/policies", Service: "vault", Category: domain.CategoryAuthenticated},
		{ID: "smoke/vault-ui", Service: "vault", Category: domain.CategoryStandalone},
	}
	assigned, orphans := g.Assign(refs)

	assert.Empty(t, orphans)
	assert.Len(t, assigned["setup"], 1)
	assert.Len(t, assigned["chromium"], 1)
	assert.Len(t, assigned["smoke"], 1)
}

func TestGraph_AssignWithPredicates(t *testing.T) {
	g, err := stage.New().
		Setup("setup").
		Authenticated("vault", "setup").
		Node("vault").Match(stage.MatchService("vault")).Serial().Done().
		Build()
	require.NoError(t, err)

	assigned, orphans := g.Assign([]domain.SuiteRef{
		{ID: "vault/policies", Service: "vault", Category: domain.CategoryAuthenticated},
		{ID: "grafana/explore", Service: "grafana", Category: domain.CategoryAuthenticated},
	})
	assert.Len(t, assigned["vault"], 1)
	require.Len(t, orphans, 1)
	assert.Equal(t, "grafana/explore", orphans[0].ID)

	n, _ := g.Node("vault")
	assert.Equal(t, domain.Serial, n.Concurrency)
}

func TestMatchers(t *testing.T) {
	ref := domain.SuiteRef{ID: "lldap/user-round-trip", Service: "lldap", Category: domain.CategoryAuthenticated}

	assert.True(t, stage.MatchPrefix("lldap/")(ref))
	assert.False(t, stage.MatchPrefix("vault/")(ref))
	assert.True(t, stage.MatchIDs("lldap/user-round-trip")(ref))
	assert.True(t, stage.All(stage.MatchService("lldap"), stage.MatchCategory(domain.CategoryAuthenticated))(ref))
	assert.False(t, stage.All(stage.MatchService("lldap"), stage.MatchCategory(domain.CategorySetup))(ref))
}
