package probe_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/probe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPolicies(t *testing.T) {
	doc := `
vault-health:
  path: /v1/sys/health
  acceptable: [200]
  status_labels:
    200: active
    503: sealed
  required_fields: [initialized]
status-page:
  path: /status
  accept_below: 400
  expect_fields:
    status: green
`
	ps, err := probe.ReadPolicies(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, ps, 2)

	vault := ps["vault-health"]
	assert.Equal(t, "vault-health", vault.Name)
	assert.Equal(t, []int{200}, vault.Acceptable)
	assert.Equal(t, "sealed", vault.StatusLabels[503])

	status := ps["status-page"]
	assert.Equal(t, 400, status.AcceptBelow)
	assert.Equal(t, "green", status.ExpectFields["status"])
}

func TestDecodePolicies_StringStatusKeys(t *testing.T) {
	// viper lowercases keys and hands status codes over as strings.
	ps, err := probe.DecodePolicies(map[string]any{
		"vault-health": map[string]any{
			"path":          "/v1/sys/health",
			"acceptable":    []any{"200", 429},
			"status_labels": map[string]any{"429": "standby"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{200, 429}, ps["vault-health"].Acceptable)
	assert.Equal(t, "standby", ps["vault-health"].StatusLabels[429])
}

func TestLoadPolicies_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vault-health:\n  path: /v1/sys/health\n  acceptable: [200]\n"), 0o644))

	ps, err := probe.LoadPolicies(path)
	require.NoError(t, err)

	assert.Equal(t, domain.Failure, probe.Classify(429, ps[probe.VaultHealth]), "single-node deployments narrow the set")
	assert.Contains(t, ps, probe.GrafanaHealth, "defaults survive")
}

func TestLoadPolicies_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("broken:\n  path: /\n"), 0o644))

	_, err := probe.LoadPolicies(path)
	var cfg *domain.ConfigurationError
	assert.ErrorAs(t, err, &cfg)
}

func TestPolicies_Get(t *testing.T) {
	_, err := probe.DefaultPolicies().Get("nope")
	assert.Error(t, err)

	p, err := probe.DefaultPolicies().Get(probe.KeycloakDiscovery)
	require.NoError(t, err)
	assert.Equal(t, []string{"issuer"}, p.RequiredFields)
}
