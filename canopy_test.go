package canopy_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/testutils"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/scenario"
	"github.com/aretw0/canopy/pkg/scenario/suites"
	"github.com/aretw0/canopy/pkg/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cluster serves the health APIs of every service from one address.
func cluster(t *testing.T) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/v1/sys/health", func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"initialized": true, "sealed": false})
	})
	mux.HandleFunc("/realms/master/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		issuer := srv.URL + "/realms/master"
		reply(w, map[string]any{
			"issuer":                 issuer,
			"authorization_endpoint": issuer + "/protocol/openid-connect/auth",
			"token_endpoint":         issuer + "/protocol/openid-connect/token",
			"jwks_uri":               issuer + "/protocol/openid-connect/certs",
			"scopes_supported":       []string{"openid", "profile"},
		})
	})
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		reply(w, map[string]any{"database": "ok"})
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html></html>"))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func everyService(base string) map[string]string {
	out := make(map[string]string)
	for _, svc := range domain.Services() {
		out[svc] = base
	}
	return out
}

func TestNew_Defaults(t *testing.T) {
	h, err := canopy.New()
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{suites.StageSetup, suites.StageChromium, suites.StageSmoke}, h.Graph().Order())
	assert.Len(t, h.Catalog(), len(suites.Default()))
	assert.Equal(t, 2, h.SuiteCounts()[suites.StageSetup])
	assert.Len(t, h.Endpoints(), len(domain.Services()))
}

func TestNew_UnknownServiceOverride(t *testing.T) {
	_, err := canopy.New(canopy.WithServices(map[string]string{"jenkins": "http://localhost"}))

	var cfg *domain.ConfigurationError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, "services.jenkins", cfg.Key)
}

func TestWithGrep(t *testing.T) {
	ids := func(c scenario.Catalog) []string {
		var out []string
		for _, s := range c {
			out = append(out, s.ID)
		}
		return out
	}

	t.Run("authenticated suites keep the setup stage", func(t *testing.T) {
		h, err := canopy.New(canopy.WithGrep("vault/"))
		require.NoError(t, err)
		got := ids(h.Catalog())
		assert.Contains(t, got, suites.Authenticate)
		assert.Contains(t, got, suites.VerifySession)
		for _, id := range got {
			if id != suites.Authenticate && id != suites.VerifySession {
				assert.Regexp(t, `^vault/`, id)
			}
		}
	})

	t.Run("standalone suites run without setup", func(t *testing.T) {
		h, err := canopy.New(canopy.WithGrep("smoke/"))
		require.NoError(t, err)
		assert.NotEmpty(t, h.Catalog())
		assert.NotContains(t, ids(h.Catalog()), suites.Authenticate)
	})
}

func TestRun(t *testing.T) {
	g, err := stage.New().Standalone("smoke").Build()
	require.NoError(t, err)

	catalog := scenario.Catalog{
		{ID: "smoke/ok", Category: domain.CategoryStandalone, Run: func(context.Context, *scenario.Env) error { return nil }},
		{ID: "smoke/broken", Category: domain.CategoryStandalone, Run: func(context.Context, *scenario.Env) error { return errors.New("boom") }},
	}

	var first, second atomic.Int32
	h, err := canopy.New(
		canopy.WithGraph(g),
		canopy.WithCatalog(catalog),
		canopy.WithBrowser(&testutils.FakeBrowser{}),
		canopy.WithArtifactSink(&testutils.MemorySink{}),
		canopy.WithLifecycleHooks(domain.LifecycleHooks{
			OnSuiteFinish: func(context.Context, *domain.SuiteEvent) { first.Add(1) },
		}),
		canopy.WithLifecycleHooks(domain.LifecycleHooks{
			OnSuiteFinish: func(context.Context, *domain.SuiteEvent) { second.Add(1) },
		}),
	)
	require.NoError(t, err)

	rep, err := h.Run(context.Background(), "")
	require.NoError(t, err)

	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 1, rep.ExitCode())
	ok, _ := rep.Outcome("smoke/ok")
	assert.Equal(t, domain.StatusPassed, ok.Status)
	broken, _ := rep.Outcome("smoke/broken")
	assert.Equal(t, domain.StatusFailed, broken.Status)
	assert.Equal(t, "boom", broken.Error)

	assert.EqualValues(t, 2, first.Load(), "hooks registered twice are merged")
	assert.EqualValues(t, 2, second.Load())
}

func TestProbe(t *testing.T) {
	srv := cluster(t)
	h, err := canopy.New(canopy.WithServices(everyService(srv.URL)))
	require.NoError(t, err)

	results, err := h.Probe(context.Background())
	require.NoError(t, err)

	targets := canopy.DefaultProbeTargets()
	require.Len(t, results, len(targets))
	for i, res := range results {
		assert.Equal(t, targets[i].Service, res.Service)
		assert.Equal(t, targets[i].Policy, res.Policy)
		assert.True(t, res.OK(), "%s/%s: %s", res.Service, res.Policy, res.Detail)
	}
}

func TestProbe_UnknownPolicy(t *testing.T) {
	h, err := canopy.New()
	require.NoError(t, err)

	_, err = h.Probe(context.Background(), canopy.ProbeTarget{Service: domain.ServiceVault, Policy: "nope"})
	assert.Error(t, err)
}

func TestCheckDiscovery(t *testing.T) {
	srv := cluster(t)
	h, err := canopy.New(canopy.WithServices(everyService(srv.URL)))
	require.NoError(t, err)

	d, err := h.CheckDiscovery(context.Background(), "master")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/realms/master", d.Issuer)
	assert.Contains(t, d.Scopes, "openid")

	_, err = h.CheckDiscovery(context.Background(), "missing")
	assert.Error(t, err)
}
