package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/internal/config"
	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/internal/testutils"
	"github.com/aretw0/canopy/pkg/adapters/file"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/report"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Fixture.Dir = filepath.Join(dir, "fixtures")
	cfg.Artifacts.Dir = filepath.Join(dir, "artifacts")
	cfg.Run.ReportPath = filepath.Join(dir, "report.json")
	cfg.Log.Level = "error"
	return cfg
}

func sessionFixture(runID string) *domain.SessionFixture {
	f := domain.NewSessionFixture(runID, "admin")
	f.State = domain.FixturePersisted
	f.Origin = "https://sso.example.test"
	f.CapturedAt = time.Now().Add(-48 * time.Hour)
	f.Cookies = []domain.Cookie{
		{Name: "KEYCLOAK_SESSION", Value: "secret-session", Domain: "sso.example.test", Path: "/"},
		{Name: "lang", Value: "en", Domain: "sso.example.test", Path: "/"},
	}
	return f
}

func TestNewStack_FixtureBackends(t *testing.T) {
	ctx := context.Background()

	t.Run("redis with locker", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := testConfig(t)
		cfg.Fixture.Backend = "redis"
		cfg.Fixture.Redis.Addr = mr.Addr()

		stack, err := NewStack(ctx, cfg, logging.NewNop(), StackOptions{})
		require.NoError(t, err)
		defer stack.Close()

		require.NoError(t, stack.Store.Save(ctx, "run-1", sessionFixture("run-1")))
		assert.True(t, mr.Exists("canopy:fixture:run-1"))

		require.NoError(t, stack.Harness.Fixtures().Delete(ctx, "run-1"))
		assert.False(t, mr.Exists("canopy:fixture:run-1"))
	})

	t.Run("encrypted file store", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Fixture.EncryptionKey = testKey

		stack, err := NewStack(ctx, cfg, logging.NewNop(), StackOptions{})
		require.NoError(t, err)
		defer stack.Close()

		require.NoError(t, stack.Store.Save(ctx, "run-1", sessionFixture("run-1")))
		raw, err := os.ReadFile(filepath.Join(cfg.Fixture.Dir, "run-1.json"))
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "secret-session")

		got, err := stack.Store.Load(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, "secret-session", got.Cookies[0].Value)
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Fixture.Backend = "etcd"

		_, err := NewStack(ctx, cfg, logging.NewNop(), StackOptions{})
		var cerr *domain.ConfigurationError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "fixture.backend", cerr.Key)
	})

	t.Run("unknown artifact backend", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Artifacts.Backend = "ftp"

		_, err := NewStack(ctx, cfg, logging.NewNop(), StackOptions{})
		var cerr *domain.ConfigurationError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "artifacts.backend", cerr.Key)
	})
}

func TestFixtureCommands(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	store := file.New(cfg.Fixture.Dir)
	require.NoError(t, store.Save(ctx, "run-old", sessionFixture("run-old")))
	fresh := sessionFixture("run-new")
	fresh.CapturedAt = time.Now()
	require.NoError(t, store.Save(ctx, "run-new", fresh))

	var out bytes.Buffer
	opts := FixtureOptions{Config: cfg, Stdout: &out}

	require.NoError(t, ListFixtures(ctx, opts))
	assert.Equal(t, "run-new\nrun-old\n", out.String())

	out.Reset()
	require.NoError(t, InspectFixture(ctx, opts, "run-old"))
	assert.NotContains(t, out.String(), "secret-session")
	assert.Contains(t, out.String(), `"value": "***"`)
	assert.Contains(t, out.String(), `"value": "en"`)

	out.Reset()
	require.NoError(t, RemoveFixtures(ctx, opts, 24*time.Hour))
	assert.Equal(t, "removed run-old\n", out.String())

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-new"}, ids)

	assert.Error(t, InspectFixture(ctx, opts, "run-old"))
}

func TestWriteReports(t *testing.T) {
	cfg := testConfig(t)
	cfg.Run.Reporters = []string{"list", "github"}
	t.Setenv("GITHUB_STEP_SUMMARY", filepath.Join(t.TempDir(), "summary.md"))

	rep := &report.Report{
		RunID: "run-9",
		Outcomes: []domain.ScenarioOutcome{
			{SuiteID: "vault/login", Stage: "chromium", Status: domain.StatusPassed, Attempts: 1},
			{SuiteID: "grafana/home", Stage: "chromium", Status: domain.StatusFailed, Error: "boom", Attempts: 1},
		},
	}

	var out bytes.Buffer
	require.NoError(t, WriteReports(rep, cfg.Run, &out))
	assert.Contains(t, out.String(), "vault/login")
	assert.Contains(t, out.String(), "::error title=[chromium] grafana/home::boom")

	saved, err := report.LoadJSON(cfg.Run.ReportPath)
	require.NoError(t, err, "the JSON report is always written")
	assert.Equal(t, "run-9", saved.RunID)

	summary, err := os.ReadFile(os.Getenv("GITHUB_STEP_SUMMARY"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "# Canopy run `run-9`")

	cfg.Run.Reporters = []string{"junit"}
	assert.ErrorContains(t, WriteReports(rep, cfg.Run, &out), `unknown reporter "junit"`)
}

// brokerBrowser signs in on the first click and recognizes any page that
// carries the persisted session.
func brokerBrowser() *testutils.FakeBrowser {
	signal := domain.Text("Personal info")
	signIn := domain.Button("Sign In")
	return &testutils.FakeBrowser{Script: func(p *testutils.FakePage) {
		p.Snap = domain.Snapshot{
			Origin:  "https://sso.fords.cloud",
			Cookies: []domain.Cookie{{Name: "KEYCLOAK_SESSION", Value: "abc", Domain: "sso.fords.cloud", Path: "/"}},
		}
		p.OnGoto = func(p *testutils.FakePage, url string) error {
			p.Reset()
			if p.Fixture != nil && len(p.Fixture.Cookies) > 0 {
				p.Show(signal)
				return nil
			}
			p.Show(domain.Label("Username or email"), domain.Label("Password").Exactly(), signIn)
			return nil
		}
		p.OnClick = func(p *testutils.FakePage, target domain.Target) error {
			if target.String() == signIn.String() {
				p.Show(signal)
			}
			return nil
		}
	}}
}

func setupRunConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := testConfig(t)
	cfg.Run.Grep = []string{"setup/"}
	cfg.Run.Reporters = []string{"json"}
	broker := cfg.Credentials[string(domain.CredentialBroker)]
	broker.Secret = "s3cret"
	cfg.Credentials[string(domain.CredentialBroker)] = broker
	return cfg
}

func TestRun_KeepsSessionFixture(t *testing.T) {
	ctx := context.Background()

	t.Run("kept by default", func(t *testing.T) {
		cfg := setupRunConfig(t)
		var stdout, stderr bytes.Buffer
		code, err := Run(ctx, RunOptions{Config: cfg, RunID: "run-keep", Browser: brokerBrowser(), Stdout: &stdout, Stderr: &stderr})
		require.NoError(t, err)
		assert.Equal(t, 0, code, stderr.String())

		f, err := file.New(cfg.Fixture.Dir).Load(ctx, "run-keep")
		require.NoError(t, err, "the fixture stays on disk for inspection")
		assert.Equal(t, domain.FixturePersisted, f.State)
		assert.NotNil(t, f.VerifiedAt)
	})

	t.Run("discarded on request", func(t *testing.T) {
		cfg := setupRunConfig(t)
		cfg.Run.DiscardFixture = true
		code, err := Run(ctx, RunOptions{Config: cfg, RunID: "run-drop", Browser: brokerBrowser(), Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}})
		require.NoError(t, err)
		assert.Equal(t, 0, code)

		_, err = file.New(cfg.Fixture.Dir).Load(ctx, "run-drop")
		assert.ErrorIs(t, err, domain.ErrFixtureNotFound)
	})
}

func TestRun_ReporterFailureKeepsExitCode(t *testing.T) {
	cfg := setupRunConfig(t)
	cfg.Run.Reporters = []string{"github"}
	// A directory cannot be opened for appending.
	t.Setenv("GITHUB_STEP_SUMMARY", t.TempDir())

	var stdout bytes.Buffer
	code, err := Run(context.Background(), RunOptions{Config: cfg, RunID: "run-1", Browser: brokerBrowser(), Stdout: &stdout, Stderr: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout.String(), "::notice title=canopy::2 passed")
}

func TestGraph(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer

	require.NoError(t, Graph(context.Background(), GraphOptions{Config: cfg, Stdout: &out}))
	assert.True(t, strings.HasPrefix(out.String(), "graph TD"))
	assert.Contains(t, out.String(), "setup --> chromium")
	assert.Contains(t, out.String(), "2 suites")

	out.Reset()
	require.NoError(t, Graph(context.Background(), GraphOptions{Config: cfg, Format: "json", Stdout: &out}))
	var body struct {
		Order  []string       `json:"order"`
		Suites map[string]int `json:"suites"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	assert.Len(t, body.Order, 3)
	assert.Equal(t, 2, body.Suites["setup"])

	assert.Error(t, Graph(context.Background(), GraphOptions{Config: cfg, Format: "dot", Stdout: &out}))
}

func TestProbe(t *testing.T) {
	var unhealthy atomic.Bool
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/sys/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"initialized":true,"sealed":false}`))
	})
	mux.HandleFunc("/realms/master/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"issuer":"x"}`))
	})
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if unhealthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"database":"ok"}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Services = map[string]string{}
	for _, svc := range domain.Services() {
		cfg.Services[svc] = srv.URL
	}

	var out bytes.Buffer
	code, err := Probe(context.Background(), ProbeOptions{Config: cfg, JSON: true, Stdout: &out})
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	var body ProbeOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	assert.Len(t, body.Results, 8)

	unhealthy.Store(true)
	out.Reset()
	code, err = Probe(context.Background(), ProbeOptions{Config: cfg, Stdout: &out})
	require.NoError(t, err)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "grafana grafana-health: 503")
}

func TestServe(t *testing.T) {
	cfg := testConfig(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, ServeOptions{Config: cfg, Listener: ln, Stderr: &bytes.Buffer{}})
	}()

	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Post(base+"/runs", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode, "runs are not triggerable without --trigger")

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}
