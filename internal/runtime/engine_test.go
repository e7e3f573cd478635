package runtime_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/canopy/internal/runtime"
	"github.com/aretw0/canopy/internal/testutils"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/scenario"
	"github.com/aretw0/canopy/pkg/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var brokerCreds = map[domain.CredentialKey]domain.Credentials{
	domain.CredentialBroker: {Principal: "admin", Secret: "s3cret", Env: "TEST_PASSWORD"},
}

func graph(t *testing.T) *stage.Graph {
	t.Helper()
	g, err := stage.New().
		Setup("setup").
		Authenticated("chromium", "setup").
		Standalone("smoke").
		Build()
	require.NoError(t, err)
	return g
}

func newEngine(browser *testutils.FakeBrowser, sink *testutils.MemorySink, opts ...runtime.EngineOption) *runtime.Engine {
	base := []runtime.EngineOption{
		runtime.WithBrowser(browser),
		runtime.WithArtifactSink(sink),
		runtime.WithCredentials(brokerCreds),
		runtime.WithWorkers(4),
		runtime.WithSuiteTimeout(time.Second),
		runtime.WithStepTimeouts(50*time.Millisecond, 50*time.Millisecond),
		runtime.WithPollInterval(2 * time.Millisecond),
	}
	return runtime.NewEngine(append(base, opts...)...)
}

func suite(id string, category domain.StageCategory, run func(ctx context.Context, env *scenario.Env) error) scenario.Suite {
	return scenario.Suite{ID: id, Title: id, Category: category, Run: run}
}

func pass(context.Context, *scenario.Env) error { return nil }

// persistSession runs the setup lifecycle the way the real setup suite does.
func persistSession(ctx context.Context, env *scenario.Env) error {
	fixtures, err := env.Fixtures()
	if err != nil {
		return err
	}
	if err := fixtures.Begin(ctx, env.RunID(), env.Credentials(domain.CredentialBroker)); err != nil {
		return err
	}
	snap := domain.Snapshot{
		Origin:  "http://localhost:8180",
		Cookies: []domain.Cookie{{Name: "KEYCLOAK_SESSION", Value: "abc", Domain: "localhost", Path: "/"}},
	}
	if err := fixtures.Authenticated(ctx, env.RunID(), snap); err != nil {
		return err
	}
	_, err = fixtures.Persist(ctx, env.RunID())
	return err
}

func TestRun_RetriesKeepOnlyTheFinalAttemptArtifacts(t *testing.T) {
	browser := &testutils.FakeBrowser{}
	sink := &testutils.MemorySink{}
	e := newEngine(browser, sink, runtime.WithRetries(2))

	var calls atomic.Int32
	catalog := scenario.Catalog{
		suite("smoke/broken", domain.CategoryStandalone, func(ctx context.Context, env *scenario.Env) error {
			calls.Add(1)
			if _, err := env.Page(ctx); err != nil {
				return err
			}
			return errors.New("boom")
		}),
	}

	rep, err := e.Run(context.Background(), "run-1", graph(t), catalog)
	require.NoError(t, err)

	o, ok := rep.Outcome("smoke/broken")
	require.True(t, ok)
	assert.Equal(t, domain.StatusFailed, o.Status)
	assert.Equal(t, 3, o.Attempts)
	assert.Equal(t, 2, o.RetryCount)
	assert.EqualValues(t, 3, calls.Load())
	assert.Contains(t, o.Error, "boom")

	pages := browser.Pages()
	require.Len(t, pages, 3)
	for _, p := range pages {
		assert.True(t, p.Record, "every attempt is recorded")
		assert.True(t, p.Closed, "every attempt closes its context")
	}

	assert.ElementsMatch(t,
		[]ports.ArtifactKind{ports.ArtifactScreenshot, ports.ArtifactTrace, ports.ArtifactVideo},
		sink.Kinds("smoke/broken"))
	for _, a := range sink.Artifacts {
		assert.Equal(t, 3, a.Attempt)
	}
	assert.Equal(t, "mem://run-1/smoke/broken/attempt-3-trace.json", o.Artifacts.Trace)
	assert.Equal(t, 1, rep.ExitCode())
}

func TestRun_NonRetryableFailureKeepsArtifacts(t *testing.T) {
	browser := &testutils.FakeBrowser{}
	sink := &testutils.MemorySink{}
	e := newEngine(browser, sink, runtime.WithRetries(2))

	catalog := scenario.Catalog{
		suite("setup/authenticate", domain.CategorySetup, func(ctx context.Context, env *scenario.Env) error {
			if _, err := env.Page(ctx); err != nil {
				return err
			}
			return &domain.AuthenticationFailure{Principal: "admin", Err: errors.New("Personal info never appeared")}
		}),
	}

	rep, err := e.Run(context.Background(), "run-1", graph(t), catalog)
	require.NoError(t, err)

	o, _ := rep.Outcome("setup/authenticate")
	assert.Equal(t, domain.StatusFailed, o.Status)
	assert.Equal(t, 1, o.Attempts)
	require.Len(t, browser.Pages(), 1)
	assert.True(t, browser.Pages()[0].Record)

	assert.ElementsMatch(t,
		[]ports.ArtifactKind{ports.ArtifactScreenshot, ports.ArtifactTrace, ports.ArtifactVideo},
		sink.Kinds("setup/authenticate"))
	assert.Equal(t, "mem://run-1/setup/authenticate/attempt-1-trace.json", o.Artifacts.Trace)
	assert.NotEmpty(t, o.Artifacts.Screenshot)
	assert.NotEmpty(t, o.Artifacts.Video)
}

func TestRun_SetupRetryStartsFromAFreshFixture(t *testing.T) {
	e := newEngine(&testutils.FakeBrowser{}, &testutils.MemorySink{},
		runtime.WithRetries(2), runtime.WithSuiteTimeout(100*time.Millisecond))

	var calls atomic.Int32
	catalog := scenario.Catalog{
		suite("setup/authenticate", domain.CategorySetup, func(ctx context.Context, env *scenario.Env) error {
			if calls.Add(1) == 1 {
				fixtures, err := env.Fixtures()
				if err != nil {
					return err
				}
				if err := fixtures.Begin(ctx, env.RunID(), env.Credentials(domain.CredentialBroker)); err != nil {
					return err
				}
				// A slow login: the attempt times out while authenticating.
				<-ctx.Done()
				return ctx.Err()
			}
			return persistSession(ctx, env)
		}),
		{ID: "vault/login", Category: domain.CategoryAuthenticated, UsesFixture: true, Run: pass},
	}

	rep, err := e.Run(context.Background(), "r1", graph(t), catalog)
	require.NoError(t, err)

	o, _ := rep.Outcome("setup/authenticate")
	assert.Equal(t, domain.StatusPassed, o.Status, o.Error)
	assert.Equal(t, 2, o.Attempts)
	o, _ = rep.Outcome("vault/login")
	assert.Equal(t, domain.StatusPassed, o.Status, o.Reason)
	assert.Equal(t, 0, rep.ExitCode())
}

func TestRun_FlakySuitePassesWithoutArtifacts(t *testing.T) {
	sink := &testutils.MemorySink{}
	e := newEngine(&testutils.FakeBrowser{}, sink, runtime.WithRetries(2))

	var calls atomic.Int32
	catalog := scenario.Catalog{
		suite("smoke/flaky", domain.CategoryStandalone, func(ctx context.Context, env *scenario.Env) error {
			if calls.Add(1) == 1 {
				_, _ = env.Page(ctx)
				return errors.New("first attempt fails")
			}
			return nil
		}),
	}

	rep, err := e.Run(context.Background(), "run-1", graph(t), catalog)
	require.NoError(t, err)

	o, _ := rep.Outcome("smoke/flaky")
	assert.Equal(t, domain.StatusPassed, o.Status)
	assert.Equal(t, 1, o.RetryCount)
	assert.True(t, o.Artifacts.Empty())
	assert.Empty(t, sink.Artifacts)
	assert.Equal(t, 1, rep.Counts().Flaky)
	assert.Equal(t, 0, rep.ExitCode())
}

func TestRun_SetupFailureBlocksAuthenticatedStages(t *testing.T) {
	e := newEngine(&testutils.FakeBrowser{}, &testutils.MemorySink{})

	var authenticatedRan atomic.Bool
	catalog := scenario.Catalog{
		suite("setup/authenticate", domain.CategorySetup, func(context.Context, *scenario.Env) error {
			return &domain.AuthenticationFailure{Principal: "admin", Err: errors.New("no signal")}
		}),
		suite("vault/login", domain.CategoryAuthenticated, func(context.Context, *scenario.Env) error {
			authenticatedRan.Store(true)
			return nil
		}),
		suite("smoke/vault", domain.CategoryStandalone, pass),
	}

	rep, err := e.Run(context.Background(), "run-1", graph(t), catalog)
	require.NoError(t, err)

	assert.False(t, authenticatedRan.Load())
	o, _ := rep.Outcome("vault/login")
	assert.Equal(t, domain.StatusSkipped, o.Status)
	assert.Equal(t, `blocked by stage "setup"`, o.Reason)

	o, _ = rep.Outcome("smoke/vault")
	assert.Equal(t, domain.StatusPassed, o.Status, "standalone stages are independent")

	st, ok := rep.Stage("chromium")
	require.True(t, ok)
	assert.Equal(t, "setup", st.BlockedBy)
	assert.False(t, st.Succeeded)
	assert.Equal(t, 1, rep.ExitCode())
}

func TestRun_AuthenticatedSuitesReceiveThePersistedFixture(t *testing.T) {
	browser := &testutils.FakeBrowser{}
	e := newEngine(browser, &testutils.MemorySink{})

	catalog := scenario.Catalog{
		suite("setup/authenticate", domain.CategorySetup, persistSession),
		{
			ID: "vault/login", Category: domain.CategoryAuthenticated, UsesFixture: true,
			Run: func(ctx context.Context, env *scenario.Env) error {
				p, err := env.Page(ctx)
				if err != nil {
					return err
				}
				f := p.(*testutils.FakePage).Fixture
				if f == nil || len(f.Cookies) != 1 {
					return errors.New("fixture not injected")
				}
				return nil
			},
		},
	}

	rep, err := e.Run(context.Background(), "run-1", graph(t), catalog)
	require.NoError(t, err)
	o, _ := rep.Outcome("vault/login")
	assert.Equal(t, domain.StatusPassed, o.Status, o.Error)
	st, _ := rep.Stage("setup")
	assert.True(t, st.Succeeded)
}

func TestRun_SerialStageStopsAfterFailure(t *testing.T) {
	e := newEngine(&testutils.FakeBrowser{}, &testutils.MemorySink{})

	var verified atomic.Bool
	catalog := scenario.Catalog{
		suite("setup/authenticate", domain.CategorySetup, func(context.Context, *scenario.Env) error {
			return errors.New("login failed")
		}),
		suite("setup/verify-session", domain.CategorySetup, func(context.Context, *scenario.Env) error {
			verified.Store(true)
			return nil
		}),
	}

	rep, err := e.Run(context.Background(), "run-1", graph(t), catalog)
	require.NoError(t, err)

	assert.False(t, verified.Load())
	o, _ := rep.Outcome("setup/verify-session")
	assert.Equal(t, domain.StatusSkipped, o.Status)
	assert.Contains(t, o.Reason, `"setup/authenticate" did not succeed`)
}

func TestRun_SuiteTimeout(t *testing.T) {
	e := newEngine(&testutils.FakeBrowser{}, &testutils.MemorySink{}, runtime.WithSuiteTimeout(20*time.Millisecond))

	release := make(chan struct{})
	defer close(release)
	catalog := scenario.Catalog{
		// The body ignores its context; the engine abandons it.
		suite("smoke/hang", domain.CategoryStandalone, func(context.Context, *scenario.Env) error {
			<-release
			return nil
		}),
		suite("smoke/quick", domain.CategoryStandalone, pass),
	}

	rep, err := e.Run(context.Background(), "run-1", graph(t), catalog)
	require.NoError(t, err)

	o, _ := rep.Outcome("smoke/hang")
	assert.Equal(t, domain.StatusTimedOut, o.Status)
	assert.Contains(t, o.Reason, "20ms")
	o, _ = rep.Outcome("smoke/quick")
	assert.Equal(t, domain.StatusPassed, o.Status)
	assert.False(t, rep.Interrupted)
	assert.Equal(t, 1, rep.ExitCode())
}

func TestRun_GlobalTimeoutInterruptsTheRun(t *testing.T) {
	g, err := stage.New().Add("smoke").Serial().Done().Build()
	require.NoError(t, err)
	e := newEngine(&testutils.FakeBrowser{}, &testutils.MemorySink{},
		runtime.WithGlobalTimeout(30*time.Millisecond),
	)

	catalog := scenario.Catalog{
		suite("smoke/slow", domain.CategoryStandalone, func(ctx context.Context, _ *scenario.Env) error {
			<-ctx.Done()
			return ctx.Err()
		}),
		suite("smoke/queued", domain.CategoryStandalone, pass),
	}

	rep, err := e.Run(context.Background(), "run-1", g, catalog)
	require.NoError(t, err)

	assert.True(t, rep.Interrupted)
	assert.Contains(t, rep.Reason, "global timeout")
	assert.Equal(t, 1, rep.ExitCode())

	o, _ := rep.Outcome("smoke/slow")
	assert.Equal(t, domain.StatusTimedOut, o.Status, "in-flight suites time out")
	o, _ = rep.Outcome("smoke/queued")
	assert.Equal(t, domain.StatusSkipped, o.Status, "unstarted suites are skipped")
	assert.Equal(t, runtime.ReasonInterrupted, o.Reason)
}

func TestRun_CriticalProbeFailureIsNotRetried(t *testing.T) {
	e := newEngine(&testutils.FakeBrowser{}, &testutils.MemorySink{}, runtime.WithRetries(3))

	var calls atomic.Int32
	catalog := scenario.Catalog{
		suite("smoke/vault-sealed", domain.CategoryStandalone, func(context.Context, *scenario.Env) error {
			calls.Add(1)
			return &domain.ProbeCriticalFailure{Result: domain.ProbeResult{
				Service: "vault", Policy: "vault-health", HTTPStatus: 503,
				Classification: domain.CriticalFailure, Critical: true, Label: "sealed",
			}}
		}),
	}

	rep, err := e.Run(context.Background(), "run-1", graph(t), catalog)
	require.NoError(t, err)

	o, _ := rep.Outcome("smoke/vault-sealed")
	assert.Equal(t, domain.StatusFailed, o.Status)
	assert.Equal(t, 1, o.Attempts)
	assert.EqualValues(t, 1, calls.Load())
}

func TestRun_MissingCredentialSkipsOnlyThatSuite(t *testing.T) {
	browser := &testutils.FakeBrowser{}
	e := newEngine(browser, &testutils.MemorySink{})

	catalog := scenario.Catalog{
		{
			ID: "smoke/lldap-login", Category: domain.CategoryStandalone,
			Requires: []domain.CredentialKey{domain.CredentialDirectory},
			Run: func(ctx context.Context, env *scenario.Env) error {
				_, err := env.Page(ctx)
				return err
			},
		},
		suite("smoke/vault", domain.CategoryStandalone, pass),
	}

	rep, err := e.Run(context.Background(), "run-1", graph(t), catalog)
	require.NoError(t, err)

	o, _ := rep.Outcome("smoke/lldap-login")
	assert.Equal(t, domain.StatusSkipped, o.Status)
	assert.Equal(t, "missing credential directory (LLDAP_ADMIN_PASSWORD)", o.Reason)
	assert.Empty(t, browser.Pages(), "no network action before the credential check")

	o, _ = rep.Outcome("smoke/vault")
	assert.Equal(t, domain.StatusPassed, o.Status)
	st, _ := rep.Stage("smoke")
	assert.True(t, st.Succeeded)
	assert.Equal(t, 0, rep.ExitCode())
}

func TestRun_DeclaredSkipDoesNotBlockDependents(t *testing.T) {
	e := newEngine(&testutils.FakeBrowser{}, &testutils.MemorySink{})

	catalog := scenario.Catalog{
		suite("setup/authenticate", domain.CategorySetup, persistSession),
		suite("setup/optional", domain.CategorySetup, func(context.Context, *scenario.Env) error {
			return domain.Skip("not configured")
		}),
		suite("vault/login", domain.CategoryAuthenticated, pass),
	}

	rep, err := e.Run(context.Background(), "run-1", graph(t), catalog)
	require.NoError(t, err)

	o, _ := rep.Outcome("setup/optional")
	assert.Equal(t, domain.StatusSkipped, o.Status)
	assert.Equal(t, "not configured", o.Reason)
	o, _ = rep.Outcome("vault/login")
	assert.Equal(t, domain.StatusPassed, o.Status)
}

func TestRun_OrphansAreSkipped(t *testing.T) {
	g, err := stage.New().Standalone("smoke").Build()
	require.NoError(t, err)
	e := newEngine(&testutils.FakeBrowser{}, &testutils.MemorySink{})

	catalog := scenario.Catalog{
		suite("smoke/vault", domain.CategoryStandalone, pass),
		suite("vault/login", domain.CategoryAuthenticated, pass),
	}

	rep, err := e.Run(context.Background(), "run-1", g, catalog)
	require.NoError(t, err)

	o, _ := rep.Outcome("vault/login")
	assert.Equal(t, domain.StatusSkipped, o.Status)
	assert.Equal(t, runtime.ReasonNotSelected, o.Reason)
	assert.Equal(t, []string{"smoke/vault", "vault/login"}, []string{rep.Outcomes[0].SuiteID, rep.Outcomes[1].SuiteID})
}

func TestRun_MissingBrokerSecretAbortsBeforeScheduling(t *testing.T) {
	browser := &testutils.FakeBrowser{}
	e := newEngine(browser, &testutils.MemorySink{},
		runtime.WithCredentials(map[domain.CredentialKey]domain.Credentials{}))

	catalog := scenario.Catalog{
		suite("setup/authenticate", domain.CategorySetup, persistSession),
	}

	rep, err := e.Run(context.Background(), "run-1", graph(t), catalog)
	require.Error(t, err)
	assert.Nil(t, rep)

	var missing *domain.MissingCredentialError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "TEST_PASSWORD", missing.Env)
	assert.Empty(t, browser.Pages())
}

func TestRun_InvalidCatalog(t *testing.T) {
	e := newEngine(&testutils.FakeBrowser{}, &testutils.MemorySink{})
	catalog := scenario.Catalog{
		suite("smoke/a", domain.CategoryStandalone, pass),
		suite("smoke/a", domain.CategoryStandalone, pass),
	}
	_, err := e.Run(context.Background(), "run-1", graph(t), catalog)

	var cfg *domain.ConfigurationError
	require.ErrorAs(t, err, &cfg)
	assert.Equal(t, "suites", cfg.Key)
}

func TestRun_PanicIsContained(t *testing.T) {
	e := newEngine(&testutils.FakeBrowser{}, &testutils.MemorySink{})
	catalog := scenario.Catalog{
		suite("smoke/panics", domain.CategoryStandalone, func(context.Context, *scenario.Env) error {
			panic("nil map")
		}),
		suite("smoke/vault", domain.CategoryStandalone, pass),
	}

	rep, err := e.Run(context.Background(), "run-1", graph(t), catalog)
	require.NoError(t, err)

	o, _ := rep.Outcome("smoke/panics")
	assert.Equal(t, domain.StatusFailed, o.Status)
	assert.Contains(t, o.Error, "panicked")
	o, _ = rep.Outcome("smoke/vault")
	assert.Equal(t, domain.StatusPassed, o.Status)
}

func TestRun_WorkerBound(t *testing.T) {
	e := newEngine(&testutils.FakeBrowser{}, &testutils.MemorySink{}, runtime.WithWorkers(2))

	var running, peak atomic.Int32
	body := func(context.Context, *scenario.Env) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil
	}
	var catalog scenario.Catalog
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		catalog = append(catalog, suite("smoke/"+id, domain.CategoryStandalone, body))
	}

	rep, err := e.Run(context.Background(), "run-1", graph(t), catalog)
	require.NoError(t, err)
	assert.Equal(t, 6, rep.Counts().Passed)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRun_LifecycleHooks(t *testing.T) {
	var (
		mu     sync.Mutex
		events []string
	)
	note := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, s)
	}
	hooks := domain.LifecycleHooks{
		OnStageStart:  func(_ context.Context, e *domain.StageEvent) { note("stage_start:" + e.StageID) },
		OnStageFinish: func(_ context.Context, e *domain.StageEvent) { note("stage_finish:" + e.StageID) },
		OnSuiteStart:  func(_ context.Context, e *domain.SuiteEvent) { note("suite_start:" + e.SuiteID) },
		OnAttemptFailed: func(_ context.Context, e *domain.SuiteEvent) {
			note("attempt_failed:" + e.SuiteID)
		},
		OnSuiteFinish: func(_ context.Context, e *domain.SuiteEvent) {
			note("suite_finish:" + e.SuiteID + ":" + string(e.Outcome.Status))
		},
	}
	e := newEngine(&testutils.FakeBrowser{}, &testutils.MemorySink{},
		runtime.WithRetries(1), runtime.WithLifecycleHooks(hooks))

	catalog := scenario.Catalog{
		suite("smoke/broken", domain.CategoryStandalone, func(context.Context, *scenario.Env) error {
			return errors.New("boom")
		}),
	}
	_, err := e.Run(context.Background(), "run-1", graph(t), catalog)
	require.NoError(t, err)

	joined := strings.Join(events, "\n")
	assert.Contains(t, joined, "stage_start:smoke")
	assert.Contains(t, joined, "suite_start:smoke/broken")
	assert.Contains(t, joined, "attempt_failed:smoke/broken")
	assert.Contains(t, joined, "suite_finish:smoke/broken:failed")
	assert.Contains(t, joined, "stage_finish:smoke")
	assert.Equal(t, 1, strings.Count(joined, "attempt_failed"), "the final attempt is reported by suite_finish")
}
