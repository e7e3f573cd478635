package canopy

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/internal/runtime"
	"github.com/aretw0/canopy/pkg/adapters/memory"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/fixture"
	"github.com/aretw0/canopy/pkg/locator"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/probe"
	"github.com/aretw0/canopy/pkg/report"
	"github.com/aretw0/canopy/pkg/scenario"
	"github.com/aretw0/canopy/pkg/scenario/suites"
	"github.com/aretw0/canopy/pkg/stage"
)

// Harness is the high-level entry point of the library. It wraps the
// execution engine with the default catalog, graph and adapters.
type Harness struct {
	engine   *runtime.Engine
	graph    *stage.Graph
	catalog  scenario.Catalog
	locator  *locator.Locator
	probes   *probe.Client
	policies probe.Policies
	fixtures *fixture.Manager
	logger   *slog.Logger
}

type settings struct {
	graph       *stage.Graph
	catalog     scenario.Catalog
	services    map[string]string
	store       ports.FixtureStore
	locker      ports.DistributedLocker
	policies    probe.Policies
	probeOpts   []probe.Option
	grep        []string
	hooks       domain.LifecycleHooks
	logger      *slog.Logger
	runtimeOpts []runtime.EngineOption
}

// Option defines a functional option for configuring the Harness.
type Option func(*settings)

// WithGraph replaces the default setup/chromium/smoke graph.
func WithGraph(g *stage.Graph) Option {
	return func(s *settings) { s.graph = g }
}

// WithCatalog replaces the default suites.
func WithCatalog(c scenario.Catalog) Option {
	return func(s *settings) { s.catalog = c }
}

// WithServices overrides service base addresses (service name -> URL).
func WithServices(overrides map[string]string) Option {
	return func(s *settings) { s.services = overrides }
}

// WithFixtureStore sets where the session fixture is persisted.
// Defaults to an in-memory store.
func WithFixtureStore(store ports.FixtureStore) Option {
	return func(s *settings) { s.store = store }
}

// WithLocker serializes fixture writes across replicas sharing a store.
func WithLocker(l ports.DistributedLocker) Option {
	return func(s *settings) { s.locker = l }
}

// WithBrowser sets the browser driver.
func WithBrowser(b ports.Browser) Option {
	return func(s *settings) { s.runtimeOpts = append(s.runtimeOpts, runtime.WithBrowser(b)) }
}

// WithArtifactSink sets where failure diagnostics are stored.
func WithArtifactSink(sink ports.ArtifactSink) Option {
	return func(s *settings) { s.runtimeOpts = append(s.runtimeOpts, runtime.WithArtifactSink(sink)) }
}

// WithCredentials supplies the named credential sets.
func WithCredentials(creds map[domain.CredentialKey]domain.Credentials) Option {
	return func(s *settings) { s.runtimeOpts = append(s.runtimeOpts, runtime.WithCredentials(creds)) }
}

// WithWorkers bounds concurrent suites.
func WithWorkers(n int) Option {
	return func(s *settings) { s.runtimeOpts = append(s.runtimeOpts, runtime.WithWorkers(n)) }
}

// WithRetries sets the retry count; a suite runs at most n+1 times.
func WithRetries(n int) Option {
	return func(s *settings) { s.runtimeOpts = append(s.runtimeOpts, runtime.WithRetries(n)) }
}

// WithTimeouts sets the per-suite, global, per-action and per-expectation limits.
// Zero keeps the engine default.
func WithTimeouts(suite, global, action, expect time.Duration) Option {
	return func(s *settings) {
		if suite > 0 {
			s.runtimeOpts = append(s.runtimeOpts, runtime.WithSuiteTimeout(suite))
		}
		if global > 0 {
			s.runtimeOpts = append(s.runtimeOpts, runtime.WithGlobalTimeout(global))
		}
		if action > 0 || expect > 0 {
			s.runtimeOpts = append(s.runtimeOpts, runtime.WithStepTimeouts(action, expect))
		}
	}
}

// WithProbePolicies overrides or extends the built-in health policies.
func WithProbePolicies(p probe.Policies) Option {
	return func(s *settings) { s.policies = p }
}

// WithProbeOptions configures the probe client.
func WithProbeOptions(opts ...probe.Option) Option {
	return func(s *settings) { s.probeOpts = append(s.probeOpts, opts...) }
}

// WithGrep keeps only suites whose ID starts with one of the prefixes. The
// setup suites are kept whenever a kept suite needs the fixture.
func WithGrep(prefixes ...string) Option {
	return func(s *settings) { s.grep = append(s.grep, prefixes...) }
}

// WithLifecycleHooks registers observability hooks. Repeated calls merge.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(s *settings) { s.hooks = s.hooks.Merge(hooks) }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// New builds a Harness. It fails on configuration errors only; nothing is
// contacted until Run or Probe.
func New(opts ...Option) (*Harness, error) {
	s := &settings{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	if s.graph == nil {
		g, err := suites.DefaultGraph()
		if err != nil {
			return nil, fmt.Errorf("build default graph: %w", err)
		}
		s.graph = g
	}
	if s.catalog == nil {
		s.catalog = suites.Default()
	}
	if len(s.grep) > 0 {
		s.catalog = grep(s.catalog, s.grep)
	}
	if err := s.catalog.Validate(); err != nil {
		return nil, &domain.ConfigurationError{Key: "suites", Reason: "invalid catalog", Err: err}
	}

	loc, err := locator.New(s.services)
	if err != nil {
		return nil, err
	}

	policies := probe.DefaultPolicies().Merge(s.policies)
	if err := policies.Validate(); err != nil {
		return nil, err
	}
	probes := probe.NewClient(append([]probe.Option{probe.WithLogger(s.logger)}, s.probeOpts...)...)

	if s.store == nil {
		s.store = memory.NewStore()
	}
	fixOpts := []fixture.Option{fixture.WithLogger(s.logger)}
	if s.locker != nil {
		fixOpts = append(fixOpts, fixture.WithLocker(s.locker))
	}
	fixtures := fixture.NewManager(s.store, fixOpts...)

	engineOpts := append([]runtime.EngineOption{
		runtime.WithLocator(loc),
		runtime.WithProbes(probes, policies),
		runtime.WithFixtures(fixtures),
		runtime.WithLifecycleHooks(s.hooks),
		runtime.WithLogger(s.logger),
	}, s.runtimeOpts...)

	return &Harness{
		engine:   runtime.NewEngine(engineOpts...),
		graph:    s.graph,
		catalog:  s.catalog,
		locator:  loc,
		probes:   probes,
		policies: policies,
		fixtures: fixtures,
		logger:   s.logger,
	}, nil
}

func grep(c scenario.Catalog, prefixes []string) scenario.Catalog {
	keep := stage.MatchPrefix(prefixes...)
	kept := c.Filter(keep)
	needsFixture := slices.ContainsFunc(kept, func(s scenario.Suite) bool { return s.UsesFixture })
	return c.Filter(func(ref domain.SuiteRef) bool {
		return keep(ref) || (needsFixture && ref.Category == domain.CategorySetup)
	})
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return time.Now().UTC().Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

// Run executes the catalog over the graph. An empty runID gets a fresh one.
// The error is non-nil only for configuration problems; suite failures are
// in the report.
func (h *Harness) Run(ctx context.Context, runID string) (*report.Report, error) {
	if runID == "" {
		runID = NewRunID()
	}
	return h.engine.Run(ctx, runID, h.graph, h.catalog)
}

// ProbeTarget pairs a service with the policy it is probed with.
type ProbeTarget struct {
	Service string `json:"service"`
	Policy  string `json:"policy"`
}

// DefaultProbeTargets are the health APIs plus front-end reachability of every service.
func DefaultProbeTargets() []ProbeTarget {
	targets := []ProbeTarget{
		{Service: domain.ServiceVault, Policy: probe.VaultHealth},
		{Service: domain.ServiceKeycloak, Policy: probe.KeycloakDiscovery},
		{Service: domain.ServiceGrafana, Policy: probe.GrafanaHealth},
	}
	for _, svc := range domain.Services() {
		targets = append(targets, ProbeTarget{Service: svc, Policy: probe.Reachable})
	}
	return targets
}

// Probe runs the targets concurrently, without a browser. Results keep the
// order of targets.
func (h *Harness) Probe(ctx context.Context, targets ...ProbeTarget) ([]domain.ProbeResult, error) {
	if len(targets) == 0 {
		targets = DefaultProbeTargets()
	}
	results := make([]domain.ProbeResult, len(targets))
	g, ctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		ep, err := h.locator.Resolve(t.Service)
		if err != nil {
			return nil, err
		}
		p, err := h.policies.Get(t.Policy)
		if err != nil {
			return nil, err
		}
		g.Go(func() error {
			results[i] = h.probes.Probe(ctx, ep, p)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

// CheckDiscovery validates the identity broker's OpenID discovery document
// for the given realm.
func (h *Harness) CheckDiscovery(ctx context.Context, realm string) (*probe.Discovery, error) {
	ep, err := h.locator.Resolve(domain.ServiceKeycloak)
	if err != nil {
		return nil, err
	}
	return h.probes.CheckOIDCDiscovery(ctx, strings.TrimRight(ep.BaseURL, "/")+"/realms/"+realm)
}

// Graph returns the stage graph the harness schedules.
func (h *Harness) Graph() *stage.Graph { return h.graph }

// Catalog returns the suites the harness runs.
func (h *Harness) Catalog() scenario.Catalog { return h.catalog }

// Fixtures exposes the fixture manager, for inspection and cleanup.
func (h *Harness) Fixtures() *fixture.Manager { return h.fixtures }

// Endpoints returns every resolved service address.
func (h *Harness) Endpoints() []domain.ServiceEndpoint { return h.locator.All() }

// SuiteCounts returns how many suites each stage owns.
func (h *Harness) SuiteCounts() map[string]int {
	assigned, _ := h.graph.Assign(h.catalog.Refs())
	out := make(map[string]int, len(assigned))
	for _, n := range h.graph.Nodes() {
		out[n.ID] = len(assigned[n.ID])
	}
	return out
}
