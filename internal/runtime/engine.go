// Package runtime schedules scenario suites over a Stage Graph with a bounded
// worker pool, retries, timeouts and artifact capture.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	goruntime "runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/adapters/memory"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/fixture"
	"github.com/aretw0/canopy/pkg/locator"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/probe"
	"github.com/aretw0/canopy/pkg/report"
	"github.com/aretw0/canopy/pkg/scenario"
	"github.com/aretw0/canopy/pkg/stage"
)

// Default limits, matching an interactive run.
const (
	DefaultSuiteTimeout = 60 * time.Second
	artifactTimeout     = 10 * time.Second
)

// Skip reasons recorded by the engine itself.
const (
	ReasonNotSelected = "not selected by any stage"
	ReasonInterrupted = "run interrupted before the suite started"
)

// Engine runs a suite catalog over a Stage Graph.
type Engine struct {
	browser     ports.Browser
	fixtures    *fixture.Manager
	sink        ports.ArtifactSink
	locator     *locator.Locator
	probes      *probe.Client
	policies    probe.Policies
	credentials map[domain.CredentialKey]domain.Credentials

	workers       int
	retries       int
	suiteTimeout  time.Duration
	globalTimeout time.Duration
	actionTimeout time.Duration
	expectTimeout time.Duration
	pollInterval  time.Duration

	hooks  domain.LifecycleHooks
	logger *slog.Logger
	now    func() time.Time
}

// EngineOption configures the Engine.
type EngineOption func(*Engine)

// WithBrowser sets the browser driver.
func WithBrowser(b ports.Browser) EngineOption {
	return func(e *Engine) { e.browser = b }
}

// WithFixtures sets the fixture manager shared by setup and consumers.
func WithFixtures(m *fixture.Manager) EngineOption {
	return func(e *Engine) { e.fixtures = m }
}

// WithArtifactSink sets where failure diagnostics are stored.
func WithArtifactSink(s ports.ArtifactSink) EngineOption {
	return func(e *Engine) { e.sink = s }
}

// WithLocator sets the service locator.
func WithLocator(l *locator.Locator) EngineOption {
	return func(e *Engine) { e.locator = l }
}

// WithProbes sets the probe client and policies.
func WithProbes(c *probe.Client, policies probe.Policies) EngineOption {
	return func(e *Engine) {
		e.probes = c
		e.policies = policies
	}
}

// WithCredentials sets the credential sets supplied by the environment.
func WithCredentials(creds map[domain.CredentialKey]domain.Credentials) EngineOption {
	return func(e *Engine) { e.credentials = creds }
}

// WithWorkers bounds the number of suites running at once.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithRetries sets how many times a failed suite is retried.
func WithRetries(n int) EngineOption {
	return func(e *Engine) {
		if n >= 0 {
			e.retries = n
		}
	}
}

// WithSuiteTimeout bounds each attempt of a suite.
func WithSuiteTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.suiteTimeout = d }
}

// WithGlobalTimeout bounds the whole run. Zero means no limit.
func WithGlobalTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.globalTimeout = d }
}

// WithStepTimeouts sets the action and expectation windows of steps.
func WithStepTimeouts(action, expect time.Duration) EngineOption {
	return func(e *Engine) {
		e.actionTimeout = action
		e.expectTimeout = expect
	}
}

// WithPollInterval sets how often waits re-check their condition.
func WithPollInterval(d time.Duration) EngineOption {
	return func(e *Engine) { e.pollInterval = d }
}

// WithLifecycleHooks registers observability hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) EngineOption {
	return func(e *Engine) { e.hooks = hooks }
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine. Without options it runs with half the CPUs,
// no retries, an in-memory fixture store and no artifact sink.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		workers:      max(1, goruntime.NumCPU()/2),
		suiteTimeout: DefaultSuiteTimeout,
		credentials:  map[domain.CredentialKey]domain.Credentials{},
		logger:       logging.NewNop(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.fixtures == nil {
		e.fixtures = fixture.NewManager(memory.NewStore(), fixture.WithLogger(e.logger))
	}
	if e.policies == nil {
		e.policies = probe.DefaultPolicies()
	}
	if e.probes == nil {
		e.probes = probe.NewClient(probe.WithLogger(e.logger))
	}
	return e
}

// node tracks one Stage Graph vertex during a run. done is closed after
// succeeded is written, so readers that waited on done see the final value.
type node struct {
	domain.StageNode
	suites    []scenario.Suite
	done      chan struct{}
	succeeded bool
	blockedBy string
}

// run is the state of one Run call.
type run struct {
	id     string
	nodes  map[string]*node
	sem    *semaphore.Weighted
	names  *scenario.Namer
	mu     sync.Mutex
	result map[string]domain.ScenarioOutcome
}

func (r *run) record(o domain.ScenarioOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.result[o.SuiteID] = o
}

// Run executes the catalog over the graph and returns the report. It fails
// only on configuration errors detected before scheduling; every other
// failure is contained in the suite that produced it.
func (e *Engine) Run(ctx context.Context, runID string, graph *stage.Graph, catalog scenario.Catalog) (*report.Report, error) {
	if err := e.validate(graph, catalog); err != nil {
		return nil, err
	}

	startedAt := e.now()
	if e.globalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.globalTimeout)
		defer cancel()
	}

	r := &run{
		id:     runID,
		nodes:  make(map[string]*node),
		sem:    semaphore.NewWeighted(int64(e.workers)),
		names:  scenario.NewNamer(e.now),
		result: make(map[string]domain.ScenarioOutcome, len(catalog)),
	}

	assigned, orphans := graph.Assign(catalog.Refs())
	for _, n := range graph.Nodes() {
		nd := &node{StageNode: n, done: make(chan struct{})}
		for _, ref := range assigned[n.ID] {
			s, _ := catalog.Find(ref.ID)
			nd.suites = append(nd.suites, s)
		}
		r.nodes[n.ID] = nd
	}
	for _, ref := range orphans {
		s, _ := catalog.Find(ref.ID)
		r.record(e.skipped(s, "", ReasonNotSelected))
		e.logger.Warn("suite not selected by any stage", "suite_id", ref.ID)
	}

	e.logger.Info("run started",
		"run_id", runID,
		"stages", len(r.nodes),
		"suites", len(catalog),
		"workers", e.workers,
		"retries", e.retries,
	)

	var g errgroup.Group
	for _, id := range graph.Order() {
		nd := r.nodes[id]
		g.Go(func() error {
			e.runNode(ctx, r, nd)
			return nil
		})
	}
	_ = g.Wait()

	rep := &report.Report{
		RunID:      runID,
		StartedAt:  startedAt,
		FinishedAt: e.now(),
	}
	if err := ctx.Err(); err != nil {
		rep.Interrupted = true
		rep.Reason = interruptReason(err, e.globalTimeout)
	}
	for _, id := range graph.Order() {
		nd := r.nodes[id]
		rep.Stages = append(rep.Stages, report.StageSummary{
			ID:        nd.ID,
			Category:  nd.Category,
			Suites:    len(nd.suites),
			Succeeded: nd.succeeded,
			BlockedBy: nd.blockedBy,
		})
	}
	for _, s := range catalog {
		rep.Outcomes = append(rep.Outcomes, r.result[s.ID])
	}

	c := rep.Counts()
	e.logger.Info("run finished",
		"run_id", runID,
		"passed", c.Passed,
		"failed", c.Failed,
		"timed_out", c.TimedOut,
		"skipped", c.Skipped,
		"interrupted", rep.Interrupted,
		"duration", rep.Duration(),
	)
	return rep, nil
}

// validate rejects what must abort the run before scheduling: invalid
// suites, services the locator cannot resolve and a missing broker secret
// when a setup suite would need it.
func (e *Engine) validate(graph *stage.Graph, catalog scenario.Catalog) error {
	if graph == nil {
		return &domain.ConfigurationError{Key: "stages", Reason: "no stage graph"}
	}
	if err := catalog.Validate(); err != nil {
		return &domain.ConfigurationError{Key: "suites", Reason: "invalid catalog", Err: err}
	}
	if e.locator != nil {
		for _, s := range catalog {
			if s.Service == "" {
				continue
			}
			if _, err := e.locator.Resolve(s.Service); err != nil {
				return err
			}
		}
	}

	assigned, _ := graph.Assign(catalog.Refs())
	for _, n := range graph.Nodes() {
		if n.Category != domain.CategorySetup || len(assigned[n.ID]) == 0 {
			continue
		}
		if creds := e.credentials[domain.CredentialBroker]; !creds.Present() {
			return &domain.MissingCredentialError{Key: domain.CredentialBroker, Env: envOf(domain.CredentialBroker, creds)}
		}
	}
	return nil
}

func (e *Engine) runNode(ctx context.Context, r *run, nd *node) {
	defer close(nd.done)

	for _, dep := range nd.DependsOn {
		depNode := r.nodes[dep]
		<-depNode.done
		if !depNode.succeeded && nd.blockedBy == "" {
			nd.blockedBy = dep
		}
	}

	e.emitStage(ctx, r.id, domain.EventStageStart, nd, false)
	log := e.logger.With("run_id", r.id, "stage", nd.ID)

	if nd.blockedBy != "" {
		reason := fmt.Sprintf("blocked by stage %q", nd.blockedBy)
		log.Warn("stage blocked", "blocked_by", nd.blockedBy)
		for _, s := range nd.suites {
			r.record(e.skipped(s, nd.ID, reason))
		}
		e.emitStage(ctx, r.id, domain.EventStageFinish, nd, false)
		return
	}

	var outcomes []suiteResult
	if nd.Concurrency == domain.Serial {
		outcomes = e.runSerial(ctx, r, nd)
	} else {
		outcomes = e.runParallel(ctx, r, nd)
	}

	nd.succeeded = true
	for _, res := range outcomes {
		if !res.succeeded() {
			nd.succeeded = false
		}
	}
	log.Info("stage finished", "succeeded", nd.succeeded, "suites", len(nd.suites))
	e.emitStage(ctx, r.id, domain.EventStageFinish, nd, nd.succeeded)
}

func (e *Engine) runParallel(ctx context.Context, r *run, nd *node) []suiteResult {
	results := make([]suiteResult, len(nd.suites))
	var g errgroup.Group
	for i, s := range nd.suites {
		g.Go(func() error {
			if err := r.sem.Acquire(ctx, 1); err != nil {
				results[i] = suiteResult{outcome: e.skipped(s, nd.ID, ReasonInterrupted)}
				r.record(results[i].outcome)
				return nil
			}
			defer r.sem.Release(1)
			results[i] = e.runSuite(ctx, r, nd.ID, s)
			r.record(results[i].outcome)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// runSerial runs the node's suites in order on a single worker and skips
// the remainder after the first failure.
func (e *Engine) runSerial(ctx context.Context, r *run, nd *node) []suiteResult {
	results := make([]suiteResult, 0, len(nd.suites))
	if err := r.sem.Acquire(ctx, 1); err != nil {
		for _, s := range nd.suites {
			res := suiteResult{outcome: e.skipped(s, nd.ID, ReasonInterrupted)}
			r.record(res.outcome)
			results = append(results, res)
		}
		return results
	}
	defer r.sem.Release(1)

	failedAt := ""
	for _, s := range nd.suites {
		var res suiteResult
		switch {
		case ctx.Err() != nil:
			res = suiteResult{outcome: e.skipped(s, nd.ID, ReasonInterrupted)}
		case failedAt != "":
			res = suiteResult{outcome: e.skipped(s, nd.ID, fmt.Sprintf("serial stage stopped after %q did not succeed", failedAt))}
		default:
			res = e.runSuite(ctx, r, nd.ID, s)
			if !res.succeeded() {
				failedAt = s.ID
			}
		}
		r.record(res.outcome)
		results = append(results, res)
	}
	return results
}

func (e *Engine) skipped(s scenario.Suite, stageID, reason string) domain.ScenarioOutcome {
	return domain.ScenarioOutcome{
		SuiteID: s.ID,
		Title:   s.Title,
		Stage:   stageID,
		Service: s.Service,
		Status:  domain.StatusSkipped,
		Reason:  reason,
	}
}

func (e *Engine) emitStage(ctx context.Context, runID string, typ domain.EventType, nd *node, succeeded bool) {
	hook := e.hooks.OnStageStart
	if typ == domain.EventStageFinish {
		hook = e.hooks.OnStageFinish
	}
	if hook == nil {
		return
	}
	hook(ctx, &domain.StageEvent{
		EventBase: domain.EventBase{Timestamp: e.now(), Type: typ, RunID: runID},
		StageID:   nd.ID,
		Category:  nd.Category,
		Succeeded: succeeded,
	})
}

func interruptReason(err error, global time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) && global > 0 {
		return fmt.Sprintf("global timeout of %s exceeded", global)
	}
	return "run canceled"
}

func envOf(key domain.CredentialKey, creds domain.Credentials) string {
	if creds.Env != "" {
		return creds.Env
	}
	return DefaultCredentialEnv[key]
}

// DefaultCredentialEnv names the variable each credential secret is read from.
var DefaultCredentialEnv = map[domain.CredentialKey]string{
	domain.CredentialBroker:    "TEST_PASSWORD",
	domain.CredentialDirectory: "LLDAP_ADMIN_PASSWORD",
	domain.CredentialCodeHost:  "FORGEJO_PASSWORD",
}
