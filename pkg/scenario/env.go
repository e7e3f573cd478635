package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/fixture"
	"github.com/aretw0/canopy/pkg/locator"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/probe"
)

// Default step timeouts.
const (
	DefaultActionTimeout = 15 * time.Second
	DefaultExpectTimeout = 10 * time.Second
	DefaultPollInterval  = 100 * time.Millisecond
)

// ErrSetupOnly is returned when a non-setup suite asks for fixture writes.
var ErrSetupOnly = errors.New("fixture writes are reserved to the setup stage")

// Namer hands out disposable resource names unique per run and per call.
type Namer struct {
	counter atomic.Uint64
	now     func() time.Time
}

// NewNamer creates a Namer. A nil clock means time.Now.
func NewNamer(now func() time.Time) *Namer {
	if now == nil {
		now = time.Now
	}
	return &Namer{now: now}
}

// Next returns "<prefix>-<unix millis>-<counter>".
func (n *Namer) Next(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, n.now().UnixMilli(), n.counter.Add(1))
}

// EnvConfig carries what the engine hands to one attempt of a suite.
type EnvConfig struct {
	RunID   string
	Stage   string
	Suite   Suite
	Attempt int

	Logger      *slog.Logger
	Locator     *locator.Locator
	Credentials map[domain.CredentialKey]domain.Credentials
	Probes      *probe.Client
	Policies    probe.Policies
	// Fixtures is only set for setup suites.
	Fixtures *fixture.Manager
	Names    *Namer
	// Fixture is injected into the page of suites that use it.
	Fixture *domain.SessionFixture
	// OpenPage opens a fresh browser context for this attempt.
	OpenPage func(context.Context, *domain.SessionFixture) (ports.Page, error)

	ActionTimeout time.Duration
	ExpectTimeout time.Duration
	PollInterval  time.Duration
}

// Env is the environment of a single attempt. It is not shared between attempts.
type Env struct {
	cfg EnvConfig

	mu   sync.Mutex
	page ports.Page
}

// NewEnv builds an attempt environment, filling defaults.
func NewEnv(cfg EnvConfig) *Env {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultActionTimeout
	}
	if cfg.ExpectTimeout <= 0 {
		cfg.ExpectTimeout = DefaultExpectTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Names == nil {
		cfg.Names = NewNamer(nil)
	}
	if cfg.Policies == nil {
		cfg.Policies = probe.DefaultPolicies()
	}
	return &Env{cfg: cfg}
}

// RunID identifies the run.
func (e *Env) RunID() string { return e.cfg.RunID }

// SuiteID identifies the suite.
func (e *Env) SuiteID() string { return e.cfg.Suite.ID }

// Attempt is the 1-based attempt number.
func (e *Env) Attempt() int { return e.cfg.Attempt }

// Logger is scoped to the suite attempt.
func (e *Env) Logger() *slog.Logger { return e.cfg.Logger }

// ActionTimeout bounds a single navigation or interaction.
func (e *Env) ActionTimeout() time.Duration { return e.cfg.ActionTimeout }

// ExpectTimeout is the default wait window of assertions.
func (e *Env) ExpectTimeout() time.Duration { return e.cfg.ExpectTimeout }

// Page opens the browser context on first use, with the run's fixture
// injected when the suite uses it.
func (e *Env) Page(ctx context.Context) (ports.Page, error) {
	return e.open(ctx, e.cfg.Fixture, true)
}

// PageWithFixture opens the attempt's page with an explicit fixture. It is
// used by setup suites to prove a persisted fixture is self-sufficient.
func (e *Env) PageWithFixture(ctx context.Context, f *domain.SessionFixture) (ports.Page, error) {
	return e.open(ctx, f, false)
}

func (e *Env) open(ctx context.Context, f *domain.SessionFixture, reuse bool) (ports.Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.page != nil {
		if reuse {
			return e.page, nil
		}
		return nil, errors.New("page already open for this attempt")
	}
	if e.cfg.OpenPage == nil {
		return nil, errors.New("no browser configured")
	}
	p, err := e.cfg.OpenPage(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	e.page = p
	return p, nil
}

// OpenedPage returns the page if one was opened, nil otherwise.
func (e *Env) OpenedPage() ports.Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.page
}

// Endpoint resolves a service. Services are validated before scheduling.
func (e *Env) Endpoint(service string) domain.ServiceEndpoint {
	return e.cfg.Locator.MustResolve(service)
}

// URL joins a service base address and a path.
func (e *Env) URL(service, path string) string {
	return e.Endpoint(service).URL(path)
}

// Credentials returns the credential set for a key.
func (e *Env) Credentials(key domain.CredentialKey) domain.Credentials {
	return e.cfg.Credentials[key]
}

// Probe runs a named policy against a service.
func (e *Env) Probe(ctx context.Context, service, policy string) (domain.ProbeResult, error) {
	p, err := e.cfg.Policies.Get(policy)
	if err != nil {
		return domain.ProbeResult{}, err
	}
	if e.cfg.Probes == nil {
		return domain.ProbeResult{}, errors.New("no probe client configured")
	}
	return e.cfg.Probes.Probe(ctx, e.Endpoint(service), p), nil
}

// CheckOIDCDiscovery validates the broker's discovery document.
func (e *Env) CheckOIDCDiscovery(ctx context.Context, issuer string) (*probe.Discovery, error) {
	if e.cfg.Probes == nil {
		return nil, errors.New("no probe client configured")
	}
	return e.cfg.Probes.CheckOIDCDiscovery(ctx, issuer)
}

// UniqueName returns a disposable resource name unique per run and per call.
func (e *Env) UniqueName(prefix string) string {
	return e.cfg.Names.Next(prefix)
}

// Fixtures gives setup suites access to the fixture lifecycle.
func (e *Env) Fixtures() (*fixture.Manager, error) {
	if e.cfg.Suite.Category != domain.CategorySetup || e.cfg.Fixtures == nil {
		return nil, ErrSetupOnly
	}
	return e.cfg.Fixtures, nil
}
