package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/config"
	"github.com/aretw0/canopy/pkg/adapters/chromedp"
	"github.com/aretw0/canopy/pkg/adapters/file"
	"github.com/aretw0/canopy/pkg/adapters/memory"
	"github.com/aretw0/canopy/pkg/adapters/minio"
	"github.com/aretw0/canopy/pkg/adapters/redis"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/observability"
	"github.com/aretw0/canopy/pkg/persistence/middleware"
	"github.com/aretw0/canopy/pkg/ports"
	"github.com/aretw0/canopy/pkg/probe"
)

// StackOptions selects the optional parts of a Stack.
type StackOptions struct {
	// Browser launches Chromium. Probe, graph and fixture commands do not need it.
	Browser bool
	// Driver replaces the launched Chromium. The caller owns it.
	Driver ports.Browser
	// Registerer receives the run metrics. Nil means a private registry.
	Registerer prometheus.Registerer
	// Hooks are merged after the logging and metrics hooks.
	Hooks domain.LifecycleHooks
}

// Stack is a Harness wired to the adapters selected by the configuration.
type Stack struct {
	Config  config.Config
	Logger  *slog.Logger
	Harness *canopy.Harness
	Metrics *observability.Metrics
	// Store is the fixture backend with encryption applied.
	Store ports.FixtureStore

	closers []func() error
}

// Close releases the browser and backend connections.
func (s *Stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

// RedactedStore returns a view of the fixture backend that masks session
// secrets, for operator inspection.
func (s *Stack) RedactedStore() ports.FixtureStore {
	return middleware.Chain(s.Store, middleware.NewRedactMiddleware(middleware.DefaultRedactPatterns))
}

// NewStack initializes the harness with standard CLI conventions.
func NewStack(ctx context.Context, cfg config.Config, logger *slog.Logger, opts StackOptions) (*Stack, error) {
	s := &Stack{Config: cfg, Logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = s.Close()
		}
	}()

	// 1. Fixture backend
	store, locker, err := s.fixtureStore(cfg.Fixture)
	if err != nil {
		return nil, err
	}
	s.Store = store

	// 2. Artifact sink
	sink, err := artifactSink(ctx, cfg.Artifacts)
	if err != nil {
		return nil, err
	}

	// 3. Metrics & hooks
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics, err := observability.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	s.Metrics = metrics
	hooks := observability.LogHooks(logger).Merge(metrics.Hooks()).Merge(opts.Hooks)

	// 4. Probe policies
	var policies probe.Policies
	if cfg.Probe.PoliciesFile != "" {
		policies, err = probe.LoadPolicies(cfg.Probe.PoliciesFile)
		if err != nil {
			return nil, &domain.ConfigurationError{Key: "probe.policies_file", Reason: "cannot load policies", Err: err}
		}
	}

	harnessOpts := []canopy.Option{
		canopy.WithServices(cfg.Services),
		canopy.WithFixtureStore(store),
		canopy.WithArtifactSink(sink),
		canopy.WithCredentials(cfg.CredentialSet()),
		canopy.WithWorkers(cfg.Run.Workers),
		canopy.WithRetries(cfg.Run.Retries),
		canopy.WithTimeouts(cfg.Run.SuiteTimeout, cfg.Run.GlobalTimeout, cfg.Run.ActionTimeout, cfg.Run.ExpectTimeout),
		canopy.WithProbePolicies(policies),
		canopy.WithProbeOptions(
			probe.WithTimeout(cfg.Probe.Timeout),
			probe.WithInsecureTLS(cfg.Probe.InsecureTLS),
			probe.WithObserver(metrics.ObserveProbe),
		),
		canopy.WithGrep(cfg.Run.Grep...),
		canopy.WithLifecycleHooks(hooks),
		canopy.WithLogger(logger),
	}
	if locker != nil {
		harnessOpts = append(harnessOpts, canopy.WithLocker(locker))
	}

	// 5. Browser, only once everything else is valid
	switch {
	case opts.Driver != nil:
		harnessOpts = append(harnessOpts, canopy.WithBrowser(opts.Driver))
	case opts.Browser:
		b, err := launchBrowser(ctx, cfg.Browser, logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, b.Close)
		harnessOpts = append(harnessOpts, canopy.WithBrowser(b))
	}

	h, err := canopy.New(harnessOpts...)
	if err != nil {
		return nil, err
	}
	s.Harness = h
	ok = true
	return s, nil
}

func (s *Stack) fixtureStore(cfg config.FixtureConfig) (ports.FixtureStore, ports.DistributedLocker, error) {
	var (
		store  ports.FixtureStore
		locker ports.DistributedLocker
	)
	switch cfg.Backend {
	case "file":
		store = file.New(cfg.Dir)
	case "memory":
		store = memory.NewStore()
	case "redis":
		rs := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
			redis.WithTTL(cfg.TTL),
			redis.WithPrefix(cfg.Redis.Prefix),
		)
		s.closers = append(s.closers, rs.Close)
		store = rs
		locker = redis.NewLocker(rs.Client(), cfg.Redis.Prefix+"lock:")
	default:
		return nil, nil, &domain.ConfigurationError{Key: "fixture.backend", Reason: fmt.Sprintf("unknown backend %q", cfg.Backend)}
	}

	if cfg.EncryptionKey != "" {
		keys, err := middleware.ParseKeys(cfg.EncryptionKey, cfg.FallbackKeys...)
		if err != nil {
			return nil, nil, &domain.ConfigurationError{Key: "fixture.encryption_key", Reason: "invalid key", Err: err}
		}
		store = middleware.Chain(store, middleware.NewEncryptionMiddleware(keys))
	}
	return store, locker, nil
}

func artifactSink(ctx context.Context, cfg config.ArtifactConfig) (ports.ArtifactSink, error) {
	switch cfg.Backend {
	case "file":
		return file.NewArtifactSink(cfg.Dir), nil
	case "minio":
		sink, err := minio.New(ctx, cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("connect artifact bucket: %w", err)
		}
		return sink, nil
	}
	return nil, &domain.ConfigurationError{Key: "artifacts.backend", Reason: fmt.Sprintf("unknown backend %q", cfg.Backend)}
}

func launchBrowser(ctx context.Context, cfg config.BrowserConfig, logger *slog.Logger) (*chromedp.Browser, error) {
	opts := []chromedp.Option{
		chromedp.WithHeadless(cfg.Headless),
		chromedp.WithIgnoreHTTPSErrors(cfg.IgnoreHTTPSErrors),
		chromedp.WithViewport(cfg.Width, cfg.Height),
		chromedp.WithLogger(logger),
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.WithExecPath(cfg.ExecPath))
	}
	if cfg.RemoteURL != "" {
		opts = append(opts, chromedp.WithRemoteURL(cfg.RemoteURL))
	}
	b, err := chromedp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	return b, nil
}
