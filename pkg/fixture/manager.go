package fixture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/canopy/internal/logging"
	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/ports"
)

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates the fixture lifecycle of every run it sees.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	store ports.FixtureStore

	mu    sync.Mutex            // guards locks and live
	locks map[string]*lockEntry // per-run locks
	live  map[string]*domain.SessionFixture

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the TTL of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a fixture Manager over the given store.
func NewManager(store ports.FixtureStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		live:    make(map[string]*domain.SessionFixture),
		lockTTL: 30 * time.Second,
		logger:  logging.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store returns the underlying fixture store.
func (m *Manager) Store() ports.FixtureStore {
	return m.store
}

// Begin moves a run from Unauthenticated to Authenticating. It happens once
// per run and requires a secret for the broker principal.
func (m *Manager) Begin(ctx context.Context, runID string, creds domain.Credentials) error {
	if !creds.Present() {
		env := creds.Env
		if env == "" {
			env = "TEST_PASSWORD"
		}
		return &domain.MissingCredentialError{Key: domain.CredentialBroker, Env: env}
	}

	return m.WithLock(ctx, runID, func(ctx context.Context) error {
		m.mu.Lock()
		_, begun := m.live[runID]
		m.mu.Unlock()
		if begun {
			return fmt.Errorf("fixture for run %s already begun", runID)
		}

		if _, err := m.store.Load(ctx, runID); err == nil {
			return fmt.Errorf("run %s: %w", runID, domain.ErrFixtureReadOnly)
		} else if !errors.Is(err, domain.ErrFixtureNotFound) {
			return fmt.Errorf("failed to check fixture existence: %w", err)
		}

		f := domain.NewSessionFixture(runID, creds.Principal)
		if err := transition(f, domain.FixtureAuthenticating); err != nil {
			return err
		}
		m.mu.Lock()
		m.live[runID] = f
		m.mu.Unlock()

		m.logger.Debug("fixture authenticating", "run_id", runID, "principal", creds.Principal)
		return nil
	})
}

// Authenticated records the authentication material observed after the
// broker's success signal.
func (m *Manager) Authenticated(ctx context.Context, runID string, snap domain.Snapshot) error {
	return m.mutate(ctx, runID, func(f *domain.SessionFixture) error {
		if err := transition(f, domain.FixtureAuthenticated); err != nil {
			return err
		}
		f.Origin = snap.Origin
		f.Cookies = append([]domain.Cookie(nil), snap.Cookies...)
		f.Storage = make(map[string]map[string]string, len(snap.Storage))
		for origin, kv := range snap.Storage {
			f.Storage[origin] = make(map[string]string, len(kv))
			for k, v := range kv {
				f.Storage[origin][k] = v
			}
		}
		f.CapturedAt = m.now().UTC()
		return nil
	})
}

// Fail moves the run to the terminal AuthenticationFailed state.
func (m *Manager) Fail(ctx context.Context, runID string, cause error) error {
	return m.mutate(ctx, runID, func(f *domain.SessionFixture) error {
		if err := transition(f, domain.FixtureAuthenticationFailed); err != nil {
			return err
		}
		if cause != nil {
			f.Error = cause.Error()
		}
		m.logger.Warn("fixture authentication failed", "run_id", runID, "err", cause)
		return nil
	})
}

// Persist writes the authenticated fixture through the store. A fixture
// without cookies and storage is rejected and the run fails.
func (m *Manager) Persist(ctx context.Context, runID string) (*domain.SessionFixture, error) {
	var persisted *domain.SessionFixture
	err := m.WithLock(ctx, runID, func(ctx context.Context) error {
		f, err := m.current(runID)
		if err != nil {
			return err
		}
		if f.State != domain.FixtureAuthenticated {
			return illegal(f.State, domain.FixturePersisted)
		}
		if f.Empty() {
			cause := errors.New("captured session carries no cookies and no storage")
			f.State = domain.FixtureAuthenticationFailed
			f.Error = cause.Error()
			return &domain.AuthenticationFailure{Principal: f.Principal, Err: cause}
		}

		next := f.Clone()
		next.State = domain.FixturePersisted
		if err := m.store.Save(ctx, runID, next); err != nil {
			return fmt.Errorf("failed to persist fixture: %w", err)
		}
		f.State = domain.FixturePersisted
		persisted = next.Clone()

		m.logger.Info("fixture persisted",
			"run_id", runID,
			"cookies", len(next.Cookies),
			"origins", len(next.Storage),
		)
		return nil
	})
	return persisted, err
}

// Reset discards an in-process fixture that never reached Persisted, so a
// retried setup attempt can Begin again. A persisted fixture stays read-only.
func (m *Manager) Reset(ctx context.Context, runID string) error {
	return m.WithLock(ctx, runID, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		f, ok := m.live[runID]
		if !ok || f.State == domain.FixturePersisted {
			return nil
		}
		delete(m.live, runID)
		m.logger.Debug("fixture reset", "run_id", runID, "state", f.State)
		return nil
	})
}

// Load returns a private copy of the persisted fixture of a run.
func (m *Manager) Load(ctx context.Context, runID string) (*domain.SessionFixture, error) {
	f, err := m.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	if f.State != domain.FixturePersisted {
		return nil, fmt.Errorf("run %s is %s: %w", runID, f.State, domain.ErrFixtureNotFound)
	}
	return f.Clone(), nil
}

// MarkVerified records that the persisted fixture alone reproduced the
// broker's success signal.
func (m *Manager) MarkVerified(ctx context.Context, runID string) error {
	return m.WithLock(ctx, runID, func(ctx context.Context) error {
		f, err := m.store.Load(ctx, runID)
		if err != nil {
			return err
		}
		if f.State != domain.FixturePersisted {
			return fmt.Errorf("cannot verify fixture in state %s", f.State)
		}
		if f.VerifiedAt != nil {
			return nil
		}
		now := m.now().UTC()
		f.VerifiedAt = &now
		if err := m.store.Save(ctx, runID, f); err != nil {
			return fmt.Errorf("failed to record verification: %w", err)
		}
		return nil
	})
}

// State returns the in-process state of a run.
func (m *Manager) State(runID string) domain.FixtureState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.live[runID]; ok {
		return f.State
	}
	return domain.FixtureUnauthenticated
}

// Delete removes the stored fixture. It is an operator action between runs.
func (m *Manager) Delete(ctx context.Context, runID string) error {
	return m.WithLock(ctx, runID, func(ctx context.Context) error {
		m.mu.Lock()
		delete(m.live, runID)
		m.mu.Unlock()
		return m.store.Delete(ctx, runID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

func (m *Manager) mutate(ctx context.Context, runID string, fn func(*domain.SessionFixture) error) error {
	return m.WithLock(ctx, runID, func(ctx context.Context) error {
		f, err := m.current(runID)
		if err != nil {
			return err
		}
		return fn(f)
	})
}

func (m *Manager) current(runID string) (*domain.SessionFixture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.live[runID]
	if !ok {
		return nil, fmt.Errorf("fixture for run %s was not begun", runID)
	}
	return f, nil
}

func transition(f *domain.SessionFixture, to domain.FixtureState) error {
	if f.State == domain.FixturePersisted {
		return fmt.Errorf("%w: cannot move to %s", domain.ErrFixtureReadOnly, to)
	}
	if !domain.CanTransition(f.State, to) {
		return illegal(f.State, to)
	}
	f.State = to
	return nil
}

func illegal(from, to domain.FixtureState) error {
	return fmt.Errorf("illegal fixture transition %s -> %s", from, to)
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(runID) after unlocking.
func (m *Manager) acquire(runID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[runID]
	if !exists {
		entry = &lockEntry{}
		m.locks[runID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(runID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[runID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, runID)
	}
}

// WithLock executes a function while holding the lock for the run.
func (m *Manager) WithLock(ctx context.Context, runID string, fn func(context.Context) error) error {
	entry := m.acquire(runID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(runID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, runID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"run_id", runID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
