package suites

import (
	"context"
	"errors"
	"time"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/scenario"
)

// IDs of the setup suites.
const (
	Authenticate  = "setup/authenticate"
	VerifySession = "setup/verify-session"
)

const accountPath = "/realms/master/account"

var (
	// SessionSignal is only reachable once the broker has issued a session.
	SessionSignal = domain.Text("Personal info")

	loginTimeout  = 15 * time.Second
	verifyTimeout = 5 * time.Second
)

// Setup returns the suites that produce and re-validate the Session Fixture.
func Setup() []scenario.Suite {
	return []scenario.Suite{
		{
			ID:       Authenticate,
			Title:    "authenticate via keycloak",
			Service:  domain.ServiceKeycloak,
			Category: domain.CategorySetup,
			Run:      authenticate,
		},
		{
			ID:       VerifySession,
			Title:    "verify keycloak session saved",
			Service:  domain.ServiceKeycloak,
			Category: domain.CategorySetup,
			Run:      verifySession,
		},
	}
}

func authenticate(ctx context.Context, env *scenario.Env) error {
	fixtures, err := env.Fixtures()
	if err != nil {
		return err
	}
	creds := env.Credentials(domain.CredentialBroker)
	if err := fixtures.Begin(ctx, env.RunID(), creds); err != nil {
		return err
	}

	fail := func(cause error) error {
		// An abandoned attempt leaves the fixture to the engine, which resets
		// it before the retry begins a new one.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fixtures.Fail(ctx, env.RunID(), cause); err != nil {
			env.Logger().Warn("could not record authentication failure", "err", err)
		}
		return &domain.AuthenticationFailure{Principal: creds.Principal, Err: cause}
	}

	if err := brokerLogin(ctx, env, creds); err != nil {
		return fail(err)
	}
	snap, err := scenario.Snapshot(ctx, env)
	if err != nil {
		return fail(err)
	}
	if err := fixtures.Authenticated(ctx, env.RunID(), snap); err != nil {
		return fail(err)
	}
	if _, err := fixtures.Persist(ctx, env.RunID()); err != nil {
		var authErr *domain.AuthenticationFailure
		if errors.As(err, &authErr) {
			return err
		}
		return fail(err)
	}
	return nil
}

func brokerLogin(ctx context.Context, env *scenario.Env, creds domain.Credentials) error {
	if _, err := scenario.GotoService(ctx, env, domain.ServiceKeycloak, accountPath); err != nil {
		return err
	}
	username := domain.Label("Username or email")
	if err := scenario.Expect(ctx, env, username, 0); err != nil {
		return err
	}
	if err := scenario.Fill(ctx, env, username, creds.Principal); err != nil {
		return err
	}
	if err := scenario.Fill(ctx, env, domain.Label("Password").Exactly(), creds.Secret); err != nil {
		return err
	}
	if err := scenario.Click(ctx, env, domain.Button("Sign In")); err != nil {
		return err
	}
	return scenario.Expect(ctx, env, SessionSignal, loginTimeout)
}

// verifySession opens a fresh context carrying only the persisted fixture
// and expects the broker to recognize it without a login.
func verifySession(ctx context.Context, env *scenario.Env) error {
	fixtures, err := env.Fixtures()
	if err != nil {
		return err
	}
	f, err := fixtures.Load(ctx, env.RunID())
	if err != nil {
		return err
	}
	if _, err := env.PageWithFixture(ctx, f); err != nil {
		return err
	}
	if _, err := scenario.GotoService(ctx, env, domain.ServiceKeycloak, accountPath); err != nil {
		return err
	}
	if err := scenario.Expect(ctx, env, SessionSignal, verifyTimeout); err != nil {
		return err
	}
	return fixtures.MarkVerified(ctx, env.RunID())
}
