package suites

import (
	"context"
	"time"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/scenario"
)

const disposablePassword = "TestPassword123!"

// LLDAP returns the directory suites. They log in with the directory admin
// credential and are skipped when it is not supplied.
func LLDAP() []scenario.Suite {
	return []scenario.Suite{
		lldapSuite("login", "can login to LLDAP admin", func(ctx context.Context, env *scenario.Env) error {
			return scenario.Expect(ctx, env, domain.Text("Users"), 10*time.Second)
		}),
		lldapSuite("users", "can view user list", func(ctx context.Context, env *scenario.Env) error {
			if err := scenario.Click(ctx, env, domain.Link("Users")); err != nil {
				return err
			}
			return scenario.Expect(ctx, env, domain.Text("admin"), 0)
		}),
		lldapSuite("groups", "can view group list", func(ctx context.Context, env *scenario.Env) error {
			if err := scenario.Click(ctx, env, domain.Link("Groups")); err != nil {
				return err
			}
			return scenario.Expect(ctx, env, domain.Text("lldap_admin"), 0)
		}),
		lldapSuite("user-round-trip", "can create and delete a test user", lldapUserRoundTrip),
	}
}

func lldapSuite(slug, title string, body func(context.Context, *scenario.Env) error) scenario.Suite {
	return authenticated(scenario.Suite{
		ID:       "lldap/" + slug,
		Title:    title,
		Service:  domain.ServiceLLDAP,
		Requires: []domain.CredentialKey{domain.CredentialDirectory},
		Run: func(ctx context.Context, env *scenario.Env) error {
			if err := lldapLogin(ctx, env); err != nil {
				return err
			}
			return body(ctx, env)
		},
	})
}

func lldapLogin(ctx context.Context, env *scenario.Env) error {
	creds := env.Credentials(domain.CredentialDirectory)
	if _, err := scenario.GotoService(ctx, env, domain.ServiceLLDAP, "/"); err != nil {
		return err
	}
	if err := scenario.Fill(ctx, env, domain.Label("Username"), creds.Principal); err != nil {
		return err
	}
	if err := scenario.Fill(ctx, env, domain.Label("Password"), creds.Secret); err != nil {
		return err
	}
	return scenario.Click(ctx, env, domain.AnyOf(domain.Button("sign in"), domain.Button("login")))
}

func lldapUserRoundTrip(ctx context.Context, env *scenario.Env) error {
	user := env.UniqueName("e2e-test")
	users := domain.Link("Users")

	return run([]func() error{
		func() error { return scenario.Expect(ctx, env, domain.Text("Users"), 10*time.Second) },
		func() error { return scenario.Click(ctx, env, domain.Link("Create a user")) },
		func() error { return scenario.Fill(ctx, env, domain.Label("User ID"), user) },
		func() error { return scenario.Fill(ctx, env, domain.Label("Email"), user+"@test.local") },
		func() error {
			return scenario.Fill(ctx, env, domain.Label("Password").Exactly(), disposablePassword)
		},
		func() error { return scenario.Fill(ctx, env, domain.Label("Confirm Password"), disposablePassword) },
		func() error { return scenario.Click(ctx, env, domain.Button("Create")) },
		// create confirmation
		func() error { return scenario.Click(ctx, env, users) },
		func() error { return scenario.Expect(ctx, env, domain.Text(user), 0) },
		// delete confirmation
		func() error { return scenario.Click(ctx, env, domain.Text(user)) },
		func() error { return scenario.Click(ctx, env, domain.Button("Delete")) },
		func() error { return scenario.Expect(ctx, env, confirmDialog, 0) },
		func() error { return scenario.Click(ctx, env, domain.Button("Delete").Final()) },
		func() error { return scenario.ExpectHidden(ctx, env, confirmDialog, 0) },
		func() error { return scenario.Click(ctx, env, users) },
		func() error { return scenario.ExpectHidden(ctx, env, domain.Text(user), 0) },
	})
}
