package suites

import (
	"context"
	"net/url"
	"time"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/scenario"
)

var forgejoDashboard = domain.AnyOf(domain.Text("Dashboard"), domain.Text("Repositories"))

// Forgejo returns the code host suites. Everything past the homepage needs
// the code host credential.
func Forgejo() []scenario.Suite {
	return []scenario.Suite{
		authenticated(scenario.Suite{
			ID:      "forgejo/homepage",
			Title:   "homepage loads",
			Service: domain.ServiceForgejo,
			Run: func(ctx context.Context, env *scenario.Env) error {
				if _, err := scenario.GotoService(ctx, env, domain.ServiceForgejo, "/"); err != nil {
					return err
				}
				return scenario.Expect(ctx, env, domain.AnyOf(domain.Text("Explore"), domain.Text("Forgejo")), 0)
			},
		}),
		forgejoSuite("login", "can login with credentials", func(ctx context.Context, env *scenario.Env) error {
			return scenario.Expect(ctx, env, forgejoDashboard, 10*time.Second)
		}),
		forgejoSuite("repositories", "can view repositories", func(ctx context.Context, env *scenario.Env) error {
			if _, err := scenario.GotoService(ctx, env, domain.ServiceForgejo, "/explore/repos"); err != nil {
				return err
			}
			return scenario.Expect(ctx, env, domain.Text("Explore"), 0)
		}),
		forgejoSuite("repository-round-trip", "can create and delete a test repository", forgejoRepositoryRoundTrip),
		forgejoSuite("profile", "can view user profile", func(ctx context.Context, env *scenario.Env) error {
			user := env.Credentials(domain.CredentialCodeHost).Principal
			if _, err := scenario.GotoService(ctx, env, domain.ServiceForgejo, "/"+url.PathEscape(user)); err != nil {
				return err
			}
			return scenario.Expect(ctx, env, domain.Text(user), 0)
		}),
	}
}

func forgejoSuite(slug, title string, body func(context.Context, *scenario.Env) error) scenario.Suite {
	return authenticated(scenario.Suite{
		ID:       "forgejo/" + slug,
		Title:    title,
		Service:  domain.ServiceForgejo,
		Requires: []domain.CredentialKey{domain.CredentialCodeHost},
		Run: func(ctx context.Context, env *scenario.Env) error {
			if err := forgejoLogin(ctx, env); err != nil {
				return err
			}
			return body(ctx, env)
		},
	})
}

func forgejoLogin(ctx context.Context, env *scenario.Env) error {
	creds := env.Credentials(domain.CredentialCodeHost)
	if _, err := scenario.GotoService(ctx, env, domain.ServiceForgejo, "/user/login"); err != nil {
		return err
	}
	if err := scenario.Fill(ctx, env, domain.Label("Username or email"), creds.Principal); err != nil {
		return err
	}
	if err := scenario.Fill(ctx, env, domain.Label("Password"), creds.Secret); err != nil {
		return err
	}
	return scenario.Click(ctx, env, domain.Button("Sign In"))
}

func forgejoRepositoryRoundTrip(ctx context.Context, env *scenario.Env) error {
	owner := env.Credentials(domain.CredentialCodeHost).Principal
	repo := env.UniqueName("e2e-test")
	gotoPath := func(path string) func() error {
		return func() error {
			_, err := scenario.GotoService(ctx, env, domain.ServiceForgejo, path)
			return err
		}
	}

	return run([]func() error{
		func() error { return scenario.Expect(ctx, env, forgejoDashboard, 10*time.Second) },
		gotoPath("/repo/create"),
		func() error { return scenario.Fill(ctx, env, domain.Label("Repository name"), repo) },
		func() error {
			return scenario.Fill(ctx, env, domain.Label("Description"), "E2E test repository - safe to delete")
		},
		func() error { return scenario.Check(ctx, env, domain.Label("Initialize repository")) },
		func() error { return scenario.Click(ctx, env, domain.Button("Create Repository")) },
		// create confirmation
		func() error { return scenario.Expect(ctx, env, domain.Text(repo), 10*time.Second) },
		func() error { return scenario.Expect(ctx, env, domain.Text("README.md"), 0) },
		// delete confirmation: the modal asks for the name to be typed back
		gotoPath("/" + url.PathEscape(owner) + "/" + repo + "/settings"),
		func() error { return scenario.Click(ctx, env, domain.Button("Delete This Repository")) },
		func() error { return scenario.Fill(ctx, env, domain.Placeholder(repo), repo) },
		func() error { return scenario.Click(ctx, env, domain.Button("Delete Repository")) },
		func() error { return scenario.Expect(ctx, env, forgejoDashboard, 10*time.Second) },
		gotoPath("/explore/repos?q=" + url.QueryEscape(repo)),
		func() error { return scenario.ExpectHidden(ctx, env, domain.Text(repo), 0) },
	})
}
