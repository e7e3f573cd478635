package suites

import (
	"context"
	"time"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/scenario"
)

const vaultKVList = "/ui/vault/secrets/secret/kv/list"

var (
	vaultDashboard = domain.Text("Secrets Engines")
	// confirmDialog is the modal every destructive action raises.
	confirmDialog = domain.AnyOf(domain.Role("dialog", ""), domain.Text("Are you sure"))
)

// Vault returns the secrets manager suites. Each one signs in through the
// broker, which recognizes the injected session.
func Vault() []scenario.Suite {
	return []scenario.Suite{
		vaultSuite("login-oidc", "can login via OIDC", func(ctx context.Context, env *scenario.Env) error {
			return nil
		}),
		vaultSuite("secrets-engines", "can view secrets engines", func(ctx context.Context, env *scenario.Env) error {
			return scenario.Expect(ctx, env, domain.Text("secret/"), 0)
		}),
		vaultSuite("kv-navigation", "can navigate to KV secrets", func(ctx context.Context, env *scenario.Env) error {
			if err := scenario.Click(ctx, env, domain.Link("secret")); err != nil {
				return err
			}
			return scenario.Expect(ctx, env, domain.Text("Create secret"), 0)
		}),
		vaultSuite("secret-round-trip", "can create, read and delete a secret", vaultSecretRoundTrip),
		vaultSuite("policies", "can view policies", func(ctx context.Context, env *scenario.Env) error {
			if err := scenario.Click(ctx, env, domain.Link("Policies")); err != nil {
				return err
			}
			if err := scenario.Expect(ctx, env, domain.Text("ACL Policies"), 0); err != nil {
				return err
			}
			return scenario.Expect(ctx, env, domain.Text("default"), 0)
		}),
	}
}

func vaultSuite(slug, title string, body func(context.Context, *scenario.Env) error) scenario.Suite {
	return authenticated(scenario.Suite{
		ID:      "vault/" + slug,
		Title:   title,
		Service: domain.ServiceVault,
		Run: func(ctx context.Context, env *scenario.Env) error {
			if err := vaultLogin(ctx, env); err != nil {
				return err
			}
			return body(ctx, env)
		},
	})
}

func vaultLogin(ctx context.Context, env *scenario.Env) error {
	if _, err := scenario.GotoService(ctx, env, domain.ServiceVault, "/"); err != nil {
		return err
	}
	if err := scenario.Click(ctx, env, domain.Role("tab", "OIDC")); err != nil {
		return err
	}
	// The role field only exists when the auth mount has no default role.
	if role := domain.Label("Role"); scenario.VisibleNow(ctx, env, role) {
		if err := scenario.Fill(ctx, env, role, "admin"); err != nil {
			return err
		}
	}
	if err := scenario.Click(ctx, env, domain.Button("Sign in with OIDC Provider")); err != nil {
		return err
	}
	return scenario.Expect(ctx, env, vaultDashboard, 15*time.Second)
}

func vaultSecretRoundTrip(ctx context.Context, env *scenario.Env) error {
	path := env.UniqueName("e2e-test")

	steps := []func() error{
		func() error { return scenario.Click(ctx, env, domain.Link("secret")) },
		func() error { return scenario.Click(ctx, env, domain.Link("Create secret")) },
		func() error { return scenario.Fill(ctx, env, domain.Label("Path for this secret"), path) },
		func() error { return scenario.Fill(ctx, env, domain.Placeholder("key"), "test-key") },
		func() error { return scenario.Fill(ctx, env, domain.Placeholder("value"), "test-value") },
		func() error { return scenario.Click(ctx, env, domain.Button("Save")) },
		// create confirmation
		func() error { return scenario.Expect(ctx, env, domain.Text(path), 0) },
		func() error { return scenario.Expect(ctx, env, domain.Text("test-key"), 0) },
		// delete confirmation
		func() error { return scenario.Click(ctx, env, domain.Button("Delete")) },
		func() error { return scenario.Expect(ctx, env, confirmDialog, 0) },
		func() error { return scenario.Click(ctx, env, domain.Button("Delete").Final()) },
		func() error { return scenario.ExpectHidden(ctx, env, confirmDialog, 0) },
		func() error {
			_, err := scenario.GotoService(ctx, env, domain.ServiceVault, vaultKVList)
			return err
		},
		func() error { return scenario.ExpectHidden(ctx, env, domain.Text(path), 0) },
	}
	return run(steps)
}

// run executes steps in order and stops at the first error.
func run(steps []func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
