package suites

import (
	"context"
	"regexp"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/probe"
	"github.com/aretw0/canopy/pkg/scenario"
)

// Smoke returns the no-auth checks: every front end answers below 500 and
// shows its branding, and the health APIs satisfy their policies.
func Smoke() []scenario.Suite {
	return []scenario.Suite{
		reachable(domain.ServiceVault, func(ctx context.Context, env *scenario.Env) error {
			return scenario.Expect(ctx, env, domain.Text("Sign in to Vault"), 0)
		}),
		reachable(domain.ServiceKeycloak, bodyMatches(`(?i)keycloak|sign in|log in`)),
		reachable(domain.ServiceLLDAP, func(ctx context.Context, env *scenario.Env) error {
			return scenario.Expect(ctx, env, domain.AnyOf(domain.Button("sign in"), domain.Button("login")), 0)
		}),
		reachable(domain.ServiceGrafana, bodyMatches(`(?i)grafana|login|welcome`)),
		reachable(domain.ServiceForgejo, bodyMatches(`(?i)forgejo|explore|sign in`)),

		healthAPI(domain.ServiceVault, probe.VaultHealth, nil),
		healthAPI(domain.ServiceKeycloak, probe.KeycloakDiscovery, checkDiscovery),
		healthAPI(domain.ServiceGrafana, probe.GrafanaHealth, nil),
	}
}

func reachable(service string, branding func(context.Context, *scenario.Env) error) scenario.Suite {
	return scenario.Suite{
		ID:       "smoke/" + service + "-reachable",
		Title:    service + " is reachable",
		Service:  service,
		Category: domain.CategoryStandalone,
		Run: func(ctx context.Context, env *scenario.Env) error {
			url := env.URL(service, "/")
			status, err := scenario.Goto(ctx, env, url)
			if err != nil {
				return err
			}
			if err := scenario.ExpectStatusBelow(url, status, 500); err != nil {
				return err
			}
			return branding(ctx, env)
		},
	}
}

func bodyMatches(pattern string) func(context.Context, *scenario.Env) error {
	re := regexp.MustCompile(pattern)
	return func(ctx context.Context, env *scenario.Env) error {
		return scenario.ExpectBodyMatches(ctx, env, re, 0)
	}
}

func healthAPI(service, policy string, then func(context.Context, *scenario.Env) error) scenario.Suite {
	return scenario.Suite{
		ID:       "smoke/" + policy,
		Title:    service + " health API",
		Service:  service,
		Category: domain.CategoryStandalone,
		Run: func(ctx context.Context, env *scenario.Env) error {
			res, err := env.Probe(ctx, service, policy)
			if err != nil {
				return err
			}
			env.Logger().Info("probe", "policy", policy, "status", res.HTTPStatus, "label", res.Label, "classification", res.Classification)
			if err := probe.Require(res); err != nil {
				return err
			}
			if then == nil {
				return nil
			}
			return then(ctx, env)
		},
	}
}

// checkDiscovery proves the broker's discovery document is self-consistent.
func checkDiscovery(ctx context.Context, env *scenario.Env) error {
	issuer := env.URL(domain.ServiceKeycloak, "/realms/master")
	d, err := env.CheckOIDCDiscovery(ctx, issuer)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &domain.AssertionFailure{Step: "oidc discovery of " + issuer, Err: err}
	}
	env.Logger().Debug("oidc discovery", "issuer", d.Issuer, "jwks_uri", d.JWKSURL)
	return nil
}
