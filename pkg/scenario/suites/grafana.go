package suites

import (
	"context"
	"time"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/scenario"
)

var (
	grafanaOAuth = domain.AnyOf(domain.Link("sign in with"), domain.Link("keycloak"), domain.Link("oauth"))
	grafanaHome  = domain.AnyOf(domain.Text("Home"), domain.Text("Welcome"))
)

// Grafana returns the dashboard suites. Sign-in goes through the broker when
// OAuth is configured; otherwise the anonymous home page is expected.
func Grafana() []scenario.Suite {
	return []scenario.Suite{
		authenticated(scenario.Suite{
			ID:      "grafana/login-oauth",
			Title:   "can login via OAuth",
			Service: domain.ServiceGrafana,
			Run:     grafanaOAuthLogin,
		}),
		grafanaSuite("home", "can access home dashboard", "", domain.Target{}),
		grafanaSuite("datasources", "can access data sources", "/datasources", domain.Text("Data sources")),
		grafanaSuite("alerting", "can access alerting", "/alerting/list",
			domain.AnyOf(domain.Text("Alert rules"), domain.Text("Alerting"))),
		grafanaSuite("explore", "can access explore", "/explore", domain.Text("Explore")),
	}
}

func grafanaOAuthLogin(ctx context.Context, env *scenario.Env) error {
	if _, err := scenario.GotoService(ctx, env, domain.ServiceGrafana, "/"); err != nil {
		return err
	}
	if !scenario.VisibleNow(ctx, env, grafanaOAuth) {
		return domain.Skip("OAuth not configured")
	}
	if err := scenario.Click(ctx, env, grafanaOAuth); err != nil {
		return err
	}
	return scenario.Expect(ctx, env, domain.Text("Home"), 15*time.Second)
}

// grafanaSuite signs in if it can, waits for home and then opens path. An
// empty path stops at home.
func grafanaSuite(slug, title, path string, landmark domain.Target) scenario.Suite {
	return authenticated(scenario.Suite{
		ID:      "grafana/" + slug,
		Title:   title,
		Service: domain.ServiceGrafana,
		Run: func(ctx context.Context, env *scenario.Env) error {
			if _, err := scenario.GotoService(ctx, env, domain.ServiceGrafana, "/"); err != nil {
				return err
			}
			if scenario.VisibleNow(ctx, env, grafanaOAuth) {
				if err := scenario.Click(ctx, env, grafanaOAuth); err != nil {
					return err
				}
			}
			if err := scenario.Expect(ctx, env, grafanaHome, 15*time.Second); err != nil {
				return err
			}
			if path == "" {
				return nil
			}
			if _, err := scenario.GotoService(ctx, env, domain.ServiceGrafana, path); err != nil {
				return err
			}
			return scenario.Expect(ctx, env, landmark, 0)
		},
	})
}
