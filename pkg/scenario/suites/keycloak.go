package suites

import (
	"context"
	"regexp"
	"time"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/aretw0/canopy/pkg/scenario"
)

const adminConsole = "/admin/master/console"

var lldapConnection = regexp.MustCompile(`lldap.*:389`)

// Keycloak returns the identity broker admin console suites.
func Keycloak() []scenario.Suite {
	return []scenario.Suite{
		authenticated(scenario.Suite{
			ID:      "keycloak/admin-console",
			Title:   "can access admin console",
			Service: domain.ServiceKeycloak,
			Run:     openConsole,
		}),
		keycloakSuite("realm-settings", "can view realm settings",
			domain.Link("Realm settings"), domain.Text("General")),
		keycloakSuite("users", "can view users",
			domain.Link("Users"), domain.Button("Add user")),
		keycloakSuite("ldap-federation", "can view LDAP federation",
			domain.Link("User federation"), domain.AnyOf(domain.Text("lldap"), domain.Text("Add Ldap providers"))),
		keycloakSuite("clients", "can view clients",
			domain.Link("Clients"), domain.AnyOf(domain.Text("vault"), domain.Text("admin-cli"))),
		keycloakSuite("identity-providers", "can view identity providers",
			domain.Link("Identity providers"), domain.Text("Add provider")),
		authenticated(scenario.Suite{
			ID:      "keycloak/ldap-sync",
			Title:   "LDAP sync is configured",
			Service: domain.ServiceKeycloak,
			Run:     keycloakLDAPSync,
		}),
	}
}

// keycloakSuite opens the admin console, follows a sidebar link and expects
// the section's landmark.
func keycloakSuite(slug, title string, link, landmark domain.Target) scenario.Suite {
	return authenticated(scenario.Suite{
		ID:      "keycloak/" + slug,
		Title:   title,
		Service: domain.ServiceKeycloak,
		Run: func(ctx context.Context, env *scenario.Env) error {
			if err := openConsole(ctx, env); err != nil {
				return err
			}
			if err := scenario.Click(ctx, env, link); err != nil {
				return err
			}
			return scenario.Expect(ctx, env, landmark, 0)
		},
	})
}

func openConsole(ctx context.Context, env *scenario.Env) error {
	if _, err := scenario.GotoService(ctx, env, domain.ServiceKeycloak, adminConsole); err != nil {
		return err
	}
	return scenario.Expect(ctx, env, domain.Text("master"), 15*time.Second)
}

func keycloakLDAPSync(ctx context.Context, env *scenario.Env) error {
	if err := openConsole(ctx, env); err != nil {
		return err
	}
	if err := scenario.Click(ctx, env, domain.Link("User federation")); err != nil {
		return err
	}
	provider := domain.Link("lldap")
	if err := scenario.Expect(ctx, env, domain.AnyOf(provider, domain.Text("Add Ldap providers")), 0); err != nil {
		return err
	}
	if !scenario.VisibleNow(ctx, env, provider) {
		return domain.Skip("LLDAP federation not configured")
	}
	if err := scenario.Click(ctx, env, provider); err != nil {
		return err
	}
	url := domain.Label("Connection URL")
	if err := scenario.Expect(ctx, env, url, 0); err != nil {
		return err
	}
	return scenario.ExpectValueMatches(ctx, env, url, lldapConnection, 0)
}
