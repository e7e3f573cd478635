// Package locator resolves the base address of each service under test.
package locator

import (
	"fmt"
	"strings"

	"github.com/aretw0/canopy/pkg/domain"
)

// Defaults are the stable addresses used when no override is supplied.
var Defaults = map[string]string{
	domain.ServiceVault:    "https://vault.fords.cloud",
	domain.ServiceKeycloak: "https://sso.fords.cloud",
	domain.ServiceLLDAP:    "https://ldap.fords.cloud",
	domain.ServiceGrafana:  "https://grafana.fords.cloud",
	domain.ServiceForgejo:  "https://forgejo.fords.cloud",
}

// EnvVars maps each service to the variable carrying its per-run override.
var EnvVars = map[string]string{
	domain.ServiceVault:    "VAULT_URL",
	domain.ServiceKeycloak: "KEYCLOAK_URL",
	domain.ServiceLLDAP:    "LLDAP_URL",
	domain.ServiceGrafana:  "GRAFANA_URL",
	domain.ServiceForgejo:  "FORGEJO_URL",
}

// Locator resolves endpoints once per run. It does not validate reachability.
type Locator struct {
	endpoints map[string]domain.ServiceEndpoint
}

// New builds a Locator. A non-empty override beats the default address.
// Overrides for unknown services are rejected.
func New(overrides map[string]string) (*Locator, error) {
	l := &Locator{endpoints: make(map[string]domain.ServiceEndpoint, len(Defaults))}
	for name, base := range Defaults {
		l.endpoints[name] = domain.ServiceEndpoint{Name: name, BaseURL: base}
	}
	for name, base := range overrides {
		if _, ok := Defaults[name]; !ok {
			return nil, &domain.ConfigurationError{
				Key:    "services." + name,
				Reason: "override for unrecognized service",
				Err:    domain.ErrUnknownService,
			}
		}
		if base = strings.TrimSpace(base); base == "" {
			continue
		}
		l.endpoints[name] = domain.ServiceEndpoint{Name: name, BaseURL: strings.TrimRight(base, "/")}
	}
	return l, nil
}

// Resolve returns the endpoint for a service name.
func (l *Locator) Resolve(name string) (domain.ServiceEndpoint, error) {
	ep, ok := l.endpoints[name]
	if !ok {
		return domain.ServiceEndpoint{}, &domain.ConfigurationError{
			Key:    name,
			Reason: fmt.Sprintf("cannot resolve service (known: %s)", strings.Join(domain.Services(), ", ")),
			Err:    domain.ErrUnknownService,
		}
	}
	return ep, nil
}

// MustResolve panics on an unknown service. It is meant for suites whose
// service names are compile-time constants.
func (l *Locator) MustResolve(name string) domain.ServiceEndpoint {
	ep, err := l.Resolve(name)
	if err != nil {
		panic(err)
	}
	return ep
}

// All returns every endpoint in the stable service order.
func (l *Locator) All() []domain.ServiceEndpoint {
	out := make([]domain.ServiceEndpoint, 0, len(l.endpoints))
	for _, name := range domain.Services() {
		out = append(out, l.endpoints[name])
	}
	return out
}
