package domain

import (
	"fmt"
	"strings"
)

// Names of the services under test.
const (
	ServiceVault    = "vault"
	ServiceKeycloak = "keycloak"
	ServiceLLDAP    = "lldap"
	ServiceGrafana  = "grafana"
	ServiceForgejo  = "forgejo"
)

// Services returns the known service names in a stable order.
func Services() []string {
	return []string{ServiceVault, ServiceKeycloak, ServiceLLDAP, ServiceGrafana, ServiceForgejo}
}

// ServiceEndpoint is the resolved base address of a service. It is immutable for a run.
type ServiceEndpoint struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
}

// URL joins the base address with an absolute path.
func (e ServiceEndpoint) URL(path string) string {
	if path == "" || path == "/" {
		return e.BaseURL
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return e.BaseURL + path
}

// CredentialKey names a credential set supplied by the environment.
type CredentialKey string

const (
	// CredentialBroker is the identity broker login used by the setup stage.
	CredentialBroker CredentialKey = "broker"
	// CredentialDirectory is the directory admin login.
	CredentialDirectory CredentialKey = "directory"
	// CredentialCodeHost is the code host login.
	CredentialCodeHost CredentialKey = "codehost"
)

// Credentials is a principal/secret pair. It is never persisted outside process memory.
type Credentials struct {
	Principal string `json:"principal"`
	Secret    string `json:"-"`
	// Env names the variable the secret is read from, for skip reasons.
	Env string `json:"env,omitempty"`
}

// Present reports whether a secret was supplied.
func (c Credentials) Present() bool {
	return c.Secret != ""
}

// String redacts the secret.
func (c Credentials) String() string {
	if c.Present() {
		return fmt.Sprintf("%s:***", c.Principal)
	}
	return fmt.Sprintf("%s:<unset>", c.Principal)
}
