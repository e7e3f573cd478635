package domain_test

import (
	"errors"
	"testing"

	"github.com/aretw0/canopy/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to domain.FixtureState
		want     bool
	}{
		{domain.FixtureUnauthenticated, domain.FixtureAuthenticating, true},
		{domain.FixtureAuthenticating, domain.FixtureAuthenticated, true},
		{domain.FixtureAuthenticating, domain.FixtureAuthenticationFailed, true},
		{domain.FixtureAuthenticated, domain.FixturePersisted, true},
		{domain.FixtureUnauthenticated, domain.FixturePersisted, false},
		{domain.FixturePersisted, domain.FixtureAuthenticating, false},
		{domain.FixtureAuthenticationFailed, domain.FixtureAuthenticating, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, domain.CanTransition(tt.from, tt.to))
		})
	}

	assert.True(t, domain.FixturePersisted.Terminal())
	assert.True(t, domain.FixtureAuthenticationFailed.Terminal())
	assert.False(t, domain.FixtureAuthenticated.Terminal())
}

func TestSessionFixture_CloneIsDeep(t *testing.T) {
	f := domain.NewSessionFixture("run-1", "admin")
	f.Cookies = []domain.Cookie{{Name: "KEYCLOAK_SESSION", Value: "abc"}}
	f.Storage["https://sso.example"] = map[string]string{"token": "x"}

	c := f.Clone()
	c.Cookies[0].Value = "mutated"
	c.Storage["https://sso.example"]["token"] = "mutated"

	assert.Equal(t, "abc", f.Cookies[0].Value)
	assert.Equal(t, "x", f.Storage["https://sso.example"]["token"])
}

func TestSessionFixture_Empty(t *testing.T) {
	f := domain.NewSessionFixture("run-1", "admin")
	assert.True(t, f.Empty())

	f.Storage["https://sso.example"] = map[string]string{}
	assert.True(t, f.Empty(), "an origin without keys carries nothing")

	f.Storage["https://sso.example"]["k"] = "v"
	assert.False(t, f.Empty())
}

func TestSkip_RequiresReason(t *testing.T) {
	assert.Panics(t, func() { _ = domain.Skip("") })

	err := domain.Skip("LLDAP federation not configured")
	reason, ok := domain.SkipReason(err)
	require.True(t, ok)
	assert.Equal(t, "LLDAP federation not configured", reason)
}

func TestMissingCredentialError_IsConfigurationError(t *testing.T) {
	var err error = &domain.MissingCredentialError{Key: domain.CredentialBroker, Env: "TEST_PASSWORD"}

	var cfg *domain.ConfigurationError
	require.True(t, errors.As(err, &cfg))
	assert.Equal(t, "TEST_PASSWORD", cfg.Key)
	assert.Contains(t, err.Error(), "TEST_PASSWORD")
}

func TestCredentials_StringRedacts(t *testing.T) {
	c := domain.Credentials{Principal: "admin", Secret: "hunter2"}
	assert.NotContains(t, c.String(), "hunter2")
	assert.True(t, c.Present())
	assert.False(t, domain.Credentials{Principal: "admin"}.Present())
}
