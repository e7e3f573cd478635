package chromedp

import (
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/domain"
)

func TestCookieConversion(t *testing.T) {
	in := []*network.Cookie{
		{Name: "KEYCLOAK_SESSION", Value: "abc", Domain: "sso.example", Path: "/realms/master/", Expires: 1767225600.5, Secure: true, SameSite: network.CookieSameSiteNone},
		{Name: "AUTH_SESSION_ID", Value: "def", Domain: "sso.example", Path: "/", Expires: -1, HTTPOnly: true},
	}
	cookies := fromNetworkCookies(in)
	require.Len(t, cookies, 2)
	assert.Equal(t, "None", cookies[0].SameSite)
	assert.True(t, cookies[1].HTTPOnly)

	params := toCookieParams(cookies)
	require.Len(t, params, 2)
	require.NotNil(t, params[0].Expires)
	assert.Equal(t, int64(1767225600), time.Time(*params[0].Expires).Unix())
	assert.Nil(t, params[1].Expires, "session cookies stay session cookies")
	assert.Equal(t, network.CookieSameSiteNone, params[0].SameSite)
}

func TestStorageSeedJS(t *testing.T) {
	js, err := storageSeedJS(map[string]map[string]string{
		"https://vault.example": {"token": "x"},
	})
	require.NoError(t, err)
	assert.Contains(t, js, `{"https://vault.example":{"token":"x"}}`)
	assert.Contains(t, js, "getItem(k) === null")
}

func TestFixtureCookiesRoundTrip(t *testing.T) {
	in := []domain.Cookie{{Name: "grafana_session", Value: "v", Domain: "grafana.example", Path: "/"}}
	params := toCookieParams(in)
	assert.Equal(t, "grafana_session", params[0].Name)
	assert.Equal(t, network.CookieSameSite(""), params[0].SameSite)
}
