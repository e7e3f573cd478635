package probe

import (
	"context"
	"fmt"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// Discovery summarizes a validated OpenID discovery document.
type Discovery struct {
	Issuer      string   `json:"issuer"`
	AuthURL     string   `json:"authorization_endpoint"`
	TokenURL    string   `json:"token_endpoint"`
	JWKSURL     string   `json:"jwks_uri"`
	UserInfoURL string   `json:"userinfo_endpoint"`
	Scopes      []string `json:"scopes_supported"`
}

// CheckOIDCDiscovery proves that the broker's discovery document is
// self-consistent: go-oidc rejects a document whose issuer differs from the
// URL it was fetched from.
func (c *Client) CheckOIDCDiscovery(ctx context.Context, issuerURL string) (*Discovery, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	ctx = oidc.ClientContext(ctx, c.http)

	provider, err := oidc.NewProvider(ctx, strings.TrimRight(issuerURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}

	var d Discovery
	if err := provider.Claims(&d); err != nil {
		return nil, fmt.Errorf("decode discovery claims: %w", err)
	}
	if d.JWKSURL == "" {
		return nil, fmt.Errorf("discovery document for %s has no jwks_uri", d.Issuer)
	}
	if ep := provider.Endpoint(); ep.AuthURL == "" || ep.TokenURL == "" {
		return nil, fmt.Errorf("discovery document for %s lacks authorization or token endpoint", d.Issuer)
	}
	return &d, nil
}
