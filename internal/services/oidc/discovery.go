package oidc

import (
	"context"
	"fmt"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// Discovery is the subset of the OpenID provider metadata this service uses
type Discovery struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`

	provider *gooidc.Provider
}

// Discover fetches <issuer>/.well-known/openid-configuration
func Discover(ctx context.Context, issuer string) (*Discovery, error) {
	provider, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider %s: %w", issuer, err)
	}

	d := &Discovery{provider: provider}
	if err := provider.Claims(d); err != nil {
		return nil, fmt.Errorf("failed to decode discovery document: %w", err)
	}
	return d, nil
}

// Endpoint returns the OAuth2 endpoints of the provider
func (d *Discovery) Endpoint() oauth2.Endpoint {
	return d.provider.Endpoint()
}

// UserInfo calls the provider's userinfo endpoint with the access token in ts
func (d *Discovery) UserInfo(ctx context.Context, ts oauth2.TokenSource) (*UserInfo, error) {
	info, err := d.provider.UserInfo(ctx, ts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch userinfo: %w", err)
	}
	out := &UserInfo{
		Subject:       info.Subject,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
	}
	if err := info.Claims(out); err != nil {
		return nil, fmt.Errorf("failed to decode userinfo: %w", err)
	}
	return out, nil
}

// UserInfo is the profile returned by the userinfo endpoint
type UserInfo struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}
