package oidc

import (
	"context"

	"github.com/benvon/letmeask/internal/models"
	"golang.org/x/oauth2"
)

// DefaultScopes are requested when the caller does not name any.
var DefaultScopes = []string{"openid", "email", "profile"}

// Client wraps OAuth2 client functionality
type Client struct {
	config *oauth2.Config
}

// NewClient creates a new OAuth2 client from OIDC config and the provider's
// endpoints
func NewClient(oidcConfig *models.OIDCConfig, endpoint oauth2.Endpoint) *Client {
	config := &oauth2.Config{
		ClientID:     oidcConfig.ClientID,
		ClientSecret: oidcConfig.Secret(),
		RedirectURL:  oidcConfig.RedirectURI,
		Scopes:       DefaultScopes,
		Endpoint:     endpoint,
	}

	return &Client{config: config}
}

// ExchangeCode exchanges an authorization code for tokens
func (c *Client) ExchangeCode(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	return c.config.Exchange(ctx, code, opts...)
}

// AuthCodeURL returns the authorization URL for the given scopes
func (c *Client) AuthCodeURL(state string, scopes []string, opts ...oauth2.AuthCodeOption) string {
	if len(scopes) == 0 {
		return c.config.AuthCodeURL(state, opts...)
	}
	cfg := *c.config
	cfg.Scopes = scopes
	return cfg.AuthCodeURL(state, opts...)
}
