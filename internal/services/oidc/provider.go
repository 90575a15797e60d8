package oidc

import (
	"context"
	"fmt"
	"strings"

	"github.com/benvon/letmeask/internal/models"
	"go.uber.org/zap"
)

// ConfigRepository loads provider configuration
type ConfigRepository interface {
	GetByProvider(ctx context.Context, provider string) (*models.OIDCConfig, error)
}

// Provider manages OIDC provider configuration
type Provider struct {
	repo   ConfigRepository
	jwks   *JWKSManager
	logger *zap.Logger
}

// NewProvider creates a new OIDC provider manager
func NewProvider(repo ConfigRepository, jwks *JWKSManager, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{repo: repo, jwks: jwks, logger: logger}
}

// GetConfig retrieves OIDC configuration for a provider
func (p *Provider) GetConfig(ctx context.Context, providerName string) (*models.OIDCConfig, error) {
	config, err := p.repo.GetByProvider(ctx, providerName)
	if err != nil {
		return nil, fmt.Errorf("failed to get OIDC config: %w", err)
	}
	return config, nil
}

// Backend builds the sign-in backend for a configured provider
func (p *Provider) Backend(ctx context.Context, providerName string) (*Backend, error) {
	config, err := p.GetConfig(ctx, providerName)
	if err != nil {
		return nil, err
	}
	return NewBackend(ctx, config, p.jwks, p.logger)
}

// GetLoginConfig returns the configuration needed for frontend OIDC login
func (p *Provider) GetLoginConfig(ctx context.Context, providerName string) (*LoginConfig, error) {
	config, err := p.GetConfig(ctx, providerName)
	if err != nil {
		return nil, err
	}

	// Fall back to endpoints under the issuer if discovery fails
	base := strings.TrimSuffix(config.Issuer, "/")
	authEndpoint := base + "/oauth2/authorize"
	tokenEndpoint := base + "/oauth2/token"

	if discovery, err := Discover(ctx, config.Issuer); err == nil {
		if discovery.AuthorizationEndpoint != "" {
			authEndpoint = discovery.AuthorizationEndpoint
		}
		if discovery.TokenEndpoint != "" {
			tokenEndpoint = discovery.TokenEndpoint
		}
	} else {
		p.logger.Warn("oidc_discovery_failed",
			zap.String("provider", providerName),
			zap.Error(err),
		)
	}

	return &LoginConfig{
		AuthorizationEndpoint: authEndpoint,
		TokenEndpoint:         tokenEndpoint,
		ClientID:              config.ClientID,
		RedirectURI:           config.RedirectURI,
		Scope:                 strings.Join(DefaultScopes, " "),
	}, nil
}

// LoginConfig contains OIDC login configuration for frontend
type LoginConfig struct {
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	ClientID              string `json:"client_id"`
	RedirectURI           string `json:"redirect_uri"`
	Scope                 string `json:"scope"`
}
