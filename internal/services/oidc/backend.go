package oidc

import (
	"context"
	"errors"
	"fmt"

	"github.com/benvon/letmeask/internal/models"
	"github.com/benvon/letmeask/internal/services/identity"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// ErrMissingIDToken is returned when the token response carries no id_token
var ErrMissingIDToken = errors.New("token response missing id_token")

var _ identity.Backend = (*Backend)(nil)

// Backend drives the authorization code flow against one OIDC provider and
// returns verified identity claims
type Backend struct {
	client    *Client
	verifier  *Verifier
	discovery *Discovery
	jwksURL   string
	logger    *zap.Logger
}

// NewBackend discovers the provider named by cfg and wires the OAuth2
// client and ID token verifier for it
func NewBackend(ctx context.Context, cfg *models.OIDCConfig, jwksManager *JWKSManager, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	discovery, err := Discover(ctx, cfg.Issuer)
	if err != nil {
		return nil, err
	}

	jwksURL := discovery.JWKSURI
	if cfg.JWKSUrl != nil && *cfg.JWKSUrl != "" {
		jwksURL = *cfg.JWKSUrl
	}
	if jwksURL == "" {
		return nil, fmt.Errorf("provider %s publishes no jwks_uri", cfg.Provider)
	}

	return &Backend{
		client:    NewClient(cfg, discovery.Endpoint()),
		verifier:  NewVerifier(jwksManager, discovery.Issuer, cfg.ClientID),
		discovery: discovery,
		jwksURL:   jwksURL,
		logger:    logger,
	}, nil
}

// AuthCodeURL returns the provider's authorization URL
func (b *Backend) AuthCodeURL(state string, scopes []string, opts ...oauth2.AuthCodeOption) string {
	return b.client.AuthCodeURL(state, scopes, opts...)
}

// Exchange redeems code, verifies the ID token and fills in name and picture
// from the userinfo endpoint when the token omits them
func (b *Backend) Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*models.JWTClaims, error) {
	token, err := b.client.ExchangeCode(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, ErrMissingIDToken
	}

	claims, err := b.verifier.Verify(ctx, rawIDToken, b.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	if claims.Name == "" || claims.Picture == "" {
		b.fillFromUserInfo(ctx, token, claims)
	}
	return claims, nil
}

func (b *Backend) fillFromUserInfo(ctx context.Context, token *oauth2.Token, claims *models.JWTClaims) {
	if b.discovery.UserInfoEndpoint == "" {
		return
	}
	info, err := b.discovery.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		b.logger.Warn("userinfo_lookup_failed", zap.String("sub", claims.Sub), zap.Error(err))
		return
	}
	if info.Subject != claims.Sub {
		b.logger.Warn("userinfo_subject_mismatch", zap.String("sub", claims.Sub))
		return
	}
	if claims.Name == "" {
		claims.Name = info.Name
	}
	if claims.Picture == "" {
		claims.Picture = info.Picture
	}
	if claims.Email == "" {
		claims.Email = info.Email
		claims.EmailVerified = info.EmailVerified
	}
}
