package oidc

import (
	"context"
	"fmt"
	"strconv"

	"github.com/benvon/letmeask/internal/models"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// googleIssuer is also emitted without the scheme by Google.
const googleIssuer = "https://accounts.google.com"

// Verifier verifies ID tokens
type Verifier struct {
	jwksManager *JWKSManager
	issuers     []string
	audience    string
}

// NewVerifier creates a new ID token verifier. An empty audience skips the
// audience check.
func NewVerifier(jwksManager *JWKSManager, issuer, audience string) *Verifier {
	issuers := []string{issuer}
	if issuer == googleIssuer {
		issuers = append(issuers, "accounts.google.com")
	}
	return &Verifier{
		jwksManager: jwksManager,
		issuers:     issuers,
		audience:    audience,
	}
}

// Verify verifies an ID token and extracts claims
func (v *Verifier) Verify(ctx context.Context, tokenString string, jwksURL string) (*models.JWTClaims, error) {
	keys, err := v.keySet(ctx, tokenString, jwksURL)
	if err != nil {
		return nil, err
	}
	token, err := v.parse(tokenString, keys)
	if err != nil {
		return nil, err
	}

	if !v.issuerAllowed(token.Issuer()) {
		return nil, fmt.Errorf("token issuer mismatch: expected %s, got %s", v.issuers[0], token.Issuer())
	}

	claims := &models.JWTClaims{
		Sub: token.Subject(),
		Iss: token.Issuer(),
		Exp: token.Expiration().Unix(),
		Iat: token.IssuedAt().Unix(),
	}
	if aud := token.Audience(); len(aud) > 0 {
		claims.Aud = aud[0]
	}
	if claims.Sub == "" {
		return nil, fmt.Errorf("token missing subject claim")
	}

	if email, ok := stringClaim(token, "email"); ok {
		claims.Email = email
	}
	if name, ok := stringClaim(token, "name"); ok {
		claims.Name = name
	}
	if picture, ok := stringClaim(token, "picture"); ok {
		claims.Picture = picture
	}
	if verified, ok := token.Get("email_verified"); ok {
		switch val := verified.(type) {
		case bool:
			claims.EmailVerified = val
		case string:
			claims.EmailVerified, _ = strconv.ParseBool(val)
		}
	}

	return claims, nil
}

// keySet returns the cached keys, refetching them once when the token names
// a key id the cached set does not hold.
func (v *Verifier) keySet(ctx context.Context, tokenString, jwksURL string) (jwk.Set, error) {
	keys, err := v.jwksManager.GetJWKS(ctx, jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}
	kid := keyID(tokenString)
	if kid == "" {
		return keys, nil
	}
	if _, ok := keys.LookupKeyID(kid); ok {
		return keys, nil
	}

	// the provider rotated keys after the set was cached
	v.jwksManager.Invalidate(jwksURL)
	keys, err = v.jwksManager.GetJWKS(ctx, jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get JWKS: %w", err)
	}
	return keys, nil
}

// keyID reads the kid header without verifying the token
func keyID(tokenString string) string {
	msg, err := jws.Parse([]byte(tokenString))
	if err != nil || len(msg.Signatures()) == 0 {
		return ""
	}
	return msg.Signatures()[0].ProtectedHeaders().KeyID()
}

func (v *Verifier) parse(tokenString string, keys jwk.Set) (jwt.Token, error) {
	opts := []jwt.ParseOption{
		jwt.WithKeySet(keys, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse/verify token: %w", err)
	}
	return token, nil
}

func (v *Verifier) issuerAllowed(iss string) bool {
	for _, allowed := range v.issuers {
		if iss == allowed {
			return true
		}
	}
	return false
}

func stringClaim(token jwt.Token, name string) (string, bool) {
	raw, ok := token.Get(name)
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}
