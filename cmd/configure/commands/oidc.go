package commands

import (
	"fmt"
	"net/url"

	"github.com/benvon/letmeask/internal/models"
	"github.com/spf13/cobra"
)

// NewOIDCCmd creates the OIDC configuration command
func NewOIDCCmd(open StoreOpener) *cobra.Command {
	var issuer, clientID, clientSecret, redirectURI, jwksURL string

	cmd := &cobra.Command{
		Use:   "oidc <provider-name>",
		Short: "Configure OIDC provider",
		Long:  "Create or replace the OIDC provider configuration the server signs in with (e.g. 'google')",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := args[0]
			if provider == "" {
				return fmt.Errorf("provider name cannot be empty")
			}

			if issuer == "" || clientID == "" || redirectURI == "" {
				return fmt.Errorf("required flags: --issuer, --client-id, --redirect-uri (--client-secret is optional for public clients)")
			}
			for flag, value := range map[string]string{"--issuer": issuer, "--redirect-uri": redirectURI, "--jwks-url": jwksURL} {
				if value == "" {
					continue
				}
				if err := validateURL(value); err != nil {
					return fmt.Errorf("invalid %s: %w", flag, err)
				}
			}

			ctx := cmd.Context()
			store, release, err := open(ctx)
			if err != nil {
				return err
			}
			defer release()

			cfg := &models.OIDCConfig{
				Provider:    provider,
				Issuer:      issuer,
				ClientID:    clientID,
				RedirectURI: redirectURI,
			}
			if clientSecret != "" {
				cfg.ClientSecret = &clientSecret
			}
			// without an override the server uses the discovered jwks_uri
			if jwksURL != "" {
				cfg.JWKSUrl = &jwksURL
			}

			if err := store.Upsert(ctx, cfg); err != nil {
				return fmt.Errorf("failed to save OIDC config: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Saved OIDC configuration for provider: %s\n", provider)
			return err
		},
	}

	cmd.Flags().StringVar(&issuer, "issuer", "", "OIDC issuer URL (required, e.g. https://accounts.google.com)")
	cmd.Flags().StringVar(&clientID, "client-id", "", "OAuth2 client ID (required)")
	cmd.Flags().StringVar(&clientSecret, "client-secret", "", "OAuth2 client secret (optional for public clients using PKCE)")
	cmd.Flags().StringVar(&redirectURI, "redirect-uri", "", "OAuth2 redirect URI (required, e.g. http://localhost:8080/api/v1/auth/google/callback)")
	cmd.Flags().StringVar(&jwksURL, "jwks-url", "", "JWKS URL override (optional, defaults to the discovered jwks_uri)")

	return cmd
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%q must be an http(s) URL", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
