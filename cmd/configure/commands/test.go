package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/benvon/letmeask/internal/services/oidc"
	"github.com/spf13/cobra"
)

// NewTestCmd creates the test command
func NewTestCmd(open StoreOpener) *cobra.Command {
	var provider string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Test OIDC configuration",
		Long:  "Test OIDC provider configuration by running discovery and fetching the signing keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			if provider == "" {
				return fmt.Errorf("--provider is required")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			store, release, err := open(ctx)
			if err != nil {
				return err
			}
			defer release()

			cfg, err := store.GetByProvider(ctx, provider)
			if err != nil {
				return fmt.Errorf("failed to get OIDC config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Testing OIDC configuration for provider: %s\n", provider)
			fmt.Fprintf(out, "Issuer: %s\n", cfg.Issuer)

			discovery, err := oidc.Discover(ctx, cfg.Issuer)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "✓ Discovery document is valid")
			fmt.Fprintf(out, "  Authorization endpoint: %s\n", discovery.AuthorizationEndpoint)
			fmt.Fprintf(out, "  Token endpoint: %s\n", discovery.TokenEndpoint)
			if discovery.UserInfoEndpoint == "" {
				fmt.Fprintln(out, "  ! No userinfo endpoint; ID tokens must carry name and picture")
			}

			jwksURL := discovery.JWKSURI
			if cfg.JWKSUrl != nil && *cfg.JWKSUrl != "" {
				jwksURL = *cfg.JWKSUrl
			}
			keys, err := oidc.NewJWKSManager().GetJWKS(ctx, jwksURL)
			if err != nil {
				return err
			}
			if keys.Len() == 0 {
				return fmt.Errorf("JWKS at %s has no keys", jwksURL)
			}
			fmt.Fprintf(out, "✓ JWKS endpoint %s serves %d key(s)\n", jwksURL, keys.Len())

			fmt.Fprintln(out, "\n✓ OIDC configuration test passed")
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Provider name to test (required)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout for the checks")

	return cmd
}
