package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewListCmd creates the list command
func NewListCmd(open StoreOpener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List configured OIDC providers",
		Long:  "List all configured OIDC providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, release, err := open(ctx)
			if err != nil {
				return err
			}
			defer release()

			configs, err := store.GetAll(ctx)
			if err != nil {
				return fmt.Errorf("failed to list OIDC configs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(configs) == 0 {
				_, err := fmt.Fprintln(out, "No OIDC providers configured")
				return err
			}

			fmt.Fprintln(out, "Configured OIDC providers:")
			for _, c := range configs {
				fmt.Fprintf(out, "  - Provider: %s\n", c.Provider)
				fmt.Fprintf(out, "    Issuer: %s\n", c.Issuer)
				fmt.Fprintf(out, "    Client ID: %s\n", c.ClientID)
				fmt.Fprintf(out, "    Redirect URI: %s\n", c.RedirectURI)
				if c.ClientSecret == nil {
					fmt.Fprintln(out, "    Client type: public (PKCE)")
				}
				if c.JWKSUrl != nil {
					fmt.Fprintf(out, "    JWKS URL: %s\n", *c.JWKSUrl)
				}
				fmt.Fprintln(out)
			}

			return nil
		},
	}

	return cmd
}
