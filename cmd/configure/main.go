package main

import (
	"fmt"
	"os"

	"github.com/benvon/letmeask/cmd/configure/commands"
	"github.com/spf13/cobra"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "letmeask-configure",
		Short: "Configuration tool for the letmeask auth service",
		Long:  "CLI tool for configuring the OIDC providers the auth service signs in with",
	}

	rootCmd.AddCommand(commands.NewOIDCCmd(commands.OpenDatabaseStore))
	rootCmd.AddCommand(commands.NewListCmd(commands.OpenDatabaseStore))
	rootCmd.AddCommand(commands.NewTestCmd(commands.OpenDatabaseStore))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
