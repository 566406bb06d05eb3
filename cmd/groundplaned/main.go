package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/groundplane/groundplane/internal/cli"
	"github.com/groundplane/groundplane/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "groundplaned",
		Short: "Groundplane daemon and CLI",
		Long:  "Groundplane daemon for running the knowledge API server and managing tenants, API keys and ingest jobs",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.TenantCmd())
	rootCmd.AddCommand(admin.APIKeyCmd())
	rootCmd.AddCommand(admin.ReindexCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
