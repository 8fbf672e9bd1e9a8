package cmd

import (
	"fmt"

	"github.com/dexporter/dexporter/internal/client"
	"github.com/spf13/cobra"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test API connectivity",
	Long: `Look up the authenticated user to verify connectivity and the token.

Prerequisites:
  - DEXPORTER_TOKEN must be set (or configured with dexporter config set)`,
	RunE: runTest,
}

func runTest(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	if !cfg.IsConfigured() {
		return fmt.Errorf("token not configured. Set %s environment variable", client.EnvToken)
	}

	fmt.Printf("Testing connection to %s...\n", cfg.APIURL)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	apiClient := client.NewClient(cfg, Version)
	user, err := apiClient.CurrentUser(ctx)
	if err != nil {
		return fmt.Errorf("API test failed: %w", err)
	}

	fmt.Println("Success! API connection verified.")
	fmt.Printf("  Authenticated as: %s (%s)\n", user.Username, user.ID)
	return nil
}
