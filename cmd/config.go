package cmd

import (
	"fmt"

	"github.com/dexporter/dexporter/internal/client"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage dexporter configuration",
	Long: `Manage dexporter configuration stored in $XDG_CONFIG_HOME/dexporter/config.json.

Quick start:
  dexporter config set --token=your-token

Priority order: environment variables > .env file > config file > defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		cmd.Printf("API URL:     %s\n", cfg.APIURL)
		cmd.Printf("Token:       %s\n", client.MaskToken(cfg.Token))
		cmd.Printf("Data dir:    %s\n", cfg.DataDir)
		cmd.Printf("Timeout:     %ds\n", cfg.TimeoutSeconds)
		cmd.Printf("Concurrency: %d\n", cfg.Concurrency)
		if cfg.RequestsPerSecond > 0 {
			cmd.Printf("Rate limit:  %g requests/s\n", cfg.RequestsPerSecond)
		}
		cmd.Printf("Checkpoint:  every %d pages\n", cfg.CheckpointEvery)
		if cfg.Debug {
			cmd.Printf("Debug:       %v\n", cfg.Debug)
		}
		cmd.Println()
		cmd.Printf("Config:      %s\n", client.ConfigPath())

		return nil
	},
}

var (
	setToken           string
	setAPIURL          string
	setDataDir         string
	setTimeout         int
	setConcurrency     int
	setRPS             float64
	setCheckpointEvery int
	setDebug           bool
)

var configSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set configuration values",
	Long: `Set configuration values in the config file.

Examples:
  # Basic setup
  dexporter config set --token=your-token

  # Keep stores elsewhere and sync fewer channels at once
  dexporter config set --data-dir=/srv/archive --concurrency=2

  # Throttle requests
  dexporter config set --rps=2

  # Enable debug mode
  dexporter config set --debug`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fc, err := client.LoadFileConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if fc == nil {
			fc = &client.Config{}
		}

		// Update values if provided
		changed := false
		if setToken != "" {
			fc.Token = setToken
			changed = true
		}
		if cmd.Flags().Changed("api-url") {
			fc.APIURL = setAPIURL
			changed = true
		}
		if cmd.Flags().Changed("data-dir") {
			fc.DataDir = setDataDir
			changed = true
		}
		if cmd.Flags().Changed("timeout") {
			fc.TimeoutSeconds = setTimeout
			changed = true
		}
		if cmd.Flags().Changed("concurrency") {
			fc.Concurrency = setConcurrency
			changed = true
		}
		if cmd.Flags().Changed("rps") {
			fc.RequestsPerSecond = setRPS
			changed = true
		}
		if cmd.Flags().Changed("checkpoint-every") {
			fc.CheckpointEvery = setCheckpointEvery
			changed = true
		}
		if cmd.Flags().Changed("debug") {
			fc.Debug = setDebug
			changed = true
		}

		if !changed {
			return fmt.Errorf("no values provided. Use --token, --api-url, --data-dir, --timeout, --concurrency, --rps, --checkpoint-every or --debug")
		}

		if err := client.SaveFileConfig(fc); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		cmd.Println("Configuration saved")
		if fc.Token != "" {
			cmd.Printf("  Token:       %s\n", client.MaskToken(fc.Token))
		}
		if fc.APIURL != "" {
			cmd.Printf("  API URL:     %s\n", fc.APIURL)
		}
		if fc.DataDir != "" {
			cmd.Printf("  Data dir:    %s\n", fc.DataDir)
		}
		if fc.Concurrency > 0 {
			cmd.Printf("  Concurrency: %d\n", fc.Concurrency)
		}
		if fc.Debug {
			cmd.Printf("  Debug:       %v\n", fc.Debug)
		}

		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(client.ConfigPath())
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configPathCmd)

	configSetCmd.Flags().StringVar(&setToken, "token", "", "Token")
	configSetCmd.Flags().StringVar(&setAPIURL, "api-url", "", "API URL")
	configSetCmd.Flags().StringVar(&setDataDir, "data-dir", "", "Directory holding the stores")
	configSetCmd.Flags().IntVar(&setTimeout, "timeout", 0, "HTTP timeout in seconds")
	configSetCmd.Flags().IntVar(&setConcurrency, "concurrency", 0, "Conversations synced at once")
	configSetCmd.Flags().Float64Var(&setRPS, "rps", 0, "Maximum requests per second (0 = unlimited)")
	configSetCmd.Flags().IntVar(&setCheckpointEvery, "checkpoint-every", 0, "Pages fetched between store writes")
	configSetCmd.Flags().BoolVar(&setDebug, "debug", false, "Enable debug mode")
}
