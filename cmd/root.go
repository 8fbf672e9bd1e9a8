package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dexporter/dexporter/internal/client"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"

	verbose     bool
	flagToken   string
	flagDataDir string
)

var rootCmd = &cobra.Command{
	Use:   "dexporter",
	Short: "dexporter - Archive chat history into local stores",
	Long: `dexporter archives the message history of direct and guild channels into
local .dex stores, one per conversation, and keeps them up to date.

Stores live under the data directory (default ./db):
  db/DMs/<channel>.dex        direct channels
  db/<guild>/<channel>.dex    guild text channels

Get started:
  1. Set your token: export DEXPORTER_TOKEN="your-token"
  2. Check it works: dexporter test
  3. Archive channels: dexporter update`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.SetReportTimestamp(true)
		log.SetTimeFormat(time.TimeOnly)
		if verbose || client.LoadConfig().Debug {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "Token (overrides "+client.EnvToken+")")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Data directory (overrides "+client.EnvDataDir+")")

	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(testCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("dexporter %s\n", Version)
	},
}

// loadConfig applies the global flags on top of the loaded configuration
func loadConfig() *client.Config {
	cfg := client.LoadConfig()
	if flagToken != "" {
		cfg.Token = flagToken
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	return cfg
}

// signalContext is cancelled on Ctrl-C so long runs stop between requests
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
