package cmd

import (
	"fmt"

	"github.com/dexporter/dexporter/internal/client"
	"github.com/dexporter/dexporter/internal/dex"
	"github.com/dexporter/dexporter/internal/download"
	"github.com/spf13/cobra"
)

var (
	downloadChannels []string
	downloadOut      string
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Save the attachments of channels to disk",
	Long: `Walk the full history of the given channels and save every attachment
as <out>/<channel id>/<attachment id>.<filename>. Files already on disk are
not fetched again.

Examples:
  dexporter download --channels 123
  dexporter download --channels 123,456 --out ./attachments`,
	RunE: runDownload,
}

func init() {
	downloadCmd.Flags().StringSliceVar(&downloadChannels, "channels", nil, "Channel ids to download attachments from (comma separated)")
	downloadCmd.Flags().StringVar(&downloadOut, "out", download.DefaultOutDir, "Output directory")
	_ = downloadCmd.MarkFlagRequired("channels")
}

func runDownload(cmd *cobra.Command, args []string) error {
	config := loadConfig()
	if !config.IsConfigured() {
		return fmt.Errorf("token not configured. Run: dexporter config set --token=\"your-token\"")
	}

	ids := make([]dex.Snowflake, 0, len(downloadChannels))
	for _, raw := range downloadChannels {
		id, err := dex.ParseSnowflake(raw)
		if err != nil {
			return fmt.Errorf("invalid channel id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	downloader := download.New(client.NewClient(config, Version), downloadOut)

	var total download.Stats
	for _, id := range ids {
		fmt.Printf("Downloading attachments of %s...\n", id)
		stats, err := downloader.Channel(ctx, id)
		if err != nil {
			return fmt.Errorf("channel %s: %w", id, err)
		}
		fmt.Printf("  ✓ %d messages, %d attachments: %s\n", stats.Messages, stats.Attachments, stats)
		total.Messages += stats.Messages
		total.Attachments += stats.Attachments
		total.Downloaded += stats.Downloaded
		total.Existing += stats.Existing
		total.Failed += stats.Failed
		total.Bytes += stats.Bytes
	}

	if len(ids) > 1 {
		fmt.Printf("\nTotal: %s\n", total)
	}
	if total.Failed > 0 {
		return fmt.Errorf("%d attachments could not be downloaded", total.Failed)
	}
	return nil
}
