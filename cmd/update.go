package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dexporter/dexporter/internal/client"
	"github.com/dexporter/dexporter/internal/dex"
	"github.com/dexporter/dexporter/internal/sync"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	updateChannels []string
	updateGuilds   []string
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Fetch new messages into the local stores",
	Long: `Fetch every message posted since the last run into the local stores.

Each conversation is resumed from the newest message already on disk, so
running update again only downloads what is new. Up to five conversations
are synced at a time; one failing does not stop the others.

Without flags you are asked which DMs and guilds to archive.

Examples:
  dexporter update                              # Choose interactively
  dexporter update --channels 123,456           # Specific channels
  dexporter update --guilds 789                 # Every text channel of a guild

Progress is recorded in <data-dir>/.sync_state.json`,
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().StringSliceVar(&updateChannels, "channels", nil, "Channel ids to update (comma separated)")
	updateCmd.Flags().StringSliceVar(&updateGuilds, "guilds", nil, "Guild ids whose text channels to update (comma separated)")
}

func runUpdate(cmd *cobra.Command, args []string) error {
	config := loadConfig()
	if !config.IsConfigured() {
		return fmt.Errorf("token not configured. Run: dexporter config set --token=\"your-token\"")
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	api := client.NewClient(config, Version)

	var channels []dex.Channel
	var err error
	if len(updateChannels) == 0 && len(updateGuilds) == 0 {
		channels, err = selectChannels(ctx, api, cmd.InOrStdin(), cmd.OutOrStdout())
		if errors.Is(err, errSelectionAborted) {
			fmt.Println("Nothing to do.")
			return nil
		}
	} else {
		channels, err = resolveChannels(ctx, api, updateChannels, updateGuilds)
	}
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		fmt.Println("No channels selected.")
		return nil
	}

	stateManager, err := sync.NewStateManager(config.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize state manager: %w", err)
	}

	driver := sync.NewDriver(api, config.DataDir, config.CheckpointEvery)
	orchestrator := sync.NewOrchestrator(driver, config.Concurrency)

	fmt.Printf("Updating %d conversations into %s...\n\n", len(channels), config.DataDir)
	start := time.Now()
	results := orchestrator.Run(ctx, channels)

	stateManager.RecordRun(orchestrator.RunID)
	var updated, skipped, failed, inserted int
	for _, res := range results {
		stateManager.RecordResult(orchestrator.RunID, res)
		switch res.Status {
		case sync.StatusUpdated:
			updated++
			inserted += res.Inserted
			fmt.Printf("  ✓ %s: +%s (%s total)\n", res.Channel.Display(), humanize.Comma(int64(res.Inserted)), humanize.Comma(int64(res.Messages)))
		case sync.StatusSkipped:
			skipped++
			fmt.Printf("  - %s: up to date\n", res.Channel.Display())
		default:
			failed++
			fmt.Printf("  ✗ %s: %v\n", res.Channel.Display(), res.Err)
		}
	}
	if err := stateManager.Save(); err != nil {
		log.Warn("failed to save sync state", "path", stateManager.Path(), "err", err)
	}

	fmt.Println()
	fmt.Printf("Update complete in %s:\n", time.Since(start).Round(time.Second))
	fmt.Printf("  Updated: %d (%s new messages)\n", updated, humanize.Comma(int64(inserted)))
	fmt.Printf("  Up to date: %d\n", skipped)
	if failed > 0 {
		fmt.Printf("  Failed: %d\n", failed)
		return fmt.Errorf("%d of %d conversations failed", failed, len(results))
	}
	return nil
}

// resolveChannels looks up the given channel ids and expands guild ids into
// their text channels
func resolveChannels(ctx context.Context, api *client.Client, channelIDs, guildIDs []string) ([]dex.Channel, error) {
	var channels []dex.Channel
	for _, raw := range channelIDs {
		id, err := dex.ParseSnowflake(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid channel id %q: %w", raw, err)
		}
		ch, err := api.FetchChannel(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to look up channel %s: %w", raw, err)
		}
		if !ch.IsText() {
			log.Warn("not a text channel, skipping", "channel", ch.Display())
			continue
		}
		channels = append(channels, ch)
	}
	for _, raw := range guildIDs {
		id, err := dex.ParseSnowflake(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid guild id %q: %w", raw, err)
		}
		all, err := api.FetchGuildChannels(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to list channels of guild %s: %w", raw, err)
		}
		channels = append(channels, textChannels(all)...)
	}
	return channels, nil
}
