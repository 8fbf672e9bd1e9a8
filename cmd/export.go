package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dexporter/dexporter/internal/export"
	"github.com/spf13/cobra"
)

var (
	exportFormat  string
	exportInclude string
	exportOut     string
	exportHeaders bool
	exportTZ      string
	exportWatch   bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Render the stores as readable transcripts",
	Long: `Render every store under the data directory.

The text format writes one transcript per conversation, mirroring the store
layout, with one line per message:

  2023-05-01 10:00:00 alice: hello

The sqlite format writes a single queryable archive instead.

Examples:
  dexporter export                          # Text transcripts into ./export
  dexporter export --headers                # With a header line per day
  dexporter export --include 'DMs/*'        # Only direct conversations
  dexporter export --format sqlite          # ./export/archive.db
  dexporter export --watch                  # Re-export stores as they change`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", export.FormatText, "Output format: text or sqlite")
	exportCmd.Flags().StringVar(&exportInclude, "include", "", "Only export stores whose path under the data dir matches this glob")
	exportCmd.Flags().StringVar(&exportOut, "out", export.DefaultOutDir, "Output directory")
	exportCmd.Flags().BoolVar(&exportHeaders, "headers", false, "Write a header before each day (text format)")
	exportCmd.Flags().StringVar(&exportTZ, "tz", "UTC", "Time zone used for rendered times")
	exportCmd.Flags().BoolVar(&exportWatch, "watch", false, "Keep running and re-export stores when they change")
}

func runExport(cmd *cobra.Command, args []string) error {
	config := loadConfig()

	loc, err := time.LoadLocation(exportTZ)
	if err != nil {
		return fmt.Errorf("unknown time zone %q: %w", exportTZ, err)
	}

	exporter, err := export.New(export.Options{
		DataDir:  config.DataDir,
		OutDir:   exportOut,
		Format:   exportFormat,
		Include:  exportInclude,
		Headers:  exportHeaders,
		Location: loc,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	summary, err := exporter.Run(ctx)
	if err != nil {
		return err
	}
	printExportSummary(summary)

	if !exportWatch {
		if summary.Failed > 0 {
			return fmt.Errorf("%d stores could not be exported", summary.Failed)
		}
		return nil
	}
	return watchExport(ctx, config.DataDir, exporter)
}

func watchExport(ctx context.Context, dataDir string, exporter *export.Exporter) error {
	watcher, err := export.NewWatcher(dataDir, export.DefaultDebounce)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", dataDir, err)
	}
	defer watcher.Close()

	fmt.Printf("\nWatching %s for changes (Ctrl-C to stop)...\n", dataDir)
	err = watcher.Run(ctx, func(paths []string) {
		var matched []string
		for _, p := range paths {
			if exporter.Matches(p) {
				matched = append(matched, p)
			}
		}
		if len(matched) == 0 {
			return
		}
		summary, err := exporter.Export(ctx, matched)
		if err != nil {
			log.Error("re-export failed", "err", err)
			return
		}
		fmt.Printf("[%s] re-exported %d stores (%d messages)\n", time.Now().Format(time.TimeOnly), summary.Stores, summary.Messages)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printExportSummary(summary export.Summary) {
	fmt.Println("Export complete:")
	fmt.Printf("  Stores: %d\n", summary.Stores)
	fmt.Printf("  Messages: %d\n", summary.Messages)
	if summary.Skipped > 0 {
		fmt.Printf("  Skipped (no timestamp): %d\n", summary.Skipped)
	}
	if summary.Failed > 0 {
		fmt.Printf("  Failed: %d\n", summary.Failed)
	}
	if len(summary.Outputs) == 1 {
		fmt.Printf("  Output: %s\n", summary.Outputs[0])
	}
}
