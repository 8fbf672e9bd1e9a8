package cmd

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dexporter/dexporter/internal/client"
	"github.com/dexporter/dexporter/internal/dex"
	"github.com/dexporter/dexporter/internal/sync"
	"github.com/dustin/go-humanize"
	"github.com/gobwas/glob"
	"github.com/spf13/cobra"
)

var (
	statusReset   bool
	statusInclude string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and archive status",
	Long:  `Display the current configuration, the stores on disk and the outcome of the last update.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusReset, "reset", false, "Forget the recorded update history (stores are kept)")
	statusCmd.Flags().StringVar(&statusInclude, "include", "", "Only count stores whose path under the data dir matches this glob")
}

type storeDirStats struct {
	name     string
	stores   int
	bytes    int64
	channels []string
}

func runStatus(cmd *cobra.Command, args []string) error {
	fmt.Printf("dexporter v%s\n\n", Version)

	cfg := loadConfig()
	if cfg.IsConfigured() {
		fmt.Printf("Token:       %s (configured)\n", client.MaskToken(cfg.Token))
	} else {
		fmt.Println("Token:       Not configured")
		fmt.Println("  Set with: dexporter config set --token=\"your-token\"")
	}
	fmt.Printf("API URL:     %s\n", cfg.APIURL)
	fmt.Printf("Data dir:    %s\n", cfg.DataDir)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Debug:       %v\n", cfg.Debug)
	fmt.Println()

	var include glob.Glob
	if statusInclude != "" {
		g, err := glob.Compile(statusInclude, '/')
		if err != nil {
			return fmt.Errorf("invalid --include pattern: %w", err)
		}
		include = g
	}

	dirs, err := scanStores(cfg.DataDir, include)
	if err != nil {
		fmt.Printf("Stores: none (%v)\n", err)
	} else {
		var total storeDirStats
		fmt.Println("Stores:")
		for _, d := range dirs {
			fmt.Printf("  %-24s %4d stores  %s\n", d.name, d.stores, humanize.Bytes(uint64(d.bytes)))
			total.stores += d.stores
			total.bytes += d.bytes
		}
		fmt.Printf("  %-24s %4d stores  %s\n", "total", total.stores, humanize.Bytes(uint64(total.bytes)))
	}
	fmt.Println()

	stateManager, err := sync.NewStateManager(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to read sync state: %w", err)
	}
	if statusReset {
		stateManager.ClearState()
		if err := stateManager.Save(); err != nil {
			return err
		}
		fmt.Println("Update history cleared.")
		return nil
	}

	if include != nil {
		printConversations(stateManager, dirs)
	}

	runID, runAt := stateManager.LastRun()
	if runID == "" {
		fmt.Println("Last update: never")
		return nil
	}
	when := runAt
	if t, err := time.Parse(time.RFC3339, runAt); err == nil {
		when = humanize.Time(t)
	}
	fmt.Printf("Last update: %s (run %s)\n", when, runID)
	fmt.Printf("Conversations tracked: %d\n", len(stateManager.Conversations()))

	if failed := stateManager.GetFailedSyncs(); len(failed) > 0 {
		fmt.Printf("\nFailing conversations (%d):\n", len(failed))
		for _, info := range failed {
			fmt.Printf("  ✗ %s: %s (%d failures)\n", info.Display, info.LastError, info.FailureCount)
		}
	}
	return nil
}

// printConversations shows the recorded state of each store that matched
func printConversations(stateManager *sync.StateManager, dirs []storeDirStats) {
	fmt.Println("Conversations:")
	for _, d := range dirs {
		for _, id := range d.channels {
			info, ok := stateManager.GetConversationState(id)
			if !ok {
				fmt.Printf("  %s/%s: never updated
", d.name, id)
				continue
			}
			line := fmt.Sprintf("  %s (%s/%s): %s messages", info.Display, d.name, id, humanize.Comma(int64(info.MessageCount)))
			if t, err := time.Parse(time.RFC3339, info.SyncedAt); err == nil {
				line += ", updated " + humanize.Time(t)
			}
			if info.LastError != "" {
				line += ", last run failed: " + info.LastError
			}
			fmt.Println(line)
		}
	}
	fmt.Println()
}

// scanStores counts store files per top-level directory of the data dir
func scanStores(dataDir string, include glob.Glob) ([]storeDirStats, error) {
	byDir := make(map[string]*storeDirStats)
	err := filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != dex.FileExt {
			return nil
		}
		rel, err := filepath.Rel(dataDir, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if include != nil && !include.Match(rel) {
			return nil
		}
		dir, _, _ := strings.Cut(rel, "/")
		info, err := d.Info()
		if err != nil {
			return nil
		}
		s, ok := byDir[dir]
		if !ok {
			s = &storeDirStats{name: dir}
			byDir[dir] = s
		}
		s.stores++
		s.bytes += info.Size()
		s.channels = append(s.channels, strings.TrimSuffix(filepath.Base(rel), dex.FileExt))
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := make([]storeDirStats, 0, len(byDir))
	for _, s := range byDir {
		result = append(result, *s)
	}
	slices.SortFunc(result, func(a, b storeDirStats) int {
		return strings.Compare(a.name, b.name)
	})
	return result, nil
}
