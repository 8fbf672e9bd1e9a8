package cmd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dexporter/dexporter/internal/dex"
	"github.com/dexporter/dexporter/internal/importer"
	"github.com/spf13/cobra"
)

var (
	importChannel string
	importGuild   string
	importUsers   []string
	importTZ      string
	importDryRun  bool
)

var importCmd = &cobra.Command{
	Use:   "import <log-file>",
	Short: "Merge a plain-text chat log into an existing store",
	Long: `Recover messages from a plain-text chat log and merge the ones the store
is missing. Messages already present (same text, same second) are skipped.

The log is a sequence of date headers followed by messages:

  ---- 1 May 2023 ----
  [09:00:00] alice: good morning
  second line of the same message
  https://cdn.discordapp.com/attachments/1/2/cat.png

Every username in the log needs a user id. Pass them with --user, or you
will be asked for them after the log is scanned.

Examples:
  dexporter import chat.log --channel 123 --user alice:111 --user bob:222
  dexporter import chat.log --channel 456 --guild 789 --tz Europe/Berlin
  dexporter import chat.log --channel 123 --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importChannel, "channel", "", "Id of the channel the log belongs to (required)")
	importCmd.Flags().StringVar(&importGuild, "guild", "", "Guild id, for guild channels")
	importCmd.Flags().StringArrayVar(&importUsers, "user", nil, "Username to user id mapping as name:id (repeatable)")
	importCmd.Flags().StringVar(&importTZ, "tz", "UTC", "Time zone the log's times are in")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Report what would be merged without writing")
	_ = importCmd.MarkFlagRequired("channel")
}

func runImport(cmd *cobra.Command, args []string) error {
	config := loadConfig()

	header, err := importHeader(importChannel, importGuild)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(importTZ)
	if err != nil {
		return fmt.Errorf("unknown time zone %q: %w", importTZ, err)
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read log: %w", err)
	}

	storePath := dex.StorePath(config.DataDir, header)
	store, err := dex.Load(storePath)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("no store at %s; run update for this channel first", storePath)
	}
	if err != nil {
		return fmt.Errorf("failed to load store: %w", err)
	}

	// First pass: find out who speaks in the log
	scan, err := importer.ParseLog(bytes.NewReader(data), importer.ParseOptions{Location: loc})
	if err != nil {
		return err
	}
	counts := importer.UserCounts(scan.Candidates)
	fmt.Printf("Found %d messages from %d users in %s:\n", len(scan.Candidates), len(counts), args[0])
	for _, uc := range counts {
		fmt.Printf("  %-24s %d\n", uc.Username, uc.Count)
	}
	fmt.Println()

	users := make(map[string]string)
	for _, raw := range importUsers {
		name, id, err := importer.ParseUserMapping(raw)
		if err != nil {
			return err
		}
		users[name] = id
	}
	if len(users) == 0 {
		users, err = promptUserMapping(cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
	}
	if len(users) == 0 {
		return fmt.Errorf("no users given, nothing to import")
	}

	// Second pass: only mapped users start a message
	allowed := make(map[string]bool, len(users))
	for name := range users {
		allowed[name] = true
	}
	parsed, err := importer.ParseLog(bytes.NewReader(data), importer.ParseOptions{AllowedUsers: allowed, Location: loc})
	if err != nil {
		return err
	}
	for _, a := range parsed.Anomalies {
		log.Warn("date went backwards, header kept as text", "line", a.Line, "header", a.Header)
	}

	before := store.Len()
	stats, err := importer.Merge(store, parsed.Candidates, users)
	if err != nil {
		return err
	}

	fmt.Printf("Import of %s into %s:\n", args[0], storePath)
	fmt.Printf("  Messages in log: %d\n", stats.Candidates)
	fmt.Printf("  Already stored: %d\n", stats.Duplicates)
	fmt.Printf("  New: %d\n", stats.Inserted)
	if parsed.Skipped > 0 {
		fmt.Printf("  Unreadable blocks: %d\n", parsed.Skipped)
	}

	if importDryRun {
		fmt.Printf("\nDry run, store not written (%d -> %d messages)\n", before, store.Len())
		return nil
	}
	if stats.Inserted == 0 {
		fmt.Println("\nNothing new, store unchanged")
		return nil
	}
	if err := store.Flush(storePath); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	fmt.Printf("\n✓ Store now holds %d messages\n", store.Len())
	return nil
}

// importHeader builds enough of a channel to locate its store
func importHeader(channel, guild string) (dex.Channel, error) {
	id, err := dex.ParseSnowflake(channel)
	if err != nil {
		return dex.Channel{}, fmt.Errorf("invalid channel id %q: %w", channel, err)
	}
	header := dex.Channel{ID: id, Type: 1}
	if guild != "" {
		gid, err := dex.ParseSnowflake(guild)
		if err != nil {
			return dex.Channel{}, fmt.Errorf("invalid guild id %q: %w", guild, err)
		}
		header = dex.Channel{ID: id, GuildID: &gid}
	}
	return header, nil
}

// promptUserMapping reads name:id lines until an empty line
func promptUserMapping(in io.Reader, out io.Writer) (map[string]string, error) {
	fmt.Fprintln(out, "Enter user ids as name:id, one per line. Empty line to finish.")
	users := make(map[string]string)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return users, scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return users, nil
		}
		name, id, err := importer.ParseUserMapping(line)
		if err != nil {
			fmt.Fprintf(out, "%v, try again\n", err)
			continue
		}
		users[name] = id
	}
}
