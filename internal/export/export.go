// Package export renders stores into formats meant for people and tools:
// plain text transcripts and a SQLite archive. It never writes to stores.
package export

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dexporter/dexporter/internal/dex"
	"github.com/gobwas/glob"
)

// Output formats
const (
	FormatText   = "text"
	FormatSQLite = "sqlite"
)

const (
	// DefaultOutDir is where exports go unless told otherwise
	DefaultOutDir = "export"
	// SQLiteFileName is the archive written by the sqlite format
	SQLiteFileName = "archive.db"
)

// Options configures an export run
type Options struct {
	DataDir  string
	OutDir   string
	Format   string
	Include  string
	Headers  bool
	Location *time.Location
}

// Summary describes what an export run produced
type Summary struct {
	Stores   int
	Messages int
	Skipped  int
	Failed   int
	Outputs  []string
}

// Exporter renders the stores of a data directory
type Exporter struct {
	opts    Options
	include glob.Glob
}

// New validates opts and compiles the include pattern
func New(opts Options) (*Exporter, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if opts.OutDir == "" {
		opts.OutDir = DefaultOutDir
	}
	if opts.Format == "" {
		opts.Format = FormatText
	}
	if opts.Format != FormatText && opts.Format != FormatSQLite {
		return nil, fmt.Errorf("unsupported format %q (use %s or %s)", opts.Format, FormatText, FormatSQLite)
	}

	e := &Exporter{opts: opts}
	if opts.Include != "" {
		g, err := glob.Compile(opts.Include, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", opts.Include, err)
		}
		e.include = g
	}
	return e, nil
}

// FindStores lists the store files under the data directory that match the
// include pattern, in lexical order
func (e *Exporter) FindStores() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(e.opts.DataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != dex.FileExt || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if !e.Matches(path) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// Matches reports whether a store path passes the include pattern. The
// pattern is matched against the slash separated path relative to the data
// directory, such as "DMs/123.dex".
func (e *Exporter) Matches(path string) bool {
	if e.include == nil {
		return true
	}
	rel, err := filepath.Rel(e.opts.DataDir, path)
	if err != nil {
		return false
	}
	return e.include.Match(filepath.ToSlash(rel))
}

// Run exports every matching store
func (e *Exporter) Run(ctx context.Context) (Summary, error) {
	paths, err := e.FindStores()
	if err != nil {
		return Summary{}, err
	}
	return e.Export(ctx, paths)
}

// Export renders the given store files
func (e *Exporter) Export(ctx context.Context, paths []string) (Summary, error) {
	var summary Summary
	if err := os.MkdirAll(e.opts.OutDir, 0o755); err != nil {
		return summary, err
	}

	var archive *Archive
	if e.opts.Format == FormatSQLite {
		dbPath := filepath.Join(e.opts.OutDir, SQLiteFileName)
		a, err := OpenArchive(ctx, dbPath)
		if err != nil {
			return summary, err
		}
		defer a.Close()
		archive = a
		summary.Outputs = append(summary.Outputs, dbPath)
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		store, err := dex.Load(path)
		if err != nil {
			log.Warn("failed to load store, not exported", "path", path, "err", err)
			summary.Failed++
			continue
		}
		summary.Stores++

		switch e.opts.Format {
		case FormatSQLite:
			rel, _ := filepath.Rel(e.opts.DataDir, path)
			n, err := archive.Put(ctx, filepath.ToSlash(rel), store)
			if err != nil {
				return summary, fmt.Errorf("archive %s: %w", path, err)
			}
			summary.Messages += n
		default:
			out, written, skipped, err := e.writeText(path, store)
			if err != nil {
				return summary, fmt.Errorf("export %s: %w", path, err)
			}
			log.Debug("exported", "store", path, "out", out, "messages", written)
			summary.Messages += written
			summary.Skipped += skipped
			summary.Outputs = append(summary.Outputs, out)
		}
	}
	return summary, nil
}

// TextPath returns where the transcript of a store is written: the store's
// directory relative to the data directory, mirrored under the output
// directory, with the channel's names as file name.
func (e *Exporter) TextPath(storePath string, header dex.Channel) string {
	relDir := "."
	if rel, err := filepath.Rel(e.opts.DataDir, filepath.Dir(storePath)); err == nil && !strings.HasPrefix(rel, "..") {
		relDir = rel
	}
	name := sanitizeFileName(header.Names())
	if name == "" {
		name = header.ID.String()
	}
	return filepath.Join(e.opts.OutDir, relDir, name+".txt")
}

func (e *Exporter) writeText(storePath string, store *dex.Store) (string, int, int, error) {
	out := e.TextPath(storePath, store.Header)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return out, 0, 0, err
	}
	file, err := os.Create(out)
	if err != nil {
		return out, 0, 0, err
	}
	written, skipped, err := RenderText(file, store, TextOptions{Headers: e.opts.Headers, Location: e.opts.Location})
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	return out, written, skipped, err
}

func sanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
}
