// Package download saves the attachments of a channel to disk.
package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dexporter/dexporter/internal/dex"
	"github.com/dexporter/dexporter/internal/sync"
	"github.com/dustin/go-humanize"
)

// DefaultOutDir is where attachments go unless told otherwise
const DefaultOutDir = "download"

// Source pages through messages and fetches attachment bodies
type Source interface {
	sync.Fetcher
	Download(ctx context.Context, rawURL string, w io.Writer) (int64, error)
}

// Stats counts what a channel download did
type Stats struct {
	Messages    int
	Attachments int
	Downloaded  int
	Existing    int
	Failed      int
	Bytes       int64
}

func (s Stats) String() string {
	return fmt.Sprintf("%d downloaded (%s), %d already present, %d failed",
		s.Downloaded, humanize.Bytes(uint64(s.Bytes)), s.Existing, s.Failed)
}

// Downloader writes attachments below outDir/<channel id>/
type Downloader struct {
	source Source
	outDir string
}

// New creates a downloader
func New(source Source, outDir string) *Downloader {
	if outDir == "" {
		outDir = DefaultOutDir
	}
	return &Downloader{source: source, outDir: outDir}
}

// Path returns where an attachment of a channel is saved
func (d *Downloader) Path(channelID dex.Snowflake, a dex.Attachment) string {
	name := filepath.Base(strings.ReplaceAll(a.Filename, "\\", "/"))
	if name == "." || name == "/" {
		name = ""
	}
	return filepath.Join(d.outDir, channelID.String(), a.ID+"."+name)
}

// Channel walks the whole history of a channel and saves every attachment
// that is not on disk yet. A failed attachment is logged and counted; only
// a failure to page through the channel is returned.
func (d *Downloader) Channel(ctx context.Context, channelID dex.Snowflake) (Stats, error) {
	var stats Stats
	logger := log.With("channel", channelID)

	if err := os.MkdirAll(filepath.Join(d.outDir, channelID.String()), 0o755); err != nil {
		return stats, err
	}

	_, err := sync.Paginate(ctx, d.source, channelID, 0, func(page []dex.Message) error {
		stats.Messages += len(page)
		for _, m := range page {
			for _, a := range m.Attachments {
				stats.Attachments++
				path := d.Path(channelID, a)
				if _, err := os.Stat(path); err == nil {
					stats.Existing++
					continue
				}
				n, err := d.save(ctx, a.URL, path)
				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					logger.Warn("download failed", "url", a.URL, "err", err)
					stats.Failed++
					continue
				}
				logger.Debug("downloaded", "url", a.URL, "size", humanize.Bytes(uint64(n)))
				stats.Downloaded++
				stats.Bytes += n
			}
		}
		return nil
	})
	return stats, err
}

// save writes the body to a hidden temporary file first so an interrupted
// download is never mistaken for a complete one
func (d *Downloader) save(ctx context.Context, rawURL, path string) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".part-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	n, err := d.source.Download(ctx, rawURL, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("save %s: %w", filepath.Base(path), err)
	}
	return n, nil
}
