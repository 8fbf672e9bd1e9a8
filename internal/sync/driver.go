package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dexporter/dexporter/internal/dex"
)

// DefaultCheckpointEvery is how many pages are merged between flushes
const DefaultCheckpointEvery = 100

// Driver brings the store of one conversation up to date with the remote
type Driver struct {
	fetcher         Fetcher
	root            string
	checkpointEvery int
}

// NewDriver creates a driver writing stores under root
func NewDriver(fetcher Fetcher, root string, checkpointEvery int) *Driver {
	if checkpointEvery <= 0 {
		checkpointEvery = DefaultCheckpointEvery
	}
	return &Driver{
		fetcher:         fetcher,
		root:            root,
		checkpointEvery: checkpointEvery,
	}
}

// Sync fetches every message newer than the store's last one and merges it
// in. The store is flushed every checkpointEvery pages and once more at the
// end. A fetch error aborts the conversation; the file then holds whatever
// the last checkpoint wrote.
func (d *Driver) Sync(ctx context.Context, ch dex.Channel) (Result, error) {
	started := time.Now()
	path := dex.StorePath(d.root, ch)
	result := Result{Channel: ch, Path: path}
	logger := log.With("channel", ch.Display())

	store, err := loadOrCreate(path, ch)
	if err != nil {
		result.Status = StatusError
		result.Err = err
		return result, err
	}

	cursor := store.LastID()
	result.Cursor = cursor
	result.Messages = store.Len()

	// the remote hint is only trusted when it agrees with the store's tail
	if ch.LastMessageID != nil && *ch.LastMessageID == cursor {
		logger.Info("skipping, last message id is the same as stored", "id", cursor)
		result.Status = StatusSkipped
		result.Duration = time.Since(started)
		return result, nil
	}

	cursor, err = Paginate(ctx, d.fetcher, ch.ID, cursor, func(page []dex.Message) error {
		result.Pages++
		result.Fetched += len(page)
		logger.Debug("fetched page", "page", result.Pages, "length", store.Len(), "messages", len(page))

		for _, m := range page {
			if store.InsertOrUpdate(m) {
				result.Inserted++
			}
		}

		if result.Pages%d.checkpointEvery == 0 {
			logger.Info("storing checkpoint", "page", result.Pages, "length", store.Len())
			if err := store.Flush(path); err != nil {
				return fmt.Errorf("checkpoint %s: %w", path, err)
			}
		}
		return nil
	})
	result.Cursor = cursor
	result.Messages = store.Len()
	result.Duration = time.Since(started)
	if err != nil {
		result.Status = StatusError
		result.Err = err
		return result, err
	}

	if err := store.Flush(path); err != nil {
		err = fmt.Errorf("flush %s: %w", path, err)
		result.Status = StatusError
		result.Err = err
		return result, err
	}

	result.Status = StatusUpdated
	logger.Info("updated", "pages", result.Pages, "new", result.Inserted, "length", result.Messages)
	return result, nil
}

// loadOrCreate opens the store at path, or starts an empty one with the
// channel as header when there is nothing to read yet. A store whose header
// is corrupt is never replaced.
func loadOrCreate(path string, ch dex.Channel) (*dex.Store, error) {
	store, err := dex.Load(path)
	switch {
	case err == nil:
		if store.Skipped > 0 {
			log.Warn("store had unreadable lines, they will be dropped on flush", "path", path, "skipped", store.Skipped)
		}
		return store, nil
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, dex.ErrNoHeader):
		return dex.New(ch), nil
	default:
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
}
