package export

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dexporter/dexporter/internal/dex"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for writes to settle
const DefaultDebounce = 500 * time.Millisecond

// Watcher reports store files that changed under a data directory.
// Stores are replaced by rename, so a changed store shows up as a create
// event on its final path. Temporary files are hidden and ignored.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	root      string
	debounce  time.Duration
}

// NewWatcher starts watching root and every directory below it
func NewWatcher(root string, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{fsWatcher: fsWatcher, root: root, debounce: debounce}

	if err := os.MkdirAll(root, 0o755); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsWatcher.Add(path)
		}
		return nil
	})
	if err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}
	return w, nil
}

// Close stops the watcher and releases resources
func (w *Watcher) Close() error {
	return w.fsWatcher.Close()
}

// Run calls fn with the store paths that changed, once writes have been
// quiet for the debounce interval. It returns when ctx is done.
func (w *Watcher) Run(ctx context.Context, fn func(paths []string)) error {
	pending := make(map[string]bool)
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			if !w.handle(event) {
				continue
			}
			pending[event.Name] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", "root", w.root, "err", err)

		case <-fire:
			fire = nil
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			slices.Sort(paths)
			fn(paths)
		}
	}
}

// handle reports whether an event is a store change. New directories are
// added to the watch list so stores of new guilds are seen too.
func (w *Watcher) handle(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return false
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fsWatcher.Add(event.Name); err != nil {
				log.Warn("failed to watch new directory", "path", event.Name, "err", err)
			}
			return false
		}
	}
	return filepath.Ext(event.Name) == dex.FileExt
}
