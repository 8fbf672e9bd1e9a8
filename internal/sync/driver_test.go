package sync

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/dexporter/dexporter/internal/dex"
)

var base = time.Date(2023, 5, 1, 10, 0, 0, 0, time.UTC)

func msg(id dex.Snowflake) dex.Message {
	ts := base.Add(time.Duration(id) * time.Second)
	content := "message " + id.String()
	return dex.Message{ID: id, Timestamp: &ts, Content: &content, Author: dex.Author{Username: "a", ID: "1"}}
}

func dmChannel(id dex.Snowflake) dex.Channel {
	return dex.Channel{Type: 1, ID: id, Recipients: []dex.User{{ID: 1, Username: "a"}}}
}

// pagesOfSizes builds pages with consecutive ids starting at 1
func pagesOfSizes(sizes ...int) [][]dex.Message {
	var pages [][]dex.Message
	next := dex.Snowflake(1)
	for _, size := range sizes {
		page := make([]dex.Message, 0, size)
		for range size {
			page = append(page, msg(next))
			next++
		}
		pages = append(pages, page)
	}
	return pages
}

type scriptedFetcher struct {
	mu     stdsync.Mutex
	pages  [][]dex.Message
	errAt  int
	err    error
	calls  int
	afters []dex.Snowflake
}

func (f *scriptedFetcher) FetchMessages(ctx context.Context, channelID, after dex.Snowflake) ([]dex.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.afters = append(f.afters, after)
	if f.err != nil && i == f.errAt {
		return nil, f.err
	}
	if i >= len(f.pages) {
		return nil, nil
	}
	return f.pages[i], nil
}

func TestSyncPaginationTerminates(t *testing.T) {
	root := t.TempDir()
	fetcher := &scriptedFetcher{pages: pagesOfSizes(100, 100, 37, 0)}
	ch := dmChannel(42)

	res, err := NewDriver(fetcher, root, 100).Sync(context.Background(), ch)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if fetcher.calls != 4 {
		t.Fatalf("expected exactly 4 fetch calls, got %d", fetcher.calls)
	}
	if res.Status != StatusUpdated || res.Pages != 3 || res.Inserted != 237 {
		t.Fatalf("unexpected result %+v", res)
	}
	wantAfters := []dex.Snowflake{0, 100, 200, 237}
	for i, want := range wantAfters {
		if fetcher.afters[i] != want {
			t.Fatalf("call %d: expected after=%s, got %s", i, want, fetcher.afters[i])
		}
	}

	store, err := dex.Load(dex.StorePath(root, ch))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if store.Len() != 237 {
		t.Fatalf("expected 237 stored messages, got %d", store.Len())
	}
}

func TestSyncResumesFromStoreTail(t *testing.T) {
	root := t.TempDir()
	ch := dmChannel(42)
	store := dex.New(ch)
	store.InsertOrUpdate(msg(10))
	store.InsertOrUpdate(msg(20))
	if err := store.Flush(dex.StorePath(root, ch)); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	fetcher := &scriptedFetcher{pages: [][]dex.Message{{msg(21), msg(22)}}}
	res, err := NewDriver(fetcher, root, 100).Sync(context.Background(), ch)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if fetcher.afters[0] != 20 {
		t.Fatalf("expected first cursor 20, got %s", fetcher.afters[0])
	}
	if res.Messages != 4 || res.Cursor != 22 {
		t.Fatalf("expected 4 messages and cursor 22, got %d / %s", res.Messages, res.Cursor)
	}
}

func TestSyncSkipsWhenHintMatchesStore(t *testing.T) {
	root := t.TempDir()
	ch := dmChannel(42)
	store := dex.New(ch)
	store.InsertOrUpdate(msg(500))
	if err := store.Flush(dex.StorePath(root, ch)); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	hint := dex.Snowflake(500)
	ch.LastMessageID = &hint
	fetcher := &scriptedFetcher{pages: pagesOfSizes(5)}
	res, err := NewDriver(fetcher, root, 100).Sync(context.Background(), ch)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if res.Status != StatusSkipped {
		t.Fatalf("expected skipped, got %s", res.Status)
	}
	if fetcher.calls != 0 {
		t.Fatalf("expected no fetches, got %d", fetcher.calls)
	}
}

func TestSyncDoesNotTrustHintWithoutStore(t *testing.T) {
	ch := dmChannel(42)
	hint := dex.Snowflake(3)
	ch.LastMessageID = &hint
	fetcher := &scriptedFetcher{pages: pagesOfSizes(3)}

	res, err := NewDriver(fetcher, t.TempDir(), 100).Sync(context.Background(), ch)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if res.Status != StatusUpdated || res.Messages != 3 {
		t.Fatalf("expected a full sync, got %+v", res)
	}
}

func TestSyncOverlappingPagesDoNotDuplicate(t *testing.T) {
	fetcher := &scriptedFetcher{pages: [][]dex.Message{
		{msg(1), msg(2), msg(3)},
		{msg(3), msg(4), msg(5)},
	}}
	res, err := NewDriver(fetcher, t.TempDir(), 100).Sync(context.Background(), dmChannel(42))
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if res.Messages != 5 || res.Fetched != 6 || res.Inserted != 5 {
		t.Fatalf("expected 5 distinct messages from 6 fetched, got %+v", res)
	}
}

func TestSyncKeepsLastCheckpointOnFetchError(t *testing.T) {
	root := t.TempDir()
	ch := dmChannel(42)
	boom := errors.New("gave up")
	fetcher := &scriptedFetcher{pages: pagesOfSizes(10, 10, 10, 10), errAt: 3, err: boom}

	res, err := NewDriver(fetcher, root, 2).Sync(context.Background(), ch)
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if res.Status != StatusError || res.Pages != 3 {
		t.Fatalf("unexpected result %+v", res)
	}

	store, err := dex.Load(dex.StorePath(root, ch))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if store.Len() != 20 {
		t.Fatalf("expected the checkpoint after page 2 (20 messages), got %d", store.Len())
	}
}

func TestSyncRefusesCorruptHeader(t *testing.T) {
	root := t.TempDir()
	ch := dmChannel(42)
	path := dex.StorePath(root, ch)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("{not json\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	fetcher := &scriptedFetcher{pages: pagesOfSizes(3)}
	_, err := NewDriver(fetcher, root, 100).Sync(context.Background(), ch)
	var headerErr *dex.HeaderError
	if !errors.As(err, &headerErr) {
		t.Fatalf("expected HeaderError, got %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "{not json\n" {
		t.Fatalf("expected corrupt store to be left untouched, got %q", data)
	}
}

func TestSyncRefusesStoreWithBlankHeaderLine(t *testing.T) {
	root := t.TempDir()
	ch := dmChannel(42)
	path := dex.StorePath(root, ch)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	line, err := json.Marshal(msg(5))
	if err != nil {
		t.Fatal(err)
	}
	content := "\n" + string(line) + "\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	fetcher := &scriptedFetcher{pages: pagesOfSizes(3)}
	_, err = NewDriver(fetcher, root, 100).Sync(context.Background(), ch)
	var headerErr *dex.HeaderError
	if !errors.As(err, &headerErr) {
		t.Fatalf("expected HeaderError, got %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != content {
		t.Fatalf("expected store to be left untouched, got %q", data)
	}
}

func TestPaginateAdvancesOnEitherOrdering(t *testing.T) {
	fetcher := &scriptedFetcher{pages: [][]dex.Message{
		{msg(9), msg(8), msg(7)},
		{msg(10), msg(11)},
	}}
	var seen int
	cursor, err := Paginate(context.Background(), fetcher, 1, 0, func(page []dex.Message) error {
		seen += len(page)
		return nil
	})
	if err != nil {
		t.Fatalf("paginate failed: %v", err)
	}
	if cursor != 11 || seen != 5 {
		t.Fatalf("expected cursor 11 after 5 messages, got %s after %d", cursor, seen)
	}
	if fetcher.afters[1] != 9 {
		t.Fatalf("expected newest-first page to advance cursor to 9, got %s", fetcher.afters[1])
	}
}

func TestPaginateStopsWhenCursorStalls(t *testing.T) {
	fetcher := &scriptedFetcher{pages: [][]dex.Message{{msg(5)}, {msg(5)}}}
	_, err := Paginate(context.Background(), fetcher, 1, 0, func(page []dex.Message) error { return nil })
	if err == nil {
		t.Fatalf("expected an error for a page that does not advance the cursor")
	}
	if fetcher.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", fetcher.calls)
	}
}
