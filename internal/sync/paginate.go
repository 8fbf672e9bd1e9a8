package sync

import (
	"context"
	"fmt"

	"github.com/dexporter/dexporter/internal/dex"
)

// PageFunc receives each non-empty page in fetch order
type PageFunc func(page []dex.Message) error

// Paginate walks a conversation forward from after, one page at a time, and
// returns the final cursor. Pages are fetched strictly sequentially: the next
// request is issued only once fn has returned for the previous page.
//
// The cursor advances to the largest id among the first and last message of
// each page, so it does not matter whether the remote returns pages oldest
// first or newest first.
func Paginate(ctx context.Context, f Fetcher, channelID, after dex.Snowflake, fn PageFunc) (dex.Snowflake, error) {
	cursor := after
	for {
		if err := ctx.Err(); err != nil {
			return cursor, err
		}
		page, err := f.FetchMessages(ctx, channelID, cursor)
		if err != nil {
			return cursor, err
		}
		if len(page) == 0 {
			return cursor, nil
		}

		if err := fn(page); err != nil {
			return cursor, err
		}

		next := max(cursor, page[0].ID, page[len(page)-1].ID)
		if next == cursor {
			return cursor, fmt.Errorf("cursor stuck at %s: page of %d messages did not advance it", cursor, len(page))
		}
		cursor = next
	}
}
