package sync

import (
	"context"
	"time"

	"github.com/dexporter/dexporter/internal/dex"
)

// Fetcher returns one page of messages posted after a cursor. An empty page
// means the conversation is exhausted.
type Fetcher interface {
	FetchMessages(ctx context.Context, channelID, after dex.Snowflake) ([]dex.Message, error)
}

// Result statuses
const (
	StatusUpdated = "updated"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// Result holds the outcome of syncing a single conversation
type Result struct {
	Channel  dex.Channel
	Path     string
	Status   string // updated, skipped, error
	Pages    int
	Fetched  int
	Inserted int
	Messages int
	Cursor   dex.Snowflake
	Duration time.Duration
	Err      error
}

// SyncState is the ledger persisted next to the stores. It is informational:
// cursors are always rederived from store content.
type SyncState struct {
	LastRunID     string                       `json:"last_run_id,omitempty"`
	LastRunAt     string                       `json:"last_run_at,omitempty"`
	Conversations map[string]ConversationState `json:"conversations"`
}

// ConversationState records what the last runs did to one conversation
type ConversationState struct {
	ChannelID    string `json:"channel_id"`
	Display      string `json:"display"`
	Path         string `json:"path"`
	LastRunID    string `json:"last_run_id,omitempty"`
	SyncedAt     string `json:"synced_at,omitempty"`
	MessageCount int    `json:"message_count"`
	LastInserted int    `json:"last_inserted"`
	LastError    string `json:"last_error,omitempty"`
	FailedAt     string `json:"failed_at,omitempty"`
	FailureCount int    `json:"failure_count"`
}
