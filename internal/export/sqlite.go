package export

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dexporter/dexporter/internal/dex"
	_ "modernc.org/sqlite"
)

const archiveSchema = `
CREATE TABLE IF NOT EXISTS channels (
  id TEXT PRIMARY KEY,
  guild_id TEXT,                      -- null for direct channels
  kind TEXT NOT NULL,                 -- "dm" or "guild"
  name TEXT NOT NULL,                 -- channel name or recipient names
  store_path TEXT NOT NULL            -- relative to the data directory
);

CREATE TABLE IF NOT EXISTS messages (
  channel_id TEXT NOT NULL,
  position INTEGER NOT NULL,          -- order within the store
  id TEXT NOT NULL,                   -- "0" for imported messages
  ts TEXT,                            -- RFC 3339, null when unknown
  author TEXT NOT NULL,
  author_id TEXT NOT NULL,
  content TEXT,
  synthesized INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (channel_id, position),
  FOREIGN KEY (channel_id) REFERENCES channels(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts);
CREATE INDEX IF NOT EXISTS idx_messages_author ON messages(author_id);

CREATE TABLE IF NOT EXISTS attachments (
  channel_id TEXT NOT NULL,
  position INTEGER NOT NULL,
  seq INTEGER NOT NULL,
  id TEXT NOT NULL,
  filename TEXT NOT NULL,
  url TEXT NOT NULL,
  PRIMARY KEY (channel_id, position, seq),
  FOREIGN KEY (channel_id, position) REFERENCES messages(channel_id, position)
);
`

// Archive is a SQLite database holding a queryable copy of many stores
type Archive struct {
	db *sql.DB
}

// OpenArchive opens or creates the archive at path
func OpenArchive(ctx context.Context, path string) (*Archive, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	if _, err := conn.ExecContext(ctx, archiveSchema); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create archive schema: %w", err)
	}
	return &Archive{db: conn}, nil
}

// Close releases the database
func (a *Archive) Close() error {
	return a.db.Close()
}

// DB exposes the underlying connection for queries
func (a *Archive) DB() *sql.DB {
	return a.db
}

// Put replaces everything archived for the store's channel with the store's
// current content and returns the number of messages written
func (a *Archive) Put(ctx context.Context, storePath string, s *dex.Store) (int, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	channelID := s.Header.ID.String()
	for _, stmt := range []string{
		"DELETE FROM attachments WHERE channel_id = ?",
		"DELETE FROM messages WHERE channel_id = ?",
		"DELETE FROM channels WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, channelID); err != nil {
			return 0, err
		}
	}

	var guildID any
	kind := "dm"
	if !s.Header.IsDM() {
		guildID = s.Header.GuildID.String()
		kind = "guild"
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO channels (id, guild_id, kind, name, store_path) VALUES (?, ?, ?, ?, ?)",
		channelID, guildID, kind, s.Header.Names(), storePath,
	); err != nil {
		return 0, err
	}

	msgStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO messages (channel_id, position, id, ts, author, author_id, content, synthesized) VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return 0, err
	}
	defer msgStmt.Close()
	attStmt, err := tx.PrepareContext(ctx,
		"INSERT INTO attachments (channel_id, position, seq, id, filename, url) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return 0, err
	}
	defer attStmt.Close()

	for pos, m := range s.Messages {
		var ts, content any
		if m.Timestamp != nil {
			ts = m.Timestamp.UTC().Format(time.RFC3339Nano)
		}
		if m.Content != nil {
			content = *m.Content
		}
		if _, err := msgStmt.ExecContext(ctx,
			channelID, pos, m.ID.String(), ts, m.Author.Username, m.Author.ID, content, m.IsSynthesized(),
		); err != nil {
			return 0, fmt.Errorf("message %d: %w", pos, err)
		}
		for seq, att := range m.Attachments {
			if _, err := attStmt.ExecContext(ctx, channelID, pos, seq, att.ID, att.Filename, att.URL); err != nil {
				return 0, fmt.Errorf("attachment %d of message %d: %w", seq, pos, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(s.Messages), nil
}
