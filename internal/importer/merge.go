package importer

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dexporter/dexporter/internal/dex"
)

// MatchWindow is how far from a candidate's time a stored message may be
// and still be considered
const MatchWindow = time.Second

// UnresolvedUserError reports a candidate whose username has no id
type UnresolvedUserError struct {
	Username string
}

func (e *UnresolvedUserError) Error() string {
	return fmt.Sprintf("no user id for username %q", e.Username)
}

// MergeStats summarizes one merge pass
type MergeStats struct {
	Candidates int
	Duplicates int
	Inserted   int
}

// Merge adds every candidate that the store does not already hold. A stored
// message is a duplicate when its content is identical and its timestamp,
// truncated to the second, equals the candidate's. New messages get the
// sentinel id and are inserted after any message sharing their timestamp.
//
// users maps usernames to user ids. Every candidate must resolve; otherwise
// the store is left untouched and an *UnresolvedUserError is returned.
func Merge(store *dex.Store, candidates []Candidate, users map[string]string) (MergeStats, error) {
	stats := MergeStats{Candidates: len(candidates)}

	for _, c := range candidates {
		if _, ok := users[c.Username]; !ok {
			return stats, &UnresolvedUserError{Username: c.Username}
		}
	}

	for _, c := range candidates {
		if IsDuplicate(store, c) {
			stats.Duplicates++
			continue
		}
		store.Insert(Synthesize(c, users[c.Username]))
		stats.Inserted++
	}
	return stats, nil
}

// IsDuplicate reports whether the store already holds the candidate
func IsDuplicate(store *dex.Store, c Candidate) bool {
	lo, hi := store.Window(c.Timestamp.Add(-MatchWindow), c.Timestamp.Add(MatchWindow))
	want := c.Timestamp.Truncate(time.Second)
	for _, m := range store.Messages[lo:hi] {
		if m.Content == nil || *m.Content != c.Text {
			continue
		}
		if m.Timestamp != nil && m.Timestamp.Truncate(time.Second).Equal(want) {
			return true
		}
	}
	return false
}

// Synthesize builds the stored form of a candidate
func Synthesize(c Candidate, userID string) dex.Message {
	ts := c.Timestamp
	text := c.Text
	attachments := make([]dex.Attachment, 0, len(c.Attachments))
	for _, u := range c.Attachments {
		attachments = append(attachments, dex.Attachment{
			ID:       dex.SentinelID.String(),
			Filename: filenameFromURL(u),
			URL:      u,
		})
	}
	return dex.Message{
		ID:          dex.SentinelID,
		Type:        0,
		Timestamp:   &ts,
		Content:     &text,
		Author:      dex.Author{Username: c.Username, ID: userID},
		Attachments: attachments,
	}
}

func filenameFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// ParseUserMapping reads a "username:id" pair
func ParseUserMapping(s string) (string, string, error) {
	name, id, ok := strings.Cut(s, ":")
	id = strings.TrimSpace(id)
	if !ok || name == "" {
		return "", "", fmt.Errorf("%q is not in the form username:id", s)
	}
	if _, err := dex.ParseSnowflake(id); err != nil {
		return "", "", fmt.Errorf("user %s: %w", name, err)
	}
	return name, id, nil
}
