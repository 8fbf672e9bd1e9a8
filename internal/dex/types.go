package dex

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Snowflake is a 64-bit remote identifier. The remote API and the store
// both encode it as a decimal string.
type Snowflake uint64

// String returns the decimal representation
func (s Snowflake) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

func (s Snowflake) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *Snowflake) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("snowflake must be a string: %w", err)
	}
	v, err := ParseSnowflake(raw)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSnowflake parses a decimal id as typed on the command line or
// stored in a file
func ParseSnowflake(raw string) (Snowflake, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a valid u64", raw)
	}
	return Snowflake(v), nil
}

// User is a remote account as it appears in channel recipient lists
type User struct {
	ID            Snowflake `json:"id"`
	Username      string    `json:"username"`
	Discriminator string    `json:"discriminator"`
	Avatar        *string   `json:"avatar"`
}

// Guild is a group of channels
type Guild struct {
	ID    Snowflake `json:"id"`
	Name  string    `json:"name"`
	Icon  *string   `json:"icon"`
	Owner bool      `json:"owner"`
}

// Channel is the conversation header stored on the first line of every
// store file. It is either a direct channel (Recipients set, GuildID nil)
// or a guild text channel (GuildID and Name set).
type Channel struct {
	Type          int        `json:"type"`
	ID            Snowflake  `json:"id"`
	LastMessageID *Snowflake `json:"last_message_id"`

	Recipients []User `json:"recipients"`

	GuildID  *Snowflake `json:"guild_id"`
	Name     string     `json:"name"`
	ParentID *Snowflake `json:"parent_id"`
	Topic    *string    `json:"topic"`
}

type dmChannelJSON struct {
	Type          int        `json:"type"`
	ID            Snowflake  `json:"id"`
	LastMessageID *Snowflake `json:"last_message_id"`
	Recipients    []User     `json:"recipients"`
}

type textChannelJSON struct {
	Type          int        `json:"type"`
	ID            Snowflake  `json:"id"`
	GuildID       Snowflake  `json:"guild_id"`
	Name          string     `json:"name"`
	ParentID      *Snowflake `json:"parent_id"`
	LastMessageID *Snowflake `json:"last_message_id"`
	Topic         *string    `json:"topic"`
}

// UnmarshalJSON discriminates the two header shapes: a guild_id key means a
// guild text channel, anything else is a direct channel.
func (c *Channel) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if raw, ok := probe["guild_id"]; ok && string(raw) != "null" {
		var text textChannelJSON
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		guildID := text.GuildID
		*c = Channel{
			Type:          text.Type,
			ID:            text.ID,
			LastMessageID: text.LastMessageID,
			GuildID:       &guildID,
			Name:          text.Name,
			ParentID:      text.ParentID,
			Topic:         text.Topic,
		}
		return nil
	}
	if _, ok := probe["recipients"]; !ok {
		return fmt.Errorf("channel is neither a direct nor a guild text channel")
	}
	var dm dmChannelJSON
	if err := json.Unmarshal(data, &dm); err != nil {
		return err
	}
	*c = Channel{
		Type:          dm.Type,
		ID:            dm.ID,
		LastMessageID: dm.LastMessageID,
		Recipients:    dm.Recipients,
	}
	return nil
}

func (c Channel) MarshalJSON() ([]byte, error) {
	if c.GuildID != nil {
		return json.Marshal(textChannelJSON{
			Type:          c.Type,
			ID:            c.ID,
			GuildID:       *c.GuildID,
			Name:          c.Name,
			ParentID:      c.ParentID,
			LastMessageID: c.LastMessageID,
			Topic:         c.Topic,
		})
	}
	recipients := c.Recipients
	if recipients == nil {
		recipients = []User{}
	}
	return json.Marshal(dmChannelJSON{
		Type:          c.Type,
		ID:            c.ID,
		LastMessageID: c.LastMessageID,
		Recipients:    recipients,
	})
}

// IsDM reports whether the channel is a direct conversation
func (c Channel) IsDM() bool {
	return c.GuildID == nil
}

// IsText reports whether the channel carries text messages. Direct
// channels always do; guild channels only when their type is 0.
func (c Channel) IsText() bool {
	if c.IsDM() {
		return true
	}
	return c.Type == 0
}

// Names returns the recipient names of a direct channel or the name of a
// guild channel. Export uses it as the file stem.
func (c Channel) Names() string {
	if !c.IsDM() {
		return c.Name
	}
	names := make([]string, 0, len(c.Recipients))
	for _, r := range c.Recipients {
		names = append(names, r.Username)
	}
	return strings.Join(names, ", ")
}

// Display returns a short human label used in logs and prompts
func (c Channel) Display() string {
	if c.IsDM() {
		return "#DM(" + c.Names() + ")"
	}
	return "#" + c.Name
}

// Message is a single chat message. Synthesized messages carry SentinelID
// and no remote-only fields.
type Message struct {
	ID              Snowflake         `json:"id"`
	Type            int               `json:"type"`
	Timestamp       *time.Time        `json:"timestamp"`
	Content         *string           `json:"content"`
	Author          Author            `json:"author"`
	Attachments     []Attachment      `json:"attachments"`
	EditedTimestamp *string           `json:"edited_timestamp"`
	Embeds          []json.RawMessage `json:"embeds"`
	Pinned          *bool             `json:"pinned"`
}

// SentinelID marks messages that did not come from the remote service
const SentinelID Snowflake = 0

// IsSynthesized reports whether the message was created locally
func (m Message) IsSynthesized() bool {
	return m.ID == SentinelID
}

// Text returns the content or an empty string
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// Author identifies who wrote a message
type Author struct {
	Username   string  `json:"username"`
	Avatar     *string `json:"avatar"`
	ID         string  `json:"id"`
	GlobalName *string `json:"global_name"`
}

// Attachment is a file attached to a message
type Attachment struct {
	ID                  string  `json:"id"`
	Filename            string  `json:"filename"`
	URL                 string  `json:"url"`
	Height              *int    `json:"height"`
	Width               *int    `json:"width"`
	ContentType         *string `json:"content_type"`
	OriginalContentType *string `json:"original_content_type"`
	Size                *uint64 `json:"size"`
	ProxyURL            *string `json:"proxy_url"`
}
