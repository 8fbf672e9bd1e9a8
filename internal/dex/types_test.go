package dex

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSnowflakeRejectsNumbers(t *testing.T) {
	var s Snowflake
	if err := json.Unmarshal([]byte(`"1234567890123456789"`), &s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != 1234567890123456789 {
		t.Fatalf("expected 1234567890123456789, got %d", s)
	}
	if err := json.Unmarshal([]byte(`12`), &s); err == nil {
		t.Fatalf("expected bare number to be rejected")
	}
	if err := json.Unmarshal([]byte(`"-1"`), &s); err == nil {
		t.Fatalf("expected negative id to be rejected")
	}
}

func TestChannelShapes(t *testing.T) {
	dm := `{"type":1,"id":"10","last_message_id":"99","recipients":[{"id":"42","username":"bob","discriminator":"0","avatar":null}]}`
	text := `{"type":0,"id":"11","guild_id":"7","name":"general","parent_id":null,"last_message_id":null,"topic":"chat"}`

	var c Channel
	if err := json.Unmarshal([]byte(dm), &c); err != nil {
		t.Fatalf("decode dm: %v", err)
	}
	if !c.IsDM() || c.Display() != "#DM(bob)" {
		t.Fatalf("expected DM #DM(bob), got %s", c.Display())
	}
	if c.LastMessageID == nil || *c.LastMessageID != 99 {
		t.Fatalf("expected last message id 99, got %v", c.LastMessageID)
	}

	if err := json.Unmarshal([]byte(text), &c); err != nil {
		t.Fatalf("decode text: %v", err)
	}
	if c.IsDM() || !c.IsText() || c.Display() != "#general" {
		t.Fatalf("expected guild text #general, got %+v", c)
	}
	if c.GuildID == nil || *c.GuildID != 7 {
		t.Fatalf("expected guild 7, got %v", c.GuildID)
	}

	out, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("encode text: %v", err)
	}
	if strings.Contains(string(out), "recipients") {
		t.Fatalf("expected guild header without recipients, got %s", out)
	}

	voice := Channel{Type: 2, GuildID: c.GuildID, Name: "voice"}
	if voice.IsText() {
		t.Fatalf("expected voice channel not to be text")
	}

	if err := json.Unmarshal([]byte(`{"type":1,"id":"3"}`), &c); err == nil {
		t.Fatalf("expected shapeless header to fail")
	}
}

func TestDMHeaderAlwaysHasRecipients(t *testing.T) {
	out, err := json.Marshal(Channel{Type: 1, ID: 3})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(out), `"recipients":[]`) {
		t.Fatalf("expected empty recipients array, got %s", out)
	}
}
