package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestPromptUserMapping(t *testing.T) {
	var out bytes.Buffer
	users, err := promptUserMapping(strings.NewReader("alice:111\nnot a mapping\nbob: 222\n\ncarol:333\n"), &out)
	if err != nil {
		t.Fatalf("prompt failed: %v", err)
	}
	if len(users) != 2 || users["alice"] != "111" || users["bob"] != "222" {
		t.Fatalf("unexpected mapping %v", users)
	}
	if !strings.Contains(out.String(), "try again") {
		t.Errorf("expected the bad line to be rejected, got:\n%s", out.String())
	}
}

func TestImportHeader(t *testing.T) {
	dm, err := importHeader("42", "")
	if err != nil || !dm.IsDM() || dm.ID != 42 {
		t.Fatalf("expected a direct channel 42, got %+v (%v)", dm, err)
	}

	text, err := importHeader("42", "7")
	if err != nil || text.IsDM() || *text.GuildID != 7 {
		t.Fatalf("expected a guild channel, got %+v (%v)", text, err)
	}

	if _, err := importHeader("abc", ""); err == nil {
		t.Fatalf("expected an invalid channel id to be rejected")
	}
}
