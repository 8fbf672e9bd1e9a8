package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gobwas/glob"
)

func TestScanStoresFiltersAndListsChannels(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"DMs/10.dex", "DMs/11.dex", "77/20.dex", "77/notes.txt"} {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("{}\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	all, err := scanStores(root, nil)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(all) != 2 || all[0].name != "77" || all[0].stores != 1 || all[1].name != "DMs" || all[1].stores != 2 {
		t.Fatalf("unexpected stats %+v", all)
	}

	dms, err := scanStores(root, glob.MustCompile("DMs/*", '/'))
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(dms) != 1 || len(dms[0].channels) != 2 || dms[0].channels[0] != "10" || dms[0].channels[1] != "11" {
		t.Fatalf("expected the two DM channels, got %+v", dms)
	}
}
