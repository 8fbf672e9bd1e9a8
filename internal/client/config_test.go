package client

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfigPath(t *testing.T) {
	// Save original env vars
	origXDG := os.Getenv(EnvXDGConfigHome)
	defer os.Setenv(EnvXDGConfigHome, origXDG)

	// No XDG_CONFIG_HOME set - should return ~/.config/dexporter/config.json
	os.Unsetenv(EnvXDGConfigHome)
	path := ConfigPath()
	home, _ := os.UserHomeDir()
	expectedDefault := filepath.Join(home, ".config", ConfigDirName, ConfigFileName)
	if path != expectedDefault {
		t.Errorf("Expected default %s, got %s", expectedDefault, path)
	}

	// XDG_CONFIG_HOME set - should use custom location
	tmpDir := t.TempDir()
	xdgDir := filepath.Join(tmpDir, "xdg-config")
	os.Setenv(EnvXDGConfigHome, xdgDir)

	path = ConfigPath()
	expectedCustom := filepath.Join(xdgDir, ConfigDirName, ConfigFileName)
	if path != expectedCustom {
		t.Errorf("Expected custom %s, got %s", expectedCustom, path)
	}
}

func TestLoadConfigPriority(t *testing.T) {
	t.Setenv(EnvXDGConfigHome, t.TempDir())
	t.Setenv(EnvToken, "")
	t.Setenv(EnvAPIURL, "")
	t.Setenv(EnvDataDir, "")
	t.Setenv(EnvConcurrency, "")
	t.Setenv(EnvTimeout, "")
	t.Setenv(EnvRequestsPerSecond, "")
	t.Chdir(t.TempDir())

	if err := SaveFileConfig(&Config{Token: "file-token", DataDir: "archive", Concurrency: 2}); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	cfg := LoadConfig()
	if cfg.Token != "file-token" {
		t.Errorf("Expected token from file, got %q", cfg.Token)
	}
	if cfg.DataDir != "archive" {
		t.Errorf("Expected data dir from file, got %q", cfg.DataDir)
	}
	if cfg.Concurrency != 2 {
		t.Errorf("Expected concurrency 2, got %d", cfg.Concurrency)
	}
	if cfg.APIURL != DefaultAPIURL {
		t.Errorf("Expected default API URL, got %q", cfg.APIURL)
	}
	if cfg.CheckpointEvery != DefaultCheckpointEvery {
		t.Errorf("Expected default checkpoint interval, got %d", cfg.CheckpointEvery)
	}

	t.Setenv(EnvToken, "env-token")
	t.Setenv(EnvConcurrency, "9")
	cfg = LoadConfig()
	if cfg.Token != "env-token" {
		t.Errorf("Expected env token to win, got %q", cfg.Token)
	}
	if cfg.Concurrency != 9 {
		t.Errorf("Expected env concurrency 9, got %d", cfg.Concurrency)
	}
}

func TestLoadConfigReadsDotEnv(t *testing.T) {
	t.Setenv(EnvXDGConfigHome, t.TempDir())
	t.Setenv(EnvDataDir, "")
	dir := t.TempDir()
	t.Chdir(dir)

	// t.Setenv registers cleanup; unset afterwards so godotenv may fill it
	t.Setenv(EnvToken, "")
	os.Unsetenv(EnvToken)

	if err := os.WriteFile(filepath.Join(dir, DotEnvFile), []byte(EnvToken+"=dotenv-token\n"), 0600); err != nil {
		t.Fatalf("Failed to write .env: %v", err)
	}

	cfg := LoadConfig()
	if cfg.Token != "dotenv-token" {
		t.Errorf("Expected token from .env, got %q", cfg.Token)
	}
}

func TestMaskToken(t *testing.T) {
	if got := MaskToken("abc"); got != "***" {
		t.Errorf("Expected *** for short token, got %s", got)
	}
	if got := MaskToken("secret-token-1234"); got != "***...1234" {
		t.Errorf("Expected ***...1234, got %s", got)
	}
}
