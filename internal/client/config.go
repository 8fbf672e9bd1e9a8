package client

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	DefaultAPIURL          = "https://discord.com/api/v9"
	DefaultTimeoutSecs     = 30
	DefaultConcurrency     = 5
	DefaultCheckpointEvery = 100
	DefaultDataDir         = "db"
	EnvToken               = "DEXPORTER_TOKEN"
	EnvAPIURL              = "DEXPORTER_API_URL"
	EnvDataDir             = "DEXPORTER_DATA_DIR"
	EnvDebug               = "DEXPORTER_DEBUG"
	EnvTimeout             = "DEXPORTER_TIMEOUT"
	EnvConcurrency         = "DEXPORTER_CONCURRENCY"
	EnvRequestsPerSecond   = "DEXPORTER_RPS"
	EnvXDGConfigHome       = "XDG_CONFIG_HOME"
	ConfigDirName          = "dexporter"
	ConfigFileName         = "config.json"
	DotEnvFile             = ".env"
)

// Config holds the client configuration
type Config struct {
	Token             string  `json:"token,omitempty"`
	APIURL            string  `json:"api_url,omitempty"`
	DataDir           string  `json:"data_dir,omitempty"`
	Debug             bool    `json:"debug,omitempty"`
	TimeoutSeconds    int     `json:"timeout_seconds,omitempty"`
	Concurrency       int     `json:"concurrency,omitempty"`
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`
	CheckpointEvery   int     `json:"checkpoint_every,omitempty"`
}

// IsConfigured returns true if the token is set
func (c *Config) IsConfigured() bool {
	return c.Token != ""
}

// ConfigDir returns the directory holding the config file. It honors
// XDG_CONFIG_HOME and falls back to ~/.config.
func ConfigDir() string {
	if xdg := os.Getenv(EnvXDGConfigHome); xdg != "" {
		return filepath.Join(xdg, ConfigDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", ConfigDirName)
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	dir := ConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, ConfigFileName)
}

// LoadFileConfig loads the config file from disk. A missing file is not an
// error and yields nil.
func LoadFileConfig() (*Config, error) {
	path := ConfigPath()
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var fc Config
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, err
	}

	return &fc, nil
}

// SaveFileConfig saves the config to disk
func SaveFileConfig(fc *Config) error {
	dir := ConfigDir()
	if dir == "" {
		return os.ErrNotExist
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(ConfigPath(), data, 0600)
}

// LoadConfig loads configuration from environment variables (including a
// .env file in the working directory), falling back to the config file and
// then to defaults.
func LoadConfig() *Config {
	// .env never overrides variables already set in the environment
	_ = godotenv.Load(DotEnvFile)

	cfg := &Config{
		Token:   os.Getenv(EnvToken),
		APIURL:  os.Getenv(EnvAPIURL),
		DataDir: os.Getenv(EnvDataDir),
		Debug:   os.Getenv(EnvDebug) == "1" || os.Getenv(EnvDebug) == "true",
	}

	if fc, err := LoadFileConfig(); err == nil && fc != nil {
		if cfg.Token == "" {
			cfg.Token = fc.Token
		}
		if cfg.APIURL == "" {
			cfg.APIURL = fc.APIURL
		}
		if cfg.DataDir == "" {
			cfg.DataDir = fc.DataDir
		}
		if !cfg.Debug && fc.Debug {
			cfg.Debug = true
		}
		cfg.TimeoutSeconds = fc.TimeoutSeconds
		cfg.Concurrency = fc.Concurrency
		cfg.RequestsPerSecond = fc.RequestsPerSecond
		cfg.CheckpointEvery = fc.CheckpointEvery
	}

	// Env overrides for numeric settings
	if n := intEnv(EnvTimeout); n > 0 {
		cfg.TimeoutSeconds = n
	}
	if n := intEnv(EnvConcurrency); n > 0 {
		cfg.Concurrency = n
	}
	if raw := os.Getenv(EnvRequestsPerSecond); raw != "" {
		if rps, err := strconv.ParseFloat(raw, 64); err == nil && rps >= 0 {
			cfg.RequestsPerSecond = rps
		}
	}

	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.APIURL == "" {
		c.APIURL = DefaultAPIURL
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = DefaultTimeoutSecs
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.CheckpointEvery <= 0 {
		c.CheckpointEvery = DefaultCheckpointEvery
	}
}

func intEnv(name string) int {
	raw := os.Getenv(name)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

// MaskToken returns a masked version of the token for display
func MaskToken(token string) string {
	if len(token) <= 4 {
		return "***"
	}
	return "***..." + token[len(token)-4:]
}
