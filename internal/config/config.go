package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Tracker Tracker `yaml:"tracker"`
	Porla   Porla   `yaml:"porla"`
	Policy  Policy  `yaml:"policy"`
	Stats   Stats   `yaml:"stats"`
	Storage Storage `yaml:"storage"`
	Server  Server  `yaml:"server"`
	Logging Logging `yaml:"logging"`
}

// Tracker describes the source site whose feed announces new torrents.
type Tracker struct {
	BaseURL         string   `yaml:"base_url"`
	FeedURL         string   `yaml:"feed_url"`
	UserAgent       string   `yaml:"user_agent"`
	AllowForums     []string `yaml:"allow_forums"`
	AllowTags       []string `yaml:"allow_tags"`
	AllowRegexTitle []string `yaml:"allow_regex_title"`
}

// Auth selects how requests to Porla are authenticated.
type Auth struct {
	Type     string `yaml:"type"` // "none", "token", or "basic"
	Token    string `yaml:"token"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Porla configures the connection to the managing torrent service.
type Porla struct {
	BaseURL               string `yaml:"base_url"`
	Auth                  Auth   `yaml:"auth"`
	ManagedTag            string `yaml:"managed_tag"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	RetryCount            int    `yaml:"retry_count"`
	PageSize              int    `yaml:"page_size"`
}

// Policy holds the retention caps and guardrail switches.
type Policy struct {
	MaxTotalBytes   int64  `yaml:"max_total_bytes"`
	MaxTorrents     int    `yaml:"max_torrents"`
	AllowDeleteData bool   `yaml:"allow_delete_data"`
	PinnedListPath  string `yaml:"pinned_list_path"`
}

// Stats controls fan-out toward Porla during stats refresh.
type Stats struct {
	Concurrency       int     `yaml:"concurrency"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type Storage struct {
	DBPath string `yaml:"db_path"`
}

type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for ttseed.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "ttseed")
}

// DataDir returns the XDG data directory for ttseed.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "ttseed")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/ttseed/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'ttseed init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Tracker: Tracker{
			UserAgent: "ttseed/1.0",
		},
		Porla: Porla{
			Auth:                  Auth{Type: "none"},
			ManagedTag:            "tt-archive",
			RequestTimeoutSeconds: 15,
			RetryCount:            3,
			PageSize:              200,
		},
		Policy: Policy{
			MaxTotalBytes:   900_000_000_000,
			MaxTorrents:     50_000,
			AllowDeleteData: true,
			PinnedListPath:  "pinned.txt",
		},
		Stats: Stats{
			Concurrency:       4,
			RequestsPerSecond: 5,
		},
		Server:  Server{Host: "127.0.0.1", Port: 8000},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Policy.MaxTotalBytes <= 0 {
		return nil, fmt.Errorf("policy.max_total_bytes must be positive")
	}
	if cfg.Policy.MaxTorrents <= 0 {
		return nil, fmt.Errorf("policy.max_torrents must be positive")
	}

	return cfg, nil
}

// GetDBPath returns the effective database path from config or XDG default.
func (c *Config) GetDBPath() string {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath
	}
	return filepath.Join(DataDir(), "ttseed.db")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
