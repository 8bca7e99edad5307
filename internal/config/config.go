package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/adrg/xdg"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	appDirName = "friend-radar"
	envPrefix  = "friendradar"
)

type Config struct {
	Server   ServerConfig      `yaml:"server"`
	Feed     FeedConfig        `yaml:"feed"`
	Watcher  WatcherConfig     `yaml:"watcher"`
	Storage  StorageConfig     `yaml:"storage"`
	Products map[string]string `yaml:"products"`
	Log      LogConfig         `yaml:"log"`
}

type ServerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	AuthToken         string        `yaml:"auth_token" split_words:"true"`
	AllowedOrigins    []string      `yaml:"allowed_origins" split_words:"true"`
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle" split_words:"true"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval" split_words:"true"`
}

type FeedConfig struct {
	Path         string `yaml:"path"`
	SnapshotPath string `yaml:"snapshot_path" split_words:"true"`
	Mock         bool   `yaml:"mock"`
	MockSeed     int64  `yaml:"mock_seed" split_words:"true"`
}

type WatcherConfig struct {
	PollInterval          time.Duration `yaml:"poll_interval" split_words:"true"`
	RetryDelay            time.Duration `yaml:"retry_delay" split_words:"true"`
	FailureThreshold      int           `yaml:"failure_threshold" split_words:"true"`
	ProductRescanInterval time.Duration `yaml:"product_rescan_interval" split_words:"true"`
}

type StorageConfig struct {
	Dir             string `yaml:"dir"`
	HistoryMaxBytes int64  `yaml:"history_max_bytes" split_words:"true"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Default returns the built-in configuration: a localhost server, state
// under the XDG state directory, and the feed expected where the bridge
// writes it.
func Default() *Config {
	stateDir := filepath.Join(xdg.StateHome, appDirName)
	return &Config{
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              37777,
			BroadcastThrottle: 100 * time.Millisecond,
			SnapshotInterval:  15 * time.Second,
		},
		Feed: FeedConfig{
			Path:         filepath.Join(stateDir, "feed.jsonl"),
			SnapshotPath: filepath.Join(stateDir, "roster.json"),
		},
		Watcher: WatcherConfig{
			PollInterval:          2 * time.Second,
			RetryDelay:            5 * time.Second,
			FailureThreshold:      3,
			ProductRescanInterval: 30 * time.Second,
		},
		Storage: StorageConfig{
			Dir:             stateDir,
			HistoryMaxBytes: 1 << 20,
		},
		Products: map[string]string{
			"VALORANT-Win64-Shipping.exe": "valorant",
			"League of Legends.exe":       "league",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appDirName, "config.yaml")
}

// Load builds the effective configuration: defaults, then the YAML file,
// then FRIENDRADAR_* environment variables, each layer overriding the one
// below. An explicit path must exist; the default path is optional.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// No config file is fine; defaults plus env carry the day.
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := envconfig.Process(envPrefix, cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the daemon cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level %q: %w", c.Log.Level, err)
	}
	if c.Watcher.PollInterval <= 0 {
		return fmt.Errorf("watcher.poll_interval must be positive")
	}
	if !c.Feed.Mock && c.Feed.Path == "" {
		return fmt.Errorf("feed.path required unless feed.mock is set")
	}
	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir required")
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GenerateToken returns a random hex token for API auth.
func GenerateToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Diff reports the fields that differ between two configurations as
// "section.key: old → new" strings. Token values are masked.
func Diff(old, new *Config) []string {
	var changes []string
	add := func(format string, args ...any) {
		changes = append(changes, fmt.Sprintf(format, args...))
	}

	if old.Server.Host != new.Server.Host {
		add("server.host: %s → %s", old.Server.Host, new.Server.Host)
	}
	if old.Server.Port != new.Server.Port {
		add("server.port: %d → %d", old.Server.Port, new.Server.Port)
	}
	if old.Server.AuthToken != new.Server.AuthToken {
		add("server.auth_token: %s → %s", maskToken(old.Server.AuthToken), maskToken(new.Server.AuthToken))
	}
	if !slices.Equal(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		add("server.allowed_origins: %v → %v", old.Server.AllowedOrigins, new.Server.AllowedOrigins)
	}
	if old.Server.BroadcastThrottle != new.Server.BroadcastThrottle {
		add("server.broadcast_throttle: %s → %s", old.Server.BroadcastThrottle, new.Server.BroadcastThrottle)
	}
	if old.Server.SnapshotInterval != new.Server.SnapshotInterval {
		add("server.snapshot_interval: %s → %s", old.Server.SnapshotInterval, new.Server.SnapshotInterval)
	}

	if old.Feed.Path != new.Feed.Path {
		add("feed.path: %s → %s", old.Feed.Path, new.Feed.Path)
	}
	if old.Feed.SnapshotPath != new.Feed.SnapshotPath {
		add("feed.snapshot_path: %s → %s", old.Feed.SnapshotPath, new.Feed.SnapshotPath)
	}
	if old.Feed.Mock != new.Feed.Mock {
		add("feed.mock: %t → %t", old.Feed.Mock, new.Feed.Mock)
	}
	if old.Feed.MockSeed != new.Feed.MockSeed {
		add("feed.mock_seed: %d → %d", old.Feed.MockSeed, new.Feed.MockSeed)
	}

	if old.Watcher.PollInterval != new.Watcher.PollInterval {
		add("watcher.poll_interval: %s → %s", old.Watcher.PollInterval, new.Watcher.PollInterval)
	}
	if old.Watcher.RetryDelay != new.Watcher.RetryDelay {
		add("watcher.retry_delay: %s → %s", old.Watcher.RetryDelay, new.Watcher.RetryDelay)
	}
	if old.Watcher.FailureThreshold != new.Watcher.FailureThreshold {
		add("watcher.failure_threshold: %d → %d", old.Watcher.FailureThreshold, new.Watcher.FailureThreshold)
	}
	if old.Watcher.ProductRescanInterval != new.Watcher.ProductRescanInterval {
		add("watcher.product_rescan_interval: %s → %s", old.Watcher.ProductRescanInterval, new.Watcher.ProductRescanInterval)
	}

	if old.Storage.Dir != new.Storage.Dir {
		add("storage.dir: %s → %s", old.Storage.Dir, new.Storage.Dir)
	}
	if old.Storage.HistoryMaxBytes != new.Storage.HistoryMaxBytes {
		add("storage.history_max_bytes: %d → %d", old.Storage.HistoryMaxBytes, new.Storage.HistoryMaxBytes)
	}

	for _, name := range sortedKeys(new.Products) {
		label := new.Products[name]
		if oldLabel, ok := old.Products[name]; !ok {
			add("products: added %s=%s", name, label)
		} else if oldLabel != label {
			add("products: %s: %s → %s", name, oldLabel, label)
		}
	}
	for _, name := range sortedKeys(old.Products) {
		if _, ok := new.Products[name]; !ok {
			add("products: removed %s", name)
		}
	}

	if old.Log.Level != new.Log.Level {
		add("log.level: %s → %s", old.Log.Level, new.Log.Level)
	}
	if old.Log.Pretty != new.Log.Pretty {
		add("log.pretty: %t → %t", old.Log.Pretty, new.Log.Pretty)
	}

	return changes
}

func maskToken(tok string) string {
	if tok == "" {
		return "(unset)"
	}
	return "(set)"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// LogLevel returns the parsed zerolog level. Call Validate first.
func (c *Config) LogLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
