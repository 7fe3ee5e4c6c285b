package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zita-photo/zita/pkg/codec"
	"github.com/zita-photo/zita/pkg/types"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort         = 3000
	DefaultAlbumsRoot       = "./example/data"
	DefaultLabelsFile       = "tags.csv"
	DefaultTagOptions       = "Good||Fair||Bad"
	DefaultProgressInterval = 5 * time.Second
	DefaultKeyPrefix        = "zt"
	DefaultRepairInterval   = 10 * time.Minute
)

// Config is the server configuration. It is read from the `server:`,
// `store:`, `albums:`, `labels:` and `log:` sections of config.yaml and then
// overridden by environment variables.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Albums AlbumsConfig `yaml:"albums"`
	Labels LabelsConfig `yaml:"labels"`
	Log    LogConfig    `yaml:"log"`

	// Env is GO_ENV; "production" switches the logger to JSON and skips .env.
	Env string `yaml:"-"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API and WebSocket hub listen on (default 3000).
	HTTPPort int `yaml:"http_port"`

	// Auth configures how the server authenticates REST clients.
	Auth AuthConfig `yaml:"auth"`

	// ProgressInterval is how often album progress is pushed over WebSocket.
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from (default "x-api-key").
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// StoreConfig selects and tunes the tag store backend.
type StoreConfig struct {
	// Output is where tags live: a redis:// URL or a file path. Defaults to
	// LabelsCSV.
	Output string `yaml:"output"`

	// LabelsCSV is the CSV export read by the training pipeline (default
	// <albums root>/tags.csv).
	LabelsCSV string `yaml:"labels_csv"`

	// KeyPrefix namespaces the Redis keys (default "zt").
	KeyPrefix string `yaml:"key_prefix"`

	// RepairInterval is how often the Redis backend recomputes counters.
	RepairInterval time.Duration `yaml:"repair_interval"`
}

// AlbumsConfig locates the photos.
type AlbumsConfig struct {
	Root      string `yaml:"root"`
	Delimiter string `yaml:"delimiter"`
}

// LabelsConfig is the label vocabulary offered to taggers.
type LabelsConfig struct {
	Options []string `yaml:"options"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is one of debug | info | warn | error.
	Level string `yaml:"level"`

	// Format is text or json. Empty picks json in production.
	Format string `yaml:"format"`
}

// Load reads the config file at path (optional: an empty path or a missing
// file yields defaults), applies environment overrides, fills derived
// defaults and validates.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse yaml: %w", err)
			}
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	resolve(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:         DefaultHTTPPort,
			ProgressInterval: DefaultProgressInterval,
		},
		Store: StoreConfig{
			KeyPrefix:      DefaultKeyPrefix,
			RepairInterval: DefaultRepairInterval,
		},
		Albums: AlbumsConfig{
			Root:      DefaultAlbumsRoot,
			Delimiter: types.DefaultDelimiter,
		},
		Log: LogConfig{Level: "info"},
	}
}

// applyEnv overrides file values with the process environment.
func applyEnv(cfg *Config) error {
	cfg.Env = os.Getenv("GO_ENV")
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT %q: %w", v, err)
		}
		cfg.Server.HTTPPort = port
	}
	if v := os.Getenv("ZT_ALBUMS_ROOT"); v != "" {
		cfg.Albums.Root = v
	}
	if v := os.Getenv("ZT_ALBUM_DELIM"); v != "" {
		cfg.Albums.Delimiter = v
	}
	if v := os.Getenv("ZT_LABELS_CSV"); v != "" {
		cfg.Store.LabelsCSV = v
	}
	if v := os.Getenv("ZT_TAG_OPTIONS"); v != "" {
		cfg.Labels.Options = codec.SplitLabels(v)
	}
	if v := firstEnv("ZT_TAG_OUTPUT", "ZT_REDIS_URL", "REDIS_URL"); v != "" {
		cfg.Store.Output = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	return nil
}

// resolve fills values that default to other settings.
func resolve(cfg *Config) {
	cfg.Albums.Root = ExpandHome(cfg.Albums.Root)
	if cfg.Store.LabelsCSV == "" {
		cfg.Store.LabelsCSV = filepath.Join(cfg.Albums.Root, DefaultLabelsFile)
	}
	cfg.Store.LabelsCSV = ExpandHome(cfg.Store.LabelsCSV)
	if cfg.Store.Output == "" {
		cfg.Store.Output = cfg.Store.LabelsCSV
	}
	cfg.Store.Output = ExpandHome(cfg.Store.Output)
	if len(cfg.Labels.Options) == 0 {
		cfg.Labels.Options = codec.SplitLabels(DefaultTagOptions)
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
		if cfg.Env == "production" {
			cfg.Log.Format = "json"
		}
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Server.ProgressInterval <= 0 {
		return fmt.Errorf("server.progress_interval must be positive")
	}
	if cfg.Store.RepairInterval <= 0 {
		return fmt.Errorf("store.repair_interval must be positive")
	}
	if cfg.Albums.Delimiter == "" {
		return fmt.Errorf("albums.delimiter must not be empty")
	}
	if err := codec.ValidateTags(cfg.Labels.Options); err != nil {
		return fmt.Errorf("labels.options: %w", err)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q unknown: want text|json", cfg.Log.Format)
	}
	return nil
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}
