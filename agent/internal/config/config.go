package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zita-photo/zita/pkg/codec"
	"github.com/zita-photo/zita/pkg/types"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultSyncInterval = 30 * time.Second
	DefaultTimeout      = 10 * time.Second
	DefaultHeader       = "x-api-key"
)

// Config is the top-level agent configuration.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
	Log   LogConfig   `yaml:"log"`
}

// AgentConfig holds the label sync settings.
type AgentConfig struct {
	// ServerURL is the base URL of the zita server, e.g. http://tagger:3000.
	ServerURL string `yaml:"server_url"`

	// SyncInterval controls how often every target is pulled.
	SyncInterval time.Duration `yaml:"sync_interval"`

	// Timeout bounds a single export download.
	Timeout time.Duration `yaml:"timeout"`

	// Auth configures how the agent authenticates to the server.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`

	// ChangeProbe reads the server's /metrics before each cycle and skips the
	// downloads when no tag was written since the last successful sync.
	ChangeProbe bool `yaml:"change_probe"`

	// Targets is the list of exports to mirror locally.
	Targets []Target `yaml:"targets"`
}

// Target is one export mirrored to a local file.
type Target struct {
	// Album is the album id to export; empty or "__all__" exports everything.
	Album string `yaml:"album"`

	// Format is csv or json. Empty picks the format from Output's extension.
	Format string `yaml:"format"`

	// Output is the local file the export is written to.
	Output string `yaml:"output"`
}

// EffectiveAlbum returns the album id with the empty value mapped to AlbumAll.
func (t Target) EffectiveAlbum() string {
	if t.Album == "" {
		return types.AlbumAll
	}
	return t.Album
}

// EffectiveFormat returns the configured format or the one implied by Output.
func (t Target) EffectiveFormat() codec.Format {
	if t.Format != "" {
		if f, err := codec.ParseFormat(t.Format); err == nil {
			return f
		}
	}
	return codec.FormatForPath(t.Output)
}

// AuthConfig specifies how the agent authenticates to the server.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the HTTP header the API key is sent in (default "x-api-key").
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv is the name of the environment variable that holds a bearer token.
	TokenEnv string `yaml:"token_env"`

	// Username and PasswordEnv are used when Mode == "basic".
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	return lookup(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	return lookup(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	return lookup(a.PasswordEnv)
}

// EffectiveHeader returns the configured API key header or DefaultHeader.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return DefaultHeader
}

func lookup(env string) string {
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}

// TLSConfig holds TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// LogConfig selects the log level and handler.
type LogConfig struct {
	// Level is debug | info | warn | error (default info).
	Level string `yaml:"level"`
	// Format is json | text (default json).
	Format string `yaml:"format"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults; ZT_SERVER_URL and
// LOG_LEVEL override the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	if v := os.Getenv("ZT_SERVER_URL"); v != "" {
		cfg.Agent.ServerURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	cfg.Agent.ServerURL = strings.TrimRight(cfg.Agent.ServerURL, "/")

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			SyncInterval: DefaultSyncInterval,
			Timeout:      DefaultTimeout,
			ChangeProbe:  true,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ServerURL == "" {
		return fmt.Errorf("agent.server_url is required")
	}
	if !strings.HasPrefix(a.ServerURL, "http://") && !strings.HasPrefix(a.ServerURL, "https://") {
		return fmt.Errorf("agent.server_url %q must be an http or https URL", a.ServerURL)
	}
	if a.SyncInterval <= 0 {
		return fmt.Errorf("agent.sync_interval must be positive")
	}
	if a.Timeout <= 0 {
		return fmt.Errorf("agent.timeout must be positive")
	}
	switch a.Auth.Mode {
	case "mtls", "apikey", "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("agent.auth: unknown mode %q", a.Auth.Mode)
	}
	if a.Auth.Mode == "mtls" && (a.Auth.CertFile == "" || a.Auth.KeyFile == "") {
		return fmt.Errorf("agent.auth: mtls requires cert_file and key_file")
	}
	if len(a.Targets) == 0 {
		return fmt.Errorf("agent.targets: at least one target is required")
	}
	seen := make(map[string]bool, len(a.Targets))
	for i, t := range a.Targets {
		if t.Output == "" {
			return fmt.Errorf("targets[%d]: output is required", i)
		}
		if seen[t.Output] {
			return fmt.Errorf("targets[%d]: output %q used twice", i, t.Output)
		}
		seen[t.Output] = true
		if t.Format != "" {
			if _, err := codec.ParseFormat(t.Format); err != nil {
				return fmt.Errorf("targets[%d]: %w", i, err)
			}
		}
		if strings.Contains(t.Album, "/") {
			return fmt.Errorf("targets[%d]: album %q must not contain '/'", i, t.Album)
		}
	}
	return nil
}
