package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zita-photo/zita/pkg/codec"
	"github.com/zita-photo/zita/pkg/types"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
agent:
  server_url: "http://tagger:3000/"
  sync_interval: 10s
  timeout: 3s
  auth:
    mode: apikey
    key_env: ZT_AGENT_KEY
  targets:
    - album: "2019"
      output: /data/2019.csv
    - output: /data/all.json
log:
  level: debug
  format: text
`
	cfg := loadFromString(t, yaml)

	if cfg.Agent.ServerURL != "http://tagger:3000" {
		t.Errorf("server_url: got %q", cfg.Agent.ServerURL)
	}
	if cfg.Agent.SyncInterval != 10*time.Second {
		t.Errorf("sync_interval: got %v", cfg.Agent.SyncInterval)
	}
	if cfg.Agent.Timeout != 3*time.Second {
		t.Errorf("timeout: got %v", cfg.Agent.Timeout)
	}
	if len(cfg.Agent.Targets) != 2 {
		t.Fatalf("targets: got %d, want 2", len(cfg.Agent.Targets))
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("log: got %+v", cfg.Log)
	}
}

func TestLoad_Defaults(t *testing.T) {
	yaml := `
agent:
  server_url: "http://localhost:3000"
  targets:
    - output: tags.csv
`
	cfg := loadFromString(t, yaml)

	if cfg.Agent.SyncInterval != DefaultSyncInterval {
		t.Errorf("default sync_interval: got %v, want %v", cfg.Agent.SyncInterval, DefaultSyncInterval)
	}
	if cfg.Agent.Timeout != DefaultTimeout {
		t.Errorf("default timeout: got %v, want %v", cfg.Agent.Timeout, DefaultTimeout)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default log format: got %q, want json", cfg.Log.Format)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ZT_SERVER_URL", "https://labels.internal")
	t.Setenv("LOG_LEVEL", "warn")
	yaml := `
agent:
  server_url: "http://localhost:3000"
  targets:
    - output: tags.csv
`
	cfg := loadFromString(t, yaml)
	if cfg.Agent.ServerURL != "https://labels.internal" {
		t.Errorf("server_url: got %q", cfg.Agent.ServerURL)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level: got %q, want warn", cfg.Log.Level)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing server_url", `
agent:
  targets:
    - output: tags.csv
`},
		{"non-http server_url", `
agent:
  server_url: "tagger:3000"
  targets:
    - output: tags.csv
`},
		{"no targets", `
agent:
  server_url: "http://localhost:3000"
`},
		{"target without output", `
agent:
  server_url: "http://localhost:3000"
  targets:
    - album: a
`},
		{"duplicate output", `
agent:
  server_url: "http://localhost:3000"
  targets:
    - output: tags.csv
    - album: a
      output: tags.csv
`},
		{"unknown format", `
agent:
  server_url: "http://localhost:3000"
  targets:
    - output: tags.xml
      format: xml
`},
		{"album with slash", `
agent:
  server_url: "http://localhost:3000"
  targets:
    - album: ../etc
      output: tags.csv
`},
		{"unknown auth mode", `
agent:
  server_url: "http://localhost:3000"
  auth:
    mode: magictoken
  targets:
    - output: tags.csv
`},
		{"mtls without cert", `
agent:
  server_url: "https://localhost:3000"
  auth:
    mode: mtls
  targets:
    - output: tags.csv
`},
		{"negative interval", `
agent:
  server_url: "http://localhost:3000"
  sync_interval: -1s
  targets:
    - output: tags.csv
`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadStringErr(t, tc.yaml); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestTarget_Effective(t *testing.T) {
	tests := []struct {
		target     Target
		wantAlbum  string
		wantFormat codec.Format
	}{
		{Target{Output: "tags.csv"}, types.AlbumAll, codec.FormatCSV},
		{Target{Output: "tags.json"}, types.AlbumAll, codec.FormatJSON},
		{Target{Album: "a", Output: "a.txt", Format: "JSON"}, "a", codec.FormatJSON},
		{Target{Album: "a", Output: "a.json", Format: "csv"}, "a", codec.FormatCSV},
	}
	for _, tc := range tests {
		if got := tc.target.EffectiveAlbum(); got != tc.wantAlbum {
			t.Errorf("%+v EffectiveAlbum: got %q, want %q", tc.target, got, tc.wantAlbum)
		}
		if got := tc.target.EffectiveFormat(); got != tc.wantFormat {
			t.Errorf("%+v EffectiveFormat: got %q, want %q", tc.target, got, tc.wantFormat)
		}
	}
}

func TestAuthConfig_Secrets(t *testing.T) {
	t.Setenv("TEST_API_KEY", "supersecret")
	t.Setenv("TEST_BEARER_TOKEN", "mytoken")
	t.Setenv("TEST_PASSWORD", "hunter2")
	a := AuthConfig{KeyEnv: "TEST_API_KEY", TokenEnv: "TEST_BEARER_TOKEN", PasswordEnv: "TEST_PASSWORD"}
	if got := a.Key(); got != "supersecret" {
		t.Errorf("Key(): got %q, want %q", got, "supersecret")
	}
	if got := a.Token(); got != "mytoken" {
		t.Errorf("Token(): got %q, want %q", got, "mytoken")
	}
	if got := a.Password(); got != "hunter2" {
		t.Errorf("Password(): got %q, want %q", got, "hunter2")
	}
}

func TestAuthConfig_Empty(t *testing.T) {
	a := AuthConfig{Mode: "apikey"}
	if got := a.Key(); got != "" {
		t.Errorf("Key() with no KeyEnv: got %q, want empty", got)
	}
	if got := a.EffectiveHeader(); got != DefaultHeader {
		t.Errorf("EffectiveHeader(): got %q, want %q", got, DefaultHeader)
	}
}

func TestWatch_Reloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	writeConfig(t, path, "http://a:3000")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 8)
	go func() {
		_ = Watch(ctx, path, func(c *Config) {
			select {
			case got <- c:
			default:
			}
		})
	}()

	var last *Config
	require.Eventually(t, func() bool {
		writeConfig(t, path, "http://b:3000")
		select {
		case last = <-got:
			return last.Agent.ServerURL == "http://b:3000"
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatch_ReloadsAfterRenameSave(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	writeConfig(t, path, "http://a:3000")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 8)
	go func() {
		_ = Watch(ctx, path, func(c *Config) {
			select {
			case got <- c:
			default:
			}
		})
	}()

	// Save like an editor does: write a temp file and rename it over path.
	// The second save lands after the original inode is gone.
	for _, url := range []string{"http://b:3000", "http://c:3000"} {
		require.Eventually(t, func() bool {
			tmp := filepath.Join(dir, ".agent.yaml.tmp")
			writeConfig(t, tmp, url)
			if err := os.Rename(tmp, path); err != nil {
				t.Fatalf("rename: %v", err)
			}
			for {
				select {
				case c := <-got:
					if c.Agent.ServerURL == url {
						return true
					}
				default:
					return false
				}
			}
		}, 5*time.Second, 50*time.Millisecond)
	}
}

// --- helpers ---

func writeConfig(t *testing.T, path, serverURL string) {
	t.Helper()
	content := "agent:\n  server_url: \"" + serverURL + "\"\n  targets:\n    - output: tags.csv\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
