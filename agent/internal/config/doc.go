// Package config loads and watches the label sync agent configuration file
// (agent.yaml).
//
// Top-level types:
//   - Config{Agent, Log}: the full tree parsed from YAML
//   - AgentConfig: server_url, sync_interval, timeout, auth, tls, targets []
//   - Target: album (empty means every album), format (csv|json), output path
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none), cert/key/ca files,
//     header, key_env, token_env, username, password_env; secrets are read
//     from the environment by Key, Token and Password
//
// Load(path) reads the YAML file, applies defaults (30s sync, 10s timeout),
// lets ZT_SERVER_URL and LOG_LEVEL override it, then validates.
//
// Watch(ctx, path, onChange) follows the file through pkg/filewatch and calls
// onChange with the newly parsed Config.
package config
