// Package config loads and watches the sessionbus client configuration file.
//
// Top-level types:
//   - Config{Client}: full config tree parsed from YAML
//   - ClientConfig: endpoint, realm, serialization, timeouts, send_buffer,
//     channels, auth, tls, reconnect, metrics_addr, log_level
//   - AuthConfig: mode (mtls|apikey|bearer|basic|none), cert/key/ca files,
//     header, key_env, token_env, username, password_env; Key(), Token() and
//     Password() resolve secrets from environment variables
//   - ReconnectConfig: opt-in supervisor backoff (initial, max)
//
// Load(path) reads the YAML file, applies defaults (realm1, json, 10s
// handshake and write timeouts, 60s pong wait, 64 frame send buffer), then
// validates required fields and enums. Defaults() returns the same defaults
// for programmatic callers.
//
// Watch(ctx, path, onChange) uses fsnotify on the parent directory so that
// rename-then-create saves (vim, VS Code) are picked up, and calls onChange
// with the newly parsed Config.
package config
