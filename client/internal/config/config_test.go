package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
client:
  endpoint: "ws://localhost:8080/ws"
  realm: "r"
  serialization: msgpack
  handshake_timeout: 3s
  send_buffer: 16
  channels: ["my.turnpike.chat", "c"]
  auth:
    mode: apikey
    key_env: SESSIONBUS_KEY
  reconnect:
    enabled: true
    initial: 500ms
    max: 10s
`
	cfg := loadFromString(t, yaml)

	if cfg.Client.Endpoint != "ws://localhost:8080/ws" {
		t.Errorf("endpoint: got %q", cfg.Client.Endpoint)
	}
	if cfg.Client.Realm != "r" {
		t.Errorf("realm: got %q", cfg.Client.Realm)
	}
	if cfg.Client.Serialization != "msgpack" {
		t.Errorf("serialization: got %q", cfg.Client.Serialization)
	}
	if cfg.Client.HandshakeTimeout != 3*time.Second {
		t.Errorf("handshake_timeout: got %v", cfg.Client.HandshakeTimeout)
	}
	if cfg.Client.SendBuffer != 16 {
		t.Errorf("send_buffer: got %d", cfg.Client.SendBuffer)
	}
	if len(cfg.Client.Channels) != 2 {
		t.Fatalf("channels: got %d, want 2", len(cfg.Client.Channels))
	}
	if got := cfg.Client.ChannelList()[0]; got != "my.turnpike.chat" {
		t.Errorf("channels[0]: got %q", got)
	}
	if !cfg.Client.Reconnect.Enabled || cfg.Client.Reconnect.Initial != 500*time.Millisecond {
		t.Errorf("reconnect: got %+v", cfg.Client.Reconnect)
	}
}

func TestLoad_Defaults(t *testing.T) {
	yaml := `
client:
  endpoint: "wss://broker.example.com/ws"
`
	cfg := loadFromString(t, yaml)

	if cfg.Client.Realm != DefaultRealm {
		t.Errorf("default realm: got %q, want %q", cfg.Client.Realm, DefaultRealm)
	}
	if cfg.Client.Serialization != DefaultSerialization {
		t.Errorf("default serialization: got %q, want %q", cfg.Client.Serialization, DefaultSerialization)
	}
	if cfg.Client.HandshakeTimeout != DefaultHandshakeTimeout {
		t.Errorf("default handshake_timeout: got %v, want %v", cfg.Client.HandshakeTimeout, DefaultHandshakeTimeout)
	}
	if cfg.Client.PongWait != DefaultPongWait {
		t.Errorf("default pong_wait: got %v, want %v", cfg.Client.PongWait, DefaultPongWait)
	}
	if cfg.Client.SendBuffer != DefaultSendBuffer {
		t.Errorf("default send_buffer: got %d, want %d", cfg.Client.SendBuffer, DefaultSendBuffer)
	}
	if cfg.Client.Reconnect.Enabled {
		t.Error("reconnect: enabled by default, want disabled")
	}
	if cfg.Client.Reconnect.Max != DefaultReconnectMax {
		t.Errorf("default reconnect.max: got %v, want %v", cfg.Client.Reconnect.Max, DefaultReconnectMax)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing endpoint", "client:\n  realm: r\n"},
		{"http scheme", "client:\n  endpoint: \"http://localhost/ws\"\n"},
		{"empty realm", "client:\n  endpoint: \"ws://h/ws\"\n  realm: \"\"\n"},
		{"unknown serialization", "client:\n  endpoint: \"ws://h/ws\"\n  serialization: cbor\n"},
		{"bad channel", "client:\n  endpoint: \"ws://h/ws\"\n  channels: [\"a..b\"]\n"},
		{"unknown auth mode", "client:\n  endpoint: \"ws://h/ws\"\n  auth:\n    mode: magictoken\n"},
		{"mtls without cert", "client:\n  endpoint: \"wss://h/ws\"\n  auth:\n    mode: mtls\n"},
		{"zero send buffer", "client:\n  endpoint: \"ws://h/ws\"\n  send_buffer: 0\n"},
		{"reconnect max below initial", "client:\n  endpoint: \"ws://h/ws\"\n  reconnect:\n    enabled: true\n    initial: 5s\n    max: 1s\n"},
		{"unknown log level", "client:\n  endpoint: \"ws://h/ws\"\n  log_level: loud\n"},
		{"not yaml", "client: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := loadStringErr(t, tc.yaml); err == nil {
				t.Fatalf("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file, got nil")
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
	if got := (AuthConfig{}).Key(); got != "" {
		t.Errorf("Key() with no KeyEnv: got %q, want empty", got)
	}
	if got := (AuthConfig{}).EffectiveHeader(); got != "X-API-Key" {
		t.Errorf("EffectiveHeader(): got %q", got)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "client:\n  endpoint: \"ws://h/ws\"\n  channels: [\"a\"]\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	// An invalid file must not reach onChange.
	writeFile(t, path, "client:\n  endpoint: \"\"\n")
	writeFile(t, path, "client:\n  endpoint: \"ws://h/ws\"\n  channels: [\"a\", \"b\"]\n")

	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-changes:
			if len(c.Client.Channels) == 2 {
				cancel()
				if err := <-done; err != nil {
					t.Fatalf("Watch returned %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
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
	writeFile(t, path, content)
	return Load(path)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
}
