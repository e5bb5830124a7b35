package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/sessionbus/pkg/types"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultRealm            = "realm1"
	DefaultSerialization    = "json"
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultPongWait         = 60 * time.Second
	DefaultCloseTimeout     = 5 * time.Second
	DefaultSendBuffer       = 64
	DefaultReconnectInitial = 1 * time.Second
	DefaultReconnectMax     = 60 * time.Second
	DefaultLogLevel         = "info"
)

// Config is the top-level configuration file layout.
type Config struct {
	Client ClientConfig `yaml:"client"`
}

// ClientConfig holds everything needed to open one connection.
type ClientConfig struct {
	// Endpoint is the broker URL, ws:// or wss://.
	Endpoint string `yaml:"endpoint"`

	// Realm partitions independent message spaces on one broker. It is
	// sent in HELLO and otherwise not interpreted.
	Realm string `yaml:"realm"`

	// Serialization selects the wire codec: json | msgpack.
	Serialization string `yaml:"serialization"`

	// HandshakeTimeout bounds both the websocket upgrade and the wait
	// for WELCOME after HELLO.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`

	// WriteTimeout is the deadline for a single frame write.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// PongWait is how long the connection may stay silent before it is
	// treated as dead. Pings are sent at 9/10 of this interval.
	PongWait time.Duration `yaml:"pong_wait"`

	// CloseTimeout is how long to wait for the peer to echo a close frame.
	CloseTimeout time.Duration `yaml:"close_timeout"`

	// SendBuffer is the outbound frame queue depth.
	SendBuffer int `yaml:"send_buffer"`

	// Channels are subscribed by the listen command. Reloaded on change.
	Channels []string `yaml:"channels"`

	// Auth configures how the client authenticates to the broker.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds wss:// dial options.
	TLS TLSConfig `yaml:"tls"`

	// Reconnect controls the optional supervisor loop. Disabled by default.
	Reconnect ReconnectConfig `yaml:"reconnect"`

	// MetricsAddr exposes Prometheus metrics on /metrics when set (":9100").
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`
}

// AuthConfig specifies the authentication mode for the broker connection.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header is the HTTP header the API key is sent in (apikey mode).
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv holds the bearer token variable name (bearer mode).
	TokenEnv string `yaml:"token_env"`

	// Username is the literal basic-auth user; PasswordEnv names the
	// variable holding the password.
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// EffectiveHeader returns the API key header name, defaulting to X-API-Key.
func (a AuthConfig) EffectiveHeader() string {
	if a.Header == "" {
		return "X-API-Key"
	}
	return a.Header
}

// TLSConfig holds wss:// dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// ReconnectConfig controls the supervisor's truncated exponential backoff.
type ReconnectConfig struct {
	Enabled bool          `yaml:"enabled"`
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{Client: Defaults()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := cfg.Client.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a ClientConfig pre-populated with default values.
// Endpoint is left empty.
func Defaults() ClientConfig {
	return ClientConfig{
		Realm:            DefaultRealm,
		Serialization:    DefaultSerialization,
		HandshakeTimeout: DefaultHandshakeTimeout,
		WriteTimeout:     DefaultWriteTimeout,
		PongWait:         DefaultPongWait,
		CloseTimeout:     DefaultCloseTimeout,
		SendBuffer:       DefaultSendBuffer,
		LogLevel:         DefaultLogLevel,
		Reconnect: ReconnectConfig{
			Initial: DefaultReconnectInitial,
			Max:     DefaultReconnectMax,
		},
	}
}

// Validate checks required fields and structural constraints.
func (c ClientConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("client.endpoint is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("client.endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("client.endpoint: scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.Realm == "" {
		return fmt.Errorf("client.realm is required")
	}
	switch c.Serialization {
	case "json", "msgpack":
	default:
		return fmt.Errorf("client.serialization: unknown value %q", c.Serialization)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("client.handshake_timeout must be positive")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("client.write_timeout must be positive")
	}
	if c.PongWait <= 0 {
		return fmt.Errorf("client.pong_wait must be positive")
	}
	if c.CloseTimeout <= 0 {
		return fmt.Errorf("client.close_timeout must be positive")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("client.send_buffer must be positive")
	}
	for i, ch := range c.Channels {
		if err := types.Channel(ch).Validate(); err != nil {
			return fmt.Errorf("client.channels[%d]: %w", i, err)
		}
	}
	switch c.Auth.Mode {
	case "mtls", "apikey", "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("client.auth: unknown mode %q", c.Auth.Mode)
	}
	if c.Auth.Mode == "mtls" && (c.Auth.CertFile == "" || c.Auth.KeyFile == "") {
		return fmt.Errorf("client.auth: mtls requires cert_file and key_file")
	}
	if c.Reconnect.Enabled {
		if c.Reconnect.Initial <= 0 {
			return fmt.Errorf("client.reconnect.initial must be positive")
		}
		if c.Reconnect.Max < c.Reconnect.Initial {
			return fmt.Errorf("client.reconnect.max must be >= initial")
		}
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("client.log_level: unknown value %q", c.LogLevel)
	}
	return nil
}

// ChannelList returns Channels converted to typed channels.
func (c ClientConfig) ChannelList() []types.Channel {
	out := make([]types.Channel, 0, len(c.Channels))
	for _, ch := range c.Channels {
		out = append(out, types.Channel(ch))
	}
	return out
}
