package transport

import (
	"encoding/base64"
	"testing"

	"github.com/obsidianstack/sessionbus/client/internal/config"
)

func TestHeader_Modes(t *testing.T) {
	t.Setenv("SB_KEY", "k1")
	t.Setenv("SB_TOKEN", "t1")
	t.Setenv("SB_PASS", "p1")

	h := Header(config.AuthConfig{Mode: "apikey", KeyEnv: "SB_KEY"})
	if got := h.Get("X-API-Key"); got != "k1" {
		t.Errorf("apikey default header: got %q", got)
	}

	h = Header(config.AuthConfig{Mode: "apikey", Header: "X-Broker-Key", KeyEnv: "SB_KEY"})
	if got := h.Get("X-Broker-Key"); got != "k1" {
		t.Errorf("apikey custom header: got %q", got)
	}

	h = Header(config.AuthConfig{Mode: "bearer", TokenEnv: "SB_TOKEN"})
	if got := h.Get("Authorization"); got != "Bearer t1" {
		t.Errorf("bearer: got %q", got)
	}

	h = Header(config.AuthConfig{Mode: "basic", Username: "u", PasswordEnv: "SB_PASS"})
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("u:p1"))
	if got := h.Get("Authorization"); got != want {
		t.Errorf("basic: got %q, want %q", got, want)
	}

	if h := Header(config.AuthConfig{Mode: "none"}); len(h) != 0 {
		t.Errorf("none: got %v, want empty", h)
	}
	if h := Header(config.AuthConfig{Mode: "apikey", KeyEnv: "SB_UNSET_VAR"}); len(h) != 0 {
		t.Errorf("apikey with unset env: got %v, want empty", h)
	}
}

func TestTLSClientConfig(t *testing.T) {
	cfg, err := TLSClientConfig(config.AuthConfig{Mode: "none"}, config.TLSConfig{})
	if err != nil || cfg != nil {
		t.Errorf("plain: got %v, %v; want nil, nil", cfg, err)
	}

	cfg, err = TLSClientConfig(config.AuthConfig{}, config.TLSConfig{InsecureSkipVerify: true})
	if err != nil {
		t.Fatalf("insecure: %v", err)
	}
	if cfg == nil || !cfg.InsecureSkipVerify {
		t.Errorf("insecure: got %+v", cfg)
	}

	_, err = TLSClientConfig(config.AuthConfig{Mode: "mtls", CertFile: "/nonexistent.crt", KeyFile: "/nonexistent.key"}, config.TLSConfig{})
	if err == nil {
		t.Error("mtls with missing files: expected error")
	}
}

func TestOptionsFromConfig(t *testing.T) {
	c := config.Defaults()
	c.Endpoint = "ws://h/ws"
	c.SendBuffer = 7
	opts, err := OptionsFromConfig(c)
	if err != nil {
		t.Fatalf("OptionsFromConfig: %v", err)
	}
	if opts.SendBuffer != 7 || opts.PongWait != c.PongWait || opts.HandshakeTimeout != c.HandshakeTimeout {
		t.Errorf("options: got %+v", opts)
	}
}
