package transport

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"

	"github.com/obsidianstack/sessionbus/client/internal/config"
)

// Header builds the upgrade request headers for the configured auth mode.
// Secrets are resolved from the environment at call time.
func Header(auth config.AuthConfig) http.Header {
	h := http.Header{}
	switch auth.Mode {
	case "apikey":
		if key := auth.Key(); key != "" {
			h.Set(auth.EffectiveHeader(), key)
		}
	case "bearer":
		if tok := auth.Token(); tok != "" {
			h.Set("Authorization", "Bearer "+tok)
		}
	case "basic":
		if auth.Username != "" {
			cred := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password()))
			h.Set("Authorization", "Basic "+cred)
		}
	}
	return h
}

// TLSClientConfig returns the dial TLS configuration, or nil when the
// defaults apply.
func TLSClientConfig(auth config.AuthConfig, opts config.TLSConfig) (*tls.Config, error) {
	if auth.Mode != "mtls" && !opts.InsecureSkipVerify {
		return nil, nil
	}

	cfg := &tls.Config{
		InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec
	}
	if auth.Mode != "mtls" {
		return cfg, nil
	}

	cert, err := tls.LoadX509KeyPair(auth.CertFile, auth.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("transport: load client cert: %w", err)
	}
	cfg.Certificates = []tls.Certificate{cert}

	if auth.CAFile != "" {
		caPEM, err := os.ReadFile(auth.CAFile)
		if err != nil {
			return nil, fmt.Errorf("transport: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("transport: no valid certs in ca file %q", auth.CAFile)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// OptionsFromConfig maps the client config onto transport options.
// Subprotocol and Binary come from the codec and are left to the caller.
func OptionsFromConfig(c config.ClientConfig) (Options, error) {
	tlsCfg, err := TLSClientConfig(c.Auth, c.TLS)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Header:           Header(c.Auth),
		TLSConfig:        tlsCfg,
		HandshakeTimeout: c.HandshakeTimeout,
		WriteTimeout:     c.WriteTimeout,
		PongWait:         c.PongWait,
		CloseTimeout:     c.CloseTimeout,
		SendBuffer:       c.SendBuffer,
	}, nil
}
