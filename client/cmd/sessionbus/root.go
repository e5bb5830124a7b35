package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/obsidianstack/sessionbus/client/internal/config"
	"github.com/obsidianstack/sessionbus/client/internal/connmgr"
	"github.com/obsidianstack/sessionbus/client/internal/metrics"
)

type rootOptions struct {
	configPath string
	logLevel   string
	endpoint   string
	realm      string

	out    io.Writer
	errOut io.Writer
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{out: os.Stdout, errOut: os.Stderr}

	cmd := &cobra.Command{
		Use:          "sessionbus",
		Short:        "Publish and subscribe through a session broker",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override: debug|info|warn|error")
	cmd.PersistentFlags().StringVar(&opts.endpoint, "endpoint", "", "broker endpoint override (ws:// or wss://)")
	cmd.PersistentFlags().StringVar(&opts.realm, "realm", "", "realm override")

	cmd.AddCommand(newListenCmd(opts), newPublishCmd(opts))
	return cmd
}

// load reads the config file and applies flag overrides. A missing file is
// tolerated when --endpoint is given.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist) && o.endpoint != "":
		cfg = &config.Config{Client: config.Defaults()}
	default:
		return nil, err
	}

	if o.endpoint != "" {
		cfg.Client.Endpoint = o.endpoint
	}
	if o.realm != "" {
		cfg.Client.Realm = o.realm
	}
	if o.logLevel != "" {
		cfg.Client.LogLevel = o.logLevel
	}
	if err := cfg.Client.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// setupLogger installs a JSON slog handler at level as the default logger.
func (o *rootOptions) setupLogger(level string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(o.out, &slog.HandlerOptions{Level: parseLevel(level)}))
	slog.SetDefault(logger)
	return logger
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// connConfig builds the connection config with logging and metrics wired.
func connConfig(c config.ClientConfig, logger *slog.Logger, reg prometheus.Registerer) (connmgr.Config, *metrics.Metrics, error) {
	m, err := metrics.New("sessionbus", reg)
	if err != nil {
		return connmgr.Config{}, nil, err
	}
	cc, err := connmgr.ConfigFrom(c)
	if err != nil {
		return connmgr.Config{}, nil, err
	}
	cc.Logger = logger
	cc.Metrics = m
	return cc, m, nil
}
