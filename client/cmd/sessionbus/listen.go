package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/obsidianstack/sessionbus/client/internal/config"
	"github.com/obsidianstack/sessionbus/client/internal/metrics"
	"github.com/obsidianstack/sessionbus/client/internal/supervisor"
	"github.com/obsidianstack/sessionbus/pkg/types"
)

func newListenCmd(root *rootOptions) *cobra.Command {
	var dumpMetrics bool
	cmd := &cobra.Command{
		Use:   "listen [channels...]",
		Short: "Subscribe to channels and log every event received",
		Long: "Subscribe to the channels given as arguments plus client.channels from the\n" +
			"config file. Edits to client.channels are applied without reconnecting.",
		RunE: func(cmd *cobra.Command, args []string) error {
			extra := make([]types.Channel, 0, len(args))
			for _, a := range args {
				ch := types.Channel(a)
				if err := ch.Validate(); err != nil {
					return err
				}
				extra = append(extra, ch)
			}
			return runListen(cmd.Context(), root, extra, dumpMetrics)
		},
	}
	cmd.Flags().BoolVar(&dumpMetrics, "dump-metrics", false, "write client metrics to stderr on exit")
	return cmd
}

func runListen(ctx context.Context, root *rootOptions, extra []types.Channel, dumpMetrics bool) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	logger := root.setupLogger(cfg.Client.LogLevel)

	reg := prometheus.NewRegistry()
	cc, m, err := connConfig(cfg.Client, logger, reg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tr := newTracker(logger)
	tr.SetChannels(mergeChannels(cfg.Client.ChannelList(), extra))
	if tr.Len() == 0 {
		logger.Warn("listen: no channels configured, waiting for config changes")
	}

	sv := supervisor.New(supervisor.Opener(cfg.Client.Endpoint, cc), tr.Attach, supervisor.Config{
		Enabled: cfg.Client.Reconnect.Enabled,
		Initial: cfg.Client.Reconnect.Initial,
		Max:     cfg.Client.Reconnect.Max,
		Logger:  logger,
		Metrics: m,
	})

	logger.Info("sessionbus listening",
		"endpoint", cfg.Client.Endpoint,
		"realm", cfg.Client.Realm,
		"serialization", cfg.Client.Serialization,
		"channels", len(tr.Channels()),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The session ending, for any reason, ends the command.
		defer cancel()
		return sv.Run(gctx)
	})
	g.Go(func() error {
		return config.Watch(gctx, root.configPath, func(updated *config.Config) {
			tr.SetChannels(mergeChannels(updated.Client.ChannelList(), extra))
		})
	})
	if cfg.Client.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Client.MetricsAddr, reg) })
	}

	err = g.Wait()
	if dumpMetrics {
		if werr := metrics.WriteText(root.errOut, reg); werr != nil {
			logger.Warn("listen: metrics dump failed", "err", werr)
		}
	}
	logger.Info("sessionbus shutting down")
	return err
}

func serveMetrics(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// mergeChannels returns a ∪ b without duplicates, preserving first-seen order.
func mergeChannels(a, b []types.Channel) []types.Channel {
	seen := make(map[types.Channel]bool, len(a)+len(b))
	out := make([]types.Channel, 0, len(a)+len(b))
	for _, list := range [][]types.Channel{a, b} {
		for _, ch := range list {
			if !seen[ch] {
				seen[ch] = true
				out = append(out, ch)
			}
		}
	}
	return out
}
