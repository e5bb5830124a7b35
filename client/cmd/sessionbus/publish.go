package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/obsidianstack/sessionbus/client/internal/connmgr"
	"github.com/obsidianstack/sessionbus/client/internal/session"
	"github.com/obsidianstack/sessionbus/client/internal/transport"
	"github.com/obsidianstack/sessionbus/pkg/types"
)

func newPublishCmd(root *rootOptions) *cobra.Command {
	var excludeMe bool
	cmd := &cobra.Command{
		Use:   "publish <channel> [args...]",
		Short: "Publish one event and exit",
		Long: "Publish one event on channel. Each argument is sent as a number, true,\n" +
			"false or null when it parses as one, otherwise as a string.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ch := types.Channel(args[0])
			if err := ch.Validate(); err != nil {
				return err
			}
			values := make([]types.Value, 0, len(args)-1)
			for _, a := range args[1:] {
				values = append(values, types.ParseValue(a))
			}
			return runPublish(cmd.Context(), root, ch, values, session.PublishOptions{ExcludeMe: excludeMe})
		},
	}
	cmd.Flags().BoolVar(&excludeMe, "exclude-me", false, "ask the broker not to echo the event to this session")
	return cmd
}

type closeStatus struct {
	code   int
	reason string
}

func runPublish(ctx context.Context, root *rootOptions, ch types.Channel, values []types.Value, popts session.PublishOptions) error {
	cfg, err := root.load()
	if err != nil {
		return err
	}
	logger := root.setupLogger(cfg.Client.LogLevel)

	cc, _, err := connConfig(cfg.Client, logger, prometheus.NewRegistry())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opened := make(chan *session.Session, 1)
	closed := make(chan closeStatus, 1)
	conn, err := connmgr.Open(ctx, cfg.Client.Endpoint, cc, connmgr.Callbacks{
		OnOpen:  func(s *session.Session) { opened <- s },
		OnClose: func(code int, reason string) { closed <- closeStatus{code, reason} },
	})
	if err != nil {
		return err
	}

	select {
	case s := <-opened:
		if err := s.PublishWith(ch, popts, values...); err != nil {
			conn.Close(transport.CodeNormalClosure, "publish failed")
			<-conn.Done()
			return fmt.Errorf("publish: %w", err)
		}
		logger.Info("published", "channel", string(ch), "args", len(values))
		s.Close() //nolint:errcheck
		<-conn.Done()
		return nil

	case st := <-closed:
		return fmt.Errorf("publish: connection closed before session opened: %d %s", st.code, st.reason)

	case <-ctx.Done():
		<-conn.Done()
		return ctx.Err()
	}
}
