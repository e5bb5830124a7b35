package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/obsidianstack/sessionbus/client/internal/connmgr"
	"github.com/obsidianstack/sessionbus/client/internal/metrics"
	"github.com/obsidianstack/sessionbus/client/internal/session"
	"github.com/obsidianstack/sessionbus/client/internal/transport"
)

const (
	defaultInitial = 1 * time.Second
	defaultMax     = 60 * time.Second
)

// OpenFunc starts one connection attempt reporting through cb. It must
// arrange for cb.OnClose to run exactly once unless it returns an error.
type OpenFunc func(ctx context.Context, cb connmgr.Callbacks) error

// Opener adapts connmgr.Open for a fixed endpoint and config.
func Opener(endpoint string, cfg connmgr.Config) OpenFunc {
	return func(ctx context.Context, cb connmgr.Callbacks) error {
		_, err := connmgr.Open(ctx, endpoint, cfg, cb)
		return err
	}
}

// Config controls retry behaviour.
type Config struct {
	Enabled bool
	Initial time.Duration
	Max     time.Duration
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// ClosedError is returned by Run when a connection ended in a way the
// supervisor will not retry.
type ClosedError struct {
	Code   int
	Reason string
}

func (e *ClosedError) Error() string {
	return fmt.Sprintf("supervisor: connection closed: %d %s", e.Code, e.Reason)
}

// Supervisor reopens a connection after abnormal closes.
type Supervisor struct {
	open    OpenFunc
	onOpen  func(*session.Session)
	cfg     Config
	log     *slog.Logger
	metrics *metrics.Metrics
}

// New returns a Supervisor that calls onOpen for every session it opens.
func New(open OpenFunc, onOpen func(*session.Session), cfg Config) *Supervisor {
	if cfg.Initial <= 0 {
		cfg.Initial = defaultInitial
	}
	if cfg.Max < cfg.Initial {
		cfg.Max = defaultMax
		if cfg.Max < cfg.Initial {
			cfg.Max = cfg.Initial
		}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{open: open, onOpen: onOpen, cfg: cfg, log: log, metrics: cfg.Metrics}
}

type status struct {
	code   int
	reason string
}

// Run opens a connection and blocks until it ends for good. It returns nil
// after a normal close or context cancellation, the Open error if Open
// fails synchronously, and a *ClosedError otherwise.
func (s *Supervisor) Run(ctx context.Context) error {
	bo := newBackoff(s.cfg.Initial, s.cfg.Max)

	for {
		if ctx.Err() != nil {
			return nil
		}

		closed := make(chan status, 1)
		var opened atomic.Bool
		err := s.open(ctx, connmgr.Callbacks{
			OnOpen: func(sess *session.Session) {
				opened.Store(true)
				if s.onOpen != nil {
					s.onOpen(sess)
				}
			},
			OnClose: func(code int, reason string) {
				closed <- status{code, reason}
			},
		})
		if err != nil {
			return err
		}

		st := <-closed
		if ctx.Err() != nil {
			return nil
		}
		switch st.code {
		case transport.CodeNormalClosure:
			s.log.Info("supervisor: connection closed normally", "reason", st.reason)
			return nil
		case transport.CodeHandshakeRejected, transport.CodeProtocolError:
			s.log.Error("supervisor: not retrying", "code", st.code, "reason", st.reason)
			return &ClosedError{Code: st.code, Reason: st.reason}
		}
		if !s.cfg.Enabled {
			return &ClosedError{Code: st.code, Reason: st.reason}
		}

		if opened.Load() {
			bo.reset()
		}
		wait := bo.next()
		s.metrics.Reconnect()
		s.log.Warn("supervisor: connection lost, will reconnect",
			"code", st.code,
			"reason", st.reason,
			"retry_in", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}
