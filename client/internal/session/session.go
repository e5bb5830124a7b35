package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/obsidianstack/sessionbus/client/internal/dispatch"
	"github.com/obsidianstack/sessionbus/client/internal/metrics"
	"github.com/obsidianstack/sessionbus/client/internal/transport"
	"github.com/obsidianstack/sessionbus/client/internal/wire"
	"github.com/obsidianstack/sessionbus/pkg/types"
)

// GoodbyeReason is sent in the GOODBYE frame when the client closes.
const GoodbyeReason = "close.normal"

var (
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session: closed")

	// ErrNilHandler is returned by Subscribe when no handler is given.
	ErrNilHandler = errors.New("session: nil handler")
)

// Sender is the part of the transport a session writes to.
type Sender interface {
	Send(frame []byte) error
	Close(code int, reason string)
}

// Config describes a welcomed session.
type Config struct {
	ID      uint64
	Realm   string
	Codec   wire.Codec
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// PublishOptions modify a single publish.
type PublishOptions struct {
	// ExcludeMe asks the broker not to deliver the event back to this session.
	ExcludeMe bool
}

// Session is an open session on a connection.
type Session struct {
	id      uint64
	realm   string
	t       Sender
	codec   wire.Codec
	log     *slog.Logger
	metrics *metrics.Metrics
	reg     *dispatch.Registry

	mu      sync.Mutex
	closed  bool
	nextReq uint64
	done    chan struct{}
}

// New returns an open Session writing to t.
func New(t Sender, cfg Config) *Session {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	codec := cfg.Codec
	if codec == nil {
		codec = wire.JSON{}
	}
	log = log.With("session", cfg.ID, "realm", cfg.Realm)
	cfg.Metrics.SessionOpened()
	return &Session{
		id:      cfg.ID,
		realm:   cfg.Realm,
		t:       t,
		codec:   codec,
		log:     log,
		metrics: cfg.Metrics,
		reg:     dispatch.New(dispatch.WithLogger(log), dispatch.WithMetrics(cfg.Metrics)),
		done:    make(chan struct{}),
	}
}

// ID is the session id assigned by the broker in WELCOME.
func (s *Session) ID() uint64 { return s.id }

// Realm is the realm the session joined.
func (s *Session) Realm() string { return s.realm }

// IsOpen reports whether the session still accepts operations.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Subscriptions returns the number of live subscriptions.
func (s *Session) Subscriptions() int { return s.reg.Len() }

// Channels returns the channels with at least one live subscription.
func (s *Session) Channels() []types.Channel { return s.reg.Channels() }

// Done is closed when the session closes, locally or with its connection.
func (s *Session) Done() <-chan struct{} { return s.done }

// Subscribe registers h for events on ch. Handlers on the same channel are
// invoked in the order they were subscribed. The first local subscription
// to a channel sends SUBSCRIBE to the broker; if the transport has already
// left the open state nothing is registered and ErrSessionClosed is
// returned.
func (s *Session) Subscribe(ch types.Channel, h dispatch.Handler) (types.SubscriptionID, error) {
	if err := ch.Validate(); err != nil {
		return 0, err
	}
	if h == nil {
		return 0, ErrNilHandler
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSessionClosed
	}
	id, first := s.reg.Add(ch, h)
	if first {
		s.nextReq++
		err := s.send(wire.Frame{Type: wire.Subscribe, Request: s.nextReq, Channel: ch})
		switch {
		case errors.Is(err, transport.ErrNotOpen):
			// The connection is already closing.
			s.reg.Remove(id)
			return 0, ErrSessionClosed
		case err != nil:
			s.log.Warn("session: subscribe frame not sent", "channel", string(ch), "err", err)
		}
	}
	s.log.Debug("session: subscribed", "channel", string(ch), "subscription", uint64(id))
	return id, nil
}

// Unsubscribe removes a subscription. Unknown or already removed ids,
// including every id after Close, return *dispatch.UnknownSubscriptionError.
func (s *Session) Unsubscribe(id types.SubscriptionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, last, err := s.reg.Remove(id)
	if err != nil {
		return err
	}
	if last && !s.closed {
		s.nextReq++
		if err := s.send(wire.Frame{Type: wire.Unsubscribe, Request: s.nextReq, Channel: ch}); err != nil {
			s.log.Warn("session: unsubscribe frame not sent", "channel", string(ch), "err", err)
		}
	}
	s.log.Debug("session: unsubscribed", "channel", string(ch), "subscription", uint64(id))
	return nil
}

// Publish sends an event on ch without waiting for acknowledgement.
func (s *Session) Publish(ch types.Channel, args ...types.Value) error {
	return s.PublishWith(ch, PublishOptions{}, args...)
}

// PublishWith is Publish with options.
func (s *Session) PublishWith(ch types.Channel, opts PublishOptions, args ...types.Value) error {
	if err := ch.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	f := wire.Frame{Type: wire.Publish, Channel: ch, Args: args}
	if opts.ExcludeMe {
		f.Details = map[string]any{wire.OptExcludeMe: true}
	}
	s.nextReq++
	f.Request = s.nextReq

	err := s.send(f)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrNotOpen):
		return ErrSessionClosed
	default:
		return fmt.Errorf("session: publish %s: %w", ch, err)
	}
}

// Close unregisters every subscription, says GOODBYE and closes the
// transport normally. Calling Close again is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.shutdownLocked()
	err := s.send(wire.Frame{Type: wire.Goodbye, Reason: GoodbyeReason})
	s.mu.Unlock()

	if err != nil && !errors.Is(err, transport.ErrNotOpen) {
		s.log.Warn("session: goodbye not sent", "err", err)
	}
	s.t.Close(transport.CodeNormalClosure, "goodbye")
	s.log.Info("session: closed")
	return nil
}

// Deliver dispatches an inbound event to the session's handlers. Events
// arriving after the session closed are dropped.
func (s *Session) Deliver(ev types.Event) dispatch.Result {
	if !s.IsOpen() {
		return dispatch.Result{}
	}
	return s.reg.Dispatch(ev)
}

// Teardown closes the session after its connection has gone away. No
// frames are sent.
func (s *Session) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.shutdownLocked()
}

func (s *Session) shutdownLocked() {
	s.closed = true
	s.reg.Clear()
	close(s.done)
	s.metrics.SessionClosed()
}

func (s *Session) send(f wire.Frame) error {
	data, err := s.codec.Encode(f)
	if err != nil {
		return err
	}
	if err := s.t.Send(data); err != nil {
		return err
	}
	s.metrics.FrameSent(f.Type.String())
	return nil
}
