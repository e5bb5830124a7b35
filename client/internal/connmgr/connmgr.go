package connmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/sessionbus/client/internal/config"
	"github.com/obsidianstack/sessionbus/client/internal/metrics"
	"github.com/obsidianstack/sessionbus/client/internal/session"
	"github.com/obsidianstack/sessionbus/client/internal/transport"
	"github.com/obsidianstack/sessionbus/client/internal/wire"
	"github.com/obsidianstack/sessionbus/pkg/types"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultAgent            = "sessionbus"
)

// Callbacks are the host's hooks into a connection's lifecycle.
// Either may be nil.
type Callbacks struct {
	OnOpen  func(*session.Session)
	OnClose func(code int, reason string)
}

// Config controls one Open.
type Config struct {
	Realm            string
	Codec            wire.Codec
	Transport        transport.Options
	HandshakeTimeout time.Duration
	// Agent is announced in HELLO details.
	Agent   string
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// ConfigFrom builds a Config from the client configuration file section.
func ConfigFrom(c config.ClientConfig) (Config, error) {
	codec, err := wire.New(c.Serialization)
	if err != nil {
		return Config{}, fmt.Errorf("connmgr: %w", err)
	}
	opts, err := transport.OptionsFromConfig(c)
	if err != nil {
		return Config{}, fmt.Errorf("connmgr: %w", err)
	}
	return Config{
		Realm:            c.Realm,
		Codec:            codec,
		Transport:        opts,
		HandshakeTimeout: c.HandshakeTimeout,
	}, nil
}

// Connection is one Open: a transport plus, once welcomed, its session.
type Connection struct {
	id  uuid.UUID
	cfg Config
	cb  Callbacks
	log *slog.Logger
	t   *transport.Transport

	mu       sync.Mutex
	sess     *session.Session
	welcomed bool
	timer    *time.Timer
	code     int
	reason   string

	done chan struct{}
}

// Open starts connecting to endpoint and returns immediately. The outcome
// is reported through cb. A malformed endpoint returns a
// *transport.ConnectError and cb.OnClose has already been called with 1006.
func Open(ctx context.Context, endpoint string, cfg Config, cb Callbacks) (*Connection, error) {
	if cfg.Codec == nil {
		cfg.Codec = wire.JSON{}
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Agent == "" {
		cfg.Agent = defaultAgent
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Connection{
		id:   uuid.New(),
		cfg:  cfg,
		cb:   cb,
		done: make(chan struct{}),
	}
	c.log = cfg.Logger.With("conn", c.id.String(), "endpoint", endpoint)

	opts := cfg.Transport
	opts.Subprotocol = cfg.Codec.Subprotocol()
	opts.Binary = cfg.Codec.Binary()
	if opts.Logger == nil {
		opts.Logger = c.log
	}

	t, err := transport.New(endpoint, opts, listener{c})
	if err != nil {
		c.log.Warn("connmgr: malformed endpoint", "err", err)
		c.closed(transport.CodeAbnormalClosure, err.Error())
		return nil, err
	}
	c.t = t
	t.Start(ctx)
	return c, nil
}

// ID is a random identifier for log correlation, also sent in HELLO.
func (c *Connection) ID() string { return c.id.String() }

// Session returns the session, or nil before WELCOME.
func (c *Connection) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// State returns the underlying transport state.
func (c *Connection) State() transport.State { return c.t.State() }

// Close ends the connection with code and reason. An open session says
// GOODBYE first.
func (c *Connection) Close(code int, reason string) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess != nil && sess.IsOpen() {
		c.send(wire.Frame{Type: wire.Goodbye, Reason: session.GoodbyeReason})
		sess.Teardown()
	}
	c.t.Close(code, reason)
}

// Done is closed after OnClose has returned.
func (c *Connection) Done() <-chan struct{} { return c.done }

// CloseStatus returns the code and reason passed to OnClose. Both are zero
// while the connection is still live.
func (c *Connection) CloseStatus() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code, c.reason
}

// Wait blocks until the connection is closed or ctx is done.
func (c *Connection) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Connection) send(f wire.Frame) {
	data, err := c.cfg.Codec.Encode(f)
	if err != nil {
		c.log.Warn("connmgr: encode failed", "type", f.Type.String(), "err", err)
		return
	}
	if err := c.t.Send(data); err != nil {
		c.log.Debug("connmgr: send failed", "type", f.Type.String(), "err", err)
		return
	}
	c.cfg.Metrics.FrameSent(f.Type.String())
}

// closed records the final status and runs OnClose once.
func (c *Connection) closed(code int, reason string) {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
	}
	sess, welcomed := c.sess, c.welcomed
	c.code, c.reason = code, reason
	c.mu.Unlock()

	if sess != nil {
		sess.Teardown()
	}
	if !welcomed {
		c.cfg.Metrics.ConnectAttempt(false)
	}
	c.cfg.Metrics.Closed(code)
	c.log.Info("connmgr: closed", "code", code, "reason", reason)

	if c.cb.OnClose != nil {
		c.cb.OnClose(code, reason)
	}
	close(c.done)
}

// --- transport listener -----------------------------------------------------

// listener keeps the transport callbacks off Connection's exported API.
type listener struct{ c *Connection }

func (l listener) OnOpen() {
	c := l.c
	c.mu.Lock()
	c.timer = time.AfterFunc(c.cfg.HandshakeTimeout, c.handshakeExpired)
	c.mu.Unlock()

	c.send(wire.Frame{
		Type:  wire.Hello,
		Realm: c.cfg.Realm,
		Details: map[string]any{
			"agent":     c.cfg.Agent,
			"client_id": c.id.String(),
			"roles": map[string]any{
				"publisher":  map[string]any{},
				"subscriber": map[string]any{},
			},
		},
	})
	c.log.Debug("connmgr: hello sent", "realm", c.cfg.Realm)
}

func (c *Connection) handshakeExpired() {
	c.mu.Lock()
	welcomed := c.welcomed
	c.mu.Unlock()
	if !welcomed {
		c.log.Warn("connmgr: handshake timed out", "after", c.cfg.HandshakeTimeout)
		c.t.Close(transport.CodeHandshakeTimeout, "handshake timeout")
	}
}

func (l listener) OnMessage(data []byte) {
	c := l.c
	f, err := c.cfg.Codec.Decode(data)
	if err != nil {
		c.cfg.Metrics.DecodeError()
		c.log.Warn("connmgr: dropping undecodable frame", "err", err, "bytes", len(data))
		return
	}
	c.cfg.Metrics.FrameReceived(f.Type.String())

	c.mu.Lock()
	welcomed, sess := c.welcomed, c.sess
	c.mu.Unlock()

	if !welcomed {
		c.handshake(f)
		return
	}

	switch f.Type {
	case wire.Event:
		sess.Deliver(types.Event{Channel: f.Channel, Args: f.Args})
	case wire.Goodbye:
		c.log.Info("connmgr: broker said goodbye", "reason", f.Reason)
		c.send(wire.Frame{Type: wire.Goodbye, Reason: session.GoodbyeReason})
		sess.Teardown()
		c.t.Close(transport.CodeNormalClosure, f.Reason)
	case wire.Welcome, wire.Abort, wire.Hello:
		c.t.Close(transport.CodeProtocolError, fmt.Sprintf("unexpected %s in session", f.Type))
	default:
		c.log.Debug("connmgr: ignoring frame", "type", f.Type.String())
	}
}

func (c *Connection) handshake(f wire.Frame) {
	switch f.Type {
	case wire.Welcome:
		sess := session.New(c.t, session.Config{
			ID:      f.Session,
			Realm:   c.cfg.Realm,
			Codec:   c.cfg.Codec,
			Logger:  c.log,
			Metrics: c.cfg.Metrics,
		})
		c.mu.Lock()
		if c.timer != nil {
			c.timer.Stop()
		}
		c.welcomed = true
		c.sess = sess
		c.mu.Unlock()

		c.cfg.Metrics.ConnectAttempt(true)
		c.log.Info("connmgr: session open", "session", f.Session, "realm", c.cfg.Realm)
		if c.cb.OnOpen != nil {
			c.cb.OnOpen(sess)
		}

	case wire.Abort:
		c.log.Warn("connmgr: handshake rejected", "reason", f.Reason, "details", f.Details)
		c.t.Close(transport.CodeHandshakeRejected, f.Reason)

	default:
		c.t.Close(transport.CodeProtocolError, fmt.Sprintf("unexpected %s before WELCOME", f.Type))
	}
}

// OnClosing ends the session as soon as the transport stops accepting
// frames, so it never reports open while the close handshake runs.
func (l listener) OnClosing(code int, reason string) {
	c := l.c
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess != nil && sess.IsOpen() {
		c.log.Debug("connmgr: closing", "code", code, "reason", reason)
		sess.Teardown()
	}
}

func (l listener) OnClose(code int, reason string) {
	l.c.closed(code, reason)
}
