package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
)

// Close codes reported through Listener.OnClose. The 1xxx codes are the
// websocket ones; 4xxx are private-use codes assigned by this client.
const (
	CodeNormalClosure     = websocket.CloseNormalClosure   // 1000
	CodeGoingAway         = websocket.CloseGoingAway       // 1001
	CodeProtocolError     = websocket.CloseProtocolError   // 1002
	CodeAbnormalClosure   = websocket.CloseAbnormalClosure // 1006
	CodeHandshakeRejected = 4001
	CodeHandshakeTimeout  = 4002
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPongWait     = 60 * time.Second
	defaultCloseTimeout = 5 * time.Second
	defaultSendBuffer   = 64

	// maxCloseReason is the largest reason that fits in a close frame.
	maxCloseReason = 123
)

var (
	// ErrNotOpen is returned by Send outside the open state.
	ErrNotOpen = errors.New("transport: not open")

	// ErrQueueFull is returned by Send when the outbound queue is saturated.
	ErrQueueFull = errors.New("transport: send queue full")
)

// ConnectError reports a malformed endpoint or a failed dial.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("transport: connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// State is the lifecycle position of a Transport.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Listener receives the transport's signals. All three methods are called
// from a single goroutine in order: OnOpen at most once, then OnMessage for
// each inbound frame, then OnClose exactly once.
type Listener interface {
	OnOpen()
	OnMessage(data []byte)
	OnClose(code int, reason string)
}

// ClosingListener is an optional extension of Listener. OnClosing is called
// at most once, as soon as the transport leaves the open or connecting
// state, before the close handshake completes and before OnClose. For a
// local Close it runs on the goroutine that called Close.
type ClosingListener interface {
	OnClosing(code int, reason string)
}

// Options configure the dial and the pumps. Zero values take defaults.
type Options struct {
	Subprotocol      string
	Binary           bool
	Header           http.Header
	TLSConfig        *tls.Config
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PongWait         time.Duration
	CloseTimeout     time.Duration
	SendBuffer       int
	ReadLimit        int64
	Logger           *slog.Logger
}

// Transport owns one websocket connection to an endpoint.
type Transport struct {
	endpoint string
	opts     Options
	l        Listener
	log      *slog.Logger
	send     chan []byte

	mu          sync.Mutex
	state       State
	started     bool
	conn        *websocket.Conn
	cancelDial  context.CancelFunc
	closing     chan struct{}
	closeCode   int
	closeReason string
	closeTimer  *time.Timer

	done chan struct{}
}

// New validates endpoint and prepares a Transport in the connecting state.
// A malformed endpoint returns a *ConnectError and l is never called.
func New(endpoint string, opts Options, l Listener) (*Transport, error) {
	if err := validateEndpoint(endpoint); err != nil {
		return nil, &ConnectError{Endpoint: endpoint, Err: err}
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = defaultCloseTimeout
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		endpoint: endpoint,
		opts:     opts,
		l:        l,
		log:      log,
		send:     make(chan []byte, opts.SendBuffer),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// Start begins the asynchronous dial. Cancelling ctx aborts a pending dial
// and closes an open connection with CodeGoingAway. Calling Start more than
// once, or after Close, has no effect.
func (t *Transport) Start(ctx context.Context) {
	t.mu.Lock()
	if t.started || t.state != StateConnecting {
		t.mu.Unlock()
		return
	}
	t.started = true
	dialCtx, cancel := context.WithCancel(ctx)
	t.cancelDial = cancel
	t.mu.Unlock()

	go t.run(ctx, dialCtx, cancel)
}

// Endpoint returns the URL this transport dials.
func (t *Transport) Endpoint() string { return t.endpoint }

// State returns the current lifecycle state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed once the transport is closed and OnClose has returned.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Send enqueues a frame for the write pump.
func (t *Transport) Send(frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateOpen {
		return ErrNotOpen
	}
	select {
	case t.send <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close starts a graceful shutdown. Frames already queued are flushed, then
// a close frame is written and the peer's echo awaited for CloseTimeout.
// code and reason are what OnClose reports. Calling Close again while
// closing or closed is a no-op.
func (t *Transport) Close(code int, reason string) {
	if code == 0 {
		code = CodeNormalClosure
	}
	t.mu.Lock()
	switch t.state {
	case StateClosing, StateClosed:
		t.mu.Unlock()
		return
	case StateConnecting:
		t.state = StateClosing
		t.closeCode, t.closeReason = code, reason
		cancel, started := t.cancelDial, t.started
		t.mu.Unlock()
		t.closingStarted(code, reason)
		if !started {
			t.finish(code, reason)
			return
		}
		cancel()
		return
	}
	t.state = StateClosing
	t.closeCode, t.closeReason = code, reason
	close(t.closing)
	t.mu.Unlock()
	t.closingStarted(code, reason)
}

func (t *Transport) closingStarted(code int, reason string) {
	if cl, ok := t.l.(ClosingListener); ok {
		cl.OnClosing(code, reason)
	}
}

func (t *Transport) run(ctx, dialCtx context.Context, cancel context.CancelFunc) {
	defer cancel()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: t.opts.HandshakeTimeout,
		TLSClientConfig:  t.opts.TLSConfig,
	}
	if t.opts.Subprotocol != "" {
		dialer.Subprotocols = []string{t.opts.Subprotocol}
	}

	conn, resp, err := dialer.DialContext(dialCtx, t.endpoint, t.opts.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (%s)", err, resp.Status)
		}
		t.log.Warn("transport: dial failed", "endpoint", t.endpoint, "err", err)
		code, reason := CodeAbnormalClosure, "connect: "+err.Error()
		t.mu.Lock()
		if t.state == StateClosing {
			code, reason = t.closeCode, t.closeReason
		}
		t.mu.Unlock()
		t.finish(code, reason)
		return
	}

	if p := conn.Subprotocol(); t.opts.Subprotocol != "" && p != "" && p != t.opts.Subprotocol {
		conn.Close()
		t.finish(CodeProtocolError, fmt.Sprintf("connect: server chose subprotocol %q", p))
		return
	}

	t.mu.Lock()
	if t.state == StateClosing {
		code, reason := t.closeCode, t.closeReason
		t.mu.Unlock()
		conn.Close()
		t.finish(code, reason)
		return
	}
	t.conn = conn
	t.state = StateOpen
	t.mu.Unlock()

	t.log.Debug("transport: open", "endpoint", t.endpoint, "subprotocol", conn.Subprotocol())

	stopAfter := context.AfterFunc(ctx, func() {
		t.Close(CodeGoingAway, "context canceled")
	})
	defer stopAfter()

	stop := make(chan struct{})
	go t.writePump(conn, stop)

	t.l.OnOpen()
	code, reason := t.readPump(conn)

	close(stop)
	conn.Close()
	t.finish(code, reason)
}

// readPump reads frames until the connection fails and returns the close
// status to report. Frames arriving after Close began are dropped.
func (t *Transport) readPump(conn *websocket.Conn) (int, string) {
	if t.opts.ReadLimit > 0 {
		conn.SetReadLimit(t.opts.ReadLimit)
	}
	conn.SetReadDeadline(time.Now().Add(t.opts.PongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.opts.PongWait))
	})
	conn.SetCloseHandler(func(code int, text string) error {
		// Peer-initiated close: we pass through closing like a local close.
		t.mu.Lock()
		peer := t.state == StateOpen
		if peer {
			t.state = StateClosing
			close(t.closing)
		}
		t.mu.Unlock()
		if peer {
			t.closingStarted(code, text)
		}
		msg := websocket.FormatCloseMessage(code, "")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.opts.WriteTimeout)) //nolint:errcheck
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return t.closeStatus(err)
		}
		if t.State() != StateOpen {
			continue
		}
		t.l.OnMessage(data)
	}
}

func (t *Transport) closeStatus(err error) (int, string) {
	t.mu.Lock()
	local := t.closeCode != 0
	code, reason := t.closeCode, t.closeReason
	t.mu.Unlock()

	if local {
		return code, reason
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	t.log.Warn("transport: connection lost", "endpoint", t.endpoint, "err", err)
	return CodeAbnormalClosure, err.Error()
}

// writePump drains the send queue and sends periodic pings. On Close it
// flushes what is queued, writes the close frame and arms the close timer.
func (t *Transport) writePump(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(t.opts.PongWait * 9 / 10)
	defer ticker.Stop()

	msgType := websocket.TextMessage
	if t.opts.Binary {
		msgType = websocket.BinaryMessage
	}

	for {
		select {
		case <-stop:
			return

		case msg := <-t.send:
			if err := t.write(conn, msgType, msg); err != nil {
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(t.opts.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				conn.Close()
				return
			}

		case <-t.closing:
			t.flush(conn, msgType)
			t.writeClose(conn)
			return
		}
	}
}

func (t *Transport) write(conn *websocket.Conn, msgType int, msg []byte) error {
	conn.SetWriteDeadline(time.Now().Add(t.opts.WriteTimeout)) //nolint:errcheck
	if err := conn.WriteMessage(msgType, msg); err != nil {
		t.log.Warn("transport: write failed", "endpoint", t.endpoint, "err", err)
		conn.Close()
		return err
	}
	return nil
}

func (t *Transport) flush(conn *websocket.Conn, msgType int) {
	for {
		select {
		case msg := <-t.send:
			if err := t.write(conn, msgType, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (t *Transport) writeClose(conn *websocket.Conn) {
	t.mu.Lock()
	code, reason := t.closeCode, t.closeReason
	if code == 0 {
		// Peer initiated; the close handler already echoed.
		t.mu.Unlock()
		return
	}
	t.closeTimer = time.AfterFunc(t.opts.CloseTimeout, func() { conn.Close() })
	t.mu.Unlock()

	msg := websocket.FormatCloseMessage(wireCode(code), truncateReason(reason))
	deadline := time.Now().Add(t.opts.WriteTimeout)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		conn.Close()
	}
}

func (t *Transport) finish(code int, reason string) {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return
	}
	t.state = StateClosed
	t.conn = nil
	if t.closeTimer != nil {
		t.closeTimer.Stop()
	}
	t.mu.Unlock()

	t.log.Debug("transport: closed", "endpoint", t.endpoint, "code", code, "reason", reason)
	t.l.OnClose(code, reason)
	close(t.done)
}

// wireCode maps codes that must not appear in a close frame to 1000.
func wireCode(code int) int {
	switch {
	case code == websocket.CloseNoStatusReceived,
		code == websocket.CloseAbnormalClosure,
		code == websocket.CloseTLSHandshake,
		code < 1000, code > 4999:
		return websocket.CloseNormalClosure
	}
	return code
}

func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
