package brokertest

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/sessionbus/client/internal/wire"
	"github.com/obsidianstack/sessionbus/pkg/types"
)

const (
	writeTimeout = 5 * time.Second
	sendBufSize  = 64

	// ReasonNoSuchRealm is the ABORT reason for a realm the broker does not serve.
	ReasonNoSuchRealm = "no.such.realm"
	// ReasonGoodbye is the reason carried by the broker's GOODBYE frames.
	ReasonGoodbye = "goodbye.and.out"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	Subprotocols:    []string{"wamp.2.json", "wamp.2.msgpack"},
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Publication is one PUBLISH frame received from a client.
type Publication struct {
	Session   uint64
	Channel   types.Channel
	Args      []types.Value
	ExcludeMe bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithRealms restricts the realms the broker welcomes. By default any realm
// is accepted.
func WithRealms(realms ...string) Option {
	return func(b *Broker) {
		b.realms = make(map[string]bool, len(realms))
		for _, r := range realms {
			b.realms[r] = true
		}
	}
}

// WithSilentHandshake makes the broker ignore HELLO, so clients never
// receive WELCOME.
func WithSilentHandshake() Option {
	return func(b *Broker) { b.silent = true }
}

// WithAPIKey requires every upgrade request to carry key in header.
// An empty key disables the check.
func WithAPIKey(header, key string) Option {
	return func(b *Broker) { b.keyHeader, b.key = header, key }
}

// Broker is an in-process session broker.
type Broker struct {
	realms    map[string]bool
	silent    bool
	keyHeader string
	key       string

	mu          sync.RWMutex
	clients     map[*client]struct{}
	nextSession uint64
	published   []Publication
	hellos      []wire.Frame
	upgrades    []http.Header
}

type client struct {
	conn  *websocket.Conn
	codec wire.Codec
	send  chan []byte

	// Guarded by Broker.mu.
	session uint64
	subs    map[types.Channel]bool
}

// New creates a Broker.
func New(opts ...Option) *Broker {
	b := &Broker{clients: make(map[*client]struct{})}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Start serves b on a test server and returns the ws:// URL of its endpoint.
func (b *Broker) Start(t testing.TB) string {
	t.Helper()
	srv := httptest.NewServer(b)
	t.Cleanup(func() {
		b.DropAll()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.key != "" && r.Header.Get(b.keyHeader) != b.key {
		http.Error(w, "invalid api key", http.StatusUnauthorized)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	codec, ok := wire.ForSubprotocol(conn.Subprotocol())
	if !ok {
		codec = wire.JSON{}
	}

	c := &client{
		conn:  conn,
		codec: codec,
		send:  make(chan []byte, sendBufSize),
		subs:  make(map[types.Channel]bool),
	}
	b.mu.Lock()
	b.upgrades = append(b.upgrades, r.Header.Clone())
	b.mu.Unlock()
	b.register(c)
	defer b.unregister(c)

	go c.writePump()
	b.readPump(c)
}

// --- remote-side actions ----------------------------------------------------

// Emit sends an EVENT to every session subscribed to ch and returns how many
// sessions it was sent to.
func (b *Broker) Emit(ch types.Channel, args ...types.Value) int {
	return b.emit(ch, args, 0, true)
}

// Broadcast sends an EVENT to every welcomed session, subscribed or not.
func (b *Broker) Broadcast(ch types.Channel, args ...types.Value) int {
	return b.emit(ch, args, 0, false)
}

// SendRaw writes payload verbatim to every connection, welcomed or not.
func (b *Broker) SendRaw(payload []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.clients {
		c.enqueue(payload)
	}
}

// Goodbye sends GOODBYE to every welcomed session.
func (b *Broker) Goodbye() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.clients {
		if c.session != 0 {
			c.write(wire.Frame{Type: wire.Goodbye, Reason: ReasonGoodbye})
		}
	}
}

// DropAll closes every connection without a close frame.
func (b *Broker) DropAll() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.clients {
		c.conn.Close()
	}
}

// CloseAll sends a close frame with code and reason on every connection.
func (b *Broker) CloseAll(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.clients {
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout)) //nolint:errcheck
	}
}

// --- inspection -------------------------------------------------------------

// Published returns a copy of every PUBLISH received so far.
func (b *Broker) Published() []Publication {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Publication(nil), b.published...)
}

// Hellos returns a copy of every HELLO received so far.
func (b *Broker) Hellos() []wire.Frame {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]wire.Frame(nil), b.hellos...)
}

// UpgradeHeaders returns the request headers of every websocket upgrade.
func (b *Broker) UpgradeHeaders() []http.Header {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]http.Header(nil), b.upgrades...)
}

// Subscribers returns how many connected sessions are subscribed to ch.
func (b *Broker) Subscribers(ch types.Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for c := range b.clients {
		if c.subs[ch] {
			n++
		}
	}
	return n
}

// Sessions returns the number of connected, welcomed sessions.
func (b *Broker) Sessions() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for c := range b.clients {
		if c.session != 0 {
			n++
		}
	}
	return n
}

// Connections returns the number of open websocket connections.
func (b *Broker) Connections() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// --- internal ---------------------------------------------------------------

func (b *Broker) register(c *client) {
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
}

func (b *Broker) unregister(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.send)
	}
	b.mu.Unlock()
}

func (b *Broker) emit(ch types.Channel, args []types.Value, exclude uint64, subscribedOnly bool) int {
	ev := wire.Frame{Type: wire.Event, Channel: ch, Args: args}
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for c := range b.clients {
		if c.session == 0 || c.session == exclude {
			continue
		}
		if subscribedOnly && !c.subs[ch] {
			continue
		}
		if c.write(ev) {
			n++
		}
	}
	return n
}

func (b *Broker) readPump(c *client) {
	defer c.conn.Close()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := c.codec.Decode(data)
		if err != nil {
			slog.Debug("brokertest: undecodable frame", "err", err)
			continue
		}
		b.handle(c, f)
	}
}

func (b *Broker) handle(c *client, f wire.Frame) {
	switch f.Type {
	case wire.Hello:
		b.mu.Lock()
		b.hellos = append(b.hellos, f)
		if b.silent {
			b.mu.Unlock()
			return
		}
		if b.realms != nil && !b.realms[f.Realm] {
			b.mu.Unlock()
			c.write(wire.Frame{Type: wire.Abort, Reason: ReasonNoSuchRealm,
				Details: map[string]any{"message": "realm " + f.Realm + " does not exist"}})
			return
		}
		b.nextSession++
		c.session = b.nextSession
		b.mu.Unlock()
		c.write(wire.Frame{Type: wire.Welcome, Session: c.session,
			Details: map[string]any{"roles": map[string]any{"broker": map[string]any{}}}})

	case wire.Subscribe:
		b.mu.Lock()
		c.subs[f.Channel] = true
		b.mu.Unlock()

	case wire.Unsubscribe:
		b.mu.Lock()
		delete(c.subs, f.Channel)
		b.mu.Unlock()

	case wire.Publish:
		b.mu.Lock()
		session := c.session
		pub := Publication{Session: session, Channel: f.Channel, Args: f.Args, ExcludeMe: f.Flag(wire.OptExcludeMe)}
		b.published = append(b.published, pub)
		b.mu.Unlock()
		exclude := uint64(0)
		if pub.ExcludeMe {
			exclude = session
		}
		b.emit(f.Channel, f.Args, exclude, true)

	case wire.Goodbye:
		b.mu.Lock()
		c.session = 0
		c.subs = make(map[types.Channel]bool)
		b.mu.Unlock()
		c.write(wire.Frame{Type: wire.Goodbye, Reason: ReasonGoodbye})
	}
}

// write encodes f and queues it without blocking. The caller either holds
// b.mu or runs on c's read goroutine, so send is never closed underneath it.
func (c *client) write(f wire.Frame) bool {
	data, err := c.codec.Encode(f)
	if err != nil {
		slog.Debug("brokertest: encode failed", "type", f.Type, "err", err)
		return false
	}
	return c.enqueue(data)
}

func (c *client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) writePump() {
	msgType := websocket.TextMessage
	if c.codec.Binary() {
		msgType = websocket.BinaryMessage
	}
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
		if err := c.conn.WriteMessage(msgType, msg); err != nil {
			c.conn.Close()
			return
		}
	}
}
