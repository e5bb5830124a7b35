package brokertest_test

import (
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/obsidianstack/sessionbus/client/internal/brokertest"
	"github.com/obsidianstack/sessionbus/client/internal/wire"
	"github.com/obsidianstack/sessionbus/pkg/types"
)

// --- helpers ----------------------------------------------------------------

type peer struct {
	t     *testing.T
	conn  *websocket.Conn
	codec wire.Codec
}

func dial(t *testing.T, url string, codec wire.Codec) *peer {
	t.Helper()
	d := websocket.Dialer{Subprotocols: []string{codec.Subprotocol()}}
	conn, _, err := d.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	if got := conn.Subprotocol(); got != codec.Subprotocol() {
		t.Fatalf("subprotocol: got %q, want %q", got, codec.Subprotocol())
	}
	return &peer{t: t, conn: conn, codec: codec}
}

func (p *peer) send(f wire.Frame) {
	p.t.Helper()
	data, err := p.codec.Encode(f)
	if err != nil {
		p.t.Fatalf("encode: %v", err)
	}
	msgType := websocket.TextMessage
	if p.codec.Binary() {
		msgType = websocket.BinaryMessage
	}
	if err := p.conn.WriteMessage(msgType, data); err != nil {
		p.t.Fatalf("write: %v", err)
	}
}

func (p *peer) recv() wire.Frame {
	p.t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(3 * time.Second)) //nolint:errcheck
	_, data, err := p.conn.ReadMessage()
	if err != nil {
		p.t.Fatalf("read: %v", err)
	}
	f, err := p.codec.Decode(data)
	if err != nil {
		p.t.Fatalf("decode: %v", err)
	}
	return f
}

func (p *peer) hello(realm string) wire.Frame {
	p.send(wire.Frame{Type: wire.Hello, Realm: realm})
	return p.recv()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// --- tests ------------------------------------------------------------------

func TestBroker_WelcomeAssignsSessionIDs(t *testing.T) {
	b := brokertest.New()
	url := b.Start(t)

	a := dial(t, url, wire.JSON{})
	c := dial(t, url, wire.NewMsgpack())

	wa := a.hello("r")
	wc := c.hello("r")
	if wa.Type != wire.Welcome || wc.Type != wire.Welcome {
		t.Fatalf("replies: got %v %v, want WELCOME", wa.Type, wc.Type)
	}
	if wa.Session == 0 || wa.Session == wc.Session {
		t.Errorf("session ids: got %d and %d", wa.Session, wc.Session)
	}
	if got := b.Sessions(); got != 2 {
		t.Errorf("Sessions: got %d, want 2", got)
	}
}

func TestBroker_AbortUnknownRealm(t *testing.T) {
	b := brokertest.New(brokertest.WithRealms("known"))
	url := b.Start(t)

	p := dial(t, url, wire.JSON{})
	f := p.hello("unknown")
	if f.Type != wire.Abort || f.Reason != brokertest.ReasonNoSuchRealm {
		t.Errorf("reply: got %v %q, want ABORT %q", f.Type, f.Reason, brokertest.ReasonNoSuchRealm)
	}
	if b.Sessions() != 0 {
		t.Error("aborted peer counted as session")
	}
}

func TestBroker_PublishFanOut(t *testing.T) {
	b := brokertest.New()
	url := b.Start(t)

	sub := dial(t, url, wire.JSON{})
	pub := dial(t, url, wire.NewMsgpack())
	sub.hello("r")
	pub.hello("r")

	sub.send(wire.Frame{Type: wire.Subscribe, Request: 1, Channel: "c"})
	waitFor(t, func() bool { return b.Subscribers("c") == 1 })

	pub.send(wire.Frame{Type: wire.Publish, Request: 1, Channel: "c", Args: []types.Value{types.Number(7)}})
	ev := sub.recv()
	if ev.Type != wire.Event || ev.Channel != "c" || len(ev.Args) != 1 || !ev.Args[0].Equal(types.Number(7)) {
		t.Errorf("event: got %+v", ev)
	}

	sub.send(wire.Frame{Type: wire.Unsubscribe, Request: 2, Channel: "c"})
	waitFor(t, func() bool { return b.Subscribers("c") == 0 })
	if n := b.Emit("c"); n != 0 {
		t.Errorf("Emit after unsubscribe reached %d sessions", n)
	}
}

func TestBroker_GoodbyeReply(t *testing.T) {
	b := brokertest.New()
	url := b.Start(t)

	p := dial(t, url, wire.JSON{})
	p.hello("r")
	p.send(wire.Frame{Type: wire.Goodbye, Reason: "close.normal"})
	f := p.recv()
	if f.Type != wire.Goodbye || f.Reason != brokertest.ReasonGoodbye {
		t.Errorf("reply: got %v %q", f.Type, f.Reason)
	}
	waitFor(t, func() bool { return b.Sessions() == 0 })
}

func TestBroker_APIKey(t *testing.T) {
	b := brokertest.New(brokertest.WithAPIKey("X-API-Key", "supersecret"))
	url := b.Start(t)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("dial without key succeeded")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Errorf("status: got %v, want 401", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, map[string][]string{"X-Api-Key": {"supersecret"}})
	if err != nil {
		t.Fatalf("dial with key: %v", err)
	}
	conn.Close()
}
