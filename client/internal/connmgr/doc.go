// Package connmgr opens connections to a broker and runs the session
// handshake.
//
// Open dials the endpoint, sends HELLO for the configured realm and waits
// for WELCOME. On WELCOME a *session.Session is handed to Callbacks.OnOpen.
// Callbacks.OnClose fires exactly once per Open, whether the endpoint was
// malformed, the dial failed, the broker refused the realm, or an open
// session ended. OnOpen fires at most once and never after OnClose.
//
// Close codes reported to OnClose:
//
//	1000  normal closure (local Close, or GOODBYE from the broker)
//	1001  going away (Open's context was cancelled)
//	1002  protocol error (unexpected frame during the handshake)
//	1006  abnormal closure (malformed endpoint, dial failure, connection lost)
//	4001  handshake rejected (ABORT from the broker; reason is the broker's)
//	4002  handshake timeout (no WELCOME within HandshakeTimeout)
//
// Callbacks and subscription handlers run on the connection's read
// goroutine; a callback that blocks stalls inbound delivery.
package connmgr
