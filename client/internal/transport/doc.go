// Package transport manages a single websocket connection to a broker.
//
// A Transport moves through connecting → open → closing → closed. New
// validates the endpoint (ws:// or wss:// with a host) and fails with a
// *ConnectError without ever signalling open. Start dials asynchronously;
// the Listener then receives OnOpen, each inbound payload via OnMessage, and
// finally OnClose(code, reason), all from one goroutine and in that order.
//
// Send enqueues onto a bounded queue drained by a write pump that also
// sends pings every 9/10 of PongWait. Close flushes the queue, writes a close
// frame and waits up to CloseTimeout for the echo. An abrupt network
// failure skips closing and reports CodeAbnormalClosure (1006).
//
// Header and TLSClientConfig build upgrade headers (apikey, bearer, basic)
// and TLS settings (mTLS, insecure skip verify) from config.AuthConfig.
package transport
