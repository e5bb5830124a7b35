// Package brokertest runs an in-process websocket broker for tests.
//
// The broker speaks just enough of the session protocol to exercise the
// client end to end: it answers HELLO with WELCOME (or ABORT for a realm it
// does not serve), tracks SUBSCRIBE/UNSUBSCRIBE per connection, fans
// PUBLISH out as EVENT to subscribers, and replies to GOODBYE.
//
// Tests drive the remote side through Emit, Broadcast, SendRaw, Goodbye,
// DropAll and CloseAll, and inspect what the client sent through
// Published, Hellos, Subscribers and Sessions.
//
// Start(t) serves the broker on an httptest server and returns its ws://
// URL; the server and all connections are torn down by t.Cleanup.
package brokertest
