// Package session implements an established, realm-scoped session:
// subscribe, unsubscribe, publish and close.
//
// A Session is created by the connection manager once the broker has
// welcomed the client, and is torn down when its connection closes. All
// methods are safe for concurrent use, including from inside a handler.
//
// Publishing is fire-and-forget: a nil error means the frame was handed to
// the transport, not that the broker received it.
package session
