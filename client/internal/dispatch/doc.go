// Package dispatch holds a session's subscription registry and routes
// inbound events to handlers.
//
// Handlers for one channel run in the order they were added. A handler that
// returns an error or panics is reported as a *HandlerError and its
// siblings still run. Events for channels with no subscription are dropped.
package dispatch
