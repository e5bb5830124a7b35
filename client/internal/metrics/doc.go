// Package metrics exposes Prometheus collectors for the sessionbus client:
// frames sent and received per message type, decode failures, handler
// invocations and errors, connect outcomes, close codes, reconnects, and
// gauges for open sessions and registered subscriptions.
//
// New(namespace, registerer) registers the collectors. Every recording
// method is safe on a nil *Metrics. Handler serves a registry over HTTP and
// WriteText dumps it in the text exposition format.
package metrics
