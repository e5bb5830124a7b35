// Package supervisor keeps a session open across connection loss.
//
// Reconnecting is opt-in. The connection manager itself never retries; a
// host that wants a long-lived session runs a Supervisor, which calls Open
// again after an abnormal close, waiting a truncated exponential backoff
// (doubling from Initial up to Max, with ±25% jitter) between attempts.
//
// Run stops without retrying when the context is cancelled, when a close
// is normal (1000), and when the close means retrying cannot help: the
// broker rejected the realm (4001) or spoke out of protocol (1002).
package supervisor
