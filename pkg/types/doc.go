// Package types defines the shared value types used across sessionbus:
// channels, tagged event arguments, events and subscription identifiers.
// These are the canonical in-memory representations, independent of the
// wire codec that carries them.
package types
