package types

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidChannel is returned when a channel identifier is malformed.
var ErrInvalidChannel = errors.New("types: invalid channel")

// Channel is a dotted publish/subscribe topic identifier such as
// "my.turnpike.chat". The core treats it as opaque beyond Validate.
type Channel string

// Validate reports whether c is syntactically usable: non-empty, free of
// whitespace, and without empty dot-separated components.
func (c Channel) Validate() error {
	if c == "" {
		return fmt.Errorf("%w: empty", ErrInvalidChannel)
	}
	if strings.IndexFunc(string(c), unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidChannel, string(c))
	}
	for _, part := range strings.Split(string(c), ".") {
		if part == "" {
			return fmt.Errorf("%w: %q has an empty component", ErrInvalidChannel, string(c))
		}
	}
	return nil
}

func (c Channel) String() string { return string(c) }

// SubscriptionID identifies one registration within a session.
// IDs are allocated from 1 and never reused by the same session.
type SubscriptionID uint64

// Event is a channel plus its ordered argument list.
type Event struct {
	Channel Channel
	Args    []Value
}
