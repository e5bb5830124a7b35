package dispatch

import (
	"errors"
	"fmt"

	"github.com/obsidianstack/sessionbus/pkg/types"
)

// ErrUnknownSubscription matches every *UnknownSubscriptionError via errors.Is.
var ErrUnknownSubscription = errors.New("dispatch: unknown subscription")

// UnknownSubscriptionError is returned when removing an id that is not
// registered, including one that was already removed.
type UnknownSubscriptionError struct {
	ID types.SubscriptionID
}

func (e *UnknownSubscriptionError) Error() string {
	return fmt.Sprintf("dispatch: unknown subscription %d", e.ID)
}

func (e *UnknownSubscriptionError) Is(target error) bool {
	return target == ErrUnknownSubscription
}

// HandlerError wraps a handler failure. Exactly one of Err and Panic is set.
type HandlerError struct {
	Channel        types.Channel
	SubscriptionID types.SubscriptionID
	Err            error
	Panic          any
}

func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("dispatch: handler %d on %q panicked: %v", e.SubscriptionID, e.Channel, e.Panic)
	}
	return fmt.Sprintf("dispatch: handler %d on %q: %v", e.SubscriptionID, e.Channel, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
