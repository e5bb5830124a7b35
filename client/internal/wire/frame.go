package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/obsidianstack/sessionbus/pkg/types"
)

// ErrMalformedFrame is returned when a payload does not decode to a known frame.
var ErrMalformedFrame = errors.New("wire: malformed frame")

// MessageType is the leading element of every encoded frame.
type MessageType int

const (
	Hello       MessageType = 1
	Welcome     MessageType = 2
	Abort       MessageType = 3
	Goodbye     MessageType = 6
	Publish     MessageType = 16
	Subscribe   MessageType = 32
	Unsubscribe MessageType = 34
	Event       MessageType = 36
)

func (t MessageType) String() string {
	switch t {
	case Hello:
		return "HELLO"
	case Welcome:
		return "WELCOME"
	case Abort:
		return "ABORT"
	case Goodbye:
		return "GOODBYE"
	case Publish:
		return "PUBLISH"
	case Subscribe:
		return "SUBSCRIBE"
	case Unsubscribe:
		return "UNSUBSCRIBE"
	case Event:
		return "EVENT"
	default:
		return "MessageType(" + strconv.Itoa(int(t)) + ")"
	}
}

// Frame is the decoded form of one message. Which fields are meaningful
// depends on Type; see the package documentation for the layouts.
type Frame struct {
	Type    MessageType
	Request uint64
	Session uint64
	Realm   string
	Channel types.Channel
	Args    []types.Value
	Reason  string
	Details map[string]any
}

// Option keys understood in PUBLISH options.
const OptExcludeMe = "exclude_me"

// Flag reports whether Details[key] is boolean true.
func (f Frame) Flag(key string) bool {
	b, _ := f.Details[key].(bool)
	return b
}

// toArray converts f into the positional layout shared by all codecs.
func toArray(f Frame) ([]any, error) {
	details := f.Details
	if details == nil {
		details = map[string]any{}
	}
	switch f.Type {
	case Hello:
		return []any{int(f.Type), f.Realm, details}, nil
	case Welcome:
		return []any{int(f.Type), f.Session, details}, nil
	case Abort, Goodbye:
		return []any{int(f.Type), details, f.Reason}, nil
	case Publish:
		return []any{int(f.Type), f.Request, details, string(f.Channel), argsToAny(f.Args)}, nil
	case Subscribe:
		return []any{int(f.Type), f.Request, details, string(f.Channel)}, nil
	case Unsubscribe:
		return []any{int(f.Type), f.Request, string(f.Channel)}, nil
	case Event:
		return []any{int(f.Type), string(f.Channel), details, argsToAny(f.Args)}, nil
	default:
		return nil, fmt.Errorf("wire: encode: unknown message type %d", int(f.Type))
	}
}

// fromArray is the inverse of toArray.
func fromArray(arr []any) (Frame, error) {
	if len(arr) == 0 {
		return Frame{}, fmt.Errorf("%w: empty array", ErrMalformedFrame)
	}
	code, err := toUint64(arr[0])
	if err != nil {
		return Frame{}, fmt.Errorf("%w: message type: %v", ErrMalformedFrame, err)
	}
	f := Frame{Type: MessageType(code)}

	need := func(n int) error {
		if len(arr) < n {
			return fmt.Errorf("%w: %s needs %d elements, got %d", ErrMalformedFrame, f.Type, n, len(arr))
		}
		return nil
	}

	switch f.Type {
	case Hello:
		if err := need(3); err != nil {
			return Frame{}, err
		}
		if f.Realm, err = toString(arr[1]); err != nil {
			return Frame{}, fieldErr(f.Type, "realm", err)
		}
		if f.Details, err = toDetails(arr[2]); err != nil {
			return Frame{}, fieldErr(f.Type, "details", err)
		}
	case Welcome:
		if err := need(3); err != nil {
			return Frame{}, err
		}
		if f.Session, err = toUint64(arr[1]); err != nil {
			return Frame{}, fieldErr(f.Type, "session", err)
		}
		if f.Details, err = toDetails(arr[2]); err != nil {
			return Frame{}, fieldErr(f.Type, "details", err)
		}
	case Abort, Goodbye:
		if err := need(3); err != nil {
			return Frame{}, err
		}
		if f.Details, err = toDetails(arr[1]); err != nil {
			return Frame{}, fieldErr(f.Type, "details", err)
		}
		if f.Reason, err = toString(arr[2]); err != nil {
			return Frame{}, fieldErr(f.Type, "reason", err)
		}
	case Publish:
		if err := need(5); err != nil {
			return Frame{}, err
		}
		if f.Request, err = toUint64(arr[1]); err != nil {
			return Frame{}, fieldErr(f.Type, "request", err)
		}
		if f.Details, err = toDetails(arr[2]); err != nil {
			return Frame{}, fieldErr(f.Type, "options", err)
		}
		if f.Channel, err = toChannel(arr[3]); err != nil {
			return Frame{}, fieldErr(f.Type, "channel", err)
		}
		if f.Args, err = toArgs(arr[4]); err != nil {
			return Frame{}, fieldErr(f.Type, "args", err)
		}
	case Subscribe:
		if err := need(4); err != nil {
			return Frame{}, err
		}
		if f.Request, err = toUint64(arr[1]); err != nil {
			return Frame{}, fieldErr(f.Type, "request", err)
		}
		if f.Details, err = toDetails(arr[2]); err != nil {
			return Frame{}, fieldErr(f.Type, "options", err)
		}
		if f.Channel, err = toChannel(arr[3]); err != nil {
			return Frame{}, fieldErr(f.Type, "channel", err)
		}
	case Unsubscribe:
		if err := need(3); err != nil {
			return Frame{}, err
		}
		if f.Request, err = toUint64(arr[1]); err != nil {
			return Frame{}, fieldErr(f.Type, "request", err)
		}
		if f.Channel, err = toChannel(arr[2]); err != nil {
			return Frame{}, fieldErr(f.Type, "channel", err)
		}
	case Event:
		if err := need(4); err != nil {
			return Frame{}, err
		}
		if f.Channel, err = toChannel(arr[1]); err != nil {
			return Frame{}, fieldErr(f.Type, "channel", err)
		}
		if f.Details, err = toDetails(arr[2]); err != nil {
			return Frame{}, fieldErr(f.Type, "details", err)
		}
		if f.Args, err = toArgs(arr[3]); err != nil {
			return Frame{}, fieldErr(f.Type, "args", err)
		}
	default:
		return Frame{}, fmt.Errorf("%w: unknown message type %d", ErrMalformedFrame, code)
	}
	return f, nil
}

func fieldErr(t MessageType, field string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrMalformedFrame, t, field, err)
}

func argsToAny(args []types.Value) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a.Interface()
	}
	return out
}

func toArgs(x any) ([]types.Value, error) {
	if x == nil {
		return nil, nil
	}
	xs, ok := x.([]any)
	if !ok {
		return nil, fmt.Errorf("want array, got %T", x)
	}
	return types.Values(xs)
}

func toChannel(x any) (types.Channel, error) {
	s, err := toString(x)
	if err != nil {
		return "", err
	}
	return types.Channel(s), nil
}

func toString(x any) (string, error) {
	switch t := x.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	default:
		return "", fmt.Errorf("want string, got %T", x)
	}
}

func toDetails(x any) (map[string]any, error) {
	switch t := x.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return t, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			ks, err := toString(k)
			if err != nil {
				return nil, fmt.Errorf("key: %v", err)
			}
			out[ks] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("want map, got %T", x)
	}
}

func toUint64(x any) (uint64, error) {
	switch t := x.(type) {
	case uint64:
		return t, nil
	case int64:
		if t >= 0 {
			return uint64(t), nil
		}
	case json.Number:
		if n, err := strconv.ParseUint(t.String(), 10, 64); err == nil {
			return n, nil
		}
	}
	v, err := types.FromAny(x)
	if err != nil {
		return 0, err
	}
	f, ok := v.AsNumber()
	if !ok || f < 0 || f != float64(uint64(f)) {
		return 0, fmt.Errorf("want unsigned integer, got %v", x)
	}
	return uint64(f), nil
}
