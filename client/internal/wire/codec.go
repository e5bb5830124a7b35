package wire

import "fmt"

// Codec turns frames into websocket payloads and back.
type Codec interface {
	// Name is the configuration name: "json" or "msgpack".
	Name() string
	// Subprotocol is offered during the websocket handshake.
	Subprotocol() string
	// Binary reports whether payloads travel in binary frames.
	Binary() bool
	Encode(Frame) ([]byte, error)
	Decode([]byte) (Frame, error)
}

// New returns the codec registered under name.
func New(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON{}, nil
	case "msgpack":
		return NewMsgpack(), nil
	default:
		return nil, fmt.Errorf("wire: unknown serialization %q", name)
	}
}

// ForSubprotocol returns the codec matching a negotiated subprotocol.
func ForSubprotocol(proto string) (Codec, bool) {
	switch proto {
	case jsonSubprotocol:
		return JSON{}, true
	case msgpackSubprotocol:
		return NewMsgpack(), true
	}
	return nil, false
}
