package wire

import (
	"fmt"
	"reflect"

	"github.com/ugorji/go/codec"
)

const msgpackSubprotocol = "wamp.2.msgpack"

// Msgpack encodes frames with MessagePack carried in binary frames.
type Msgpack struct {
	h *codec.MsgpackHandle
}

// NewMsgpack returns a msgpack codec that decodes maps with string keys
// and raw bytes as strings.
func NewMsgpack() *Msgpack {
	h := &codec.MsgpackHandle{}
	h.MapType = reflect.TypeOf(map[string]any(nil))
	h.RawToString = true
	h.WriteExt = true
	return &Msgpack{h: h}
}

func (*Msgpack) Name() string        { return "msgpack" }
func (*Msgpack) Subprotocol() string { return msgpackSubprotocol }
func (*Msgpack) Binary() bool        { return true }

func (m *Msgpack) Encode(f Frame) ([]byte, error) {
	arr, err := toArray(f)
	if err != nil {
		return nil, err
	}
	var out []byte
	if err := codec.NewEncoderBytes(&out, m.h).Encode(arr); err != nil {
		return nil, fmt.Errorf("wire: msgpack encode %s: %w", f.Type, err)
	}
	return out, nil
}

func (m *Msgpack) Decode(data []byte) (Frame, error) {
	var arr []any
	if err := codec.NewDecoderBytes(data, m.h).Decode(&arr); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return fromArray(arr)
}
