package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

const jsonSubprotocol = "wamp.2.json"

// JSON encodes frames as JSON arrays carried in text frames.
type JSON struct{}

func (JSON) Name() string        { return "json" }
func (JSON) Subprotocol() string { return jsonSubprotocol }
func (JSON) Binary() bool        { return false }

func (JSON) Encode(f Frame) ([]byte, error) {
	arr, err := toArray(f)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(arr)
	if err != nil {
		return nil, fmt.Errorf("wire: json encode %s: %w", f.Type, err)
	}
	return data, nil
}

func (JSON) Decode(data []byte) (Frame, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	// Keep ids exact; float64 would round large session ids.
	dec.UseNumber()
	var arr []any
	if err := dec.Decode(&arr); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Frame{}, fmt.Errorf("%w: trailing data after frame", ErrMalformedFrame)
	}
	return fromArray(arr)
}
