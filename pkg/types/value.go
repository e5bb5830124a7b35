package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ErrUnsupportedValue is returned when a decoded argument is not a scalar.
var ErrUnsupportedValue = errors.New("types: unsupported value")

// Kind discriminates the payload held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is one event argument: null, a number, a string or a boolean.
// The zero Value is null.
type Value struct {
	kind Kind
	num  float64
	str  string
	b    bool
}

// Null returns the null Value.
func Null() Value { return Value{} }

// Number wraps a numeric argument.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// String wraps a string argument.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Bool wraps a boolean argument.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind returns the discriminator.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v holds no payload.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsNumber returns the numeric payload and whether v is a number.
func (v Value) AsNumber() (float64, bool) { return v.num, v.kind == KindNumber }

// AsString returns the string payload and whether v is a string.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsBool returns the boolean payload and whether v is a boolean.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// Interface returns the payload as a plain Go value (nil, float64, string
// or bool), which is what the codecs hand to their encoders.
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// Equal reports whether v and o hold the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == o.num
	case KindString:
		return v.str == o.str
	case KindBool:
		return v.b == o.b
	}
	return true
}

func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.str)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return "null"
	}
}

// MarshalJSON encodes v as a bare JSON scalar.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON accepts any JSON scalar. Objects and arrays are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}

// FromAny converts a decoded scalar into a Value. All Go integer and float
// kinds become numbers and byte slices become strings, which covers what
// encoding/json and the msgpack decoder produce.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return String(t), nil
	case []byte:
		return String(string(t)), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int8:
		return Number(float64(t)), nil
	case int16:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint8:
		return Number(float64(t)), nil
	case uint16:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
		}
		return Number(f), nil
	default:
		return Value{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, x)
	}
}

// Values converts a decoded argument list, failing on the first
// unsupported element.
func Values(xs []any) ([]Value, error) {
	out := make([]Value, 0, len(xs))
	for i, x := range xs {
		v, err := FromAny(x)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// ParseValue interprets a command-line literal: numbers, true/false and
// null keep their type, anything else is a string.
func ParseValue(s string) Value {
	switch s {
	case "null":
		return Null()
	case "true":
		return Bool(true)
	case "false":
		return Bool(false)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return Number(f)
	}
	return String(s)
}
