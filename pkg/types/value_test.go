package types

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_JSONScalars(t *testing.T) {
	args := []Value{Number(1), Number(2.5), String("red"), Bool(true), Null()}

	data, err := json.Marshal(args)
	require.NoError(t, err)
	assert.JSONEq(t, `[1, 2.5, "red", true, null]`, string(data))

	var back []Value
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back, len(args))
	for i := range args {
		assert.True(t, args[i].Equal(back[i]), "arg %d: got %v, want %v", i, back[i], args[i])
	}
}

func TestValue_UnmarshalRejectsObjects(t *testing.T) {
	var v Value
	err := json.Unmarshal([]byte(`{"x": 1}`), &v)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedValue))

	err = json.Unmarshal([]byte(`[1]`), &v)
	assert.True(t, errors.Is(err, ErrUnsupportedValue))
}

func TestFromAny_NumericKinds(t *testing.T) {
	for _, x := range []any{int(3), int8(3), int16(3), int32(3), int64(3), uint(3), uint8(3), uint16(3), uint32(3), uint64(3), float32(3), float64(3), json.Number("3")} {
		v, err := FromAny(x)
		require.NoError(t, err, "%T", x)
		n, ok := v.AsNumber()
		assert.True(t, ok, "%T", x)
		assert.Equal(t, 3.0, n, "%T", x)
	}
}

func TestFromAny_BytesBecomeString(t *testing.T) {
	v, err := FromAny([]byte("blue"))
	require.NoError(t, err)
	s, ok := v.AsString()
	assert.True(t, ok)
	assert.Equal(t, "blue", s)
}

func TestValues_ReportsIndex(t *testing.T) {
	_, err := Values([]any{1, "a", map[string]any{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arg 2")
}

func TestValue_Accessors(t *testing.T) {
	v := String("x")
	_, ok := v.AsNumber()
	assert.False(t, ok)
	_, ok = v.AsBool()
	assert.False(t, ok)
	assert.Equal(t, KindString, v.Kind())
	assert.True(t, Value{}.IsNull())
	assert.Equal(t, `"x"`, v.String())
	assert.Equal(t, "null", Null().String())
	assert.False(t, Number(1).Equal(String("1")))
}

func TestParseValue(t *testing.T) {
	cases := []struct {
		in   string
		want Value
	}{
		{"12", Number(12)},
		{"-0.5", Number(-0.5)},
		{"true", Bool(true)},
		{"false", Bool(false)},
		{"null", Null()},
		{"red", String("red")},
		{"NaN", String("NaN")},
		{"Inf", String("Inf")},
	}
	for _, c := range cases {
		got := ParseValue(c.in)
		assert.True(t, c.want.Equal(got), "ParseValue(%q): got %v, want %v", c.in, got, c.want)
	}
}

func TestChannel_Validate(t *testing.T) {
	valid := []Channel{"c", "my.turnpike.chat", "a.b-c_d.9"}
	for _, c := range valid {
		assert.NoError(t, c.Validate(), "%q", c)
	}
	invalid := []Channel{"", "a..b", ".a", "a.", "a b", "tab\tchan"}
	for _, c := range invalid {
		err := c.Validate()
		assert.True(t, errors.Is(err, ErrInvalidChannel), "%q: got %v", c, err)
	}
}
