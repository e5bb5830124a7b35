package wire

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/obsidianstack/sessionbus/pkg/types"
)

func codecs() []Codec {
	return []Codec{JSON{}, NewMsgpack()}
}

func sampleFrames() []Frame {
	args := []types.Value{types.Number(1), types.Number(2), types.String("red")}
	return []Frame{
		{Type: Hello, Realm: "r", Details: map[string]any{"agent": "sessionbus"}},
		{Type: Welcome, Session: 9007199254740993},
		{Type: Abort, Reason: "wamp.error.no_such_realm"},
		{Type: Goodbye, Reason: "wamp.close.normal"},
		{Type: Publish, Request: 7, Channel: "my.turnpike.chat", Args: args, Details: map[string]any{OptExcludeMe: true}},
		{Type: Subscribe, Request: 8, Channel: "c"},
		{Type: Unsubscribe, Request: 9, Channel: "c"},
		{Type: Event, Channel: "c", Args: args},
	}
}

func TestCodecs_PreserveFrameFields(t *testing.T) {
	for _, c := range codecs() {
		for _, f := range sampleFrames() {
			data, err := c.Encode(f)
			require.NoError(t, err, "%s encode %s", c.Name(), f.Type)

			got, err := c.Decode(data)
			require.NoError(t, err, "%s decode %s", c.Name(), f.Type)

			assert.Equal(t, f.Type, got.Type, c.Name())
			assert.Equal(t, f.Request, got.Request, "%s %s request", c.Name(), f.Type)
			assert.Equal(t, f.Session, got.Session, "%s %s session", c.Name(), f.Type)
			assert.Equal(t, f.Realm, got.Realm, "%s %s realm", c.Name(), f.Type)
			assert.Equal(t, f.Channel, got.Channel, "%s %s channel", c.Name(), f.Type)
			assert.Equal(t, f.Reason, got.Reason, "%s %s reason", c.Name(), f.Type)
			require.Len(t, got.Args, len(f.Args), "%s %s args", c.Name(), f.Type)
			for i := range f.Args {
				assert.True(t, f.Args[i].Equal(got.Args[i]), "%s %s arg %d: got %v", c.Name(), f.Type, i, got.Args[i])
			}
		}
	}
}

func TestCodecs_PublishExcludeMeFlag(t *testing.T) {
	for _, c := range codecs() {
		data, err := c.Encode(Frame{Type: Publish, Request: 1, Channel: "c", Details: map[string]any{OptExcludeMe: true}})
		require.NoError(t, err)
		got, err := c.Decode(data)
		require.NoError(t, err)
		assert.True(t, got.Flag(OptExcludeMe), c.Name())
		assert.False(t, got.Flag("missing"), c.Name())
	}
}

func TestJSON_WireLayout(t *testing.T) {
	data, err := JSON{}.Encode(Frame{Type: Event, Channel: "c", Args: []types.Value{types.Number(1), types.Number(2), types.String("red")}})
	require.NoError(t, err)
	assert.JSONEq(t, `[36, "c", {}, [1, 2, "red"]]`, string(data))

	data, err = JSON{}.Encode(Frame{Type: Hello, Realm: "r"})
	require.NoError(t, err)
	assert.JSONEq(t, `[1, "r", {}]`, string(data))
}

func TestJSON_DecodeMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`[]`,
		`{"type": 1}`,
		`["x"]`,
		`[999, 1]`,
		`[36, "c"]`,
		`[36, 5, {}, []]`,
		`[2, -1, {}]`,
		`[36, "c", {}, [{"nested": true}]]`,
		`[36, "c", {}, [1]]garbage`,
		`[36, "c", {}, [1]] [36, "c", {}, [2]]`,
	}
	for _, in := range cases {
		_, err := JSON{}.Decode([]byte(in))
		assert.True(t, errors.Is(err, ErrMalformedFrame), "%s: got %v", in, err)
	}
}

func TestJSON_DecodeAllowsTrailingWhitespace(t *testing.T) {
	f, err := JSON{}.Decode([]byte("[36, \"c\", {}, [1]]\n "))
	require.NoError(t, err)
	assert.Equal(t, Event, f.Type)
}

func TestEncode_UnknownType(t *testing.T) {
	_, err := JSON{}.Encode(Frame{Type: MessageType(99)})
	assert.Error(t, err)
	_, err = NewMsgpack().Encode(Frame{Type: MessageType(99)})
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	for name, wantBinary := range map[string]bool{"": false, "json": false, "msgpack": true} {
		c, err := New(name)
		require.NoError(t, err, name)
		assert.Equal(t, wantBinary, c.Binary(), name)
	}
	_, err := New("cbor")
	assert.Error(t, err)
}

func TestForSubprotocol(t *testing.T) {
	for _, c := range codecs() {
		got, ok := ForSubprotocol(c.Subprotocol())
		require.True(t, ok)
		assert.Equal(t, c.Name(), got.Name())
	}
	_, ok := ForSubprotocol("wamp.2.cbor")
	assert.False(t, ok)
}
