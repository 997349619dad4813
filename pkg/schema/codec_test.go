package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTrip(t *testing.T) {
	snap := loadTestSnapshot(t)
	mt, err := snap.MessageType("helloworld.HelloRequest")
	require.NoError(t, err)

	msg, err := mt.DecodeJSON([]byte(`{"name":"World","email":"w@example.com","age":30}`))
	require.NoError(t, err)

	out, err := mt.EncodeJSON(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"World","email":"w@example.com","age":30,"mood":"MOOD_UNSPECIFIED"}`, string(out))
}

func TestWireRoundTrip(t *testing.T) {
	snap := loadTestSnapshot(t)
	mt, err := snap.MessageType("helloworld.HelloRequest")
	require.NoError(t, err)

	msg, err := mt.DecodeJSON([]byte(`{"name":"World","age":3}`))
	require.NoError(t, err)

	wire, err := mt.EncodeWire(msg)
	require.NoError(t, err)

	back, err := mt.DecodeWire(wire)
	require.NoError(t, err)

	again, err := mt.EncodeWire(back)
	require.NoError(t, err)
	assert.Equal(t, wire, again)
}

func TestDecodeJSONEnumByNameOrNumber(t *testing.T) {
	snap := loadTestSnapshot(t)
	mt, err := snap.MessageType("helloworld.HelloRequest")
	require.NoError(t, err)

	byName, err := mt.DecodeJSON([]byte(`{"mood":"MOOD_HAPPY"}`))
	require.NoError(t, err)
	byNumber, err := mt.DecodeJSON([]byte(`{"mood":1}`))
	require.NoError(t, err)

	a, err := mt.EncodeWire(byName)
	require.NoError(t, err)
	b, err := mt.EncodeWire(byNumber)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDecodeJSONUnknownFieldsTolerated(t *testing.T) {
	snap := loadTestSnapshot(t)
	mt, err := snap.MessageType("helloworld.HelloRequest")
	require.NoError(t, err)

	_, err = mt.DecodeJSON([]byte(`{"name":"x","not_a_field":true}`))
	assert.NoError(t, err)
}

func TestDecodeJSONInvalid(t *testing.T) {
	snap := loadTestSnapshot(t)
	mt, err := snap.MessageType("helloworld.HelloRequest")
	require.NoError(t, err)

	_, err = mt.DecodeJSON([]byte(`{"age":"not-a-number"}`))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestFromValueStrict(t *testing.T) {
	snap := loadTestSnapshot(t)
	mt, err := snap.MessageType("helloworld.HelloReply")
	require.NoError(t, err)

	msg, err := mt.FromValue(map[string]any{"message": "Hello from Wishmock!"})
	require.NoError(t, err)
	out, err := mt.EncodeJSON(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"Hello from Wishmock!"}`, string(out))

	_, err = mt.FromValue(map[string]any{"mesage": "typo"})
	assert.ErrorIs(t, err, ErrEncode)

	empty, err := mt.FromValue(nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
}

func TestToValue(t *testing.T) {
	snap := loadTestSnapshot(t)
	mt, err := snap.MessageType("helloworld.HelloRequest")
	require.NoError(t, err)

	msg, err := mt.DecodeJSON([]byte(`{"name":"World","age":30}`))
	require.NoError(t, err)

	m := ToValue(msg)
	require.NotNil(t, m)
	assert.Equal(t, "World", m["name"])
	assert.Equal(t, float64(30), m["age"])

	assert.Nil(t, ToValue(nil))
}

func TestToValueKeepsZeroValuedFields(t *testing.T) {
	snap := loadTestSnapshot(t)
	mt, err := snap.MessageType("helloworld.HelloRequest")
	require.NoError(t, err)

	msg, err := mt.DecodeJSON([]byte(`{"name":"World"}`))
	require.NoError(t, err)

	m := ToValue(msg)
	require.NotNil(t, m)
	assert.Equal(t, "World", m["name"])
	assert.Equal(t, "", m["email"])
	assert.Equal(t, float64(0), m["age"])
	assert.Equal(t, "MOOD_UNSPECIFIED", m["mood"])
}
