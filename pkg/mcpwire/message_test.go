package mcpwire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMessage_RoundTripsUnknownFields(t *testing.T) {
	frame := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"x"},"futureField":{"nested":true}}`)
	msg, err := ParseMessage(frame)
	require.NoError(t, err)

	out, err := msg.Marshal()
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &decoded))
	_, ok := decoded["futureField"]
	assert.True(t, ok, "unrecognized fields must survive a parse/marshal round trip")
}

func TestMessage_MethodAndClassification(t *testing.T) {
	req, err := ParseMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.NoError(t, err)
	assert.Equal(t, "tools/list", req.Method())
	assert.True(t, req.IsRequest())
	assert.False(t, req.IsNotification())
	assert.False(t, req.IsResponse())

	notif, err := ParseMessage([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.NoError(t, err)
	assert.True(t, notif.IsNotification())

	resp, err := ParseMessage([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	require.NoError(t, err)
	assert.True(t, resp.IsResponse())
}

func TestMessage_SetFieldAndDeleteField(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"x"}`))
	require.NoError(t, err)

	msg.SetField("extra", json.RawMessage(`"value"`))
	raw, ok := msg.Field("extra")
	require.True(t, ok)
	assert.Equal(t, `"value"`, string(raw))

	msg.DeleteField("extra")
	_, ok = msg.Field("extra")
	assert.False(t, ok)
}

func TestMessage_CloneIsIndependentOfOriginal(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"x"}`))
	require.NoError(t, err)

	clone := msg.Clone()
	clone.SetField("onlyOnClone", json.RawMessage(`true`))

	_, ok := msg.Field("onlyOnClone")
	assert.False(t, ok, "mutating a clone must not affect the original")
}

func TestMessage_ParamsUnmarshalsIntoTarget(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo"}}`))
	require.NoError(t, err)

	var params struct {
		Name string `json:"name"`
	}
	require.NoError(t, msg.Params(&params))
	assert.Equal(t, "echo", params.Name)
}

func TestMessage_ParamsIsNoOpWhenAbsent(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	require.NoError(t, err)

	var params struct{ Name string }
	assert.NoError(t, msg.Params(&params))
}
