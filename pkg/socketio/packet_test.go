package socketio

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEventExactFraming(t *testing.T) {
	frame := EncodeEvent("oh_event", `{"id":1}`)
	assert.Equal(t, `42["oh_event",{"id":1}]`, frame)
}

func TestEncodeEventPreservesPayloadBytes(t *testing.T) {
	payload := `{"b":2,"a":1}`
	frame := EncodeEvent("oh_event", payload)
	// The payload is spliced verbatim, key order untouched.
	assert.Equal(t, `42["oh_event",`+payload+`]`, frame)
}

func TestEncodeHandshake(t *testing.T) {
	frame, err := EncodeHandshake("abc123", 25000, 20000)
	require.NoError(t, err)
	assert.Equal(t, `0{"sid":"abc123","upgrades":[],"pingInterval":25000,"pingTimeout":20000}`, frame)
}

func TestEncodePongEchoesProbeData(t *testing.T) {
	assert.Equal(t, "3", EncodePong(""))
	assert.Equal(t, "3probe", EncodePong("probe"))
}

func TestDecodePing(t *testing.T) {
	pkt, err := Decode("2")
	require.NoError(t, err)
	assert.Equal(t, byte(EnginePing), pkt.EngineType)
	assert.Empty(t, pkt.Data)

	pkt, err = Decode("2probe")
	require.NoError(t, err)
	assert.Equal(t, "probe", pkt.Data)
}

func TestDecodeDisconnect(t *testing.T) {
	pkt, err := Decode("41")
	require.NoError(t, err)
	assert.Equal(t, byte(EngineMessage), pkt.EngineType)
	assert.Equal(t, byte(SocketDisconnect), pkt.SocketType)
}

func TestDecodeEventPacket(t *testing.T) {
	pkt, err := Decode(`42["oh_user_action",{"action":"message"}]`)
	require.NoError(t, err)
	assert.Equal(t, byte(EngineMessage), pkt.EngineType)
	assert.Equal(t, byte(SocketEvent), pkt.SocketType)

	name, args, err := DecodeEvent(pkt.Data)
	require.NoError(t, err)
	assert.Equal(t, "oh_user_action", name)
	require.Len(t, args, 1)
	assert.JSONEq(t, `{"action":"message"}`, string(args[0]))
}

func TestDecodeEventMultipleArgs(t *testing.T) {
	name, args, err := DecodeEvent(`["oh_action",{"a":1},"extra"]`)
	require.NoError(t, err)
	assert.Equal(t, "oh_action", name)
	assert.Len(t, args, 2)
}

func TestDecodeRejectsEmptyFrame(t *testing.T) {
	_, err := Decode("")
	assert.Error(t, err)
}

func TestDecodeRejectsUnknownTypes(t *testing.T) {
	_, err := Decode("9")
	assert.Error(t, err)

	_, err = Decode("49")
	assert.Error(t, err)

	_, err = Decode("4")
	assert.Error(t, err)
}

func TestDecodeEventRejectsMalformedPayload(t *testing.T) {
	_, _, err := DecodeEvent(`[123,{"a":1}]`)
	assert.Error(t, err)

	_, _, err = DecodeEvent(`not json`)
	assert.Error(t, err)

	_, _, err = DecodeEvent(`[]`)
	assert.Error(t, err)
}

func TestEventRoundTrip(t *testing.T) {
	payload := `{"id":1}`
	frame := EncodeEvent("oh_event", payload)

	pkt, err := Decode(frame)
	require.NoError(t, err)

	name, args, err := DecodeEvent(pkt.Data)
	require.NoError(t, err)
	assert.Equal(t, "oh_event", name)
	require.Len(t, args, 1)
	assert.Equal(t, json.RawMessage(payload), args[0])
}
