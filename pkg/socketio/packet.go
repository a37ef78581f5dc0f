// Package socketio implements the minimal subset of the Engine.IO / Socket.IO
// v4 wire format needed to serve clients that expect a Socket.IO server over
// a single WebSocket transport.
package socketio

import (
	"encoding/json"
	"fmt"
)

// Engine.IO packet types, the first character of every text frame.
const (
	EngineOpen    = '0'
	EngineClose   = '1'
	EnginePing    = '2'
	EnginePong    = '3'
	EngineMessage = '4'
)

// Socket.IO packet types, the second character of an Engine.IO message frame.
const (
	SocketConnect    = '0'
	SocketDisconnect = '1'
	SocketEvent      = '2'
	SocketAck        = '3'
)

// Packet is one decoded frame. SocketType is only meaningful when EngineType
// is EngineMessage; Data holds whatever follows the type characters.
type Packet struct {
	EngineType byte
	SocketType byte
	Data       string
}

// Decode parses a raw text frame. Empty frames are invalid.
func Decode(frame string) (Packet, error) {
	if len(frame) == 0 {
		return Packet{}, fmt.Errorf("empty frame")
	}

	p := Packet{EngineType: frame[0]}
	switch p.EngineType {
	case EngineOpen, EngineClose, EnginePing, EnginePong:
		p.Data = frame[1:]
		return p, nil
	case EngineMessage:
		if len(frame) < 2 {
			return Packet{}, fmt.Errorf("message frame missing socket.io type")
		}
		p.SocketType = frame[1]
		switch p.SocketType {
		case SocketConnect, SocketDisconnect, SocketEvent, SocketAck:
			p.Data = frame[2:]
			return p, nil
		default:
			return Packet{}, fmt.Errorf("unknown socket.io packet type %q", p.SocketType)
		}
	default:
		return Packet{}, fmt.Errorf("unknown engine.io packet type %q", p.EngineType)
	}
}

// Handshake carries the fields of the Engine.IO open packet.
type Handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout"`
}

// EncodeHandshake builds the open frame sent once after upgrade. The upgrade
// list is always empty: the only transport offered is the WebSocket the
// client is already on.
func EncodeHandshake(sid string, pingIntervalMs, pingTimeoutMs int64) (string, error) {
	body, err := json.Marshal(Handshake{
		SID:          sid,
		Upgrades:     []string{},
		PingInterval: pingIntervalMs,
		PingTimeout:  pingTimeoutMs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode handshake: %w", err)
	}
	return string(EngineOpen) + string(body), nil
}

// ConnectFrame is the Socket.IO connect acknowledgement for the default
// namespace, sent immediately after the handshake.
const ConnectFrame = "40"

// DisconnectFrame is the Socket.IO disconnect packet for the default
// namespace.
const DisconnectFrame = "41"

// EncodePong answers a ping, echoing its probe data verbatim.
func EncodePong(pingData string) string {
	return string(EnginePong) + pingData
}

// EncodeEvent builds an outbound event frame. The payload must already be
// valid JSON; it is spliced into the arguments array untouched so the frame
// bytes are stable for a given payload.
func EncodeEvent(name string, payload string) string {
	return `42["` + name + `",` + payload + `]`
}

// DecodeEvent parses the data of a SocketEvent packet into the event name and
// its raw JSON arguments.
func DecodeEvent(data string) (string, []json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(data), &parts); err != nil {
		return "", nil, fmt.Errorf("malformed event payload: %w", err)
	}
	if len(parts) == 0 {
		return "", nil, fmt.Errorf("event payload missing name")
	}
	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return "", nil, fmt.Errorf("event name is not a string: %w", err)
	}
	return name, parts[1:], nil
}
