// Package socketio implements the small slice of the Socket.IO
// protocol (Engine.IO v4 over websocket, default namespace) that the
// Kumo realtime endpoint speaks: connect handshake, server ping /
// client pong, and JSON event frames.
package socketio

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Engine.IO packet types (first byte of every websocket text frame).
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
)

// Socket.IO packet types (second byte, inside an engine message).
const (
	socketConnect      = '0'
	socketDisconnect   = '1'
	socketEvent        = '2'
	socketAck          = '3'
	socketConnectError = '4'
)

// handshake is the payload of the Engine.IO open packet.
type handshake struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"` // milliseconds
	PingTimeout  int    `json:"pingTimeout"`  // milliseconds
}

// event is one decoded Socket.IO event frame: name plus undecoded
// arguments.
type event struct {
	name string
	args []json.RawMessage
}

// encodeEvent frames an event for the default namespace: "42" followed
// by a JSON array of name and arguments.
func encodeEvent(name string, args ...any) ([]byte, error) {
	payload := make([]any, 0, len(args)+1)
	payload = append(payload, name)
	payload = append(payload, args...)
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, 0, len(data)+2)
	frame = append(frame, engineMessage, socketEvent)
	frame = append(frame, data...)
	return frame, nil
}

// decodeEvent parses a "42..." frame. Servers may insert an ack id
// between the type bytes and the JSON array; it is skipped.
func decodeEvent(frame []byte) (event, error) {
	body := string(frame[2:])
	if i := strings.IndexByte(body, '['); i > 0 {
		body = body[i:]
	}

	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(body), &parts); err != nil {
		return event{}, fmt.Errorf("socketio: malformed event frame: %w", err)
	}
	if len(parts) == 0 {
		return event{}, fmt.Errorf("socketio: empty event frame")
	}

	var name string
	if err := json.Unmarshal(parts[0], &name); err != nil {
		return event{}, fmt.Errorf("socketio: event name is not a string: %w", err)
	}
	return event{name: name, args: parts[1:]}, nil
}
