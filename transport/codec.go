package transport

import (
	"encoding/json"
	"time"
)

// PacketKind classifies a decoded inbound frame.
type PacketKind int

const (
	// PacketIgnore is a frame with nothing for the client to do (noop, ack, connect echo).
	PacketIgnore PacketKind = iota
	// PacketEvent carries a named event and its first argument.
	PacketEvent
	// PacketPing must be answered with the codec's Pong frame.
	PacketPing
	// PacketClose means the server ended the session.
	PacketClose
)

// Packet is one decoded inbound frame.
type Packet struct {
	Kind  PacketKind
	Event string
	Data  json.RawMessage
}

// Handshake describes what the server told us while opening the session.
// Zero durations mean the protocol has no application-level heartbeat.
type Handshake struct {
	SID          string
	PingInterval time.Duration
	PingTimeout  time.Duration
}

// FrameConn is the subset of *websocket.Conn a codec needs during the handshake.
type FrameConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

// Codec maps named events onto websocket frames for one backend protocol.
type Codec interface {
	// Name is the flag value selecting this codec.
	Name() string
	// DialURL turns a backend endpoint into the websocket URL to dial.
	DialURL(endpoint string) (string, error)
	// Handshake runs the protocol's opening exchange on a fresh connection.
	Handshake(conn FrameConn) (Handshake, error)
	Encode(event string, payload any) ([]byte, error)
	Decode(frame []byte) (Packet, error)
	// Pong is the reply to a PacketPing, or nil if the protocol has none.
	Pong() []byte
}

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, bool) {
	switch name {
	case "socketio", "socket.io", "":
		return SocketIO{}, true
	case "json":
		return Envelope{}, true
	}
	return nil, false
}
