package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Engine.IO v4 packet types.
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioNoop    = '6'
)

// Socket.IO v5 packet types, carried inside an Engine.IO message.
const (
	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioAck          = '3'
	sioConnectError = '4'
)

var (
	// ErrConnectRefused is returned when the server answers the namespace connect with an error packet.
	ErrConnectRefused = errors.New("socket.io connect refused")
	errBadPacket      = errors.New("malformed socket.io packet")
)

// SocketIO speaks Socket.IO v5 over the Engine.IO v4 websocket transport,
// default namespace only.
type SocketIO struct{}

type eioOpenPacket struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

func (SocketIO) Name() string { return "socketio" }

func (SocketIO) DialURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if err := toWebsocketScheme(u); err != nil {
		return "", err
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (SocketIO) Handshake(conn FrameConn) (Handshake, error) {
	_, frame, err := conn.ReadMessage()
	if err != nil {
		return Handshake{}, fmt.Errorf("read open packet: %w", err)
	}
	if len(frame) == 0 || frame[0] != eioOpen {
		return Handshake{}, fmt.Errorf("%w: expected open packet, got %q", errBadPacket, frame)
	}
	var open eioOpenPacket
	if err := json.Unmarshal(frame[1:], &open); err != nil {
		return Handshake{}, fmt.Errorf("decode open packet: %w", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte{eioMessage, sioConnect}); err != nil {
		return Handshake{}, fmt.Errorf("send connect: %w", err)
	}

	for {
		_, frame, err = conn.ReadMessage()
		if err != nil {
			return Handshake{}, fmt.Errorf("read connect reply: %w", err)
		}
		if len(frame) == 1 && frame[0] == eioPing {
			if err := conn.WriteMessage(websocket.TextMessage, []byte{eioPong}); err != nil {
				return Handshake{}, fmt.Errorf("send pong: %w", err)
			}
			continue
		}
		if len(frame) < 2 || frame[0] != eioMessage {
			return Handshake{}, fmt.Errorf("%w: expected connect reply, got %q", errBadPacket, frame)
		}
		switch frame[1] {
		case sioConnect:
			return Handshake{
				SID:          open.SID,
				PingInterval: time.Duration(open.PingInterval) * time.Millisecond,
				PingTimeout:  time.Duration(open.PingTimeout) * time.Millisecond,
			}, nil
		case sioConnectError:
			var reason struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(frame[2:], &reason)
			return Handshake{}, fmt.Errorf("%w: %s", ErrConnectRefused, reason.Message)
		default:
			return Handshake{}, fmt.Errorf("%w: expected connect reply, got %q", errBadPacket, frame)
		}
	}
}

func (SocketIO) Encode(event string, payload any) ([]byte, error) {
	args, err := json.Marshal([]any{event, payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	buf := make([]byte, 0, len(args)+2)
	buf = append(buf, eioMessage, sioEvent)
	return append(buf, args...), nil
}

func (SocketIO) Decode(frame []byte) (Packet, error) {
	if len(frame) == 0 {
		return Packet{}, errBadPacket
	}
	switch frame[0] {
	case eioPing:
		return Packet{Kind: PacketPing}, nil
	case eioClose:
		return Packet{Kind: PacketClose}, nil
	case eioPong, eioNoop, eioOpen:
		return Packet{Kind: PacketIgnore}, nil
	case eioMessage:
	default:
		return Packet{}, fmt.Errorf("%w: engine.io type %q", errBadPacket, frame[0])
	}

	if len(frame) < 2 {
		return Packet{}, errBadPacket
	}
	body := frame[2:]
	switch frame[1] {
	case sioDisconnect:
		return Packet{Kind: PacketClose}, nil
	case sioConnect, sioAck:
		return Packet{Kind: PacketIgnore}, nil
	case sioEvent:
	default:
		return Packet{Kind: PacketIgnore}, nil
	}

	// Optional "/nsp," then optional ack id digits before the argument array.
	if len(body) > 0 && body[0] == '/' {
		i := bytes.IndexByte(body, ',')
		if i < 0 {
			return Packet{}, errBadPacket
		}
		body = body[i+1:]
	}
	body = bytes.TrimLeft(body, "0123456789")

	var args []json.RawMessage
	if err := json.Unmarshal(body, &args); err != nil {
		return Packet{}, fmt.Errorf("%w: %v", errBadPacket, err)
	}
	if len(args) == 0 {
		return Packet{}, errBadPacket
	}
	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return Packet{}, fmt.Errorf("%w: event name: %v", errBadPacket, err)
	}
	p := Packet{Kind: PacketEvent, Event: name}
	if len(args) > 1 {
		p.Data = args[1]
	}
	return p, nil
}

func (SocketIO) Pong() []byte { return []byte{eioPong} }

func toWebsocketScheme(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	return nil
}
