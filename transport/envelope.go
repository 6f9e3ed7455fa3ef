package transport

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// Envelope is a plain websocket protocol: each text frame is
// {"event": name, "data": payload}. Keepalive is left to websocket pings.
type Envelope struct{}

type envelopeFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func (Envelope) Name() string { return "json" }

func (Envelope) DialURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if err := toWebsocketScheme(u); err != nil {
		return "", err
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/ws"
	}
	return u.String(), nil
}

func (Envelope) Handshake(FrameConn) (Handshake, error) { return Handshake{}, nil }

func (Envelope) Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(envelopeFrame{Event: event, Data: data})
}

func (Envelope) Decode(frame []byte) (Packet, error) {
	var f envelopeFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return Packet{}, fmt.Errorf("decode envelope: %w", err)
	}
	if f.Event == "" {
		return Packet{Kind: PacketIgnore}, nil
	}
	return Packet{Kind: PacketEvent, Event: f.Event, Data: f.Data}, nil
}

func (Envelope) Pong() []byte { return nil }
