package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	sendBufferSize = 64
	maxFrameSize   = 1 << 20
)

// ClientIDHeader carries the client's ID on the websocket upgrade request.
const ClientIDHeader = "X-Client-Id"

// ErrClosed is reported by Err after Close was called locally.
var ErrClosed = errors.New("transport closed")

// Handler receives the payload of one inbound event.
type Handler func(data json.RawMessage)

// Client is the single long-lived connection to the messaging backend.
// Emit is fire-and-forget; On/Off keep at most one handler per event.
type Client struct {
	id        string
	codec     Codec
	conn      *websocket.Conn
	handshake Handshake

	send chan []byte
	done chan struct{}

	mu       sync.RWMutex
	handlers map[string]Handler

	closed  atomic.Bool
	errOnce sync.Once
	err     error
}

type options struct {
	codec      Codec
	dialer     *websocket.Dialer
	header     http.Header
	sendBuffer int
}

// Option configures Dial.
type Option func(*options)

// WithCodec selects the wire protocol. Default is SocketIO.
func WithCodec(c Codec) Option { return func(o *options) { o.codec = c } }

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option { return func(o *options) { o.dialer = d } }

// WithHeader adds request headers to the websocket upgrade.
func WithHeader(h http.Header) Option { return func(o *options) { o.header = h } }

// WithSendBuffer sets how many outbound frames may queue before the oldest is dropped.
func WithSendBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.sendBuffer = n
		}
	}
}

// Dial connects to endpoint, runs the codec handshake and starts the
// read and write loops. The returned client lives until Close or until the
// server drops the connection.
func Dial(ctx context.Context, endpoint string, opts ...Option) (*Client, error) {
	o := options{
		codec:      SocketIO{},
		dialer:     &websocket.Dialer{HandshakeTimeout: 15 * time.Second, Proxy: http.ProxyFromEnvironment},
		sendBuffer: sendBufferSize,
	}
	for _, opt := range opts {
		opt(&o)
	}

	target, err := o.codec.DialURL(endpoint)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	header := o.header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set(ClientIDHeader, id)
	conn, _, err := o.dialer.DialContext(ctx, target, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	conn.SetReadLimit(maxFrameSize)

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	hs, err := o.codec.Handshake(conn)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s handshake: %w", o.codec.Name(), err)
	}

	c := &Client{
		id:        id,
		codec:     o.codec,
		conn:      conn,
		handshake: hs,
		send:      make(chan []byte, o.sendBuffer),
		done:      make(chan struct{}),
		handlers:  make(map[string]Handler),
	}
	log.Debug().Str("conn", c.id).Str("codec", o.codec.Name()).Str("sid", hs.SID).Str("url", target).Msg("[transport] connected")

	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

// ID identifies this client in logs and in the ClientIDHeader sent to the backend.
func (c *Client) ID() string { return c.id }

// Handshake returns what the server reported when the session opened.
func (c *Client) Handshake() Handshake { return c.handshake }

// Emit publishes event with payload. Failures are logged, never returned.
func (c *Client) Emit(event string, payload any) {
	if c.closed.Load() {
		log.Debug().Str("conn", c.id).Str("event", event).Msg("[transport] emit on closed connection dropped")
		return
	}
	frame, err := c.codec.Encode(event, payload)
	if err != nil {
		log.Warn().Err(err).Str("conn", c.id).Str("event", event).Msg("[transport] encode")
		return
	}
	c.push(frame)
}

// On registers h for event, replacing any earlier handler.
func (c *Client) On(event string, h Handler) {
	c.mu.Lock()
	c.handlers[event] = h
	c.mu.Unlock()
}

// Off removes the handler for event.
func (c *Client) Off(event string) {
	c.mu.Lock()
	delete(c.handlers, event)
	c.mu.Unlock()
}

// Done is closed once the connection has shut down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection shut down, or nil while it is open.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close shuts the connection down. It is safe to call more than once.
func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

func (c *Client) push(frame []byte) {
	select {
	case <-c.done:
		return
	case c.send <- frame:
		return
	default:
	}
	// drop oldest to avoid blocking the caller
	select {
	case <-c.send:
		log.Debug().Str("conn", c.id).Msg("[transport] send buffer full, dropped oldest frame")
	default:
	}
	select {
	case c.send <- frame:
	default:
		log.Debug().Str("conn", c.id).Msg("[transport] send buffer full, dropped frame")
	}
}

func (c *Client) dispatch(p Packet) {
	c.mu.RLock()
	h := c.handlers[p.Event]
	c.mu.RUnlock()
	if h == nil {
		log.Debug().Str("conn", c.id).Str("event", p.Event).Msg("[transport] no handler")
		return
	}
	h(p.Data)
}

func (c *Client) readDeadline() time.Duration {
	if c.handshake.PingInterval > 0 {
		return c.handshake.PingInterval + c.handshake.PingTimeout
	}
	return pongWait
}

func (c *Client) readLoop() {
	wait := c.readDeadline()
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if !c.closed.Load() {
				log.Warn().Err(err).Str("conn", c.id).Msg("[transport] connection lost")
			}
			c.shutdown(fmt.Errorf("read: %w", err))
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wait))

		p, err := c.codec.Decode(frame)
		if err != nil {
			log.Debug().Err(err).Str("conn", c.id).Msg("[transport] decode frame")
			continue
		}
		switch p.Kind {
		case PacketEvent:
			c.dispatch(p)
		case PacketPing:
			if pong := c.codec.Pong(); pong != nil {
				c.push(pong)
			}
		case PacketClose:
			log.Info().Str("conn", c.id).Msg("[transport] server closed session")
			c.shutdown(errors.New("closed by server"))
			return
		}
	}
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Debug().Err(err).Str("conn", c.id).Msg("[transport] write")
				c.shutdown(fmt.Errorf("write: %w", err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(fmt.Errorf("ping: %w", err))
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = c.conn.Close()
			return
		}
	}
}

func (c *Client) shutdown(reason error) {
	c.errOnce.Do(func() {
		c.closed.Store(true)
		c.err = reason
		close(c.done)
		if !errors.Is(reason, ErrClosed) {
			// the write loop may already be gone; make sure the reader unblocks
			_ = c.conn.Close()
		}
	})
}
