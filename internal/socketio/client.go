package socketio

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const defaultHandshakeTimeout = 10 * time.Second

// Client is a minimal Socket.IO client: dial once, register handlers,
// emit events. All waits are bounded; the read loop enforces the
// server-declared heartbeat parameters.
type Client struct {
	conn *websocket.Conn
	sid  string

	pingInterval time.Duration
	pingTimeout  time.Duration

	writeMu sync.Mutex

	handlersMu sync.RWMutex
	handlers   map[string][]func(json.RawMessage)

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects, completes the Engine.IO handshake and the Socket.IO
// namespace connect (presenting the access token both as a bearer
// header and in the auth payload, as the vendor app does), then starts
// the read loop.
func Dial(ctx context.Context, rawURL, accessToken string) (*Client, error) {
	wsURL, err := websocketURL(rawURL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)

	dialer := websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("socketio: dial: %w (http %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("socketio: dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		handlers: make(map[string][]func(json.RawMessage)),
		done:     make(chan struct{}),
	}

	if err := c.handshake(ctx, accessToken); err != nil {
		conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

// handshake waits for the Engine.IO open packet, sends the namespace
// connect with the auth token, and waits for the connect ack.
func (c *Client) handshake(ctx context.Context, accessToken string) error {
	deadline := time.Now().Add(defaultHandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return err
	}

	frame, err := c.readFrame()
	if err != nil {
		return fmt.Errorf("socketio: handshake read: %w", err)
	}
	if len(frame) == 0 || frame[0] != engineOpen {
		return fmt.Errorf("socketio: expected open packet, got %q", truncate(frame))
	}

	var hs handshake
	if err := json.Unmarshal(frame[1:], &hs); err != nil {
		return fmt.Errorf("socketio: malformed open packet: %w", err)
	}
	c.sid = hs.SID
	c.pingInterval = time.Duration(hs.PingInterval) * time.Millisecond
	c.pingTimeout = time.Duration(hs.PingTimeout) * time.Millisecond
	if c.pingInterval <= 0 {
		c.pingInterval = 25 * time.Second
	}
	if c.pingTimeout <= 0 {
		c.pingTimeout = 20 * time.Second
	}

	auth, err := json.Marshal(map[string]string{"token": accessToken})
	if err != nil {
		return err
	}
	connect := append([]byte{engineMessage, socketConnect}, auth...)
	if err := c.writeFrame(connect); err != nil {
		return fmt.Errorf("socketio: send connect: %w", err)
	}

	// The connect ack ("40...") may be preceded by heartbeat pings.
	for {
		frame, err := c.readFrame()
		if err != nil {
			return fmt.Errorf("socketio: connect ack read: %w", err)
		}
		if len(frame) == 0 {
			continue
		}
		switch frame[0] {
		case enginePing:
			if err := c.writeFrame([]byte{enginePong}); err != nil {
				return err
			}
		case engineMessage:
			if len(frame) < 2 {
				continue
			}
			switch frame[1] {
			case socketConnect:
				return nil
			case socketConnectError:
				return fmt.Errorf("socketio: connect rejected: %s", truncate(frame[2:]))
			}
		}
	}
}

// On registers a handler for a server event. Handlers run on the read
// loop goroutine and receive the event's first argument.
func (c *Client) On(name string, handler func(data json.RawMessage)) {
	c.handlersMu.Lock()
	c.handlers[name] = append(c.handlers[name], handler)
	c.handlersMu.Unlock()
}

// Emit sends a client event on the default namespace.
func (c *Client) Emit(name string, args ...any) error {
	frame, err := encodeEvent(name, args...)
	if err != nil {
		return err
	}
	return c.writeFrame(frame)
}

func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// SID returns the server-assigned session id.
func (c *Client) SID() string { return c.sid }

func (c *Client) readLoop() {
	for {
		// A healthy server pings every pingInterval; one full interval
		// plus the declared timeout with no traffic means the session
		// is dead.
		_ = c.conn.SetReadDeadline(time.Now().Add(c.pingInterval + c.pingTimeout))

		frame, err := c.readFrame()
		if err != nil {
			select {
			case <-c.done:
			default:
				log.Printf("socketio: read loop ended: %v", err)
				_ = c.Close()
			}
			return
		}
		if len(frame) == 0 {
			continue
		}

		switch frame[0] {
		case enginePing:
			if err := c.writeFrame([]byte{enginePong}); err != nil {
				_ = c.Close()
				return
			}
		case engineClose:
			_ = c.Close()
			return
		case engineMessage:
			if len(frame) < 2 || frame[1] != socketEvent {
				continue // acks, disconnects: nothing to dispatch
			}
			ev, err := decodeEvent(frame)
			if err != nil {
				log.Printf("socketio: %v", err)
				continue
			}
			c.dispatch(ev)
		}
	}
}

func (c *Client) dispatch(ev event) {
	c.handlersMu.RLock()
	handlers := c.handlers[ev.name]
	c.handlersMu.RUnlock()
	if len(handlers) == 0 {
		return
	}
	var first json.RawMessage
	if len(ev.args) > 0 {
		first = ev.args[0]
	}
	for _, h := range handlers {
		h(first)
	}
}

func (c *Client) readFrame() ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType != websocket.TextMessage {
			continue // engine.io over websocket is text-only
		}
		return data, nil
	}
}

func (c *Client) writeFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// websocketURL rewrites an http(s) endpoint to its ws(s) engine.io
// websocket URL.
func websocketURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("socketio: parse url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss", "":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("socketio: unsupported scheme %q", u.Scheme)
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

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 120 {
		return s[:120] + "…"
	}
	return s
}
