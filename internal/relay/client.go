// Package relay carries negotiation metadata through a broadcast WebSocket
// relay: a client adapter that filters frames by receiver, and the hub that
// forwards every frame to every other client.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/1ureka/peerchat/internal/protocol"
	"github.com/1ureka/peerchat/internal/util"
)

// ErrNotConnected is returned when the relay link is not open.
var ErrNotConnected = errors.New("relay not connected")

// Handler receives every inbound frame addressed to the local identity.
// It is called from the read goroutine, one frame at a time.
type Handler func(msg *protocol.Signal)

// Option configures a Client.
type Option func(*Client)

// WithDialer overrides the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithFailureHook registers a callback invoked when dialing fails, used to
// surface a user-visible warning recommending the manual path.
func WithFailureHook(fn func(err error)) Option {
	return func(c *Client) { c.onFailure = fn }
}

// Client maintains a single logical connection to the relay. Reconnects are
// caller-driven: Connect dials again only when the link is down.
type Client struct {
	url       string
	localID   string
	handler   Handler
	dialer    *websocket.Dialer
	onFailure func(err error)

	dialMu  sync.Mutex
	writeMu sync.Mutex

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewClient creates a client for the relay at url. Frames not addressed to
// localID are dropped before reaching handler.
func NewClient(url, localID string, handler Handler, opts ...Option) *Client {
	c := &Client{
		url:     url,
		localID: localID,
		handler: handler,
		dialer:  websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the relay if the link is not already open.
func (c *Client) Connect(ctx context.Context) error {
	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	if c.Connected() {
		return nil
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		err = fmt.Errorf("failed to connect to relay %s: %w", c.url, err)
		util.LogWarning("%v", err)
		if c.onFailure != nil {
			c.onFailure(err)
		}
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	util.LogInfo("relay connected: %s", c.url)

	go c.readLoop(conn)
	return nil
}

// Connected reports whether the relay link is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Send writes a frame addressed to receiverID. It returns true iff the link
// was open and the write succeeded; there is no queueing or retry.
func (c *Client) Send(receiverID string, typ protocol.SignalType, payload any) bool {
	if err := c.write(receiverID, typ, payload); err != nil {
		if !errors.Is(err, ErrNotConnected) {
			util.LogWarning("[%s] relay %s not sent: %v", receiverID, typ, err)
		}
		return false
	}
	util.Stats.AddSignalSent()
	return true
}

func (c *Client) write(receiverID string, typ protocol.SignalType, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	msg := protocol.Signal{
		Type:       typ,
		SenderID:   c.localID,
		ReceiverID: receiverID,
		Payload:    data,
	}

	c.writeMu.Lock()
	err = conn.WriteJSON(msg)
	c.writeMu.Unlock()

	if err != nil {
		c.drop(conn)
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Close shuts the relay link down. The next Connect dials again.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// readLoop decodes inbound frames until the connection fails, then marks
// the link as closed.
func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.drop(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				util.LogDebug("relay read loop ended: %v", err)
			}
			util.LogInfo("relay connection closed")
			return
		}

		var msg protocol.Signal
		if err := json.Unmarshal(data, &msg); err != nil {
			util.LogError("failed to parse relay message: %v", err)
			continue
		}

		if !msg.AddressedTo(c.localID) || msg.SenderID == c.localID {
			continue
		}

		util.Stats.AddSignalRecv()
		c.handler(&msg)
	}
}

// drop forgets conn if it is still the current link, and closes it.
func (c *Client) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	conn.Close()
}
