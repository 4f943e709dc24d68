package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/peerchat/internal/util"
)

const (
	writeTimeout    = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hubClient is one connected relay participant. Writes are serialised.
type hubClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *hubClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub is a broadcast relay: every frame received from one client is written
// to every other client. Addressing is left to the clients.
type Hub struct {
	maxMessageSize int64

	mu      sync.Mutex
	clients map[*hubClient]struct{}
}

// NewHub creates a hub that rejects frames larger than maxMessageSize.
func NewHub(maxMessageSize int64) *Hub {
	return &Hub{
		maxMessageSize: maxMessageSize,
		clients:        make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the request and relays frames until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		util.LogWarning("relay upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}
	if h.maxMessageSize > 0 {
		conn.SetReadLimit(h.maxMessageSize)
	}

	c := &hubClient{conn: conn}
	h.add(c)
	defer h.remove(c)

	util.LogInfo("relay client joined from %s (%d online)", conn.RemoteAddr(), h.Clients())

	for {
		typ, data, err := conn.ReadMessage()
		if err != nil {
			util.LogDebug("relay client %s left: %v", conn.RemoteAddr(), err)
			return
		}
		if typ != websocket.TextMessage {
			continue
		}
		h.broadcast(c, data)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client. Hijacked WebSocket connections are not
// closed by http.Server.Shutdown, so the server calls this on exit.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
}

func (h *Hub) add(c *hubClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.conn.Close()
}

// broadcast forwards data to every client except the sender. A failed write
// drops the receiving client only.
func (h *Hub) broadcast(from *hubClient, data []byte) {
	h.mu.Lock()
	targets := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		if c != from {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.write(data); err != nil {
			util.LogWarning("relay write to %s failed: %v", c.conn.RemoteAddr(), err)
			h.remove(c)
		}
	}
}

// ListenAndServe serves the hub on addr under /ws until ctx is cancelled.
// The bound address is reported through ready, if non-nil, once listening.
func ListenAndServe(ctx context.Context, addr string, h *Hub, ready func(net.Addr)) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start relay server: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", h)

	srv := &http.Server{Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		h.Close()
	}()

	if ready != nil {
		ready(listener.Addr())
	}

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay server: %w", err)
	}
	return nil
}
