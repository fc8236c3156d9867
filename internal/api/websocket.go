package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pixel-battle/internal/config"
	"pixel-battle/internal/protocol"
)

const writeTimeout = 10 * time.Second

// SessionHandler receives connection lifecycle and inbound frames.
// session.Gateway implements it.
type SessionHandler interface {
	Open(connID string)
	Handle(connID string, raw []byte)
	Close(connID string)
}

// wsClient is one upgraded connection. The hub never writes to conn
// directly; frames go through send and the writer goroutine.
type wsClient struct {
	id   string
	ip   string
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// enqueue queues a frame without blocking. A full buffer drops the frame.
func (c *wsClient) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		RecordSendDropped()
		return false
	}
}

// shutdown asks the writer to flush and close the connection.
func (c *wsClient) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// WebSocketHub manages canvas connections with DoS protection. It
// implements session.Transport.
type WebSocketHub struct {
	clients map[string]*wsClient
	mu      sync.RWMutex

	handler   SessionHandler
	limits    config.ResourceLimits
	wsLimiter *ConnectionLimiter
	upgrader  websocket.Upgrader
	debug     bool

	active sync.WaitGroup // one per upgraded connection
}

// NewWebSocketHub creates a hub. SetHandler must be called before serving.
func NewWebSocketHub(limits config.ResourceLimits, origins *OriginPolicy) *WebSocketHub {
	if limits.SendBuffer <= 0 {
		limits.SendBuffer = config.DefaultLimits().SendBuffer
	}
	if origins == nil {
		origins = NewOriginPolicy(nil)
	}
	return &WebSocketHub{
		clients:   make(map[string]*wsClient),
		limits:    limits,
		wsLimiter: NewConnectionLimiter(limits.MaxConnectionsPerIP),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if origins.Check(r) {
					return true
				}
				log.Printf("⚠️ WebSocket connection rejected from origin: %s", r.Header.Get("Origin"))
				RecordConnectionRejected("origin")
				return false
			},
		},
	}
}

// SetHandler binds the session layer.
func (h *WebSocketHub) SetHandler(handler SessionHandler) {
	h.mu.Lock()
	h.handler = handler
	h.mu.Unlock()
}

// SetDebug enables per-frame logging.
func (h *WebSocketHub) SetDebug(debug bool) {
	h.debug = debug
}

// Send queues msg for one connection.
func (h *WebSocketHub) Send(connID string, msg []byte) bool {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if c.enqueue(msg) {
		IncrementWSMessages()
		return true
	}
	return false
}

// Broadcast queues msg for every connection.
func (h *WebSocketHub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if c.enqueue(msg) {
			IncrementWSMessages()
		}
	}
}

// Close flushes and closes one connection. The read loop then reports the
// close to the session layer.
func (h *WebSocketHub) Close(connID string) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if ok {
		c.shutdown()
	}
}

// CloseAll closes every connection, used on shutdown.
func (h *WebSocketHub) CloseAll() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.shutdown()
	}
}

// Wait blocks until every connection has been reported closed to the
// session layer, or ctx expires.
func (h *WebSocketHub) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClientCount returns the number of connected clients.
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebSocketHub) register(c *wsClient) int {
	h.mu.Lock()
	h.clients[c.id] = c
	count := len(h.clients)
	h.mu.Unlock()
	UpdateWSConnections(count)
	return count
}

func (h *WebSocketHub) unregister(c *wsClient) int {
	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		h.wsLimiter.Release(c.ip)
	}
	count := len(h.clients)
	h.mu.Unlock()
	UpdateWSConnections(count)
	return count
}

// HandleWebSocket upgrades the request and runs the connection's read
// loop on the calling goroutine.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	handler := h.handler
	total := len(h.clients)
	h.mu.RUnlock()

	if handler == nil {
		http.Error(w, "Not ready", http.StatusServiceUnavailable)
		return
	}

	ip := GetClientIP(r)

	if h.limits.MaxConnections > 0 && total >= h.limits.MaxConnections {
		log.Printf("⚠️ WebSocket connection rejected: total limit reached (%d)", total)
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	if !h.wsLimiter.Acquire(ip) {
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.wsLimiter.Release(ip)
		return
	}

	h.active.Add(1)
	defer h.active.Done()

	c := &wsClient{
		id:   uuid.NewString(),
		ip:   ip,
		conn: conn,
		send: make(chan []byte, h.limits.SendBuffer),
		done: make(chan struct{}),
	}

	count := h.register(c)
	log.Printf("📱 Client connected from %s (%d total)", ip, count)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(c)
	}()

	handler.Open(c.id)
	h.readLoop(c, handler)

	c.shutdown()
	<-writerDone
	handler.Close(c.id)
	count = h.unregister(c)
	log.Printf("📱 Client disconnected (%d remaining)", count)
}

func (h *WebSocketHub) extendDeadline(c *wsClient) {
	if h.limits.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(h.limits.ReadTimeout))
	}
}

func (h *WebSocketHub) readLoop(c *wsClient, handler SessionHandler) {
	if h.limits.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(h.limits.MaxMessageBytes)
	}
	h.extendDeadline(c)
	c.conn.SetPongHandler(func(string) error {
		h.extendDeadline(c)
		return nil
	})

	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			if h.debug && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("📱 Read error from %s: %v", c.ip, err)
			}
			return
		}
		h.extendDeadline(c)
		if msgType != websocket.TextMessage {
			continue
		}
		handler.Handle(c.id, msg)
	}
}

// writeLoop is the only writer of c.conn. On shutdown it drains frames
// already queued, so notices sent just before a close still arrive.
func (h *WebSocketHub) writeLoop(c *wsClient) {
	var tick <-chan time.Time
	if h.limits.PingInterval > 0 {
		ticker := time.NewTicker(h.limits.PingInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	defer c.conn.Close()

	write := func(msg []byte) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		return c.conn.WriteMessage(websocket.TextMessage, msg) == nil
	}

	for {
		select {
		case msg := <-c.send:
			if !write(msg) {
				c.shutdown()
				return
			}

		case <-tick:
			ping, err := protocol.Encode(protocol.NewPing(time.Now().UnixMilli()))
			if err == nil && !write(ping) {
				c.shutdown()
				return
			}

		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					if !write(msg) {
						return
					}
				default:
					_ = c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
						time.Now().Add(time.Second))
					return
				}
			}
		}
	}
}
