package transport

import (
	"context"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketHandler serves command sessions over WebSocket: one text
// message per line in each direction.
type WebSocketHandler struct {
	ctx          context.Context
	events       sink
	slots        *Slots
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

// NewWebSocketHandler emits events until ctx is done.  Upgrades are refused
// while every one of slots is held.
func NewWebSocketHandler(ctx context.Context, events chan<- Event, slots *Slots, writeTimeout time.Duration) *WebSocketHandler {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &WebSocketHandler{
		ctx:          ctx,
		events:       sink{ch: events},
		slots:        slots,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.slots.TryAcquire() {
		http.Error(w, "session limit reached", http.StatusServiceUnavailable)
		return
	}
	defer h.slots.Release()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Transport: websocket upgrade from %s failed: %v", r.RemoteAddr, err)
		return
	}
	conn := &WSConn{ws: ws, id: peerID(addrString(r.RemoteAddr)), writeTimeout: h.writeTimeout}
	defer conn.Close()

	if !h.events.emit(h.ctx, Event{Kind: EventConnect, Session: conn}) {
		return
	}
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			break
		}
		if mt != websocket.TextMessage {
			continue
		}
		line := strings.TrimRight(string(data), "\r\n")
		if !h.events.emit(h.ctx, Event{Kind: EventLine, Session: conn, Line: line}) {
			return
		}
	}
	h.events.emit(h.ctx, Event{Kind: EventDisconnect, Session: conn})
}

// WSConn is one WebSocket session.
type WSConn struct {
	ws           *websocket.Conn
	id           string
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

func (c *WSConn) ID() string { return c.id }

func (c *WSConn) SendLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *WSConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout))
	return c.ws.Close()
}

type addrString string

func (a addrString) Network() string { return "tcp" }
func (a addrString) String() string  { return string(a) }
