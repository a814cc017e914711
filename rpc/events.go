package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/colorfulnotion/dmnt/dmnt"
	log "github.com/colorfulnotion/dmnt/log"
	"github.com/colorfulnotion/dmnt/types"
	"github.com/gorilla/websocket"
)

const (
	EventAttached = "attached"
	EventDetached = "detached"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

type EventMessage struct {
	Event    string                      `json:"event"`
	Metadata *types.CheatProcessMetadata `json:"metadata,omitempty"`
}

func newEventMessage(attached bool, meta *types.CheatProcessMetadata) []byte {
	msg := EventMessage{Event: EventDetached, Metadata: meta}
	if attached {
		msg.Event = EventAttached
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error(log.RPCMonitoring, "marshal event", "err", err)
		return nil
	}
	return data
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans process events out to websocket clients. A newly registered
// client first receives the current attach state.
type Hub struct {
	cpm        *dmnt.CheatProcessManager
	clients    map[*wsClient]bool
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan []byte
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewHub(ctx context.Context, cpm *dmnt.CheatProcessManager) *Hub {
	cctx, cancel := context.WithCancel(ctx)
	return &Hub{
		cpm:        cpm,
		clients:    make(map[*wsClient]bool),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan []byte, 16),
		ctx:        cctx,
		cancel:     cancel,
	}
}

func (h *Hub) snapshot() []byte {
	meta, err := h.cpm.GetCheatProcessMetadata()
	if err != nil {
		return newEventMessage(false, nil)
	}
	return newEventMessage(true, &meta)
}

// Run serves registrations and broadcasts until the hub context is done.
func (h *Hub) Run() {
	events, unsubscribe := h.cpm.SubscribeProcessEvents()
	defer unsubscribe()
	for {
		select {
		case <-h.ctx.Done():
			for client := range h.clients {
				close(client.send)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			client.sendData(h.snapshot())

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

		case ev := <-events:
			meta := ev.Metadata
			h.fanout(newEventMessage(ev.Attached, &meta))

		case message := <-h.broadcast:
			h.fanout(message)
		}
	}
}

func (h *Hub) fanout(message []byte) {
	if message == nil {
		return
	}
	for client := range h.clients {
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// Broadcast queues a raw message for every client.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.ctx.Done():
	}
}

func (h *Hub) Close() { h.cancel() }

type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) sendData(data []byte) {
	if data == nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// readPump only watches for the peer going away.
func (c *wsClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Trace(log.RPCMonitoring, "websocket close", "err", err)
			}
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeHTTP upgrades the request and registers the connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn(log.RPCMonitoring, "websocket upgrade", "err", err)
		return
	}
	client := &wsClient{hub: h, conn: conn, send: make(chan []byte, 64)}
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

// ListenAndServe runs the hub and serves /ws on port until ctx is done.
func (h *Hub) ListenAndServe(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	server := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	go h.Run()
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
		h.Close()
	})
	defer stop()

	log.Info(log.RPCMonitoring, "websocket events started", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		h.Close()
		return fmt.Errorf("websocket listen: %w", err)
	}
	return nil
}
