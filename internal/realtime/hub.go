package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hongminglow/pipeline-crm/internal/events"
)

const writeWait = 5 * time.Second

// Message is the frame pushed to every connected pipeline board.
type Message struct {
	Action  string `json:"action"`
	Payload any    `json:"payload"`
}

// client serialises writes; a websocket.Conn allows one concurrent writer.
type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *client) send(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// Hub fans pipeline events out to websocket clients.
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.Mutex
	clients  map[*websocket.Conn]*client
	logger   *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*client),
		logger:  logger,
	}
}

// Attach subscribes the hub to the pipeline topics on bus.
func (h *Hub) Attach(bus *events.Bus) {
	for _, topic := range []string{
		events.TopicProspectCreated,
		events.TopicStageChanged,
		events.TopicFunnelCreated,
		events.TopicFunnelDeleted,
	} {
		bus.Subscribe(topic, func(_ context.Context, ev events.Event) error {
			h.Broadcast(Message{Action: ev.Topic, Payload: ev.Payload})
			return nil
		})
	}
}

// Serve upgrades the request and keeps the connection registered until the
// client goes away. Inbound frames are ignored.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = &client{conn: conn}
	h.mu.Unlock()

	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}

	h.remove(conn)
}

// Broadcast writes msg to every client, dropping the ones that fail. Writes
// happen outside the hub lock.
func (h *Hub) Broadcast(msg Message) {
	for _, c := range h.snapshot() {
		if err := c.send(msg); err != nil {
			h.logger.Debug("dropping websocket client", zap.Error(err))
			h.remove(c.conn)
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	for _, c := range h.snapshot() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		h.remove(c.conn)
	}
}

func (h *Hub) snapshot() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		conn.Close()
		delete(h.clients, conn)
	}
}
