// Package api exposes the pipeline's read path over HTTP and its live
// event stream over WebSocket.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/anpr-core/anpr/pkg/anpr"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans out live entry/exit events to every connected /live client. Each
// client owns a bounded send buffer; a slow client only misses broadcasts,
// it never blocks the others.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	stats   *anpr.Stats
}

func newHub(stats *anpr.Stats) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		stats:   stats,
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if h.stats != nil {
		h.stats.WSClients.Add(1)
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		if h.stats != nil {
			h.stats.WSClients.Add(-1)
		}
	}
}

func (h *Hub) broadcast(ev *anpr.DurableEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Println("hub: marshal error:", err)
		return
	}

	h.mu.RLock()
	snapshot := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	for _, c := range snapshot {
		select {
		case c.send <- data:
		default:
		}
	}
}

// run drains the pipeline's event subscription and fans each event out to
// connected clients until the channel closes.
func (h *Hub) run(events <-chan *anpr.DurableEvent) {
	for ev := range events {
		h.broadcast(ev)
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump discards inbound client traffic and detects client disconnects;
// it sets no read deadline.
func (c *client) readPump(h *Hub) {
	defer h.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("hub: upgrade error:", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 32)}
	h.register(c)

	go c.writePump()
	c.readPump(h)
}
