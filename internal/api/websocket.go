package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tx2tx/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local-network observability tool; any origin may watch.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEvent is the JSON object pushed to observers.
type wsEvent struct {
	Type    string `json:"type"`
	Context string `json:"context,omitempty"`
}

// wsManager owns the observer connections and the broadcast fan-out.
type wsManager struct {
	clients    map[*wsClient]bool
	clientsMu  sync.RWMutex
	broadcast  chan wsEvent
	register   chan *wsClient
	unregister chan *wsClient
	shutdown   chan struct{}
	once       sync.Once
}

// wsClient is one connected observer.
type wsClient struct {
	manager *wsManager
	conn    *websocket.Conn
	send    chan []byte
	ip      string
}

func newWSManager() *wsManager {
	return &wsManager{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan wsEvent, 16),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		shutdown:   make(chan struct{}),
	}
}

func (m *wsManager) run() {
	for {
		select {
		case client := <-m.register:
			m.clientsMu.Lock()
			m.clients[client] = true
			m.clientsMu.Unlock()
			log.Printf("API: observer connected from %s (%d total)", client.ip, len(m.clients))

		case client := <-m.unregister:
			m.clientsMu.Lock()
			if _, ok := m.clients[client]; ok {
				delete(m.clients, client)
				close(client.send)
			}
			m.clientsMu.Unlock()

		case event := <-m.broadcast:
			m.broadcastEvent(event)

		case <-m.shutdown:
			return
		}
	}
}

func (m *wsManager) shutdownHub() {
	m.once.Do(func() { close(m.shutdown) })
}

func (m *wsManager) broadcastContext(ctx types.ScreenContext) {
	select {
	case m.broadcast <- wsEvent{Type: "context", Context: string(ctx)}:
	default:
		// Observers lagging badly; drop rather than stall the caller.
	}
}

func (m *wsManager) broadcastEvent(event wsEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("API: marshal broadcast: %v", err)
		return
	}

	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	for client := range m.clients {
		select {
		case client.send <- data:
		default:
			delete(m.clients, client)
			close(client.send)
		}
	}
}

func (m *wsManager) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("API: upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		manager: m,
		conn:    conn,
		send:    make(chan []byte, 64),
		ip:      r.RemoteAddr,
	}
	m.register <- client

	go client.writePump()
	go client.readPump()
}

// readPump discards observer input and detects closure.
func (c *wsClient) readPump() {
	defer func() {
		c.manager.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump flushes broadcasts and pings the observer.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(50 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
