package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"gap-trading-bot/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser origin checks are handled by the CORS layer; the socket
	// itself is gated by the token query parameter.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsClient struct {
	conn *websocket.Conn
	send chan events.Event
}

// wsHub fans bus events out to connected websocket clients. Slow clients
// drop events rather than backing up the bus.
type wsHub struct {
	mu      sync.Mutex
	clients map[*wsClient]bool
}

func newWSHub(bus *events.Bus) *wsHub {
	h := &wsHub{clients: make(map[*wsClient]bool)}
	if bus != nil {
		bus.SubscribeAll(h.broadcast)
	}
	return h
}

func (h *wsHub) broadcast(event events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- event:
		default:
		}
	}
}

func (h *wsHub) add(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client] = true
}

func (h *wsHub) remove(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client] {
		delete(h.clients, client)
		close(client.send)
	}
}

func (h *wsHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// handleWS upgrades the connection and streams events. Authentication uses
// a token query parameter because browsers cannot set websocket headers.
func (s *Server) handleWS(c *gin.Context) {
	token := c.Query("token")
	if _, err := s.parseToken(token); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{conn: conn, send: make(chan events.Event, 64)}
	s.hub.add(client)
	s.logger.Debug().Int("clients", s.hub.count()).Msg("websocket client connected")

	go s.writePump(client)
	go s.readPump(client)
}

func (s *Server) writePump(client *wsClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()
	for {
		select {
		case event, ok := <-client.send:
			if !ok {
				return
			}
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains and discards client messages so pings and close frames
// are processed
func (s *Server) readPump(client *wsClient) {
	defer func() {
		s.hub.remove(client)
		client.conn.Close()
		s.logger.Debug().Int("clients", s.hub.count()).Msg("websocket client disconnected")
	}()
	client.conn.SetReadLimit(512)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}
