package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 16
)

// Client is one websocket subscriber to a channel
type Client struct {
	conn    *websocket.Conn
	channel string
	send    chan []byte
}

// Hub fans channel payloads out to connected websocket clients. A client
// whose buffer is full is disconnected instead of being waited on.
type Hub struct {
	clients    map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	last     sync.Map // channel -> []byte
	upgrader websocket.Upgrader
}

// NewHub creates a hub accepting websocket upgrades from allowedOrigins.
// An empty list accepts any origin.
func NewHub(allowedOrigins []string) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin] || allowed["*"]
			},
		},
	}
}

// Run owns client registration until ctx is cancelled, then disconnects
// every client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[client.channel]; !ok {
				h.clients[client.channel] = make(map[*Client]bool)
			}
			h.clients[client.channel][client] = true
			h.mu.Unlock()
			log.Debug().Str("channel", client.channel).Msg("Websocket client registered")

		case client := <-h.unregister:
			h.remove(client)

		case <-ctx.Done():
			h.mu.Lock()
			for channel, clients := range h.clients {
				for client := range clients {
					close(client.send)
				}
				delete(h.clients, channel)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[client.channel]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.channel)
	}
	log.Debug().Str("channel", client.channel).Msg("Websocket client unregistered")
}

// Publish marshals payload and sends it to every client on channel
func (h *Hub) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to marshal broadcast payload")
	}
	h.PublishRaw(channel, data)
	return nil
}

// PublishRaw sends an already encoded payload to every client on channel
func (h *Hub) PublishRaw(channel string, data []byte) {
	h.last.Store(channel, data)

	var slow []*Client
	h.mu.RLock()
	for client := range h.clients[channel] {
		select {
		case client.send <- data:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		log.Warn().Str("channel", channel).Msg("Dropping slow websocket client")
		h.remove(client)
	}
}

// Seed sets the last payload of channel without broadcasting it
func (h *Hub) Seed(channel string, data []byte) {
	h.last.Store(channel, data)
}

// Last returns the most recent payload published on channel
func (h *Hub) Last(ctx context.Context, channel string) ([]byte, error) {
	if v, ok := h.last.Load(channel); ok {
		return v.([]byte), nil
	}
	return nil, ErrNoValue
}

// ClientCount returns the number of clients subscribed to channel
func (h *Hub) ClientCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[channel])
}

// ServeWS upgrades the request and subscribes the connection to channel.
// The last known payload is sent first.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, channel string) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return errors.Wrap(err, "websocket upgrade failed")
	}

	client := &Client{conn: conn, channel: channel, send: make(chan []byte, sendBuffer)}
	if last, err := h.Last(r.Context(), channel); err == nil {
		client.send <- last
	}

	select {
	case h.register <- client:
	case <-r.Context().Done():
		conn.Close()
		return r.Context().Err()
	}

	go h.writePump(client)
	go h.readPump(client)
	return nil
}

// readPump discards inbound frames and detects disconnects
func (h *Hub) readPump(c *Client) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("Websocket closed unexpectedly")
			}
			return
		}
	}
}

func (h *Hub) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
