package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	MessagePollUpdate  = "POLL_UPDATE"
	MessagePollDeleted = "POLL_DELETED"

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 32
)

// Message is what live subscribers receive.
type Message struct {
	Type      string      `json:"type"`
	PollID    uint        `json:"poll_id"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

type broadcastMessage struct {
	pollID uint
	data   []byte
}

// Client is one live subscriber of a poll: a websocket connection or an SSE
// stream. The hub owns send and closes it on unregister.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	pong   chan struct{}
	pollID uint
}

// Hub fans poll updates out to the subscribers of each poll.
type Hub struct {
	clients map[uint]map[*Client]struct{}
	total   int
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMessage
	done       chan struct{}

	maxConnections int
	upgrader       websocket.Upgrader
	logger         *slog.Logger
}

// NewHub creates a hub. An empty allowedOrigins or "*" accepts any origin.
func NewHub(maxConnections int, allowedOrigins []string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		clients:        make(map[uint]map[*Client]struct{}),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		broadcast:      make(chan broadcastMessage, 256),
		done:           make(chan struct{}),
		maxConnections: maxConnections,
		logger:         logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Run processes registrations and broadcasts until ctx is done, then
// disconnects every subscriber.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, clients := range h.clients {
				for c := range clients {
					close(c.send)
				}
			}
			h.clients = make(map[uint]map[*Client]struct{})
			h.total = 0
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			if h.clients[c.pollID] == nil {
				h.clients[c.pollID] = make(map[*Client]struct{})
			}
			h.clients[c.pollID][c] = struct{}{}
			h.total++
			n := len(h.clients[c.pollID])
			h.mu.Unlock()
			h.logger.Debug("live subscriber joined", "poll_id", c.pollID, "subscribers", n)

		case c := <-h.unregister:
			h.mu.Lock()
			h.remove(c)
			h.mu.Unlock()

		case m := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients[m.pollID] {
				select {
				case c.send <- m.data:
				default:
					// too slow to keep up
					h.remove(c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// remove must be called with h.mu held.
func (h *Hub) remove(c *Client) {
	clients, ok := h.clients[c.pollID]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	close(c.send)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.pollID)
	}
}

// Broadcast queues a message for every subscriber of pollID. It never blocks;
// when the queue is full the message is dropped.
func (h *Hub) Broadcast(pollID uint, msgType string, data interface{}) {
	body, err := json.Marshal(Message{
		Type:      msgType,
		PollID:    pollID,
		Data:      data,
		Timestamp: time.Now().UnixNano(),
	})
	if err != nil {
		h.logger.Error("marshal live update failed", "poll_id", pollID, "error", err.Error())
		return
	}
	select {
	case h.broadcast <- broadcastMessage{pollID: pollID, data: body}:
	default:
		h.logger.Warn("live update dropped, broadcast queue full", "poll_id", pollID)
	}
}

// Subscribers returns the number of live subscribers of pollID.
func (h *Hub) Subscribers(pollID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[pollID])
}

// Total returns the number of live subscribers across all polls.
func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

func (h *Hub) full() bool {
	return h.maxConnections > 0 && h.Total() >= h.maxConnections
}

// join registers a new client primed with the current poll view.
func (h *Hub) join(pollID uint, conn *websocket.Conn, snapshot []byte) (*Client, bool) {
	c := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		pong:   make(chan struct{}, 1),
		pollID: pollID,
	}
	c.send <- snapshot
	select {
	case h.register <- c:
		return c, true
	case <-h.done:
		return nil, false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// snapshot loads the current view of a poll as a POLL_UPDATE message.
func (h *Handler) snapshot(c *gin.Context) (uint, []byte, bool) {
	id, err := parsePollID(c)
	if err != nil {
		h.respondError(c, err)
		return 0, nil, false
	}
	view, err := h.Reader.GetPoll(c.Request.Context(), id)
	if err != nil {
		h.respondError(c, err)
		return 0, nil, false
	}
	body, err := json.Marshal(Message{Type: MessagePollUpdate, PollID: id, Data: view, Timestamp: time.Now().UnixNano()})
	if err != nil {
		h.respondError(c, err)
		return 0, nil, false
	}
	return id, body, true
}

// ServeWS upgrades the request and streams updates of one poll.
func (h *Handler) ServeWS(c *gin.Context) {
	if h.Hub.full() {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "too many live connections"})
		return
	}
	pollID, first, ok := h.snapshot(c)
	if !ok {
		return
	}

	conn, err := h.Hub.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.Logger.Warn("websocket upgrade failed", "poll_id", pollID, "error", err.Error())
		return
	}

	client, ok := h.Hub.join(pollID, conn, first)
	if !ok {
		_ = conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

// readPump only handles control frames and client pings.
func (c *Client) readPump() {
	defer func() {
		c.hub.leave(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Debug("websocket read failed", "poll_id", c.pollID, "error", err.Error())
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if msgType != websocket.TextMessage {
			continue
		}
		var msg struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(data, &msg) == nil && msg.Type == "PING" {
			select {
			case c.pong <- struct{}{}:
			default:
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-c.pong:
			pong, _ := json.Marshal(gin.H{"type": "PONG", "time": time.Now().Format(time.RFC3339)})
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, pong); err != nil {
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
