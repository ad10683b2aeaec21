package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/leafsii/eusd-engine/internal/store"
	"go.uber.org/zap"
)

// Topics a client can subscribe to. Position topics are "position:<uuid>".
const (
	TopicEvents   = "events"
	TopicState    = "state"
	TopicPrices   = "prices"
	positionTopic = "position:"
)

// Subscriber is the pubsub side of store.Cache
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) store.Subscription
}

type ConnectionRecorder interface {
	IncrementConnections(ctx context.Context)
	DecrementConnections(ctx context.Context)
}

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	pubsub     Subscriber
	channels   []string
	upgrader   websocket.Upgrader
	logger     *zap.SugaredLogger
	metrics    ConnectionRecorder
	mu         sync.RWMutex
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.Mutex
	topics map[string]bool
	closed bool

	lastActive time.Time
}

type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type SubscriptionRequest struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

// NewHub relays the given pubsub channels to websocket clients. An empty
// allowedOrigins list only admits same-origin requests.
func NewHub(pubsub Subscriber, channels []string, allowedOrigins []string, logger *zap.SugaredLogger, metrics ConnectionRecorder) *Hub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	origins := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = true
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		pubsub:     pubsub,
		channels:   channels,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins[origin] || origins["*"]
			},
		},
		logger:  logger,
		metrics: metrics,
	}
}

func (h *Hub) Run(ctx context.Context) {
	go h.relay(ctx)
	go h.startClientCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			h.logger.Infow("WebSocket hub shutting down")
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.IncrementConnections(ctx)
			}
			h.logger.Debugw("Client registered", "remote", client.conn.RemoteAddr().String())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.drop(client)
			}
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.DecrementConnections(ctx)
			}
			h.logger.Debugw("Client unregistered")
		}
	}
}

// drop must be called with mu held
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	client.mu.Lock()
	if !client.closed {
		client.closed = true
		close(client.send)
	}
	client.mu.Unlock()
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) relay(ctx context.Context) {
	sub := h.pubsub.Subscribe(ctx, h.channels...)
	defer sub.Close()
	h.logger.Debugw("WebSocket hub relaying channels", "channels", h.channels)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if msg != nil {
				h.handleMessage(msg)
			}
		}
	}
}

func (h *Hub) handleMessage(msg *store.Message) {
	for _, topic := range topicsFor(msg) {
		wsMessage := Message{
			Type:      "update",
			Topic:     topic,
			Data:      json.RawMessage(msg.Payload),
			Timestamp: time.Now().Unix(),
		}
		messageBytes, err := json.Marshal(wsMessage)
		if err != nil {
			h.logger.Errorw("Failed to marshal WebSocket message", "error", err)
			return
		}
		h.Broadcast(topic, messageBytes)
	}
}

// topicsFor maps a pubsub message onto client topics. Journal events also
// reach the topic of the position they touch.
func topicsFor(msg *store.Message) []string {
	switch {
	case msg.Channel == store.ChannelEvents:
		topics := []string{TopicEvents}
		var ev struct {
			Position uuid.UUID `json:"position"`
		}
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err == nil && ev.Position != uuid.Nil {
			topics = append(topics, positionTopic+ev.Position.String())
		}
		return topics
	case msg.Channel == store.ChannelState:
		return []string{TopicState}
	case strings.HasPrefix(msg.Channel, store.ChannelPrices):
		return []string{TopicPrices}
	default:
		return []string{msg.Channel}
	}
}

// Broadcast sends to every client subscribed to topic. Slow clients are dropped.
func (h *Hub) Broadcast(topic string, message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.isSubscribed(topic) {
			continue
		}
		select {
		case client.send <- message:
		default:
			h.drop(client)
		}
	}
}

func (h *Hub) startClientCleanup(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.cleanupInactiveClients(time.Now().Add(-90 * time.Second))
		}
	}
}

func (h *Hub) cleanupInactiveClients(cutoff time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if client.active().Before(cutoff) {
			h.drop(client)
			h.logger.Debugw("Cleaned up inactive client")
		}
	}
}

// HandleWebSocket upgrades the request and registers the client
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, 256),
		topics:     make(map[string]bool),
		lastActive: time.Now(),
	}
	for _, t := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			client.topics[t] = true
		}
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) active() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warnw("WebSocket error", "error", err)
			}
			break
		}

		c.touch()
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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

func (c *Client) handleMessage(message []byte) {
	var sub SubscriptionRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		c.hub.logger.Warnw("Invalid subscription message", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch sub.Type {
	case "subscribe":
		for _, topic := range sub.Topics {
			c.topics[topic] = true
		}
		c.hub.logger.Debugw("Client subscribed to topics", "topics", sub.Topics)

	case "unsubscribe":
		for _, topic := range sub.Topics {
			delete(c.topics, topic)
		}
		c.hub.logger.Debugw("Client unsubscribed from topics", "topics", sub.Topics)
	}
}

func (c *Client) isSubscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.topics[topic] {
		return true
	}
	// "position:*" follows every position
	return strings.HasPrefix(topic, positionTopic) && c.topics[positionTopic+"*"]
}
