// Package ws streams recorded asset and pool changes to WebSocket and SSE
// clients. Clients subscribe to topics such as "pool:<id>", "asset:*" or "*".
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/leafsii/launchpad/internal/launchpad"
)

const (
	sendBuffer   = 64
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
	maxMessage   = 512
)

// ConnRecorder tracks open stream connections. *metrics.Metrics implements it.
type ConnRecorder interface {
	ClientConnected(ctx context.Context, transport string)
	ClientDisconnected(ctx context.Context, transport string)
}

type nopRecorder struct{}

func (nopRecorder) ClientConnected(context.Context, string)    {}
func (nopRecorder) ClientDisconnected(context.Context, string) {}

type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]bool
	origins  []string
	logger   *zap.SugaredLogger
	metrics  ConnRecorder
	upgrader websocket.Upgrader
}

type Client struct {
	hub        *Hub
	conn       *websocket.Conn // nil for SSE clients
	transport  string
	send       chan []byte
	mu         sync.RWMutex
	topics     map[string]bool
	lastActive atomic.Int64
}

// Message is the frame sent to subscribers.
type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic,omitempty"`
	Op        string          `json:"op,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Topics    []string        `json:"topics,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

type SubscriptionRequest struct {
	Type   string   `json:"type"` // "subscribe" or "unsubscribe"
	Topics []string `json:"topics"`
}

type Option func(*Hub)

func WithMetrics(m ConnRecorder) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub accepts WebSocket upgrades from allowedOrigins, from "*" for any
// origin, and from same-origin requests without an Origin header.
func NewHub(logger *zap.SugaredLogger, allowedOrigins []string, opts ...Option) *Hub {
	h := &Hub{
		clients: make(map[*Client]bool),
		origins: allowedOrigins,
		logger:  logger,
		metrics: nopRecorder{},
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

var _ launchpad.Publisher = (*Hub)(nil)

// Publish delivers ev to every subscribed client. Clients whose buffer is
// full are dropped.
func (h *Hub) Publish(ctx context.Context, ev launchpad.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Errorw("Failed to marshal event", "op", ev.Op, "error", err)
		return
	}
	topic := ev.Topic()
	msg, err := json.Marshal(Message{
		Type:      "update",
		Topic:     topic,
		Op:        ev.Op,
		Data:      data,
		Timestamp: ev.At.Unix(),
	})
	if err != nil {
		h.logger.Errorw("Failed to marshal stream message", "topic", topic, "error", err)
		return
	}
	h.broadcast(ctx, msg, topic)
}

func (h *Hub) broadcast(ctx context.Context, msg []byte, topic string) {
	var slow []*Client

	h.mu.RLock()
	for client := range h.clients {
		if !client.isSubscribed(topic) {
			continue
		}
		select {
		case client.send <- msg:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		h.logger.Warnw("Dropping slow stream client", "transport", client.transport, "topic", topic)
		h.remove(ctx, client)
	}
}

// Run drops WebSocket clients that stopped answering pings and closes every
// client when ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(pongWait / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll(context.WithoutCancel(ctx))
			h.logger.Infow("Stream hub shutting down")
			return nil
		case <-ticker.C:
			h.cleanupInactiveClients(ctx, time.Now().Add(-pongWait))
		}
	}
}

func (h *Hub) cleanupInactiveClients(ctx context.Context, cutoff time.Time) {
	var stale []*Client
	h.mu.RLock()
	for client := range h.clients {
		if client.conn != nil && time.Unix(0, client.lastActive.Load()).Before(cutoff) {
			stale = append(stale, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range stale {
		h.logger.Debugw("Cleaned up inactive client", "transport", client.transport)
		h.remove(ctx, client)
	}
}

func (h *Hub) closeAll(ctx context.Context) {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		all = append(all, client)
	}
	h.mu.RUnlock()

	for _, client := range all {
		h.remove(ctx, client)
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(ctx context.Context, transport string, conn *websocket.Conn, topics []string) *Client {
	c := &Client{
		hub:       h,
		conn:      conn,
		transport: transport,
		send:      make(chan []byte, sendBuffer),
		topics:    make(map[string]bool),
	}
	c.touch()
	c.subscribe(topics)

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.metrics.ClientConnected(ctx, transport)
	h.logger.Debugw("Client registered", "transport", transport, "topics", topics)
	return c
}

// remove unregisters c and closes its send channel once.
func (h *Hub) remove(ctx context.Context, c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok {
		h.metrics.ClientDisconnected(ctx, c.transport)
		h.logger.Debugw("Client unregistered", "transport", c.transport)
	}
}

// parseTopics reads the comma-separated topics query parameter. No topics
// means every event.
func parseTopics(r *http.Request) []string {
	var topics []string
	for _, t := range strings.Split(r.URL.Query().Get("topics"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	if len(topics) == 0 {
		topics = []string{"*"}
	}
	return topics
}

func ackMessage(topics []string) []byte {
	msg, _ := json.Marshal(Message{Type: "subscribed", Topics: topics, Timestamp: time.Now().Unix()})
	return msg
}

// HandleWebSocket upgrades the request and streams events until the client goes away.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("WebSocket upgrade failed", "error", err)
		return
	}

	topics := parseTopics(r)
	client := h.add(r.Context(), "websocket", conn, topics)
	client.queue(ackMessage(client.subscribed()))

	go client.writePump()
	go client.readPump()
}

func (c *Client) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(context.Background(), c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warnw("WebSocket error", "error", err)
			}
			return
		}

		c.touch()
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
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

func (c *Client) handleMessage(message []byte) {
	var sub SubscriptionRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		c.hub.logger.Warnw("Invalid subscription message", "error", err)
		return
	}

	switch sub.Type {
	case "subscribe":
		c.subscribe(sub.Topics)
	case "unsubscribe":
		c.unsubscribe(sub.Topics)
	default:
		c.hub.logger.Warnw("Unknown subscription message type", "type", sub.Type)
		return
	}
	c.queue(ackMessage(c.subscribed()))
}

// queue sends msg without blocking if the client is still registered.
func (c *Client) queue(msg []byte) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) subscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		c.topics[t] = true
	}
}

func (c *Client) unsubscribe(topics []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		delete(c.topics, t)
	}
}

func (c *Client) subscribed() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

// isSubscribed matches the exact topic, its kind wildcard ("pool:*") or "*".
func (c *Client) isSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.topics["*"] || c.topics[topic] {
		return true
	}
	kind, _, ok := strings.Cut(topic, ":")
	return ok && c.topics[kind+":*"]
}
