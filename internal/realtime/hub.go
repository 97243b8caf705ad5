// Package realtime streams committed settlement events to WebSocket clients.
//
// The Hub is a host.EventSink: every event the host publishes is fanned out
// to connected clients whose subscription matches it. Clients narrow the
// feed by sending a Subscription as a JSON text frame at any time.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zapspay/settlement/internal/host"
	"github.com/zapspay/settlement/internal/metrics"
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// Subscription filters the feed for one client. The zero value receives
// every non-audit event.
type Subscription struct {
	// Topics are event names ("escrow/locked"), contract wildcards
	// ("escrow/*") or "*". Empty means all.
	Topics []string `json:"topics"`
	// Address keeps only events whose payload mentions this address.
	Address string `json:"address"`
	// Audit includes failure/audit events such as router/payment_failed.
	Audit bool `json:"audit"`
}

func (s Subscription) wants(ev *envelope) bool {
	if ev.event.Audit && !s.Audit {
		return false
	}
	if len(s.Topics) > 0 && !matchTopic(s.Topics, ev.event.Name()) {
		return false
	}
	if s.Address != "" && !ev.mentions(s.Address) {
		return false
	}
	return true
}

func matchTopic(patterns []string, name string) bool {
	for _, p := range patterns {
		switch {
		case p == "*" || p == name:
			return true
		case strings.HasSuffix(p, "/*") && strings.HasPrefix(name, strings.TrimSuffix(p, "*")):
			return true
		}
	}
	return false
}

// envelope is an event serialized once for all clients.
type envelope struct {
	event   host.Event
	payload []byte
	fields  map[string]any
}

func newEnvelope(e host.Event) (*envelope, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var decoded struct {
		Data map[string]any `json:"data"`
	}
	_ = json.Unmarshal(payload, &decoded)
	return &envelope{event: e, payload: payload, fields: decoded.Data}, nil
}

func (ev *envelope) mentions(addr string) bool {
	for _, v := range ev.fields {
		if s, ok := v.(string); ok && strings.EqualFold(s, addr) {
			return true
		}
	}
	return false
}

// Client represents a WebSocket connection
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	sub  Subscription
}

func (c *Client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

// MaxClients is the maximum number of concurrent WebSocket connections.
const MaxClients = 10000

// Hub manages all WebSocket connections
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *envelope
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits
	maxClients int

	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
	dropped      atomic.Int64
}

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *envelope, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalClients.Add(1)
			if current := int64(len(h.clients)); current > h.peakClients.Load() {
				h.peakClients.Store(current)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("client connected", "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("client disconnected", "total", n)

		case ev := <-h.broadcast:
			h.totalEvents.Add(1)
			h.fanOut(ev)
		}
	}
}

func (h *Hub) fanOut(ev *envelope) {
	h.mu.RLock()
	var slow []*Client
	for client := range h.clients {
		if !client.subscription().wants(ev) {
			continue
		}
		select {
		case client.send <- ev.payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range slow {
		if _, ok := h.clients[client]; ok {
			close(client.send)
			delete(h.clients, client)
		}
	}
	h.mu.Unlock()
}

// Publish implements host.EventSink. It never blocks the host: when the
// broadcast buffer is full the event is dropped for realtime clients only.
func (h *Hub) Publish(_ context.Context, events []host.Event) {
	for _, e := range events {
		ev, err := newEnvelope(e)
		if err != nil {
			h.logger.Warn("realtime: unencodable event", "event", e.Name(), "error", err)
			continue
		}
		select {
		case h.broadcast <- ev:
		default:
			h.dropped.Add(1)
			h.logger.Warn("broadcast channel full, dropping event", "event", e.Name())
		}
	}
}

// Stats returns hub statistics
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return map[string]any{
		"connectedClients": len(h.clients),
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
		"droppedEvents":    h.dropped.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		sub:  subscriptionFromQuery(r),
	}

	h.register <- client

	go client.writePump()
	go client.readPump()
}

// subscriptionFromQuery seeds a filter from ?topics=a,b&address=0x..&audit=true
// so simple clients need not send a subscription frame.
func subscriptionFromQuery(r *http.Request) Subscription {
	q := r.URL.Query()
	var sub Subscription
	if t := q.Get("topics"); t != "" {
		sub.Topics = strings.Split(t, ",")
	}
	sub.Address = q.Get("address")
	sub.Audit = q.Get("audit") == "true"
	return sub
}

// readPump applies subscription updates until the connection closes.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err != nil {
			continue
		}
		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Warn("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var _ host.EventSink = (*Hub)(nil)
