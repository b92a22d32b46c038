// Package stream pushes alerts to websocket clients.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/opensource-finance/heron/internal/domain"
)

// MaxClients is the maximum number of concurrent websocket connections.
const MaxClients = 1000

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The analyst console is served from a different origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Filter narrows the alerts a client receives. Clients update it by
// sending a JSON object over the socket.
type Filter struct {
	MinRisk  int             `json:"min_risk"`
	Actions  []domain.Action `json:"actions"`
	Accounts []string        `json:"accounts"`
}

// Alert is the frame written to clients.
type Alert struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`

	// fields used for filtering
	riskScore int
	action    domain.Action
	accounts  [2]string
}

// alertPayload is the part of a scored event the hub inspects.
type alertPayload struct {
	Transaction struct {
		SenderAccount   string `json:"sender_account"`
		ReceiverAccount string `json:"receiver_account"`
	} `json:"transaction"`
	Assessment struct {
		RiskScore int           `json:"risk_score"`
		Action    domain.Action `json:"action"`
	} `json:"assessment"`
}

// Client is one websocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	mu     sync.RWMutex
	filter Filter
}

// Hub fans alerts out to connected clients. Run owns the client set.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan *Alert
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	done       chan struct{}
	onClients  func(int)

	totalAlerts atomic.Int64
	dropped     atomic.Int64
}

// NewHub creates a hub. onClients, if set, is called with the client
// count after every change.
func NewHub(onClients func(int)) *Hub {
	if onClients == nil {
		onClients = func(int) {}
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan *Alert, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		onClients:  onClients,
	}
}

// Run is the hub's main loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	slog.Info("alert stream started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.onClients(0)
			slog.Info("alert stream stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.onClients(n)
			slog.Debug("stream client connected", "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.onClients(n)
			slog.Debug("stream client disconnected", "total", n)

		case alert := <-h.broadcast:
			h.totalAlerts.Add(1)
			frame, err := json.Marshal(alert)
			if err != nil {
				slog.Error("failed to encode alert", "error", err)
				continue
			}

			var slow []*Client
			h.mu.RLock()
			for client := range h.clients {
				if !client.accepts(alert) {
					continue
				}
				select {
				case client.send <- frame:
				default:
					slow = append(slow, client)
				}
			}
			h.mu.RUnlock()

			if len(slow) > 0 {
				h.mu.Lock()
				for _, client := range slow {
					if _, ok := h.clients[client]; ok {
						close(client.send)
						delete(h.clients, client)
					}
				}
				n := len(h.clients)
				h.mu.Unlock()
				h.onClients(n)
				slog.Warn("dropped slow stream clients", "count", len(slow))
			}
		}
	}
}

// Attach subscribes the hub to alerts published on bus.
func (h *Hub) Attach(ctx context.Context, bus domain.EventBus) (domain.Subscription, error) {
	return bus.Subscribe(ctx, domain.TopicAlert, func(_ context.Context, msg *domain.Message) error {
		h.Publish(msg.Payload)
		return nil
	})
}

// Publish queues a scored-event payload for delivery.
func (h *Hub) Publish(payload []byte) {
	var p alertPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		slog.Warn("ignoring malformed alert payload", "error", err)
		return
	}

	alert := &Alert{
		Type:      "alert",
		Timestamp: time.Now().UTC(),
		Data:      json.RawMessage(payload),
		riskScore: p.Assessment.RiskScore,
		action:    p.Assessment.Action,
		accounts:  [2]string{p.Transaction.SenderAccount, p.Transaction.ReceiverAccount},
	}

	select {
	case h.broadcast <- alert:
	default:
		h.dropped.Add(1)
		slog.Warn("alert stream full, dropping alert")
	}
}

// Stats reports hub counters.
type Stats struct {
	Clients     int   `json:"clients"`
	TotalAlerts int64 `json:"total_alerts"`
	Dropped     int64 `json:"dropped"`
}

// Stats returns current hub statistics.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Clients:     len(h.clients),
		TotalAlerts: h.totalAlerts.Load(),
		Dropped:     h.dropped.Load(),
	}
}

// ServeHTTP upgrades the request to a websocket alert stream.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= MaxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) accepts(a *Alert) bool {
	c.mu.RLock()
	f := c.filter
	c.mu.RUnlock()

	if a.riskScore < f.MinRisk {
		return false
	}
	if len(f.Actions) > 0 {
		matched := false
		for _, action := range f.Actions {
			if action == a.action {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(f.Accounts) > 0 {
		for _, acct := range f.Accounts {
			if acct == a.accounts[0] || acct == a.accounts[1] {
				return true
			}
		}
		return false
	}
	return true
}

// readPump applies filter updates and detects disconnects.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(64 * 1024)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				slog.Debug("websocket read error", "error", err)
			}
			return
		}

		var f Filter
		if err := json.Unmarshal(message, &f); err != nil {
			continue
		}
		c.mu.Lock()
		c.filter = f
		c.mu.Unlock()
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
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("websocket write error", "error", err)
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
