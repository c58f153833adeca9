// Package ws pushes engine events to WebSocket clients. The hub subscribes
// to the event channel on the signal bus and fans each event out to the
// clients whose filters match it.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	replayLimit    = 500
)

// Config names the bus channel and stream the hub bridges.
type Config struct {
	Channel        string
	Stream         string
	AllowedOrigins []string
}

// Hub bridges the signal bus to connected clients. Every event published on
// the bus channel is fanned out to the clients whose filters match it.
// A client too slow to keep up loses messages rather than blocking the others.
type Hub struct {
	cfg        Config
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	clients    map[*client]bool
	broadcast  chan envelope
	register   chan *client
	unregister chan *client
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// envelope is a bus payload with the routing fields decoded.
type envelope struct {
	Type   string `json:"type"`
	Market string `json:"market"`
	data   []byte
}

// NewHub creates a Hub that bridges bus to WebSocket clients. It does nothing
// until Run is called.
func NewHub(bus domain.SignalBus, cfg Config, logger *slog.Logger) *Hub {
	h := &Hub{
		cfg:        cfg,
		bus:        bus,
		clients:    make(map[*client]bool),
		broadcast:  make(chan envelope, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "ws_hub")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// Run subscribes to the event channel and serves clients until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	msgs, err := h.bus.Subscribe(ctx, h.cfg.Channel)
	if err != nil {
		return err
	}
	h.logger.Info("ws: subscribed", slog.String("channel", h.cfg.Channel))

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: event subscription closed")
				msgs = nil
				continue
			}
			env, ok := decodeEnvelope(data)
			if !ok {
				continue
			}
			h.fanOut(env)
		}
	}
}

func decodeEnvelope(data []byte) (envelope, bool) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, false
	}
	env.Market = strings.ToLower(env.Market)
	env.data = data
	return env, true
}

func (h *Hub) fanOut(env envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(env) {
			continue
		}
		select {
		case c.send <- env.data:
		default:
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and registers the client. Query parameters
// pre-set its filters (market, type, both repeatable) and since=<stream id>
// replays missed events from the durable stream first.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	q := r.URL.Query()
	c := newClient(h, conn)
	c.apply(subscribeMsg{Action: "subscribe", Markets: q["market"], Types: q["type"]})

	if since := q.Get("since"); since != "" && h.cfg.Stream != "" {
		h.replay(r.Context(), c, since)
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}

func (h *Hub) replay(ctx context.Context, c *client, since string) {
	msgs, err := h.bus.StreamRead(ctx, h.cfg.Stream, since, replayLimit)
	if err != nil {
		h.logger.Warn("ws: replay failed", slog.String("since", since), slog.String("error", err.Error()))
		return
	}
	for _, m := range msgs {
		env, ok := decodeEnvelope(m.Payload)
		if !ok || !c.wants(env) {
			continue
		}
		select {
		case c.send <- env.data:
		default:
			return
		}
	}
}
