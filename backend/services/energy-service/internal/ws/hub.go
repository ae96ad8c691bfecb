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
	"go.uber.org/zap"

	"energymon/backend/services/energy-service/internal/http/middleware"
	"energymon/backend/services/energy-service/internal/models"
)

const defaultWriteTimeout = 10 * time.Second

// SnapshotSource produces the realtime view pushed to subscribers.
type SnapshotSource interface {
	Realtime() models.RealtimeView
}

// HubOptions configures a Hub.
type HubOptions struct {
	Interval     time.Duration
	WriteTimeout time.Duration
}

// Hub upgrades dashboard connections and pushes the realtime view to every one of them on a
// fixed interval. Clients that cannot keep up are disconnected.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	source   SnapshotSource
	opts     HubOptions
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHub builds the stream hub.
func NewHub(source SnapshotSource, opts HubOptions, logger *zap.Logger) *Hub {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	return &Hub{
		clients: make(map[*Client]struct{}),
		source:  source,
		opts:    opts,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is the HTTP handler for /api/stream.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	client := newClient(id, conn, h.opts.WriteTimeout, h.logger, h.remove)
	h.add(client)
	subject, _ := middleware.SubjectFromContext(r.Context())
	h.logger.Info("stream client connected",
		zap.String("client_id", id),
		zap.String("subject", subject),
		zap.String("remote", r.RemoteAddr),
	)

	if msg, err := h.snapshot(); err == nil {
		client.enqueue(msg)
	}
	go client.start()
}

// Run broadcasts until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case <-ticker.C:
			if h.Count() == 0 {
				continue
			}
			msg, err := h.snapshot()
			if err != nil {
				h.logger.Error("failed to encode realtime view", zap.Error(err))
				continue
			}
			h.broadcast(msg)
		}
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshot() ([]byte, error) {
	return json.Marshal(h.source.Realtime())
}

func (h *Hub) broadcast(msg []byte) {
	h.mu.RLock()
	var slow []*Client
	for c := range h.clients {
		if !c.enqueue(msg) {
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow stream client", zap.String("client_id", c.ID()))
		c.close()
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	h.logger.Info("stream client disconnected", zap.String("client_id", c.ID()))
}

func (h *Hub) closeAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}
