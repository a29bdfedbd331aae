package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/codecollab/server/internal/auth"
	"github.com/codecollab/server/internal/room"
)

// Hub is the registry of live websocket connections. Room membership is
// not tracked here; the room state machine decides who an event goes to
// and the hub only resolves connection ids to channels.
type Hub struct {
	log  *zap.Logger
	auth *auth.Service

	rooms *room.Manager

	mu      sync.Mutex
	clients map[string]*Client
}

func NewHub(authSvc *auth.Service, log *zap.Logger) *Hub {
	return &Hub{
		log:     log,
		auth:    authSvc,
		clients: make(map[string]*Client),
	}
}

// SetRooms binds the room manager. Done at wiring time; the hub and the
// manager reference each other.
func (h *Hub) SetRooms(m *room.Manager) {
	h.rooms = m
}

// envelope is the wire frame for every event in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outEnvelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Send implements room.Sender. It never blocks: the payload is marshaled
// once and pushed onto each client's buffered channel, and a client whose
// buffer is full is dropped rather than allowed to stall a room.
func (h *Hub) Send(connIDs []string, event string, data any) {
	payload, err := json.Marshal(outEnvelope{Event: event, Data: data})
	if err != nil {
		h.log.Error("marshal outbound event", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, connID := range connIDs {
		client, ok := h.clients[connID]
		if !ok {
			continue
		}
		select {
		case client.send <- payload:
		default:
			close(client.send)
			delete(h.clients, connID)
			h.log.Warn("dropping slow client", zap.String("conn_id", connID))
		}
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.connID] = c
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("client connected",
		zap.String("conn_id", c.connID),
		zap.String("user_id", c.user.ID),
		zap.Int("total", count))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.connID]; ok {
		delete(h.clients, c.connID)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.log.Info("client disconnected",
		zap.String("conn_id", c.connID),
		zap.Int("total", count))
}

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
