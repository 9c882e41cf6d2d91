package workstation

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"contact-center/internal/agents"
	"contact-center/internal/routing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Presence is the registry surface agents drive over their socket.
type Presence interface {
	Heartbeat(ctx context.Context, id string) (agents.Agent, error)
	SetStatus(ctx context.Context, id string, status agents.Status) (agents.Agent, error)
}

// Hub keeps one websocket per agent workstation. It delivers screen-pops and
// accepts heartbeats and status changes from the agent.
type Hub struct {
	presence Presence
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
}

// NewHub builds a Hub. checkOrigin may be nil to accept any origin; the
// route is already behind token auth.
func NewHub(presence Presence, checkOrigin func(r *http.Request) bool, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		presence: presence,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[string]*client),
	}
}

// ServeAgent upgrades GET /agents/:id/ws. A second connection for the same
// agent replaces the first.
func (h *Hub) ServeAgent(c *gin.Context) {
	agentID := c.Param("id")
	if agentID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "agent id required"})
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("workstation upgrade failed", "agent_id", agentID, "err", err)
		return
	}

	cl := newClient(h, agentID, conn)
	h.register(cl)
	h.log.Info("workstation connected", "agent_id", agentID)
	cl.start()
}

// Dispatch implements routing.Dispatcher. Agents without a connected
// workstation are skipped.
func (h *Hub) Dispatch(ctx context.Context, res routing.Result) error {
	if res.ScreenPop == nil {
		return nil
	}
	h.mu.RLock()
	cl, ok := h.clients[res.AgentID]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	payload, err := json.Marshal(Message{Type: TypeScreenPop, ScreenPop: res.ScreenPop})
	if err != nil {
		return err
	}
	if !cl.trySend(payload) {
		h.log.Warn("workstation send buffer full", "agent_id", res.AgentID, "call_id", res.CallID)
	}
	return nil
}

// Connected reports whether agentID has a live workstation socket.
func (h *Hub) Connected(agentID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.clients[agentID]
	return ok
}

// Close disconnects every workstation.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, cl := range h.clients {
		cl.close()
		delete(h.clients, id)
	}
}

func (h *Hub) register(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.clients[cl.agentID]; ok {
		existing.close()
	}
	h.clients[cl.agentID] = cl
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.clients[cl.agentID]; ok && current == cl {
		delete(h.clients, cl.agentID)
	}
	cl.close()
}

// handle applies one inbound message and returns the reply.
func (h *Hub) handle(ctx context.Context, agentID string, raw []byte) Message {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{Type: TypeError, Error: "invalid message"}
	}

	var (
		a   agents.Agent
		err error
	)
	switch msg.Type {
	case TypeHeartbeat:
		a, err = h.presence.Heartbeat(ctx, agentID)
	case TypeStatus:
		if !msg.Status.Valid() {
			return Message{Type: TypeError, Error: "invalid status"}
		}
		a, err = h.presence.SetStatus(ctx, agentID, msg.Status)
	default:
		return Message{Type: TypeError, Error: "unknown message type"}
	}
	if err != nil {
		h.log.Debug("workstation message rejected", "agent_id", agentID, "type", msg.Type, "err", err)
		return Message{Type: TypeError, Error: err.Error()}
	}
	return Message{Type: TypeAck, Agent: &a}
}

var _ routing.Dispatcher = (*Hub)(nil)
