package workstation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"contact-center/internal/agents"
	"contact-center/internal/routing"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 32
)

// Message types on the workstation socket.
const (
	TypeHeartbeat = "heartbeat"
	TypeStatus    = "status"
	TypeAck       = "ack"
	TypeError     = "error"
	TypeScreenPop = "screen_pop"
)

// Message is the single JSON frame shape in both directions.
type Message struct {
	Type      string             `json:"type"`
	Status    agents.Status      `json:"status,omitempty"`
	Agent     *agents.Agent      `json:"agent,omitempty"`
	ScreenPop *routing.ScreenPop `json:"screen_pop,omitempty"`
	Error     string             `json:"error,omitempty"`
}

type client struct {
	hub     *Hub
	agentID string
	conn    *websocket.Conn
	send    chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(h *Hub, agentID string, conn *websocket.Conn) *client {
	return &client{
		hub:     h,
		agentID: agentID,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
	}
}

func (c *client) start() {
	go c.writePump()
	go c.readPump()
}

// trySend queues payload without blocking; false means the socket is gone
// or too slow.
func (c *client) trySend(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
		c.hub.log.Info("workstation disconnected", "agent_id", c.agentID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("workstation read error", "agent_id", c.agentID, "err", err)
			}
			return
		}
		reply := c.hub.handle(context.Background(), c.agentID, raw)
		payload, err := json.Marshal(reply)
		if err != nil {
			continue
		}
		if !c.trySend(payload) {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
