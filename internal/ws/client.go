package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/codecollab/server/internal/ratelimit"
	"github.com/codecollab/server/internal/room"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 1024 * 1024
	messagesPerSecond = 100
	messageBurst      = 200

	opTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client binds one websocket to one authenticated identity and at most
// one current room.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	connID  string
	user    room.User
	roomID  string // current room; touched only by the read pump
	limiter *ratelimit.Limiter
	log     *zap.Logger
}

// ServeWS authenticates and upgrades a connection. The credential rides
// the token query parameter; a missing or invalid one rejects the channel
// before any room interaction.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	claims, err := h.auth.Verify(token)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), opTimeout)
	defer cancel()
	userRec, err := h.auth.UserByID(ctx, claims.UserID)
	if err != nil || userRec == nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, 512),
		connID:  uuid.NewString(),
		user:    room.User{ID: userRec.ID, Name: userRec.Name, Color: userRec.Color},
		limiter: ratelimit.NewLimiter(messagesPerSecond, messageBurst),
	}
	client.log = h.log.With(zap.String("conn_id", client.connID), zap.String("user_id", userRec.ID))

	h.register(client)

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.hub.rooms.Disconnect(c.connID)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read error", zap.Error(err))
			}
			break
		}

		if !c.limiter.Allow() {
			c.log.Warn("rate limit exceeded, dropping message")
			continue
		}

		var env envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.log.Warn("malformed event", zap.Error(err))
			continue
		}

		c.dispatch(env)
	}
}

// Inbound event payloads.

type roomRef struct {
	RoomID string `json:"roomId"`
}

type codeChange struct {
	RoomID string `json:"roomId"`
	Code   string `json:"code"`
}

type languageChange struct {
	RoomID   string `json:"roomId"`
	Language string `json:"language"`
}

type chatSend struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type kickUser struct {
	RoomID       string `json:"roomId"`
	TargetUserID string `json:"targetUserId"`
}

func (c *Client) dispatch(env envelope) {
	rooms := c.hub.rooms

	switch env.Event {
	case "join-room":
		var p roomRef
		if !c.decode(env.Data, &p) {
			return
		}
		// One room per channel: joining another implicitly leaves the
		// current one.
		if c.roomID != "" && c.roomID != p.RoomID {
			rooms.Leave(c.roomID, c.connID)
			c.roomID = ""
		}
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		snap, err := rooms.Join(ctx, p.RoomID, c.user, c.connID)
		cancel()
		if err != nil {
			c.sendError(err)
			return
		}
		c.roomID = p.RoomID
		c.hub.Send([]string{c.connID}, room.EventRoomState, snap)

	case "leave-room":
		var p roomRef
		if !c.decode(env.Data, &p) {
			return
		}
		rooms.Leave(p.RoomID, c.connID)
		if c.roomID == p.RoomID {
			c.roomID = ""
		}

	case "code-change":
		var p codeChange
		if !c.decode(env.Data, &p) {
			return
		}
		if err := rooms.ApplyEdit(p.RoomID, c.connID, p.Code); err != nil {
			c.sendError(err)
		}

	case "language-change":
		var p languageChange
		if !c.decode(env.Data, &p) {
			return
		}
		if err := rooms.ChangeLanguage(p.RoomID, c.connID, p.Language); err != nil {
			c.sendError(err)
		}

	case "typing-start":
		var p roomRef
		if !c.decode(env.Data, &p) {
			return
		}
		if err := rooms.TypingStart(p.RoomID, c.connID); err != nil {
			c.log.Debug("typing-start rejected", zap.Error(err))
		}

	case "typing-stop":
		var p roomRef
		if !c.decode(env.Data, &p) {
			return
		}
		if err := rooms.TypingStop(p.RoomID, c.connID); err != nil {
			c.log.Debug("typing-stop rejected", zap.Error(err))
		}

	case "chat-message":
		var p chatSend
		if !c.decode(env.Data, &p) {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		err := rooms.Chat(ctx, p.RoomID, c.connID, p.Message)
		cancel()
		if err != nil {
			c.sendError(err)
		}

	case "kick-user":
		var p kickUser
		if !c.decode(env.Data, &p) {
			return
		}
		if err := rooms.Kick(p.RoomID, c.user.ID, p.TargetUserID); err != nil {
			c.sendError(err)
		}

	case "refresh-users":
		var p roomRef
		if !c.decode(env.Data, &p) {
			return
		}
		if err := rooms.BroadcastUsers(p.RoomID); err != nil {
			c.sendError(err)
		}

	default:
		c.log.Warn("unknown event", zap.String("event", env.Event))
	}
}

func (c *Client) decode(data json.RawMessage, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		c.log.Warn("malformed event payload", zap.Error(err))
		return false
	}
	return true
}

func (c *Client) sendError(err error) {
	c.hub.Send([]string{c.connID}, "error", map[string]string{"message": err.Error()})
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
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
