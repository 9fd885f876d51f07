package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"ai-companion-care/backend/ai"
	"ai-companion-care/backend/internal/bus"
	"ai-companion-care/backend/internal/models"
	"ai-companion-care/backend/internal/service"
	"ai-companion-care/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024 // 64KB
)

// assistantPersona is the base system prompt for generated turns. Crisis
// guidance turns layer on top of it through the transcript feed.
const assistantPersona = "You are a warm, attentive wellbeing companion. Listen actively, respond with empathy, and keep replies concise and conversational. You are not a therapist and you never diagnose; when a system turn gives you behavioral guidance, follow it."

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin filtering happens at the proxy layer
	},
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  1024,
}

// Frame is the envelope for every message in either direction.
type Frame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

type chatContent struct {
	Content string `json:"content"`
}

// Handler owns both socket endpoints: the per-session conversational
// socket and the supervisor broadcast socket. Both are thin shims over
// the event bus; the services do all the work.
type Handler struct {
	bus      *bus.Bus
	sessions *service.SessionService
	messages *service.MessageService
	crisis   *service.CrisisService
	provider *ai.Client
	log      *logger.Logger
}

// NewHandler creates the websocket handler.
func NewHandler(eventBus *bus.Bus, sessions *service.SessionService, messages *service.MessageService, crisis *service.CrisisService, provider *ai.Client, log *logger.Logger) *Handler {
	return &Handler{
		bus:      eventBus,
		sessions: sessions,
		messages: messages,
		crisis:   crisis,
		provider: provider,
		log:      log,
	}
}

// client is one attached socket. send is buffered and drop-free within
// the connection; bus-level drops happen upstream on the subscription
// channel per the bus contract.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	sub       *bus.Subscription
	sessionID string
	handler   *Handler
	done      chan struct{}
}

// ServeSession upgrades GET /ws/session/:id. The session must exist;
// connecting to an ended session is allowed for transcript tails but
// chat frames on it are rejected.
func (h *Handler) ServeSession(c *gin.Context) {
	sessionID := c.Param("id")
	session, err := h.sessions.GetSession(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.LogError(err, "websocket upgrade failed", "sessionId", sessionID)
		return
	}
	conn.EnableWriteCompression(true)

	cl := &client{
		conn:      conn,
		send:      make(chan []byte, 256),
		sub:       h.bus.Subscribe(bus.SessionTopic(sessionID)),
		sessionID: sessionID,
		handler:   h,
		done:      make(chan struct{}),
	}

	h.log.Info("session socket connected",
		"sessionId", sessionID,
		"status", session.Status,
	)

	go cl.forwardEvents()
	go cl.writePump()
	go cl.readPump(true)
}

// ServeSupervisor upgrades GET /ws/supervisor onto the broadcast topic.
// Role gating happens in middleware before this runs.
func (h *Handler) ServeSupervisor(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.LogError(err, "websocket upgrade failed", "topic", bus.Broadcast)
		return
	}
	conn.EnableWriteCompression(true)

	cl := &client{
		conn:    conn,
		send:    make(chan []byte, 256),
		sub:     h.bus.Subscribe(bus.Broadcast),
		handler: h,
		done:    make(chan struct{}),
	}

	h.log.Info("supervisor socket connected")

	go cl.forwardEvents()
	go cl.writePump()
	go cl.readPump(false)
}

// forwardEvents drains the bus subscription into the socket send
// channel. A full send channel drops the frame, mirroring the bus
// contract for lagging consumers.
func (c *client) forwardEvents() {
	for event := range c.sub.C {
		frame, err := json.Marshal(map[string]any{
			"type":    "event",
			"content": event,
		})
		if err != nil {
			c.handler.log.LogError(err, "event marshal failed", "event", event.Name)
			continue
		}
		select {
		case c.send <- frame:
		default:
			c.handler.log.Debug("socket frame dropped", "event", event.Name)
		}
	}
	close(c.done)
}

func (c *client) readPump(acceptChat bool) {
	defer func() {
		c.handler.bus.Unsubscribe(c.sub)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.handler.log.Debug("socket read error", "error", err.Error())
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError("malformed frame")
			continue
		}

		switch frame.Type {
		case "ping":
			c.sendFrame("pong", nil)
		case "chat":
			if !acceptChat {
				c.sendError("chat not accepted on this socket")
				continue
			}
			var content chatContent
			if err := json.Unmarshal(frame.Content, &content); err != nil || content.Content == "" {
				c.sendError("chat frame requires content")
				continue
			}
			go c.handler.handleChat(c, content.Content)
		default:
			c.handler.log.Debug("unknown frame type", "type", frame.Type)
		}
	}
}

// handleChat runs one conversational round trip: persist the user turn,
// reclassify risk, then generate and persist the assistant turn. The
// risk evaluation may itself append intervention and guidance turns
// before the provider is called, so the reply reflects them.
func (h *Handler) handleChat(c *client, text string) {
	ctx := context.Background()

	session, err := h.sessions.GetSession(c.sessionID)
	if err != nil || !session.IsActive() {
		c.sendError("session is not active")
		return
	}

	_, err = h.messages.Append(ctx, c.sessionID, []service.IncomingMessage{{
		Role:        models.RoleUser,
		MessageType: models.TypeChat,
		Content:     text,
	}})
	if err != nil {
		h.log.LogError(err, "chat ingestion failed", "sessionId", c.sessionID)
		c.sendError("message could not be saved")
		return
	}

	if _, err := h.crisis.Evaluate(ctx, c.sessionID); err != nil {
		h.log.LogError(err, "crisis evaluation failed", "sessionId", c.sessionID)
	}

	c.sendFrame("typing", map[string]any{"is_typing": true})

	history, err := h.messages.History(c.sessionID)
	if err != nil {
		h.log.LogError(err, "history load failed", "sessionId", c.sessionID)
		c.sendError("reply generation failed")
		return
	}

	reply, err := h.provider.Reply(ctx, assistantPersona, history)
	if err != nil {
		h.log.LogError(err, "reply generation failed", "sessionId", c.sessionID)
		c.sendError("reply generation failed")
		return
	}

	// The append publishes messages:new on the session topic, which is
	// what carries the reply back to this socket.
	_, err = h.messages.Append(ctx, c.sessionID, []service.IncomingMessage{{
		Role:        models.RoleAssistant,
		MessageType: models.TypeChat,
		Content:     reply,
	}})
	if err != nil {
		h.log.LogError(err, "assistant turn persistence failed", "sessionId", c.sessionID)
		c.sendError("reply could not be saved")
	}
}

func (c *client) sendFrame(frameType string, content any) {
	frame, err := json.Marshal(map[string]any{
		"type":    frameType,
		"content": content,
	})
	if err != nil {
		c.handler.log.LogError(err, "frame marshal failed", "type", frameType)
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func (c *client) sendError(message string) {
	c.sendFrame("error", map[string]string{"message": message})
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

			// Flush queued frames as separate websocket messages
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
