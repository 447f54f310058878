package chathub

import (
	"context"
	"encoding/json"
	"log"
	"supportchat/backend/internal/config"
	"supportchat/backend/internal/models"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketClient implements Client over a gorilla/websocket connection.
type WebSocketClient struct {
	ID   string
	Lang string
	Conn *websocket.Conn
	Hub  *ManagerService

	mu          sync.Mutex
	participant models.Participant
	send        chan models.Frame
	closed      bool
}

func NewWebSocketClient(hub *ManagerService, conn *websocket.Conn, connectionID string, p models.Participant, lang string) *WebSocketClient {
	return &WebSocketClient{
		ID:          connectionID,
		Lang:        lang,
		Conn:        conn,
		Hub:         hub,
		participant: p,
		send:        make(chan models.Frame, config.ClientSendSize),
	}
}

func (c *WebSocketClient) ConnectionID() string { return c.ID }
func (c *WebSocketClient) Language() string     { return c.Lang }

func (c *WebSocketClient) Participant() models.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participant
}

func (c *WebSocketClient) SetVisitor(v models.VisitorIdentity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.participant = models.VisitorParticipant(v)
}

func (c *WebSocketClient) Send(f models.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- f:
		return true
	default:
		return false
	}
}

// Run starts the read and write pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close stops the write pump, which closes the socket; the read pump
// then fails and exits.
func (c *WebSocketClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(config.ReadLimit(c.Hub.Router.MaxLen))
	c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WARN: Read from client %s failed: %v", c.ID, err)
			}
			break
		}

		var f models.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("WARN: Bad frame from client %s: %v", c.ID, err)
			c.Hub.replyCode(c, CodeBadFrame)
			continue
		}

		c.Hub.HandleFrame(context.Background(), c, f)
	}
}

// writePump writes queued frames to the socket and keeps it alive with pings.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(config.PingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(frame); err != nil {
				log.Printf("WARN: Write to client %s failed: %v", c.ID, err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
