package telegram

import (
	"fmt"
	"log"
	"strconv"
	"supportchat/backend/internal/config"
	"supportchat/backend/internal/localization"
	"supportchat/backend/internal/models"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the part of the Bot API a client writes with.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// relay remembers which visitor a message shown in Telegram came from, so
// that a reply to it can be routed back.
type relay struct {
	Visitor   models.VisitorIdentity
	SessionID string
}

// relayLimit bounds how many relayed messages each agent chat remembers.
const relayLimit = 1000

type relayMap struct {
	mu    sync.Mutex
	byID  map[int]relay
	order []int
}

func newRelayMap() *relayMap {
	return &relayMap{byID: make(map[int]relay)}
}

func (r *relayMap) put(messageID int, rel relay) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[messageID]; !ok {
		r.order = append(r.order, messageID)
	}
	r.byID[messageID] = rel
	for len(r.order) > relayLimit {
		delete(r.byID, r.order[0])
		r.order = r.order[1:]
	}
}

func (r *relayMap) get(messageID int) (relay, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rel, ok := r.byID[messageID]
	return rel, ok
}

// Client is a support agent working from a Telegram chat. It implements chathub.Client.
type Client struct {
	ChatID    int64
	AgentID   string
	Lang      string
	Bot       Sender
	Localizer *localization.Localizer

	relays *relayMap
	send   chan models.Frame
	mu     sync.Mutex
	closed bool
}

func NewClient(chatID int64, agentID, lang string, bot Sender, loc *localization.Localizer) *Client {
	return &Client{
		ChatID:    chatID,
		AgentID:   agentID,
		Lang:      lang,
		Bot:       bot,
		Localizer: loc,
		relays:    newRelayMap(),
		send:      make(chan models.Frame, config.ClientSendSize),
	}
}

func (c *Client) ConnectionID() string { return "tg:" + strconv.FormatInt(c.ChatID, 10) }
func (c *Client) Language() string     { return c.Lang }

func (c *Client) Participant() models.Participant {
	return models.AgentParticipant(c.AgentID)
}

// SetVisitor is a no-op; Telegram connections are agents.
func (c *Client) SetVisitor(models.VisitorIdentity) {}

func (c *Client) Send(f models.Frame) bool {
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

// Run starts the write pump. Updates are read centrally by BotService.
func (c *Client) Run() {
	go c.writePump()
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Closed reports whether the hub has dropped this client.
func (c *Client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) writePump() {
	defer log.Printf("INFO: Telegram client for agent %s stopped", c.AgentID)

	for frame := range c.send {
		c.deliver(frame)
	}
}

// deliver renders one frame into the agent's chat.
func (c *Client) deliver(frame models.Frame) {
	text, rel, ok := c.render(frame)
	if !ok {
		return
	}

	sent, err := c.Bot.Send(tgbotapi.NewMessage(c.ChatID, text))
	if err != nil {
		log.Printf("ERROR: Failed to send Telegram message to agent %s: %v", c.AgentID, err)
		return
	}
	if rel != nil {
		c.relays.put(sent.MessageID, *rel)
	}
}

func (c *Client) render(frame models.Frame) (string, *relay, bool) {
	switch frame.Type {
	case models.FrameMessage:
		if frame.Message == nil || frame.Message.Direction() != models.ToAgent {
			// The agent's own messages are already in the chat.
			return "", nil, false
		}
		v, err := frame.Message.Visitor()
		if err != nil {
			return "", nil, false
		}
		return fmt.Sprintf("👤 %s\n%s", v, frame.Message.Content), &relay{Visitor: v}, true

	case models.FrameSessionOpened:
		if frame.Session == nil {
			return "", nil, false
		}
		v := frame.Session.Visitor()
		text := c.Localizer.Format(c.Lang, "tg_new_session", v) + "\n" + c.Localizer.GetString(c.Lang, "tg_reply_hint")
		return text, &relay{Visitor: v, SessionID: frame.Session.SessionID}, true

	case models.FrameSessionClosed:
		if frame.Session == nil {
			return "", nil, false
		}
		return c.Localizer.Format(c.Lang, "tg_session_closed", frame.Session.Visitor(), frame.Reason), nil, true

	case models.FrameError:
		return "⚠️ " + frame.Content, nil, true

	case models.FrameSystem:
		return frame.Content, nil, frame.Content != ""
	}
	return "", nil, false
}
