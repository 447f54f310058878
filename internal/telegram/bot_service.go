// Package telegram is the agent console: support agents linked to a Telegram
// chat receive visitor messages there and answer by replying to them.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/localization"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// BotAPI is the part of *tgbotapi.BotAPI the service uses.
type BotAPI interface {
	Sender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// BotService receives Telegram updates and routes agent replies through the hub.
type BotService struct {
	BotAPI    BotAPI
	Hub       *chathub.ManagerService
	Agents    storage.AgentStore
	Localizer *localization.Localizer

	mu      sync.Mutex
	clients map[int64]*Client
}

// NewBotService authorizes against the Bot API with token.
func NewBotService(token string, hub *chathub.ManagerService, agents storage.AgentStore) (*BotService, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	bot.Debug = false
	log.Printf("INFO: Telegram console authorized as %s", bot.Self.UserName)

	return NewBotServiceWithAPI(bot, hub, agents), nil
}

func NewBotServiceWithAPI(bot BotAPI, hub *chathub.ManagerService, agents storage.AgentStore) *BotService {
	return &BotService{
		BotAPI:    bot,
		Hub:       hub,
		Agents:    agents,
		Localizer: hub.Localizer,
		clients:   make(map[int64]*Client),
	}
}

// ConnectAgents brings every active agent with a linked chat online.
func (s *BotService) ConnectAgents(ctx context.Context) (int, error) {
	agents, err := s.Agents.ListAgents(ctx, true)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range agents {
		if a.TelegramChatID == nil {
			continue
		}
		s.connect(a)
		n++
	}
	log.Printf("INFO: %d Telegram agents connected", n)
	return n, nil
}

// connect registers a console client for a. A client the hub has already
// closed is replaced, and its relays move to the new one.
func (s *BotService) connect(a models.Agent) *Client {
	s.mu.Lock()
	prev, ok := s.clients[*a.TelegramChatID]
	if ok && !prev.Closed() {
		s.mu.Unlock()
		return prev
	}
	lang := localization.DefaultLanguage
	if len(a.Languages) > 0 {
		lang = a.Languages[0]
	}
	c := NewClient(*a.TelegramChatID, a.ID, lang, s.BotAPI, s.Localizer)
	if ok {
		c.relays = prev.relays
	}
	s.clients[c.ChatID] = c
	s.mu.Unlock()

	s.Hub.Roster.Upsert(a)
	s.Hub.RegisterCh <- c
	c.Run()
	return c
}

// clientFor returns the console client for chatID, connecting its agent on
// first contact or after the hub dropped it. ok is false for chats that
// belong to no active agent.
func (s *BotService) clientFor(ctx context.Context, chatID int64) (*Client, bool, error) {
	s.mu.Lock()
	c, ok := s.clients[chatID]
	s.mu.Unlock()
	if ok && !c.Closed() {
		return c, true, nil
	}

	a, err := s.Agents.GetAgentByTelegramChatID(ctx, chatID)
	if errors.Is(err, models.ErrUnknownAgent) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !a.Active {
		return nil, false, nil
	}
	return s.connect(*a), true, nil
}

// Run reads updates until ctx is done.
func (s *BotService) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.BotAPI.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			s.BotAPI.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message != nil {
				s.handleIncomingMessage(ctx, update.Message)
			}
		}
	}
}

func (s *BotService) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	c, ok, err := s.clientFor(ctx, chatID)
	if err != nil {
		log.Printf("ERROR: Agent lookup for chat %d failed: %v", chatID, err)
		s.reply(chatID, s.Localizer.GetString(localization.DefaultLanguage, "error_store_unavailable"))
		return
	}
	if !ok {
		s.reply(chatID, s.Localizer.GetString(localization.DefaultLanguage, "tg_not_agent"))
		return
	}

	if msg.IsCommand() {
		s.handleCommand(ctx, c, msg)
		return
	}
	s.handleReply(ctx, c, msg)
}

func (s *BotService) handleCommand(ctx context.Context, c *Client, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		s.reply(c.ChatID, s.Localizer.GetString(c.Lang, "tg_reply_hint"))
	case "sessions":
		s.reply(c.ChatID, s.sessionsText(c))
	case "end":
		s.handleEnd(ctx, c, msg)
	default:
		s.reply(c.ChatID, s.errorText(c, chathub.CodeBadFrame))
	}
}

func (s *BotService) sessionsText(c *Client) string {
	sessions := s.Hub.Registry.ActiveForAgent(c.AgentID)
	if len(sessions) == 0 {
		return s.Localizer.GetString(c.Lang, "tg_no_sessions")
	}
	var b strings.Builder
	b.WriteString(s.Localizer.GetString(c.Lang, "tg_sessions_header"))
	for _, sess := range sessions {
		fmt.Fprintf(&b, "\n• %s (%s)", sess.Visitor(), sess.CreatedAt.Format("15:04"))
	}
	return b.String()
}

// handleEnd closes the conversation behind the replied-to message.
func (s *BotService) handleEnd(ctx context.Context, c *Client, msg *tgbotapi.Message) {
	rel, ok := s.relayOf(c, msg)
	if !ok {
		s.reply(c.ChatID, s.Localizer.GetString(c.Lang, "tg_unknown_reply"))
		return
	}

	sessionID := rel.SessionID
	if current, ok := s.Hub.Registry.Lookup(rel.Visitor); ok {
		sessionID = current.SessionID
	}
	if err := s.Hub.EndSession(ctx, c.AgentID, sessionID); err != nil {
		s.reply(c.ChatID, s.errorText(c, chathub.ErrorCode(err)))
	}
}

// handleReply answers the visitor behind the replied-to message.
func (s *BotService) handleReply(ctx context.Context, c *Client, msg *tgbotapi.Message) {
	rel, ok := s.relayOf(c, msg)
	if !ok {
		s.reply(c.ChatID, s.Localizer.GetString(c.Lang, "tg_unknown_reply"))
		return
	}

	_, err := s.Hub.Router.HandleInbound(ctx, chathub.Inbound{
		Role:    models.RoleAgent,
		AgentID: c.AgentID,
		Visitor: rel.Visitor,
		Content: extractMessageContent(msg),
	})
	if err != nil {
		code := chathub.ErrorCode(err)
		if code == chathub.CodeInternal {
			log.Printf("ERROR: Telegram reply from agent %s failed: %v", c.AgentID, err)
		}
		s.reply(c.ChatID, s.errorText(c, code))
	}
}

func (s *BotService) relayOf(c *Client, msg *tgbotapi.Message) (relay, bool) {
	if msg.ReplyToMessage == nil {
		return relay{}, false
	}
	return c.relays.get(msg.ReplyToMessage.MessageID)
}

// extractMessageContent uniformly extracts text or a caption from a message.
func extractMessageContent(msg *tgbotapi.Message) string {
	if msg == nil {
		return ""
	}
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

func (s *BotService) errorText(c *Client, code string) string {
	return "⚠️ " + s.Localizer.GetString(c.Lang, "error_"+code)
}

func (s *BotService) reply(chatID int64, text string) {
	if _, err := s.BotAPI.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		log.Printf("ERROR: Failed to send Telegram message to chat %d: %v", chatID, err)
	}
}
