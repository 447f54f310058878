package telegram

import (
	"context"
	"strings"
	"supportchat/backend/internal/auth"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type sentMessage struct {
	ID   int
	Text string
}

// MockBot is a testify mock of BotAPI that also numbers and records sent messages.
type MockBot struct {
	mock.Mock
	mu     sync.Mutex
	nextID int
	sent   []sentMessage
}

func (b *MockBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := b.Called(c)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	if mc, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, sentMessage{ID: b.nextID, Text: mc.Text})
	}
	return tgbotapi.Message{MessageID: b.nextID}, args.Error(0)
}

func (b *MockBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	args := b.Called(config)
	return args.Get(0).(tgbotapi.UpdatesChannel)
}

func (b *MockBot) StopReceivingUpdates() {
	b.Called()
}

// find returns the first sent message whose text contains substr.
func (b *MockBot) find(substr string) (sentMessage, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.sent {
		if strings.Contains(m.Text, substr) {
			return m, true
		}
	}
	return sentMessage{}, false
}

const agentChat int64 = 100

type consoleFixture struct {
	store *storage.MemoryStore
	hub   *chathub.ManagerService
	bot   *MockBot
	svc   *BotService
}

func newConsoleFixture(t *testing.T, ctx context.Context) *consoleFixture {
	t.Helper()
	chatID := agentChat
	a := models.Agent{ID: "a1", DisplayName: "Olena", Active: true, TelegramChatID: &chatID, Languages: []string{"en"}}

	store := storage.NewMemoryStore()
	require.NoError(t, store.SaveAgent(ctx, &a))
	roster := chathub.NewRoster(a)
	registry := chathub.NewRegistry(store, roster, chathub.LeastLoaded{})
	router := chathub.NewRouter(registry, store, nil, 0)
	hub := chathub.NewManagerService(registry, router, roster, auth.NewVerifier("test-secret"), nil)
	go hub.Run(ctx)

	bot := new(MockBot)
	bot.On("Send", mock.Anything).Return(nil)
	svc := NewBotServiceWithAPI(bot, hub, store)
	return &consoleFixture{store: store, hub: hub, bot: bot, svc: svc}
}

func (f *consoleFixture) client(t *testing.T) *Client {
	t.Helper()
	f.svc.mu.Lock()
	defer f.svc.mu.Unlock()
	c, ok := f.svc.clients[agentChat]
	require.True(t, ok)
	return c
}

func replyTo(chatID int64, messageID int, text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		Chat:           tgbotapi.Chat{ID: chatID},
		Text:           text,
		ReplyToMessage: &tgbotapi.Message{MessageID: messageID},
	}
	if strings.HasPrefix(text, "/") {
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}}
	}
	return msg
}

func command(chatID int64, text string) *tgbotapi.Message {
	msg := replyTo(chatID, 0, text)
	msg.ReplyToMessage = nil
	return msg
}

func TestConsole_AgentAnswersAndEndsByReply(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newConsoleFixture(t, ctx)

	n, err := f.svc.ConnectAgents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Eventually(t, func() bool {
		return f.hub.Roster.Available("a1")
	}, time.Second, 10*time.Millisecond)

	visitor := models.Authenticated("u1")
	_, err = f.hub.Router.HandleInbound(ctx, chathub.Inbound{Role: models.RoleVisitor, Visitor: visitor, Content: "my order is late"})
	require.NoError(t, err)

	var relayed sentMessage
	require.Eventually(t, func() bool {
		m, ok := f.bot.find("my order is late")
		if !ok {
			return false
		}
		relayed = m
		_, ok = f.client(t).relays.get(m.ID)
		return ok
	}, time.Second, 10*time.Millisecond)

	// Reply to the relayed message answers the visitor.
	f.svc.handleIncomingMessage(ctx, replyTo(agentChat, relayed.ID, "Checking now"))

	transcript, err := f.store.ListBySession(ctx, "a1", visitor)
	require.NoError(t, err)
	require.Len(t, transcript, 2)
	assert.Equal(t, "Checking now", transcript[1].Content)
	assert.Equal(t, models.ToVisitor, transcript[1].Direction())

	// /end as a reply closes the conversation.
	f.svc.handleIncomingMessage(ctx, replyTo(agentChat, relayed.ID, "/end"))
	_, open := f.hub.Registry.Lookup(visitor)
	assert.False(t, open)
}

func TestConsole_UnknownChat(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newConsoleFixture(t, ctx)

	f.svc.handleIncomingMessage(ctx, command(999, "/sessions"))

	_, ok := f.bot.find("not registered")
	assert.True(t, ok)
}

func TestConsole_FirstContactConnectsAgent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newConsoleFixture(t, ctx)

	f.svc.handleIncomingMessage(ctx, command(agentChat, "/sessions"))

	_, ok := f.bot.find("No open sessions")
	assert.True(t, ok)
	assert.Eventually(t, func() bool {
		return f.hub.Roster.Available("a1")
	}, time.Second, 10*time.Millisecond)
}

func TestConsole_DroppedClientReconnects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newConsoleFixture(t, ctx)
	_, err := f.svc.ConnectAgents(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return f.hub.Roster.Available("a1")
	}, time.Second, 10*time.Millisecond)

	old := f.client(t)
	old.relays.put(77, relay{Visitor: models.Authenticated("u1")})
	f.hub.Unregister(old)
	require.Eventually(t, func() bool {
		return old.Closed() && !f.hub.Roster.Available("a1")
	}, time.Second, 10*time.Millisecond)

	f.svc.handleIncomingMessage(ctx, command(agentChat, "/sessions"))

	fresh := f.client(t)
	assert.NotSame(t, old, fresh)
	assert.False(t, fresh.Closed())
	_, ok := fresh.relays.get(77)
	assert.True(t, ok)
	assert.Eventually(t, func() bool {
		return f.hub.Roster.Available("a1")
	}, time.Second, 10*time.Millisecond)
}

func TestConsole_SessionsList(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newConsoleFixture(t, ctx)
	_, err := f.svc.ConnectAgents(ctx)
	require.NoError(t, err)

	_, err = f.hub.Registry.FindOrCreate(ctx, models.Authenticated("u7"), chathub.Assignment{PreferredAgentID: "a1", Strict: true})
	require.NoError(t, err)

	f.svc.handleIncomingMessage(ctx, command(agentChat, "/sessions"))

	m, ok := f.bot.find("Open sessions:")
	require.True(t, ok)
	assert.Contains(t, m.Text, "user:u7")
}

func TestConsole_ReplyWithoutRelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newConsoleFixture(t, ctx)
	_, err := f.svc.ConnectAgents(ctx)
	require.NoError(t, err)

	f.svc.handleIncomingMessage(ctx, command(agentChat, "hello?"))
	f.svc.handleIncomingMessage(ctx, replyTo(agentChat, 4242, "hello?"))

	f.bot.mu.Lock()
	defer f.bot.mu.Unlock()
	hits := 0
	for _, m := range f.bot.sent {
		if strings.Contains(m.Text, "not linked") {
			hits++
		}
	}
	assert.Equal(t, 2, hits)
}

func TestConsole_UnknownCommand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newConsoleFixture(t, ctx)
	_, err := f.svc.ConnectAgents(ctx)
	require.NoError(t, err)

	f.svc.handleIncomingMessage(ctx, command(agentChat, "/dance"))

	_, ok := f.bot.find("Unrecognized request")
	assert.True(t, ok)
}

func TestConsole_RunStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newConsoleFixture(t, context.Background())

	updates := make(chan tgbotapi.Update)
	f.bot.On("GetUpdatesChan", mock.Anything).Return(tgbotapi.UpdatesChannel(updates))
	f.bot.On("StopReceivingUpdates").Return()

	done := make(chan struct{})
	go func() {
		f.svc.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	f.bot.AssertCalled(t, "StopReceivingUpdates")
}
