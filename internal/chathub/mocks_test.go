package chathub_test

import (
	"context"
	"supportchat/backend/internal/chathub"
	"supportchat/backend/internal/models"
	"supportchat/backend/internal/storage"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockMessageStore is a testify mock of storage.MessageStore.
type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) Append(ctx context.Context, msg *models.Message) (uint, error) {
	args := m.Called(ctx, msg)
	return uint(args.Int(0)), args.Error(1)
}

func (m *MockMessageStore) ListBySession(ctx context.Context, agentID string, visitor models.VisitorIdentity) ([]models.Message, error) {
	args := m.Called(ctx, agentID, visitor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

func (m *MockMessageStore) ListByVisitor(ctx context.Context, visitor models.VisitorIdentity) ([]models.Message, error) {
	args := m.Called(ctx, visitor)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Message), args.Error(1)
}

// delivered is one call recorded by recordingPresence.
type delivered struct {
	To    models.Participant
	Frame models.Frame
}

// recordingPresence remembers everything sent through it.
type recordingPresence struct {
	mu     sync.Mutex
	online map[string]bool
	sent   []delivered
}

func newRecordingPresence() *recordingPresence {
	return &recordingPresence{online: make(map[string]bool)}
}

func (p *recordingPresence) IsOnline(_ context.Context, who models.Participant) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[who.Key()]
}

func (p *recordingPresence) Deliver(ctx context.Context, to models.Participant, msg *models.Message) error {
	return p.Notify(ctx, to, models.Frame{Type: models.FrameMessage, Message: msg})
}

func (p *recordingPresence) Notify(_ context.Context, to models.Participant, f models.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, delivered{To: to, Frame: f})
	return nil
}

func (p *recordingPresence) setOnline(who models.Participant, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[who.Key()] = online
}

// framesOf returns the frames of type typ sent to who.
func (p *recordingPresence) framesOf(who models.Participant, typ string) []models.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.Frame
	for _, d := range p.sent {
		if d.To.Key() == who.Key() && d.Frame.Type == typ {
			out = append(out, d.Frame)
		}
	}
	return out
}

// MockClient is a test double for the chathub.Client interface.
type MockClient struct {
	mu          sync.Mutex
	id          string
	lang        string
	participant models.Participant
	frames      []models.Frame
	closed      bool
	full        bool
}

func newMockClient(id string, p models.Participant) *MockClient {
	return &MockClient{id: id, lang: "en", participant: p}
}

func (c *MockClient) ConnectionID() string { return c.id }
func (c *MockClient) Language() string     { return c.lang }

func (c *MockClient) Participant() models.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participant
}

func (c *MockClient) SetVisitor(v models.VisitorIdentity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.participant = models.VisitorParticipant(v)
}

func (c *MockClient) Send(f models.Frame) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.full {
		return false
	}
	c.frames = append(c.frames, f)
	return true
}

func (c *MockClient) Run() {}

func (c *MockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *MockClient) Frames(typ string) []models.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []models.Frame
	for _, f := range c.frames {
		if f.Type == typ {
			out = append(out, f)
		}
	}
	return out
}

func (c *MockClient) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fixture wires a registry and router over the in-memory store with the
// given agents online.
type fixture struct {
	store    *storage.MemoryStore
	roster   *chathub.Roster
	registry *chathub.Registry
	router   *chathub.Router
	presence *recordingPresence
}

func newFixture(t *testing.T, agents ...models.Agent) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	roster := chathub.NewRoster(agents...)
	for _, a := range agents {
		roster.Connect(a.ID)
	}
	registry := chathub.NewRegistry(store, roster, chathub.LeastLoaded{})
	presence := newRecordingPresence()
	registry.SetPresence(presence)
	router := chathub.NewRouter(registry, store, presence, 100)
	return &fixture{store: store, roster: roster, registry: registry, router: router, presence: presence}
}

func agent(id string) models.Agent {
	return models.Agent{ID: id, DisplayName: id, Active: true}
}

// chanBroker is a Broker whose subscription is fed by the test.
type chanBroker struct {
	mu         sync.Mutex
	deliveries chan models.Delivery
	published  []models.Delivery
}

func newChanBroker() *chanBroker {
	return &chanBroker{deliveries: make(chan models.Delivery, 16)}
}

func (b *chanBroker) PublishDelivery(_ context.Context, d models.Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, d)
	return nil
}

func (b *chanBroker) SubscribeDeliveries(context.Context) <-chan models.Delivery {
	return b.deliveries
}

func (b *chanBroker) MarkOnline(context.Context, models.Participant) error  { return nil }
func (b *chanBroker) MarkOffline(context.Context, models.Participant) error { return nil }
func (b *chanBroker) IsOnline(context.Context, models.Participant) (bool, error) {
	return false, nil
}

// blockingCloseStore holds every CloseSession until release is closed.
type blockingCloseStore struct {
	*storage.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func newBlockingCloseStore() *blockingCloseStore {
	return &blockingCloseStore{
		MemoryStore: storage.NewMemoryStore(),
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
}

func (s *blockingCloseStore) CloseSession(ctx context.Context, sessionID, reason string, at time.Time) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	<-s.release
	return s.MemoryStore.CloseSession(ctx, sessionID, reason, at)
}
