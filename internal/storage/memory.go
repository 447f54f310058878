package storage

import (
	"context"
	"fmt"
	"slices"
	"supportchat/backend/internal/models"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory. It backs
// SUPPORT_STORAGE_BACKEND=memory and the tests.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   uint
	messages []models.Message
	sessions map[string]models.CommunicationSession
	agents   map[string]models.Agent
	queue    []queued
}

type queued struct {
	visitor models.VisitorIdentity
	at      time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]models.CommunicationSession),
		agents:   make(map[string]models.Agent),
	}
}

func (s *MemoryStore) Append(ctx context.Context, msg *models.Message) (uint, error) {
	if msg.ID != 0 {
		return 0, fmt.Errorf("append: message %d is already stored", msg.ID)
	}
	if err := msg.BeforeCreate(nil); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	msg.ID = s.nextID
	s.messages = append(s.messages, cloneMessage(*msg))
	return msg.ID, nil
}

func (s *MemoryStore) ListBySession(ctx context.Context, agentID string, visitor models.VisitorIdentity) ([]models.Message, error) {
	if err := visitor.Validate(); err != nil {
		return nil, err
	}
	return s.filter(func(m *models.Message) bool {
		return m.Agent() == agentID && sameVisitor(m, visitor)
	}), nil
}

func (s *MemoryStore) ListByVisitor(ctx context.Context, visitor models.VisitorIdentity) ([]models.Message, error) {
	if err := visitor.Validate(); err != nil {
		return nil, err
	}
	return s.filter(func(m *models.Message) bool {
		return sameVisitor(m, visitor)
	}), nil
}

func (s *MemoryStore) filter(keep func(*models.Message) bool) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Message
	for i := range s.messages {
		if keep(&s.messages[i]) {
			out = append(out, cloneMessage(s.messages[i]))
		}
	}
	// IDs grow with insertion, so they break SentAt ties in arrival order.
	slices.SortStableFunc(out, func(a, b models.Message) int {
		if c := a.SentAt.Compare(b.SentAt); c != 0 {
			return c
		}
		return int(a.ID) - int(b.ID)
	})
	return out
}

func sameVisitor(m *models.Message, v models.VisitorIdentity) bool {
	got, err := m.Visitor()
	return err == nil && got == v
}

// cloneMessage copies the pointer fields so callers cannot mutate stored rows.
func cloneMessage(m models.Message) models.Message {
	m.AgentID = clonePtr(m.AgentID)
	m.UserID = clonePtr(m.UserID)
	m.ConnectionID = clonePtr(m.ConnectionID)
	return m
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func (s *MemoryStore) SaveSession(ctx context.Context, sess *models.CommunicationSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[sess.SessionID]; exists {
		return fmt.Errorf("session %s already exists", sess.SessionID)
	}
	s.sessions[sess.SessionID] = *sess
	return nil
}

func (s *MemoryStore) CloseSession(ctx context.Context, sessionID, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || !sess.IsActive {
		return nil
	}
	sess.IsActive = false
	sess.ClosedAt = &at
	sess.CloseReason = reason
	s.sessions[sessionID] = sess
	return nil
}

func (s *MemoryStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionID]; ok && sess.IsActive {
		sess.LastActivityAt = at
		s.sessions[sessionID] = sess
	}
	return nil
}

func (s *MemoryStore) GetActiveSessions(ctx context.Context) ([]models.CommunicationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.CommunicationSession
	for _, sess := range s.sessions {
		if sess.IsActive {
			out = append(out, sess)
		}
	}
	slices.SortFunc(out, func(a, b models.CommunicationSession) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// Session returns the stored copy of a session, open or closed.
func (s *MemoryStore) Session(sessionID string) (models.CommunicationSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	return sess, ok
}

func (s *MemoryStore) SaveAgent(ctx context.Context, a *models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = *a
	return nil
}

func (s *MemoryStore) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return nil, models.ErrUnknownAgent
	}
	return &a, nil
}

func (s *MemoryStore) GetAgentByTelegramChatID(ctx context.Context, chatID int64) (*models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.agents {
		if a.TelegramChatID != nil && *a.TelegramChatID == chatID {
			return &a, nil
		}
	}
	return nil, models.ErrUnknownAgent
}

func (s *MemoryStore) ListAgents(ctx context.Context, activeOnly bool) ([]models.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Agent
	for _, a := range s.agents {
		if activeOnly && !a.Active {
			continue
		}
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b models.Agent) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

func (s *MemoryStore) Enqueue(ctx context.Context, visitor models.VisitorIdentity, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, q := range s.queue {
		if q.visitor == visitor {
			return nil
		}
	}
	s.queue = append(s.queue, queued{visitor: visitor, at: at})
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, visitor models.VisitorIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = slices.DeleteFunc(s.queue, func(q queued) bool { return q.visitor == visitor })
	return nil
}

func (s *MemoryStore) Waiting(ctx context.Context) ([]models.VisitorIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.VisitorIdentity, 0, len(s.queue))
	for _, q := range s.queue {
		out = append(out, q.visitor)
	}
	return out, nil
}
