package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"supportchat/backend/internal/models"
	"time"

	"gorm.io/gorm"
)

// MessageStore is the append-only transcript log.
type MessageStore interface {
	// Append stores msg and returns its new ID. It never overwrites.
	Append(ctx context.Context, msg *models.Message) (uint, error)
	// ListBySession returns the messages exchanged between agentID and visitor
	// ordered by SentAt, ties broken by insertion order.
	ListBySession(ctx context.Context, agentID string, visitor models.VisitorIdentity) ([]models.Message, error)
	// ListByVisitor returns the visitor's whole transcript across agents.
	ListByVisitor(ctx context.Context, visitor models.VisitorIdentity) ([]models.Message, error)
}

// SessionStore mirrors the session registry durably.
type SessionStore interface {
	SaveSession(ctx context.Context, s *models.CommunicationSession) error
	CloseSession(ctx context.Context, sessionID, reason string, at time.Time) error
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	GetActiveSessions(ctx context.Context) ([]models.CommunicationSession, error)
}

// AgentStore holds agent routing data.
type AgentStore interface {
	SaveAgent(ctx context.Context, a *models.Agent) error
	GetAgent(ctx context.Context, id string) (*models.Agent, error)
	GetAgentByTelegramChatID(ctx context.Context, chatID int64) (*models.Agent, error)
	ListAgents(ctx context.Context, activeOnly bool) ([]models.Agent, error)
}

// WaitQueue holds visitors waiting for an agent, oldest first.
type WaitQueue interface {
	Enqueue(ctx context.Context, visitor models.VisitorIdentity, at time.Time) error
	Remove(ctx context.Context, visitor models.VisitorIdentity) error
	Waiting(ctx context.Context) ([]models.VisitorIdentity, error)
}

// Storage is everything the service persists in the database.
type Storage interface {
	MessageStore
	SessionStore
	AgentStore
}

// Service is the PostgreSQL implementation of Storage.
type Service struct {
	DB *gorm.DB
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrStoreUnavailable, op, err)
}

// Append inserts a new transcript row. msg.ID is filled by GORM.
func (s *Service) Append(ctx context.Context, msg *models.Message) (uint, error) {
	if msg.ID != 0 {
		return 0, fmt.Errorf("append: message %d is already stored", msg.ID)
	}
	if _, err := msg.Visitor(); err != nil {
		return 0, err
	}

	if err := s.DB.WithContext(ctx).Create(msg).Error; err != nil {
		log.Printf("ERROR: Failed to append message for agent %s: %v", msg.Agent(), err)
		return 0, unavailable("append message", err)
	}
	return msg.ID, nil
}

// ListBySession loads the transcript of one agent+visitor pair.
func (s *Service) ListBySession(ctx context.Context, agentID string, visitor models.VisitorIdentity) ([]models.Message, error) {
	if err := visitor.Validate(); err != nil {
		return nil, err
	}
	q := s.DB.WithContext(ctx).Where("agent_id = ?", agentID)
	return s.listWhereVisitor(q, visitor)
}

// ListByVisitor loads every message addressed to or from visitor.
func (s *Service) ListByVisitor(ctx context.Context, visitor models.VisitorIdentity) ([]models.Message, error) {
	if err := visitor.Validate(); err != nil {
		return nil, err
	}
	return s.listWhereVisitor(s.DB.WithContext(ctx), visitor)
}

func (s *Service) listWhereVisitor(q *gorm.DB, visitor models.VisitorIdentity) ([]models.Message, error) {
	if visitor.IsAuthenticated() {
		q = q.Where("user_id = ?", visitor.ID)
	} else {
		q = q.Where("connection_id = ?", visitor.ID)
	}

	var msgs []models.Message
	if err := q.Order("sent_at asc").Order("id asc").Find(&msgs).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return msgs, nil
		}
		log.Printf("ERROR: Failed to list messages for %s: %v", visitor, err)
		return nil, unavailable("list messages", err)
	}
	return msgs, nil
}
