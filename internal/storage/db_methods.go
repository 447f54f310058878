package storage

import (
	"context"
	"errors"
	"log"
	"supportchat/backend/internal/models"
	"time"

	"gorm.io/gorm"
)

// SaveSession inserts a freshly opened session.
func (s *Service) SaveSession(ctx context.Context, sess *models.CommunicationSession) error {
	if err := s.DB.WithContext(ctx).Create(sess).Error; err != nil {
		return unavailable("save session", err)
	}
	return nil
}

// CloseSession sets IsActive = false, ClosedAt and CloseReason. Closing a closed session is a no-op.
func (s *Service) CloseSession(ctx context.Context, sessionID, reason string, at time.Time) error {
	err := s.DB.WithContext(ctx).Model(&models.CommunicationSession{}).
		Where("session_id = ? AND is_active = ?", sessionID, true).
		Updates(map[string]interface{}{
			"is_active":    false,
			"closed_at":    at,
			"close_reason": reason,
		}).Error
	if err != nil {
		return unavailable("close session", err)
	}
	return nil
}

// TouchSession records activity on an open session.
func (s *Service) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	err := s.DB.WithContext(ctx).Model(&models.CommunicationSession{}).
		Where("session_id = ? AND is_active = ?", sessionID, true).
		Update("last_activity_at", at).Error
	if err != nil {
		return unavailable("touch session", err)
	}
	return nil
}

// GetActiveSessions returns every session that was open when the process last ran.
func (s *Service) GetActiveSessions(ctx context.Context) ([]models.CommunicationSession, error) {
	var sessions []models.CommunicationSession
	if err := s.DB.WithContext(ctx).Where("is_active = ?", true).Order("created_at asc").Find(&sessions).Error; err != nil {
		log.Printf("ERROR: Failed to retrieve active sessions: %v", err)
		return nil, unavailable("active sessions", err)
	}
	return sessions, nil
}

// SaveAgent creates or updates an agent row.
func (s *Service) SaveAgent(ctx context.Context, a *models.Agent) error {
	if err := s.DB.WithContext(ctx).Save(a).Error; err != nil {
		return unavailable("save agent", err)
	}
	return nil
}

func (s *Service) GetAgent(ctx context.Context, id string) (*models.Agent, error) {
	var a models.Agent
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrUnknownAgent
	}
	if err != nil {
		return nil, unavailable("get agent", err)
	}
	return &a, nil
}

func (s *Service) GetAgentByTelegramChatID(ctx context.Context, chatID int64) (*models.Agent, error) {
	var a models.Agent
	err := s.DB.WithContext(ctx).Where("telegram_chat_id = ?", chatID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrUnknownAgent
	}
	if err != nil {
		return nil, unavailable("get agent by telegram chat", err)
	}
	return &a, nil
}

func (s *Service) ListAgents(ctx context.Context, activeOnly bool) ([]models.Agent, error) {
	q := s.DB.WithContext(ctx).Order("id asc")
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	var agents []models.Agent
	if err := q.Find(&agents).Error; err != nil {
		return nil, unavailable("list agents", err)
	}
	return agents, nil
}
